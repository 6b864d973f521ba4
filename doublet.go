// Copyright (C) The Demux Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package demux

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// A doublet of donors j and k mixes both donors' alleles equally, so its
// effective genotype lives in the 5-state space {0, 0.5, 1, 1.5, 2}. A
// singlet genotype s maps to column 2*s of that space.

// donorPairs enumerates unordered donor pairs in lexicographic order. The
// same order labels doublet states everywhere: responsibility columns,
// combined genotype blocks, and reported results.
func donorPairs(k int) [][2]int {
	var pairs [][2]int
	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			pairs = append(pairs, [2]int{i, j})
		}
	}
	return pairs
}

// combineGenotypes builds the genotype matrix spanning the full state
// space: one nVar-row block per singlet (zero-padded to 5 states) followed
// by one block per pair, whose rows convolve the two singlet distributions
// and renormalize.
func combineGenotypes(g *genotypeProb, pairs [][2]int) *mat.Dense {
	n := g.nVar
	out := mat.NewDense((g.nDonor+len(pairs))*n, 5, nil)
	for d := 0; d < g.nDonor; d++ {
		for i := 0; i < n; i++ {
			p := g.prob.RawRowView(d*n + i)
			r := out.RawRowView(d*n + i)
			r[0], r[2], r[4] = p[0], p[1], p[2]
		}
	}
	for pi, pr := range pairs {
		base := (g.nDonor + pi) * n
		for i := 0; i < n; i++ {
			x := g.prob.RawRowView(pr[0]*n + i)
			y := g.prob.RawRowView(pr[1]*n + i)
			r := out.RawRowView(base + i)
			r[0] = x[0] * y[0]
			r[1] = x[0]*y[1] + x[1]*y[0]
			r[2] = x[0]*y[2] + x[2]*y[0] + x[1]*y[1]
			r[3] = x[1]*y[2] + x[2]*y[1]
			r[4] = x[2] * y[2]
			if s := floats.Sum(r); s > 0 {
				floats.Scale(1/s, r)
			}
		}
	}
	return out
}

// combineTheta derives the 5-state shape matrix from the 3 learned singlet
// shape pairs by moment matching: each half-integer state's mean is the
// average of its two neighboring singlet means, and its shape sum is the
// geometric mean of theirs.
func combineTheta(shapes *mat.Dense) *mat.Dense {
	out := mat.NewDense(5, 2, nil)
	for s := 0; s < 3; s++ {
		out.Set(2*s, 0, shapes.At(s, 0))
		out.Set(2*s, 1, shapes.At(s, 1))
	}
	for _, sp := range [][3]int{{0, 1, 1}, {1, 2, 3}} {
		a1, b1 := shapes.At(sp[0], 0), shapes.At(sp[0], 1)
		a2, b2 := shapes.At(sp[1], 0), shapes.At(sp[1], 1)
		mean := (a1/(a1+b1) + a2/(a2+b2)) / 2
		sum := math.Sqrt((a1 + b1) * (a2 + b2))
		out.Set(sp[2], 0, mean*sum)
		out.Set(sp[2], 1, (1-mean)*sum)
	}
	return out
}
