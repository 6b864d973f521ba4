// Copyright (C) The Demux Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package demux

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// genotypeProb is the categorical genotype distribution for every donor at
// every variant, stacked donor-major: row d*nVar+i holds donor d's
// distribution over {0,1,2} alt copies at variant i. When built from known
// hard genotypes it is fixed (one-hot, never updated); otherwise it is a
// variational posterior refined each iteration against a prior.
type genotypeProb struct {
	nVar   int
	nDonor int
	prob   *mat.Dense // (nVar*nDonor)×3, rows sum to 1
	prior  *mat.Dense // same shape; nil when fixed
	fixed  bool
}

// oneHotGenotypes encodes a variant×donor matrix of hard genotype calls.
func oneHotGenotypes(g mat.Matrix) (*genotypeProb, error) {
	n, k := g.Dims()
	p := mat.NewDense(n*k, 3, nil)
	for d := 0; d < k; d++ {
		for i := 0; i < n; i++ {
			v := g.At(i, d)
			if v != 0 && v != 1 && v != 2 {
				return nil, fmt.Errorf("genotype %g at variant %d donor %d: want 0, 1, or 2", v, i, d)
			}
			p.Set(d*n+i, int(v), 1)
		}
	}
	return &genotypeProb{nVar: n, nDonor: k, prob: p, fixed: true}, nil
}

// randomGenotypes draws every donor-variant row from a flat Dirichlet, with
// a uniform prior.
func randomGenotypes(nVar, nDonor int, src rand.Source) *genotypeProb {
	dir := distmv.NewDirichlet([]float64{1, 1, 1}, src)
	p := mat.NewDense(nVar*nDonor, 3, nil)
	buf := make([]float64, 3)
	for r := 0; r < nVar*nDonor; r++ {
		dir.Rand(buf)
		p.SetRow(r, buf)
	}
	prior := mat.NewDense(nVar*nDonor, 3, nil)
	for r := 0; r < nVar*nDonor; r++ {
		prior.SetRow(r, []float64{1. / 3, 1. / 3, 1. / 3})
	}
	return &genotypeProb{nVar: nVar, nDonor: nDonor, prob: p, prior: prior}
}

// seededGenotypes starts both the posterior and the prior at the given
// distribution (used by the prune-and-refit second pass).
func seededGenotypes(prior *mat.Dense, nVar, nDonor int) *genotypeProb {
	return &genotypeProb{
		nVar:   nVar,
		nDonor: nDonor,
		prob:   mat.DenseCopyOf(prior),
		prior:  mat.DenseCopyOf(prior),
	}
}

// update recomputes the genotype posterior from the current responsibility
// sufficient statistics and error-model expectations. With hard set, each
// row collapses to one-hot at its argmax state instead of the full
// variational average.
func (g *genotypeProb) update(sAlt, sTot *mat.Dense, th *thetaParams, hard bool) {
	if g.fixed {
		return
	}
	for d := 0; d < g.nDonor; d++ {
		for i := 0; i < g.nVar; i++ {
			r := d*g.nVar + i
			row := g.prob.RawRowView(r)
			alt := sAlt.At(i, d)
			tot := sTot.At(i, d)
			for s := 0; s < 3; s++ {
				a := th.shapes.At(s, 0)
				b := th.shapes.At(s, 1)
				row[s] = alt*digamma(a) + (tot-alt)*digamma(b) - tot*digamma(a+b) +
					logClamped(g.prior.At(r, s))
			}
		}
	}
	normalizeLogRows(g.prob)
	if hard {
		rows, _ := g.prob.Dims()
		for r := 0; r < rows; r++ {
			row := g.prob.RawRowView(r)
			best := floats.MaxIdx(row)
			for s := range row {
				row[s] = 0
			}
			row[best] = 1
		}
	}
}

// kl is the KL divergence of the genotype posterior from its prior, summed
// over all donor-variant rows. Zero when genotypes are fixed.
func (g *genotypeProb) kl() float64 {
	if g.fixed {
		return 0
	}
	rows, cols := g.prob.Dims()
	var sum float64
	for r := 0; r < rows; r++ {
		row := g.prob.RawRowView(r)
		for s := 0; s < cols; s++ {
			p := row[s]
			if p < probFloor {
				continue
			}
			sum += p * (logClamped(p) - logClamped(g.prior.At(r, s)))
		}
	}
	return sum
}
