// Copyright (C) The Demux Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package demux

import "gonum.org/v1/gonum/mat"

// thetaParams is the Beta-Binomial error model: one Beta shape pair per
// singlet genotype state, describing the alternate-allele fraction expected
// from cells carrying 0, 1, or 2 alt copies. The two doublet states are
// always derived from these (combineTheta), never learned directly.
type thetaParams struct {
	shapes *mat.Dense // 3×2, current variational shapes
	prior  *mat.Dense // 3×2, fixed prior shapes
}

// defaultThetaPrior gives prior means 0.01, 0.5, 0.99 for genotypes 0/1/2
// at concentration 100 each.
func defaultThetaPrior() *mat.Dense {
	return mat.NewDense(3, 2, []float64{
		1, 99,
		50, 50,
		99, 1,
	})
}

func newTheta(prior *mat.Dense) *thetaParams {
	return &thetaParams{
		shapes: mat.DenseCopyOf(prior),
		prior:  mat.DenseCopyOf(prior),
	}
}

// update applies the conjugate update shape = prior + weighted counts.
// sAlt and sTot are the variant×donor alt-read and depth sufficient
// statistics (already weighted by donor responsibility); each is further
// weighted by the genotype posterior mass of the corresponding state.
func (t *thetaParams) update(sAlt, sTot *mat.Dense, g *genotypeProb) {
	for s := 0; s < 3; s++ {
		a := t.prior.At(s, 0)
		b := t.prior.At(s, 1)
		for d := 0; d < g.nDonor; d++ {
			for i := 0; i < g.nVar; i++ {
				w := g.prob.At(d*g.nVar+i, s)
				if w == 0 {
					continue
				}
				alt := sAlt.At(i, d)
				a += w * alt
				b += w * (sTot.At(i, d) - alt)
			}
		}
		t.shapes.Set(s, 0, a)
		t.shapes.Set(s, 1, b)
	}
}

func (t *thetaParams) kl() float64 {
	var sum float64
	for s := 0; s < 3; s++ {
		sum += betaKL(t.shapes.At(s, 0), t.shapes.At(s, 1), t.prior.At(s, 0), t.prior.At(s, 1))
	}
	return sum
}
