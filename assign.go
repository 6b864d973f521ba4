// Copyright (C) The Demux Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package demux

import "gonum.org/v1/gonum/mat"

type assignOut struct {
	// prob is the cell × state responsibility matrix; rows sum to 1.
	prob *mat.Dense
	// logLik is the summed per-cell log normalizer, the model's total
	// marginal log-likelihood under the current variational expectations.
	logLik float64
}

// computeAssignment evaluates, for every cell and every donor/doublet
// state, the expected complete-data log-likelihood
//
//	Σ_g  alt·ψ(α_g) + ref·ψ(β_g) − depth·ψ(α_g+β_g)
//
// where the per-genotype sufficient statistics come from sparse products of
// the count matrices with the state's genotype-probability block, plus the
// log state prior. Rows are normalized by log-sum-exp; cells with no
// coverage fall back to the prior rather than NaN.
//
// gt stacks one nVar-row block per state (singlet-only or combined
// singlet+doublet); shapes has one row per genotype state matching gt's
// columns; psi is the normalized state prior.
func computeAssignment(cd *countData, gt *mat.Dense, shapes *mat.Dense, psi []float64) *assignOut {
	nStates := len(psi)
	_, gStates := gt.Dims()
	ll := mat.NewDense(cd.nCell, nStates, nil)
	ta := mat.NewDense(cd.nCell, gStates, nil)
	td := mat.NewDense(cd.nCell, gStates, nil)
	for s := 0; s < nStates; s++ {
		block := gt.Slice(s*cd.nVar, (s+1)*cd.nVar, 0, gStates)
		mulTransposeInto(cd.a, block, ta)
		mulTransposeInto(cd.d, block, td)
		lp := logClamped(psi[s])
		for m := 0; m < cd.nCell; m++ {
			v := lp
			for g := 0; g < gStates; g++ {
				a := shapes.At(g, 0)
				b := shapes.At(g, 1)
				alt := ta.At(m, g)
				tot := td.At(m, g)
				v += alt*digamma(a) + (tot-alt)*digamma(b) - tot*digamma(a+b)
			}
			ll.Set(m, s, v)
		}
	}
	total := normalizeLogRows(ll)
	return &assignOut{prob: ll, logLik: total}
}
