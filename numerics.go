// Copyright (C) The Demux Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package demux

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/mathext"
)

// probFloor is the smallest probability fed to a logarithm anywhere in the
// model. Every normalization site goes through this file so the genotype
// estimator and the assignment engine stabilize identically.
const probFloor = 1e-10

// normalizeLogRows converts each row of m from unnormalized log weights to
// probabilities using the subtract-max log-sum-exp trick, in place. The
// return value is the sum over rows of each row's log normalizer, which is
// the total log-likelihood when m holds per-state log joint weights.
//
// A row with no support anywhere (all -Inf) is replaced by a uniform row
// rather than NaN; its (divergent) normalizer is excluded from the total.
func normalizeLogRows(m *mat.Dense) float64 {
	r, c := m.Dims()
	var total float64
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		lse := floats.LogSumExp(row)
		if math.IsInf(lse, -1) || math.IsNaN(lse) {
			for j := range row {
				row[j] = 1 / float64(c)
			}
			continue
		}
		for j := range row {
			row[j] = math.Exp(row[j] - lse)
		}
		total += lse
	}
	return total
}

func digamma(x float64) float64 {
	return mathext.Digamma(x)
}

// betaKL is KL(Beta(a1,b1) || Beta(a0,b0)).
func betaKL(a1, b1, a0, b0 float64) float64 {
	return mathext.Lbeta(a0, b0) - mathext.Lbeta(a1, b1) +
		(a1-a0)*digamma(a1) + (b1-b0)*digamma(b1) +
		(a0+b0-a1-b1)*digamma(a1+b1)
}

func logClamped(p float64) float64 {
	if p < probFloor {
		p = probFloor
	}
	return math.Log(p)
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
