// Copyright (C) The Demux Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package demux

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
	"gopkg.in/check.v1"
)

type numericsSuite struct{}

var _ = check.Suite(&numericsSuite{})

func (s *numericsSuite) TestNormalizeLogRows(c *check.C) {
	m := mat.NewDense(2, 2, []float64{
		math.Log(1), math.Log(3),
		0, 0,
	})
	total := normalizeLogRows(m)
	checkRowsSumToOne(c, m)
	c.Check(math.Abs(m.At(0, 1)/m.At(0, 0)-3) < 1e-12, check.Equals, true)
	c.Check(math.Abs(m.At(1, 0)-0.5) < 1e-12, check.Equals, true)
	// row 0 normalizer is log(4), row 1 is log(2)
	c.Check(math.Abs(total-math.Log(4)-math.Log(2)) < 1e-12, check.Equals, true)
}

func (s *numericsSuite) TestNormalizeLogRowsHugeOffsets(c *check.C) {
	// values that would underflow without the subtract-max trick
	m := mat.NewDense(1, 3, []float64{-1e6, -1e6 - 1, -1e6 - 2})
	normalizeLogRows(m)
	checkRowsSumToOne(c, m)
	c.Check(m.At(0, 0) > m.At(0, 1), check.Equals, true)
	c.Check(math.IsNaN(m.At(0, 2)), check.Equals, false)
}

func (s *numericsSuite) TestNormalizeLogRowsNoSupport(c *check.C) {
	m := mat.NewDense(1, 4, []float64{math.Inf(-1), math.Inf(-1), math.Inf(-1), math.Inf(-1)})
	total := normalizeLogRows(m)
	checkRowsSumToOne(c, m)
	c.Check(m.At(0, 0), check.Equals, 0.25)
	c.Check(math.IsInf(total, -1), check.Equals, false)
}

func (s *numericsSuite) TestBetaKL(c *check.C) {
	c.Check(math.Abs(betaKL(3, 7, 3, 7)) < 1e-12, check.Equals, true)
	c.Check(betaKL(50, 50, 1, 99) > 0, check.Equals, true)
	c.Check(betaKL(1, 99, 50, 50) > 0, check.Equals, true)

	// closed form vs midpoint-rule quadrature of ∫ p log(p/q)
	p := distuv.Beta{Alpha: 3, Beta: 7}
	q := distuv.Beta{Alpha: 2, Beta: 5}
	const n = 200000
	var kl float64
	for i := 0; i < n; i++ {
		x := (float64(i) + 0.5) / n
		kl += math.Exp(p.LogProb(x)) * (p.LogProb(x) - q.LogProb(x)) / n
	}
	c.Check(math.Abs(betaKL(3, 7, 2, 5)-kl) < 1e-4, check.Equals, true,
		check.Commentf("closed form %v, quadrature %v", betaKL(3, 7, 2, 5), kl))
}

func (s *numericsSuite) TestClamp(c *check.C) {
	c.Check(clamp(-0.5, 0.01, 0.99), check.Equals, 0.01)
	c.Check(clamp(1.5, 0.01, 0.99), check.Equals, 0.99)
	c.Check(clamp(0.4, 0.01, 0.99), check.Equals, 0.4)
	c.Check(logClamped(0), check.Equals, math.Log(probFloor))
}
