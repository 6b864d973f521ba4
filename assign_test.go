// Copyright (C) The Demux Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package demux

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/check.v1"
)

type assignSuite struct{}

var _ = check.Suite(&assignSuite{})

func fixedTwoDonorData(c *check.C, nVar int, altReads, depth float64) (*countData, *genotypeProb) {
	// donor0 homozygous-ref everywhere, donor1 homozygous-alt everywhere
	gt := mat.NewDense(nVar, 2, nil)
	for i := 0; i < nVar; i++ {
		gt.Set(i, 1, 2)
	}
	g, err := oneHotGenotypes(gt)
	c.Assert(err, check.IsNil)
	cd, err := newCountData(constCSR(nVar, 1, altReads), constCSR(nVar, 1, depth))
	c.Assert(err, check.IsNil)
	return cd, g
}

func (s *assignSuite) TestAllAltCell(c *check.C) {
	cd, g := fixedTwoDonorData(c, 50, 10, 10)
	th := newTheta(defaultThetaPrior())
	pairs := donorPairs(2)
	psi := mixtureWeights(0.1, false, 2, 1)
	res := computeAssignment(cd, combineGenotypes(g, pairs), combineTheta(th.shapes), psi)
	checkRowsSumToOne(c, res.prob)
	c.Check(res.prob.At(0, 1) > 0.999, check.Equals, true,
		check.Commentf("ID_prob = %v", mat.Formatted(res.prob)))
	c.Check(res.prob.At(0, 2) < 1e-6, check.Equals, true)
	c.Check(res.logLik < 0, check.Equals, true)
}

func (s *assignSuite) TestHalfMixtureFavorsDoublet(c *check.C) {
	cd, g := fixedTwoDonorData(c, 40, 5, 10)
	th := newTheta(defaultThetaPrior())
	pairs := donorPairs(2)
	psi := mixtureWeights(0.1, false, 2, 1)
	res := computeAssignment(cd, combineGenotypes(g, pairs), combineTheta(th.shapes), psi)
	c.Check(res.prob.At(0, 2) > 0.999, check.Equals, true,
		check.Commentf("ID_prob = %v", mat.Formatted(res.prob)))
}

func (s *assignSuite) TestZeroCoverageIsPrior(c *check.C) {
	gt := mat.NewDense(5, 2, []float64{0, 2, 0, 2, 0, 2, 0, 2, 0, 2})
	g, err := oneHotGenotypes(gt)
	c.Assert(err, check.IsNil)
	cd, err := newCountData(constCSR(5, 3, 0), constCSR(5, 3, 0))
	c.Assert(err, check.IsNil)
	psi := []float64{0.6, 0.4}
	res := computeAssignment(cd, g.prob, newTheta(defaultThetaPrior()).shapes, psi)
	checkRowsSumToOne(c, res.prob)
	for m := 0; m < 3; m++ {
		c.Check(math.Abs(res.prob.At(m, 0)-0.6) < 1e-12, check.Equals, true)
		c.Check(math.Abs(res.prob.At(m, 1)-0.4) < 1e-12, check.Equals, true)
		c.Check(math.IsNaN(res.prob.At(m, 0)), check.Equals, false)
	}
	// normalizer of a zero-coverage row is log Σψ = 0
	c.Check(math.Abs(res.logLik) < 1e-9, check.Equals, true)
}
