// Copyright (C) The Demux Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package demux

import (
	"gonum.org/v1/gonum/mat"
	"gopkg.in/check.v1"
)

type genotypeSuite struct{}

var _ = check.Suite(&genotypeSuite{})

func (s *genotypeSuite) TestOneHot(c *check.C) {
	gt := mat.NewDense(2, 2, []float64{0, 2, 1, 0})
	g, err := oneHotGenotypes(gt)
	c.Assert(err, check.IsNil)
	c.Check(g.fixed, check.Equals, true)
	c.Check(g.kl(), check.Equals, 0.0)
	// donor-major stacking: rows 0-1 donor0, rows 2-3 donor1
	c.Check(g.prob.At(0, 0), check.Equals, 1.0)
	c.Check(g.prob.At(1, 1), check.Equals, 1.0)
	c.Check(g.prob.At(2, 2), check.Equals, 1.0)
	c.Check(g.prob.At(3, 0), check.Equals, 1.0)

	_, err = oneHotGenotypes(mat.NewDense(1, 1, []float64{3}))
	c.Check(err, check.ErrorMatches, `genotype 3 at variant 0 donor 0.*`)
}

func (s *genotypeSuite) TestRandomInit(c *check.C) {
	g := randomGenotypes(10, 3, newTestSource(1))
	c.Check(g.fixed, check.Equals, false)
	checkRowsSumToOne(c, g.prob)
	// deterministic under the same seed
	h := randomGenotypes(10, 3, newTestSource(1))
	c.Check(mat.EqualApprox(g.prob, h.prob, 0), check.Equals, true)
}

func (s *genotypeSuite) TestUpdatePullsTowardData(c *check.C) {
	// one donor owning one cell with all-alt reads: posterior should move
	// to homozygous-alt at every variant
	nVar := 20
	cd, err := newCountData(constCSR(nVar, 1, 8), constCSR(nVar, 1, 8))
	c.Assert(err, check.IsNil)
	g := randomGenotypes(nVar, 1, newTestSource(3))
	th := newTheta(defaultThetaPrior())
	sAlt := mat.NewDense(nVar, 1, nil)
	sTot := mat.NewDense(nVar, 1, nil)
	resp := mat.NewDense(1, 1, []float64{1})
	mulInto(cd.a, resp, sAlt)
	mulInto(cd.d, resp, sTot)
	g.update(sAlt, sTot, th, false)
	checkRowsSumToOne(c, g.prob)
	for i := 0; i < nVar; i++ {
		c.Check(g.prob.At(i, 2) > 0.99, check.Equals, true,
			check.Commentf("variant %d: %v", i, g.prob.RawRowView(i)))
	}
	c.Check(g.kl() > 0, check.Equals, true)

	g.update(sAlt, sTot, th, true)
	for i := 0; i < nVar; i++ {
		c.Check(g.prob.At(i, 2), check.Equals, 1.0)
	}
}

func (s *genotypeSuite) TestFixedBypassed(c *check.C) {
	gt := mat.NewDense(2, 1, []float64{1, 1})
	g, err := oneHotGenotypes(gt)
	c.Assert(err, check.IsNil)
	before := mat.DenseCopyOf(g.prob)
	g.update(mat.NewDense(2, 1, []float64{5, 5}), mat.NewDense(2, 1, []float64{5, 5}), newTheta(defaultThetaPrior()), false)
	c.Check(mat.EqualApprox(g.prob, before, 0), check.Equals, true)
}
