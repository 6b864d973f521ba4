// Copyright (C) The Demux Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package demux

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/check.v1"
)

type countsSuite struct{}

var _ = check.Suite(&countsSuite{})

func (s *countsSuite) TestValidation(c *check.C) {
	a := csrFromDense(2, 2, []float64{1, 0, 0, 2})
	d := csrFromDense(2, 2, []float64{2, 1, 0, 2})
	cd, err := newCountData(a, d)
	c.Assert(err, check.IsNil)
	c.Check(cd.nVar, check.Equals, 2)
	c.Check(cd.nCell, check.Equals, 2)
	c.Check(cd.coverage, check.DeepEquals, []int{1, 2})

	_, err = newCountData(csrFromDense(2, 2, []float64{3, 0, 0, 0}), d)
	c.Check(err, check.ErrorMatches, `alt count 3 exceeds depth 2.*`)

	_, err = newCountData(csrFromDense(3, 2, make([]float64, 6)), d)
	c.Check(err, check.ErrorMatches, `count matrix dimensions differ.*`)
}

func (s *countsSuite) TestSparseProducts(c *check.C) {
	// x = [1 0 2; 0 3 0]
	x := csrFromDense(2, 3, []float64{1, 0, 2, 0, 3, 0})
	g := mat.NewDense(2, 2, []float64{1, 2, 3, 4}) // variant×k
	out := mat.NewDense(3, 2, nil)
	mulTransposeInto(x, g, out) // cells×k = xᵀ·g
	want := mat.NewDense(3, 2, []float64{1, 2, 9, 12, 2, 4})
	c.Check(mat.EqualApprox(out, want, 1e-12), check.Equals, true)

	p := mat.NewDense(3, 2, []float64{1, 0, 0, 1, 1, 1}) // cells×k
	out2 := mat.NewDense(2, 2, nil)
	mulInto(x, p, out2) // variants×k = x·p
	want2 := mat.NewDense(2, 2, []float64{3, 2, 0, 3})
	c.Check(mat.EqualApprox(out2, want2, 1e-12), check.Equals, true)
}

func (s *countsSuite) TestZeroCoverage(c *check.C) {
	cd, err := newCountData(constCSR(4, 3, 0), constCSR(4, 3, 0))
	c.Assert(err, check.IsNil)
	c.Check(cd.coverage, check.DeepEquals, []int{0, 0, 0})
	c.Check(math.IsNaN(float64(cd.nVar)), check.Equals, false)
}
