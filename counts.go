// Copyright (C) The Demux Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package demux

import (
	"fmt"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"
)

// countData holds the immutable variant×cell read-count pair for one
// demultiplexing problem: a = reads supporting the alternative allele,
// d = total depth. Absent entries mean zero coverage. All mutable model
// state lives in the per-trial structs; countData is shared read-only
// across concurrent trials.
type countData struct {
	a, d  *sparse.CSR
	nVar  int
	nCell int

	// coverage[c] = number of variants with nonzero depth in cell c
	coverage []int
}

func newCountData(a, d *sparse.CSR) (*countData, error) {
	ar, ac := a.Dims()
	dr, dc := d.Dims()
	if ar != dr || ac != dc {
		return nil, fmt.Errorf("count matrix dimensions differ: alt %d×%d, depth %d×%d", ar, ac, dr, dc)
	}
	var bad error
	a.DoNonZero(func(i, j int, v float64) {
		if bad != nil {
			return
		}
		if v < 0 {
			bad = fmt.Errorf("negative alt count %g at variant %d cell %d", v, i, j)
		} else if v > d.At(i, j) {
			bad = fmt.Errorf("alt count %g exceeds depth %g at variant %d cell %d", v, d.At(i, j), i, j)
		}
	})
	if bad != nil {
		return nil, bad
	}
	cov := make([]int, ac)
	d.DoNonZero(func(i, j int, v float64) {
		if v > 0 {
			cov[j]++
		}
	})
	return &countData{a: a, d: d, nVar: ar, nCell: ac, coverage: cov}, nil
}

// mulTransposeInto sets out = xᵀ·g, where x is variant×cell and g is
// variant×k, accumulating over nonzeros only. out must be cell×k.
func mulTransposeInto(x *sparse.CSR, g mat.Matrix, out *mat.Dense) {
	out.Zero()
	raw := out.RawMatrix()
	x.DoNonZero(func(i, j int, v float64) {
		row := raw.Data[j*raw.Stride : j*raw.Stride+raw.Cols]
		for k := range row {
			row[k] += v * g.At(i, k)
		}
	})
}

// mulInto sets out = x·p, where x is variant×cell and p is cell×k,
// accumulating over nonzeros only. out must be variant×k.
func mulInto(x *sparse.CSR, p mat.Matrix, out *mat.Dense) {
	out.Zero()
	raw := out.RawMatrix()
	x.DoNonZero(func(i, j int, v float64) {
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		for k := range row {
			row[k] += v * p.At(j, k)
		}
	})
}
