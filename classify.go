// Copyright (C) The Demux Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package demux

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	LabelDoublet    = "doublet"
	LabelUnassigned = "unassigned"
)

// Assignment is the final per-cell call. Donor is the donor index for
// singlet calls and -1 for doublet/unassigned.
type Assignment struct {
	Cell        int
	Donor       int
	Label       string
	MaxProb     float64 // best singlet posterior
	DoubletProb float64 // summed doublet posterior
	NVars       int     // variants with nonzero coverage
}

// classifyCells converts responsibilities into labels, in priority order:
// too little coverage → unassigned; dominant doublet mass → doublet;
// confident singlet → that donor; weak everything → unassigned; otherwise
// the argmax donor. Pure function of its inputs, so re-applying it to the
// same snapshot yields identical labels.
func classifyCells(singlet, doublet *mat.Dense, coverage []int, cfg *Config) []Assignment {
	m, _ := singlet.Dims()
	out := make([]Assignment, m)
	for c := 0; c < m; c++ {
		row := singlet.RawRowView(c)
		best := floats.MaxIdx(row)
		var dbl float64
		if doublet != nil {
			dbl = floats.Sum(doublet.RawRowView(c))
		}
		a := Assignment{
			Cell:        c,
			Donor:       -1,
			MaxProb:     row[best],
			DoubletProb: dbl,
			NVars:       coverage[c],
		}
		switch {
		case coverage[c] < cfg.MinVariants:
			a.Label = LabelUnassigned
		case dbl > 1-cfg.AssignThreshold:
			a.Label = LabelDoublet
		case row[best] >= cfg.AssignThreshold:
			a.Donor = best
			a.Label = donorLabel(best)
		case dbl < cfg.DoubletThreshold && floats.Sum(row) < cfg.AssignThreshold:
			a.Label = LabelUnassigned
		default:
			a.Donor = best
			a.Label = donorLabel(best)
		}
		out[c] = a
	}
	return out
}

func donorLabel(i int) string {
	return fmt.Sprintf("donor%d", i)
}
