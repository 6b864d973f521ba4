// Copyright (C) The Demux Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package demux

import (
	"math"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

type trialStatus int

const (
	statusRunning trialStatus = iota
	statusConverged
	statusMaxIter
	statusDiverged
)

func (s trialStatus) String() string {
	switch s {
	case statusConverged:
		return "converged"
	case statusMaxIter:
		return "max-iterations"
	case statusDiverged:
		return "diverged"
	}
	return "running"
}

// trial is one independent coordinate-ascent run. Each trial owns every
// piece of mutable state (genotype posterior, error-model shapes,
// responsibilities, ELBO trace) and shares only the immutable countData, so
// trials can run concurrently without synchronization.
type trial struct {
	cfg   *Config
	cd    *countData
	gt    *genotypeProb
	theta *thetaParams
	pairs [][2]int

	psiAll []float64 // prior over singlet+doublet states
	psiS   []float64 // prior over singlet states only

	idProb *mat.Dense // cell × state responsibilities (last valid)
	logLik float64
	elbo   []float64
	iters  int
	status trialStatus

	sAlt, sTot *mat.Dense // variant × donor sufficient statistics
}

func newTrial(cfg *Config, cd *countData, gt *genotypeProb) *trial {
	k := gt.nDonor
	var pairs [][2]int
	if cfg.Doublet && k >= 2 {
		pairs = donorPairs(k)
	}
	mass, uniform := cfg.doubletMass(cd.nCell)
	t := &trial{
		cfg:    cfg,
		cd:     cd,
		gt:     gt,
		theta:  newTheta(cfg.thetaPrior()),
		pairs:  pairs,
		psiAll: mixtureWeights(mass, uniform, k, len(pairs)),
		psiS:   mixtureWeights(0, uniform, k, 0),
		sAlt:   mat.NewDense(cd.nVar, k, nil),
		sTot:   mat.NewDense(cd.nVar, k, nil),
	}
	return t
}

// run drives the trial to convergence:
//
//	INITIALIZING → ITERATING → (CONVERGED | MAX_ITER | DIVERGED)
//	            → post-doublet refine (deferred doublet mode) → done
//
// Each iteration updates the error model (after burn-in), recombines the
// doublet state space if doublet checking is iterative, recomputes
// responsibilities, takes the ELBO, then refreshes the genotype sufficient
// statistics and posterior. The ELBO is evaluated immediately after the
// responsibility update, where the assignment entropy terms collapse into
// the summed row log-normalizers exactly, leaving only the genotype and
// error-model KL terms.
func (t *trial) run() {
	burnIn := int(math.Ceil(t.cfg.BurnInFrac * float64(t.cfg.MinIter)))
	iterative := len(t.pairs) > 0 && t.cfg.DoubletIterative
	for it := 0; it < t.cfg.MaxIter; it++ {
		if t.cfg.LearnTheta && it > 0 && it >= burnIn {
			t.theta.update(t.sAlt, t.sTot, t.gt)
		}
		var res *assignOut
		if iterative {
			res = computeAssignment(t.cd, combineGenotypes(t.gt, t.pairs), combineTheta(t.theta.shapes), t.psiAll)
		} else {
			res = computeAssignment(t.cd, t.gt.prob, t.theta.shapes, t.psiS)
		}
		elbo := res.logLik - t.gt.kl() - t.theta.kl()
		if math.IsNaN(elbo) || math.IsInf(elbo, -1) {
			t.status = statusDiverged
			log.Warnf("trial diverged at iteration %d (ELBO %v); keeping last valid state", it+1, elbo)
			break
		}
		t.idProb = res.prob
		t.logLik = res.logLik
		t.iters = it + 1
		if n := len(t.elbo); n > 0 && elbo < t.elbo[n-1]-1e-9 {
			log.Warnf("ELBO decreased from %.6g to %.6g at iteration %d", t.elbo[n-1], elbo, it+1)
		}
		t.elbo = append(t.elbo, elbo)
		t.refreshSuffStats()
		t.gt.update(t.sAlt, t.sTot, t.theta, t.cfg.HardGenotype)
		if n := len(t.elbo); it+1 >= t.cfg.MinIter && n > 1 && elbo-t.elbo[n-2] < t.cfg.ConvergenceEps {
			t.status = statusConverged
			break
		}
	}
	if t.status == statusRunning {
		t.status = statusMaxIter
	}
	if len(t.pairs) > 0 && !t.cfg.DoubletIterative && t.status != statusDiverged {
		// Deferred doublet checking: one extra pass on the full
		// singlet+doublet state space, then a single genotype-posterior
		// refresh from the augmented responsibilities.
		res := computeAssignment(t.cd, combineGenotypes(t.gt, t.pairs), combineTheta(t.theta.shapes), t.psiAll)
		t.idProb = res.prob
		t.logLik = res.logLik
		t.refreshSuffStats()
		t.gt.update(t.sAlt, t.sTot, t.theta, t.cfg.HardGenotype)
		t.elbo = append(t.elbo, res.logLik-t.gt.kl()-t.theta.kl())
	}
}

// refreshSuffStats recomputes the variant×donor alt and depth sufficient
// statistics from the singlet block of the current responsibilities.
func (t *trial) refreshSuffStats() {
	singlet := t.idProb.Slice(0, t.cd.nCell, 0, t.gt.nDonor)
	mulInto(t.cd.a, singlet, t.sAlt)
	mulInto(t.cd.d, singlet, t.sTot)
}

func (t *trial) finalELBO() float64 {
	if len(t.elbo) == 0 {
		return math.Inf(-1)
	}
	return t.elbo[len(t.elbo)-1]
}

// split copies the final responsibilities into their singlet and doublet
// blocks; the doublet block is nil when no doublet states were evaluated.
func (t *trial) split() (singlet, doublet *mat.Dense) {
	if t.idProb == nil {
		return nil, nil
	}
	m, s := t.idProb.Dims()
	k := t.gt.nDonor
	singlet = mat.DenseCopyOf(t.idProb.Slice(0, m, 0, k))
	if s > k {
		doublet = mat.DenseCopyOf(t.idProb.Slice(0, m, k, s))
	}
	return singlet, doublet
}
