// Copyright (C) The Demux Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package demux

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strconv"
	"time"

	"github.com/james-bowman/sparse"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DonorModel tells Fit where donor genotypes come from: either a fixed
// variant×donor matrix of known hard genotypes, or a donor count to infer
// genotypes for from scratch.
type DonorModel interface {
	donorModel()
}

// FixedGenotypes supplies known genotypes (values 0, 1, or 2). Genotype
// re-estimation is bypassed entirely.
type FixedGenotypes struct {
	GT mat.Matrix // variant × donor
}

func (FixedGenotypes) donorModel() {}

// InferredDonors asks for K donors to be inferred. With ExtensionRatio > 1
// the driver first over-provisions ceil(ratio·K) donors, prunes to the K
// donors carrying the most responsibility mass, and refits once seeded with
// the pruned genotypes as prior.
type InferredDonors struct {
	K              int
	ExtensionRatio float64
}

func (InferredDonors) donorModel() {}

// Config holds every tunable of the inference engine. The zero value is not
// usable; start from DefaultConfig.
type Config struct {
	NInit          int     // independent restarts; 0 = 2 with fixed genotypes, 5 otherwise
	MinIter        int     // never stop before this many iterations
	MaxIter        int
	ConvergenceEps float64 // stop once the ELBO gain drops below this
	LearnTheta     bool    // update the error model (after burn-in)
	BurnInFrac     float64 // fraction of MinIter to hold theta updates
	ThetaPrior     *mat.Dense

	Doublet          bool
	DoubletIterative bool   // recombine doublet states every iteration instead of once at the end
	DoubletPrior     string // "auto", "uniform", or a fraction in [0,1)
	DoubletPriorNorm float64

	HardGenotype bool // EM-style one-hot genotype updates

	AssignThreshold  float64
	DoubletThreshold float64
	MinVariants      int

	Workers int // concurrent trials; 0 = GOMAXPROCS
	Seed    uint64
}

func DefaultConfig() Config {
	return Config{
		MinIter:          20,
		MaxIter:          200,
		ConvergenceEps:   1e-2,
		LearnTheta:       true,
		BurnInFrac:       0.25,
		Doublet:          true,
		DoubletPrior:     "auto",
		DoubletPriorNorm: 1e5,
		AssignThreshold:  0.9,
		DoubletThreshold: 0.9,
		MinVariants:      10,
	}
}

func (c *Config) Validate() error {
	if c.MinIter < 1 || c.MaxIter < c.MinIter {
		return fmt.Errorf("iteration bounds out of range: min %d, max %d", c.MinIter, c.MaxIter)
	}
	if !(c.ConvergenceEps > 0) {
		return fmt.Errorf("convergence epsilon must be positive, got %g", c.ConvergenceEps)
	}
	if c.BurnInFrac < 0 || c.BurnInFrac > 1 {
		return fmt.Errorf("burn-in fraction %g outside [0,1]", c.BurnInFrac)
	}
	if c.AssignThreshold <= 0 || c.AssignThreshold > 1 {
		return fmt.Errorf("assignment threshold %g outside (0,1]", c.AssignThreshold)
	}
	if c.DoubletThreshold <= 0 || c.DoubletThreshold > 1 {
		return fmt.Errorf("doublet threshold %g outside (0,1]", c.DoubletThreshold)
	}
	if c.MinVariants < 0 || c.NInit < 0 || c.Workers < 0 {
		return errors.New("negative count option")
	}
	if c.DoubletPriorNorm <= 0 {
		return fmt.Errorf("doublet prior norm must be positive, got %g", c.DoubletPriorNorm)
	}
	switch c.DoubletPrior {
	case "auto", "uniform":
	default:
		f, err := strconv.ParseFloat(c.DoubletPrior, 64)
		if err != nil || f < 0 || f >= 1 {
			return fmt.Errorf("doublet prior %q: want \"auto\", \"uniform\", or a fraction in [0,1)", c.DoubletPrior)
		}
	}
	return nil
}

// doubletMass resolves the configured doublet prior for a given cell count.
// uniform reports the mode where all states share equal mass instead.
func (c *Config) doubletMass(nCells int) (mass float64, uniform bool) {
	switch c.DoubletPrior {
	case "uniform":
		return 0, true
	case "auto":
		return math.Min(0.5, float64(nCells)/c.DoubletPriorNorm), false
	default:
		f, _ := strconv.ParseFloat(c.DoubletPrior, 64)
		return f, false
	}
}

func (c *Config) thetaPrior() *mat.Dense {
	if c.ThetaPrior != nil {
		return c.ThetaPrior
	}
	return defaultThetaPrior()
}

// mixtureWeights builds the normalized state prior over nSinglet + nPairs
// states: singlet mass split uniformly, doublet mass as configured.
func mixtureWeights(mass float64, uniform bool, nSinglet, nPairs int) []float64 {
	n := nSinglet + nPairs
	w := make([]float64, n)
	if uniform {
		for i := range w {
			w[i] = 1 / float64(n)
		}
		return w
	}
	if nPairs == 0 {
		mass = 0
	}
	for i := 0; i < nSinglet; i++ {
		w[i] = (1 - mass) / float64(nSinglet)
	}
	for i := nSinglet; i < n; i++ {
		w[i] = mass / float64(nPairs)
	}
	return w
}

// FitResult is the best run's final snapshot plus per-cell classification.
type FitResult struct {
	LogLik     float64
	ELBO       float64
	ELBOTrace  []float64
	Iterations int
	Converged  bool
	Diverged   bool

	SingletProb *mat.Dense // cell × donor responsibilities
	DoubletProb *mat.Dense // cell × pair responsibilities; nil without doublet states
	GTProb      *mat.Dense // (variant×donor)×3 stacked donor-major
	DoubletGT   *mat.Dense // combined 5-state genotype matrix; nil without doublet states
	ThetaShapes *mat.Dense // 3×2 learned singlet shapes
	Pairs       [][2]int
	Coverage    []int // variants with nonzero depth, per cell

	Assignments []Assignment
}

// Fit runs the multi-restart variational inference on alt/depth count
// matrices (variant × cell) under the given donor model and returns the
// best run by final ELBO. Configuration errors abort before any
// computation; per-trial numerical trouble is logged and survives as that
// trial's (poor) ELBO.
func Fit(alt, depth *sparse.CSR, model DonorModel, cfg Config) (*FitResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cd, err := newCountData(alt, depth)
	if err != nil {
		return nil, err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	switch m := model.(type) {
	case FixedGenotypes:
		gr, _ := m.GT.Dims()
		if gr != cd.nVar {
			return nil, fmt.Errorf("genotype matrix has %d variants, count matrices have %d", gr, cd.nVar)
		}
		if _, err := oneHotGenotypes(m.GT); err != nil {
			return nil, err
		}
		nInit := cfg.NInit
		if nInit == 0 {
			nInit = 2
		}
		trials, err := runTrials(&cfg, nInit, func(i int) *trial {
			g, _ := oneHotGenotypes(m.GT)
			return newTrial(&cfg, cd, g)
		})
		if err != nil {
			return nil, err
		}
		return finish(cd, bestTrial(trials), &cfg)
	case InferredDonors:
		if m.K < 1 {
			return nil, fmt.Errorf("donor count must be positive, got %d", m.K)
		}
		nInit := cfg.NInit
		if nInit == 0 {
			nInit = 5
		}
		kRun := m.K
		if m.ExtensionRatio > 1 {
			kRun = int(math.Ceil(m.ExtensionRatio * float64(m.K)))
		}
		trials, err := runTrials(&cfg, nInit, func(i int) *trial {
			g := randomGenotypes(cd.nVar, kRun, rand.NewSource(seed+uint64(i)))
			return newTrial(&cfg, cd, g)
		})
		if err != nil {
			return nil, err
		}
		best := bestTrial(trials)
		if kRun > m.K && best.idProb != nil {
			prior := prunedGenotypePrior(best, m.K)
			tr := newTrial(&cfg, cd, seededGenotypes(prior, cd.nVar, m.K))
			tr.run()
			best = tr
		}
		return finish(cd, best, &cfg)
	case nil:
		return nil, errors.New("donor model required: supply fixed genotypes or a donor count")
	default:
		return nil, fmt.Errorf("unsupported donor model %T", model)
	}
}

// runTrials executes n independent trials across a bounded worker pool and
// returns them in launch order. Construction (including random
// initialization) happens in the caller's goroutine so seeds stay
// deterministic.
func runTrials(cfg *Config, n int, mk func(i int) *trial) ([]*trial, error) {
	workers := cfg.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	tt := throttle{Max: workers}
	trials := make([]*trial, n)
	for i := 0; i < n; i++ {
		tr := mk(i)
		trials[i] = tr
		tt.Go(func() error {
			tr.run()
			return nil
		})
	}
	err := tt.Wait()
	return trials, err
}

// bestTrial reduces completed trials by maximal final ELBO.
func bestTrial(trials []*trial) *trial {
	best := trials[0]
	for _, tr := range trials[1:] {
		if tr.finalELBO() > best.finalELBO() {
			best = tr
		}
	}
	return best
}

// prunedGenotypePrior ranks the over-provisioned donors by total assigned
// responsibility mass, keeps the top k, and returns their genotype
// posterior clamped away from 0/1 for use as the second pass's prior.
func prunedGenotypePrior(best *trial, k int) *mat.Dense {
	n := best.gt.nVar
	kRun := best.gt.nDonor
	mass := make([]float64, kRun)
	for d := 0; d < kRun; d++ {
		col := make([]float64, best.cd.nCell)
		mat.Col(col, d, best.idProb)
		mass[d] = floats.Sum(col)
	}
	order := make([]int, kRun)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return mass[order[a]] > mass[order[b]] })
	if k < kRun {
		hi, lo := mass[order[k-1]], mass[order[k]]
		if lo > 0 && hi/lo < 2 {
			log.Warnf("weak separation between donor %d and %d (mass ratio %.2f < 2); consider more restarts", k, k+1, hi/lo)
		}
	}
	prior := mat.NewDense(n*k, 3, nil)
	row := make([]float64, 3)
	for di, src := range order[:k] {
		for i := 0; i < n; i++ {
			copy(row, best.gt.prob.RawRowView(src*n+i))
			for s := range row {
				row[s] = clamp(row[s], 0.01, 0.99)
			}
			floats.Scale(1/floats.Sum(row), row)
			prior.SetRow(di*n+i, row)
		}
	}
	return prior
}

func finish(cd *countData, tr *trial, cfg *Config) (*FitResult, error) {
	if tr.idProb == nil {
		return nil, errors.New("all trials diverged before producing responsibilities")
	}
	switch tr.status {
	case statusMaxIter:
		log.Warnf("no convergence after %d iterations (ELBO %.6g); returning result anyway", tr.iters, tr.finalELBO())
	case statusDiverged:
		log.Warnf("best trial diverged after %d iterations; returning last valid state", tr.iters)
	}
	singlet, doublet := tr.split()
	res := &FitResult{
		LogLik:      tr.logLik,
		ELBO:        tr.finalELBO(),
		ELBOTrace:   tr.elbo,
		Iterations:  tr.iters,
		Converged:   tr.status == statusConverged,
		Diverged:    tr.status == statusDiverged,
		SingletProb: singlet,
		DoubletProb: doublet,
		GTProb:      mat.DenseCopyOf(tr.gt.prob),
		ThetaShapes: mat.DenseCopyOf(tr.theta.shapes),
		Pairs:       tr.pairs,
		Coverage:    append([]int(nil), cd.coverage...),
	}
	if len(tr.pairs) > 0 {
		res.DoubletGT = combineGenotypes(tr.gt, tr.pairs)
	}
	res.Assignments = classifyCells(singlet, doublet, res.Coverage, cfg)
	log.Infof("best run: ELBO %.6g, log-likelihood %.6g, %d iterations (%s)", res.ELBO, res.LogLik, res.Iterations, tr.status)
	return res, nil
}
