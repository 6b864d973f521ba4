// Copyright (C) The Demux Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package demux

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"strings"

	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

type donorIDCommand struct{}

func (cmd *donorIDCommand) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprofAddr := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	altFile := flags.String("alt", "", "alt-read count matrix `file` (.npy, .mtx, or .mtx.gz; variants × cells)")
	depthFile := flags.String("depth", "", "total depth count matrix `file` (same format and shape as -alt)")
	gtFile := flags.String("genotype", "", "known donor genotype matrix `file` (.npy; variants × donors, values 0/1/2)")
	barcodeFile := flags.String("barcodes", "", "cell barcode list `file` (one per line, in count-matrix column order)")
	donors := flags.Int("donors", 0, "number of donors to infer (not needed with -genotype)")
	outdir := flags.String("o", ".", "output `directory`")
	extensionRatio := flags.Float64("extension-ratio", 1.5, "over-provisioning ratio for the first pass when inferring donors")
	cfg := DefaultConfig()
	flags.IntVar(&cfg.NInit, "n-init", cfg.NInit, "number of independent restarts (0 = automatic)")
	flags.IntVar(&cfg.MinIter, "min-iter", cfg.MinIter, "minimum iterations per run")
	flags.IntVar(&cfg.MaxIter, "max-iter", cfg.MaxIter, "maximum iterations per run")
	flags.Float64Var(&cfg.ConvergenceEps, "epsilon", cfg.ConvergenceEps, "ELBO improvement threshold for convergence")
	flags.BoolVar(&cfg.LearnTheta, "learn-theta", cfg.LearnTheta, "update the allelic error model after burn-in")
	flags.Float64Var(&cfg.BurnInFrac, "burn-in", cfg.BurnInFrac, "fraction of -min-iter to hold error-model updates")
	flags.BoolVar(&cfg.Doublet, "doublet", cfg.Doublet, "check for donor doublets")
	flags.BoolVar(&cfg.DoubletIterative, "doublet-iterative", cfg.DoubletIterative, "evaluate doublet states every iteration instead of once at the end")
	flags.StringVar(&cfg.DoubletPrior, "doublet-prior", cfg.DoubletPrior, "doublet prior mass: \"auto\", \"uniform\", or a fraction")
	flags.Float64Var(&cfg.DoubletPriorNorm, "doublet-prior-norm", cfg.DoubletPriorNorm, "cell count at which the automatic doublet prior reaches 1")
	flags.BoolVar(&cfg.HardGenotype, "hard-genotype", cfg.HardGenotype, "collapse genotype updates to one-hot (EM instead of variational)")
	flags.Float64Var(&cfg.AssignThreshold, "assign-threshold", cfg.AssignThreshold, "posterior needed to assign a cell to a donor")
	flags.Float64Var(&cfg.DoubletThreshold, "doublet-threshold", cfg.DoubletThreshold, "doublet posterior above which a weak cell is left unassigned rather than called")
	flags.IntVar(&cfg.MinVariants, "min-variants", cfg.MinVariants, "minimum covered variants to assign a cell at all")
	flags.IntVar(&cfg.Workers, "workers", cfg.Workers, "concurrent restarts (0 = GOMAXPROCS)")
	flags.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "random seed (0 = time-based)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if flags.NArg() > 0 {
		err = fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
		return 2
	}

	if *pprofAddr != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	if *altFile == "" || *depthFile == "" {
		err = errors.New("-alt and -depth are required")
		return 2
	}

	log.Infof("reading %s", *altFile)
	alt, err := loadCountMatrix(*altFile)
	if err != nil {
		return 1
	}
	log.Infof("reading %s", *depthFile)
	depth, err := loadCountMatrix(*depthFile)
	if err != nil {
		return 1
	}
	nVar, nCell := alt.Dims()
	log.Infof("%d variants × %d cells", nVar, nCell)

	var model DonorModel
	if *gtFile != "" {
		var gt *mat.Dense
		gt, err = readNpyMatrix(*gtFile)
		if err != nil {
			return 1
		}
		model = FixedGenotypes{GT: gt}
	} else if *donors > 0 {
		model = InferredDonors{K: *donors, ExtensionRatio: *extensionRatio}
	} else {
		err = errors.New("either -genotype or -donors must be given")
		return 2
	}

	barcodes := make([]string, nCell)
	for i := range barcodes {
		barcodes[i] = fmt.Sprintf("cell%d", i)
	}
	if *barcodeFile != "" {
		barcodes, err = readLines(*barcodeFile)
		if err != nil {
			return 1
		}
		if len(barcodes) != nCell {
			err = fmt.Errorf("barcode file has %d entries, count matrices have %d cells", len(barcodes), nCell)
			return 1
		}
	}

	res, err := Fit(alt, depth, model, cfg)
	if err != nil {
		return 1
	}

	err = os.MkdirAll(*outdir, 0777)
	if err != nil {
		return 1
	}
	err = writeAssignmentsTSV(filepath.Join(*outdir, "donor_ids.tsv"), barcodes, res.Assignments)
	if err != nil {
		return 1
	}
	err = writeNpy(filepath.Join(*outdir, "prob_singlet.npy"), res.SingletProb)
	if err != nil {
		return 1
	}
	if res.DoubletProb != nil {
		err = writeNpy(filepath.Join(*outdir, "prob_doublet.npy"), res.DoubletProb)
		if err != nil {
			return 1
		}
	}
	err = writeNpy(filepath.Join(*outdir, "GT_prob.npy"), res.GTProb)
	if err != nil {
		return 1
	}
	err = writeNpy(filepath.Join(*outdir, "theta_shapes.npy"), res.ThetaShapes)
	if err != nil {
		return 1
	}

	tally := map[string]int{}
	for _, a := range res.Assignments {
		tally[a.Label]++
	}
	for label, n := range tally {
		log.Infof("%s: %d cells", label, n)
	}
	log.Info("done")
	return 0
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}

func writeAssignmentsTSV(path string, barcodes []string, assignments []Assignment) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriter(f)
	fmt.Fprintln(bufw, "cell\tdonor_id\tprob_max\tprob_doublet\tn_vars")
	for _, a := range assignments {
		fmt.Fprintf(bufw, "%s\t%s\t%.4f\t%.4f\t%d\n", barcodes[a.Cell], a.Label, a.MaxProb, a.DoubletProb, a.NVars)
	}
	if err := bufw.Flush(); err != nil {
		return err
	}
	return f.Close()
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

func writeNpy(path string, m *mat.Dense) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriter(f)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return err
	}
	rows, cols := m.Dims()
	npw.Shape = []int{rows, cols}
	out := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		out = append(out, m.RawRowView(i)...)
	}
	if err := npw.WriteFloat64(out); err != nil {
		return err
	}
	if err := bufw.Flush(); err != nil {
		return err
	}
	return f.Close()
}
