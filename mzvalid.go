// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/524D/mzvalid/internal/config"
	"github.com/524D/mzvalid/internal/fasta"
	"github.com/524D/mzvalid/internal/identification"
	"github.com/524D/mzvalid/internal/importer"
	"github.com/524D/mzvalid/internal/logging"
	"github.com/524D/mzvalid/internal/pipeline"
	"github.com/524D/mzvalid/internal/progress"
	"github.com/524D/mzvalid/internal/sqlstore"
)

// Program name and version, stored in the run table of the output database
const progName = "mzValid"

var progVersion = `Unknown`

var (
	ErrNoIdentifications = errors.New("no identifications passed the score filter")
	ErrCancelled         = errors.New("run cancelled")
)

// Command line parameters
type params struct {
	configFile     string
	outFilename    string
	fastaFilename  string
	fdr            float64
	psmFDR         float64
	peptideFDR     float64
	proteinFDR     float64
	estimator      string
	minDecoys      int
	separateFiles  bool
	precalibrated  bool
	scoreFilter    string
	higherIsBetter []string
	decoyTags      []string
	workers        int
	logFormat      string
	verbose        bool
	quiet          bool
}

func (p *params) verbosity() int {
	switch {
	case p.quiet:
		return logging.InfoSilent
	case p.verbose:
		return logging.InfoVerbose
	}
	return logging.InfoDefault
}

// buildConfig starts from the defaults or the config file and applies the
// flags that were set explicitly.
func (p *params) buildConfig(flags *pflag.FlagSet) (config.Config, error) {
	cfg := config.Default()
	if p.configFile != "" {
		var err error
		if cfg, err = config.Load(p.configFile); err != nil {
			return cfg, err
		}
	}
	if flags.Changed("fdr") {
		cfg.FDR = config.FDR{PSM: p.fdr, Peptide: p.fdr, Protein: p.fdr}
	}
	if flags.Changed("psm-fdr") {
		cfg.FDR.PSM = p.psmFDR
	}
	if flags.Changed("peptide-fdr") {
		cfg.FDR.Peptide = p.peptideFDR
	}
	if flags.Changed("protein-fdr") {
		cfg.FDR.Protein = p.proteinFDR
	}
	if flags.Changed("estimator") {
		cfg.Estimator = p.estimator
	}
	if flags.Changed("min-decoys") {
		cfg.MinDecoys = p.minDecoys
	}
	if flags.Changed("separate-files") {
		cfg.SeparateFiles = p.separateFiles
	}
	if flags.Changed("precalibrated") {
		cfg.Precalibrated = p.precalibrated
	}
	if flags.Changed("scorefilter") {
		cfg.Scores = p.scoreFilter
	}
	if flags.Changed("higher-is-better") {
		cfg.HigherIsBetter = p.higherIsBetter
	}
	if flags.Changed("decoy-tags") {
		cfg.DecoyTags = p.decoyTags
	}
	if flags.Changed("workers") {
		cfg.Workers = p.workers
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return cfg, cfg.Validate()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mzvalid",
		Short: "mzValid - target/decoy validation of peptide identifications",
		Long: `mzValid combines the peptide identifications of one or more search engines,
estimates posterior error probabilities from target/decoy statistics at the
PSM, peptide and protein level, resolves protein groups and validates all
matches at a chosen false discovery rate.`,
		Version:       progVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(progName + " version {{.Version}}\n")
	root.AddCommand(newValidateCmd())
	return root
}

func newValidateCmd() *cobra.Command {
	var par params
	cmd := &cobra.Command{
		Use:   "validate [flags] <mzIdentMLfile>...",
		Short: "Validate identifications in mzIdentML files",
		Long: `Validate identifications in one or more mzIdentML files. Files produced by
different search engines for the same spectra are combined: spectra are
matched by spectrum file and title.

The result is written to an SQLite database with one table per level and a
run table holding the parameters and the diagnostic report.

Examples:
  # Validate Comet results at 1% FDR (default)
  mzvalid validate yeast.mzid

  # Combine two search engines, 5% FDR, protein descriptions from FASTA
  mzvalid validate --fdr 0.05 --fasta yeast.fasta yeast-comet.mzid yeast-msgf.mzid

  # Accept only Comet expectation values below 0.1
  mzvalid validate --scorefilter 'MS:1002257(:0.1)' yeast.mzid`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, &par, args)
		},
	}

	def := config.Default()
	f := cmd.Flags()
	f.StringVar(&par.configFile, "config", "", "YAML configuration `file`; flags override its values")
	f.StringVarP(&par.outFilename, "out", "o", "", "output database `filename` (default <first input>-validated.db)")
	f.StringVar(&par.fastaFilename, "fasta", "", "FASTA `file` with protein descriptions, used to classify protein groups")
	f.Float64Var(&par.fdr, "fdr", def.FDR.PSM, "FDR threshold (fraction) for all levels")
	f.Float64Var(&par.psmFDR, "psm-fdr", def.FDR.PSM, "FDR threshold (fraction) for PSMs")
	f.Float64Var(&par.peptideFDR, "peptide-fdr", def.FDR.Peptide, "FDR threshold (fraction) for peptides")
	f.Float64Var(&par.proteinFDR, "protein-fdr", def.FDR.Protein, "FDR threshold (fraction) for proteins")
	f.StringVar(&par.estimator, "estimator", def.Estimator, "FDR estimator: classical or probabilistic")
	f.IntVar(&par.minDecoys, "min-decoys", def.MinDecoys, "contexts with fewer decoys are pooled")
	f.BoolVar(&par.separateFiles, "separate-files", false, "use charge and spectrum file as PSM context")
	f.BoolVar(&par.precalibrated, "precalibrated", false, "scores are posterior error probabilities already")
	f.StringVar(&par.scoreFilter, "scorefilter", def.Scores,
		`filter for PSM scores to accept. Format:
<CVterm1|scorename1>([<minscore1>]:[<maxscore1>])...
When multiple score names/CV terms are specified, the first one on the list
that matches a score in the input file will be used.`)
	f.StringSliceVar(&par.higherIsBetter, "higher-is-better", nil, "score terms for which a higher value is better")
	f.StringSliceVar(&par.decoyTags, "decoy-tags", def.DecoyTags, "accession prefixes or suffixes marking decoys")
	f.IntVar(&par.workers, "workers", def.Workers, "number of worker goroutines")
	f.StringVar(&par.logFormat, "log-format", "text", "log format: text or json")
	f.BoolVar(&par.verbose, "verbose", false, "print more verbose progress information")
	f.BoolVar(&par.quiet, "quiet", false, "don't print any output except for errors")
	return cmd
}

func runValidate(cmd *cobra.Command, par *params, args []string) error {
	if err := logging.Init(par.verbosity(), par.logFormat, cmd.ErrOrStderr()); err != nil {
		return err
	}
	log := logging.New("mzvalid")

	cfg, err := par.buildConfig(cmd.Flags())
	if err != nil {
		return err
	}
	if par.outFilename == "" {
		first := args[0]
		par.outFilename = strings.TrimSuffix(first, filepath.Ext(first)) + "-validated.db"
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	im, err := importer.New(cfg, logging.New("importer"))
	if err != nil {
		return err
	}
	if err := im.ReadFiles(ctx, args, cfg.Workers); err != nil {
		return err
	}
	store := identification.NewMemStore()
	if stats := im.Finish(store); stats.Accepted == 0 {
		return ErrNoIdentifications
	}
	descriptions := im.Descriptions()
	if par.fastaFilename != "" {
		fromFasta, err := fasta.ReadDescriptions(par.fastaFilename)
		if err != nil {
			return err
		}
		for acc, desc := range fromFasta {
			descriptions[acc] = desc
		}
	}

	orch := pipeline.New(store, cfg, descriptions)
	res := orch.Run(ctx, progress.NewLogger(logging.New("progress")))
	report := orch.Report(res)
	if !par.quiet {
		fmt.Fprint(cmd.OutOrStdout(), report)
	}

	if err := writeDB(par.outFilename, store, descriptions, cfg, args, report); err != nil {
		return err
	}
	log.Info("results written", "file", par.outFilename)
	if res.Cancelled {
		return ErrCancelled
	}
	return nil
}

func writeDB(path string, store identification.Store, descriptions map[string]string,
	cfg config.Config, inputs []string, report string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	parameters, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	w, err := sqlstore.NewWriter(path)
	if err != nil {
		return err
	}
	if err := w.WriteMatches(store, descriptions); err != nil {
		w.Close()
		return err
	}
	return w.Finalize(sqlstore.Run{
		Version:    progVersion,
		Inputs:     inputs,
		Parameters: string(parameters),
		Report:     report,
	})
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
