// Package config holds the run parameters of mzvalid: FDR thresholds,
// statistical options, decoy tags and score selection.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Names of the FDR estimators
const (
	EstimatorClassical     = "classical"
	EstimatorProbabilistic = "probabilistic"
)

// DefaultScores lists expectation-type scores of common search engines, in
// order of preference. No range restriction is applied.
//
//	MS:1002257 Comet:expectation value
//	MS:1001330 X!Tandem:expectation value
//	MS:1001159 SEQUEST:expectation value
//	MS:1002053 MS-GF:EValue
//	MS:1001172 Mascot:expectation value
const DefaultScores = "MS:1002257()MS:1001330()MS:1001159()MS:1002053()MS:1001172()"

var (
	ErrInvalidFDR       = errors.New("config: FDR threshold must be in (0,1]")
	ErrInvalidEstimator = errors.New("config: unknown FDR estimator")
	ErrInvalidMinDecoys = errors.New("config: min_decoys must be at least 1")
	ErrNoScores         = errors.New("config: no score terms defined")
)

// FDR holds the target false discovery rate of each level as a fraction.
type FDR struct {
	PSM     float64 `yaml:"psm"`
	Peptide float64 `yaml:"peptide"`
	Protein float64 `yaml:"protein"`
}

// Config is the complete set of run parameters.
type Config struct {
	FDR       FDR    `yaml:"fdr"`
	Estimator string `yaml:"estimator"`
	// Contexts with fewer decoys than this are pooled with other thin contexts
	MinDecoys int `yaml:"min_decoys"`
	// Use charge and spectrum file as PSM context instead of charge only
	SeparateFiles bool     `yaml:"separate_files"`
	DecoyTags     []string `yaml:"decoy_tags"`
	// Score terms in the score filter syntax, e.g. "MS:1002257(0.0:1e-2)"
	Scores string `yaml:"scores"`
	// Score terms (accession or name) for which a higher value is better
	HigherIsBetter []string `yaml:"higher_is_better"`
	// Scores are already posterior error probabilities; skip advocate calibration
	Precalibrated bool `yaml:"precalibrated"`
	Workers       int  `yaml:"workers"`
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		FDR:       FDR{PSM: 0.01, Peptide: 0.01, Protein: 0.01},
		Estimator: EstimatorClassical,
		MinDecoys: 10,
		DecoyTags: []string{"DECOY_", "REV_", "_REVERSED", "rev_"},
		Scores:    DefaultScores,
		Workers:   runtime.NumCPU(),
	}
}

// Load reads a YAML configuration file. Fields missing from the file keep
// their default value.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c Config) Validate() error {
	for _, f := range []float64{c.FDR.PSM, c.FDR.Peptide, c.FDR.Protein} {
		if f <= 0 || f > 1 {
			return fmt.Errorf("%w: %g", ErrInvalidFDR, f)
		}
	}
	switch c.Estimator {
	case EstimatorClassical, EstimatorProbabilistic:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidEstimator, c.Estimator)
	}
	if c.MinDecoys < 1 {
		return ErrInvalidMinDecoys
	}
	filt, err := ParseScoreFilter(c.Scores)
	if err != nil {
		return err
	}
	if len(filt) == 0 {
		return ErrNoScores
	}
	return nil
}

// ScoreFilter parses the Scores field and applies the HigherIsBetter list.
func (c Config) ScoreFilter() (ScoreFilter, error) {
	filt, err := ParseScoreFilter(c.Scores)
	if err != nil {
		return nil, err
	}
	for _, name := range c.HigherIsBetter {
		if r, ok := filt[strings.TrimSpace(name)]; ok {
			r.HigherIsBetter = true
			filt[strings.TrimSpace(name)] = r
		}
	}
	return filt, nil
}

// IsDecoyAccession reports whether the accession carries one of the decoy tags.
func (c Config) IsDecoyAccession(accession string) bool {
	for _, tag := range c.DecoyTags {
		if tag == "" {
			continue
		}
		if strings.HasPrefix(accession, tag) || strings.HasSuffix(accession, tag) {
			return true
		}
	}
	return false
}
