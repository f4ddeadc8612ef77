// Package pipeline runs consensus, probability propagation, protein group
// resolution and validation in dependency order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/524D/mzvalid/internal/config"
	"github.com/524D/mzvalid/internal/consensus"
	"github.com/524D/mzvalid/internal/identification"
	"github.com/524D/mzvalid/internal/logging"
	"github.com/524D/mzvalid/internal/progress"
	"github.com/524D/mzvalid/internal/propagate"
	"github.com/524D/mzvalid/internal/proteingroup"
	"github.com/524D/mzvalid/internal/score"
	"github.com/524D/mzvalid/internal/validate"
)

// ErrStageFailed wraps an unexpected failure inside a stage.
var ErrStageFailed = errors.New("pipeline: stage failed")

// Stage is one step of the pipeline.
type Stage int

const (
	Consensus Stage = iota
	PSMScore
	PeptideScore
	ProteinScore
	ProteinGroupResolve
	ProteinRescore
	Validate
	numStages
)

var stageNames = [numStages]string{
	"consensus",
	"psm-score",
	"peptide-score",
	"protein-score",
	"protein-group-resolve",
	"protein-rescore",
	"validate",
}

func (s Stage) String() string {
	if s >= 0 && s < numStages {
		return stageNames[s]
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// StageReport is the outcome of one executed stage.
type StageReport struct {
	Stage     Stage
	Warnings  []score.Warning
	Faults    []identification.Fault
	Err       error
	Cancelled bool
	Duration  time.Duration
}

// Result is the outcome of a run. Faults are collected per stage instead of
// aborting the run.
type Result struct {
	From       Stage
	Stages     []StageReport
	Cancelled  bool
	Consensus  *consensus.Result
	Groups     *proteingroup.Result
	Validation []validate.Result
}

// LastCompleted returns the last stage that ran to completion, or -1.
func (r Result) LastCompleted() Stage {
	last := Stage(-1)
	for _, s := range r.Stages {
		if s.Cancelled {
			break
		}
		last = s.Stage
	}
	return last
}

// Faults returns the recoverable faults of all stages.
func (r Result) Faults() []identification.Fault {
	var out []identification.Fault
	for _, s := range r.Stages {
		out = append(out, s.Faults...)
	}
	return out
}

// Orchestrator sequences the stages over one identification store. It is
// not safe for concurrent use.
type Orchestrator struct {
	store        identification.Store
	cfg          config.Config
	descriptions map[string]string
	log          *slog.Logger

	consensus  *consensus.Resolver
	propagator *propagate.Propagator
	groups     *proteingroup.Resolver
}

// New returns an Orchestrator. descriptions maps protein accessions to
// their description and may be nil.
func New(store identification.Store, cfg config.Config, descriptions map[string]string) *Orchestrator {
	est := Estimator(cfg.Estimator)
	o := &Orchestrator{
		store:        store,
		cfg:          cfg,
		descriptions: descriptions,
		log:          logging.New("pipeline"),
	}
	o.consensus = consensus.New(store, consensus.Options{
		MinDecoys:     cfg.MinDecoys,
		Workers:       cfg.Workers,
		Estimator:     est,
		Precalibrated: cfg.Precalibrated,
	}, logging.New("consensus"))
	o.propagator = propagate.New(store, propagate.Options{
		MinDecoys:     cfg.MinDecoys,
		Workers:       cfg.Workers,
		Estimator:     est,
		SeparateFiles: cfg.SeparateFiles,
	}, logging.New("propagate"))
	o.groups = proteingroup.New(store, descriptions, logging.New("proteingroup"))
	return o
}

// Estimator maps a configured estimator name to its score.Estimator.
func Estimator(name string) score.Estimator {
	if name == config.EstimatorProbabilistic {
		return score.Probabilistic
	}
	return score.Classical
}

// SetFDR changes the validation thresholds. Call ProteinChanged or a wider
// re-entry point to apply them.
func (o *Orchestrator) SetFDR(fdr config.FDR) {
	o.cfg.FDR = fdr
}

// Map returns the calibrated context map of level, or nil.
func (o *Orchestrator) Map(level identification.Level) *score.ContextMap {
	return o.propagator.Map(level)
}

// Run executes the whole pipeline.
func (o *Orchestrator) Run(ctx context.Context, rep progress.Reporter) Result {
	return o.RunFrom(ctx, rep, Consensus)
}

// PSMChanged re-runs everything downstream of the PSM level.
func (o *Orchestrator) PSMChanged(ctx context.Context, rep progress.Reporter) Result {
	return o.RunFrom(ctx, rep, PeptideScore)
}

// PeptideChanged re-runs everything downstream of the peptide level.
func (o *Orchestrator) PeptideChanged(ctx context.Context, rep progress.Reporter) Result {
	return o.RunFrom(ctx, rep, ProteinScore)
}

// ProteinChanged re-runs validation only.
func (o *Orchestrator) ProteinChanged(ctx context.Context, rep progress.Reporter) Result {
	return o.RunFrom(ctx, rep, Validate)
}

// RunFrom executes from stage to the end. Results of earlier stages are
// reused. A stage that fails is reported and the next stage still runs on
// whatever the failed stage left behind. On cancellation no further stage
// starts and the store holds the state of the last completed stage.
func (o *Orchestrator) RunFrom(ctx context.Context, rep progress.Reporter, from Stage) Result {
	res := Result{From: from}
	for s := from; s < numStages; s++ {
		if progress.Cancelled(ctx, rep) {
			res.Cancelled = true
			break
		}
		rep.ReportText(fmt.Sprintf("Stage %s", s))
		start := time.Now()
		sr := o.runStage(ctx, rep, s, &res)
		sr.Stage = s
		sr.Duration = time.Since(start)
		res.Stages = append(res.Stages, sr)

		if sr.Err != nil {
			o.log.Error("stage failed, continuing", slog.String("stage", s.String()), slog.Any("error", sr.Err))
		}
		if sr.Cancelled {
			o.log.Info("run cancelled", slog.String("stage", s.String()))
			res.Cancelled = true
			break
		}
		o.log.Debug("stage done",
			slog.String("stage", s.String()),
			slog.Int("faults", len(sr.Faults)),
			slog.Duration("duration", sr.Duration))
	}
	return res
}

// runStage executes one stage. A panic inside the stage is turned into a
// stage error so that later stages still run.
func (o *Orchestrator) runStage(ctx context.Context, rep progress.Reporter, s Stage, res *Result) (sr StageReport) {
	defer func() {
		if r := recover(); r != nil {
			sr = StageReport{Err: fmt.Errorf("%w: %s: %v", ErrStageFailed, s, r)}
		}
	}()

	switch s {
	case Consensus:
		cr := o.consensus.Resolve(ctx, rep)
		res.Consensus = &cr
		return StageReport{Warnings: cr.Warnings, Faults: cr.Faults, Err: stageErr(s, cr.Err), Cancelled: cr.Cancelled}
	case PSMScore:
		return fromPropagation(s, o.propagator.ScorePSMs(ctx, rep))
	case PeptideScore:
		return fromPropagation(s, o.propagator.ScorePeptides(ctx, rep))
	case ProteinScore:
		return fromPropagation(s, o.propagator.ScoreProteins(ctx, rep))
	case ProteinGroupResolve:
		gr := o.groups.Resolve(ctx, rep, o.propagator.Map(identification.LevelProtein))
		res.Groups = &gr
		return StageReport{Faults: gr.Faults, Cancelled: gr.Cancelled}
	case ProteinRescore:
		return fromPropagation(s, o.propagator.RescoreProteins(ctx, rep))
	case Validate:
		return o.validate(ctx, rep, res)
	}
	return StageReport{Err: fmt.Errorf("%w: unknown stage %d", ErrStageFailed, int(s))}
}

func fromPropagation(s Stage, pr propagate.StageResult) StageReport {
	return StageReport{Warnings: pr.Warnings, Faults: pr.Faults, Err: stageErr(s, pr.Err), Cancelled: pr.Cancelled}
}

// stageErr marks an error that ended a stage early, such as a failure in one
// of its workers.
func stageErr(s Stage, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStageFailed, s, err)
}

// validate applies the FDR threshold of each level with that level's map.
// Flags are written only once all levels are evaluated.
func (o *Orchestrator) validate(ctx context.Context, rep progress.Reporter, res *Result) StageReport {
	var sr StageReport
	var errs []error
	thresholds := [...]float64{o.cfg.FDR.PSM, o.cfg.FDR.Peptide, o.cfg.FDR.Protein}
	log := logging.New("validate")
	var evaluated []validate.Result
	for _, level := range []identification.Level{identification.LevelPSM, identification.LevelPeptide, identification.LevelProtein} {
		vr := validate.Evaluate(ctx, rep, o.store, level, o.propagator.Map(level), thresholds[level], log)
		if vr.Cancelled {
			sr.Cancelled = true
			return sr
		}
		evaluated = append(evaluated, vr)
		sr.Faults = append(sr.Faults, vr.Faults...)
		if vr.Err != nil {
			errs = append(errs, vr.Err)
		}
	}
	for _, vr := range evaluated {
		vr.Apply(o.store)
	}
	res.Validation = evaluated
	sr.Err = errors.Join(errs...)
	return sr
}
