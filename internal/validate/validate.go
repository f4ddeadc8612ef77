// Package validate flags the matches of one level whose score passes the
// FDR threshold of their context.
package validate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/524D/mzvalid/internal/identification"
	"github.com/524D/mzvalid/internal/progress"
	"github.com/524D/mzvalid/internal/score"
)

// Result summarizes the validation of one level.
type Result struct {
	Level     identification.Level
	Total     int // matches with a record
	Validated int
	// Threshold per corrected context key
	Limits    map[string]score.Limit
	Faults    []identification.Fault
	Err       error
	Cancelled bool

	updates map[string]identification.Record
}

// Keys returns the match keys of level.
func Keys(store identification.Store, level identification.Level) []string {
	switch level {
	case identification.LevelPSM:
		return store.SpectrumKeys()
	case identification.LevelPeptide:
		return store.PeptideKeys()
	}
	return store.ProteinKeys()
}

// Validate sets the validated flag of every record of level to whether its
// score is at or below the threshold reaching fdr in its context. Records
// are only updated if the call is not cancelled. Levels are independent: a
// protein may fail while all its peptides pass.
func Validate(ctx context.Context, rep progress.Reporter, store identification.Store,
	level identification.Level, cm *score.ContextMap, fdr float64, log *slog.Logger) Result {

	res := Evaluate(ctx, rep, store, level, cm, fdr, log)
	if !res.Cancelled {
		res.Apply(store)
	}
	return res
}

// Apply writes the evaluated flags to store.
func (r Result) Apply(store identification.Store) {
	for key, rec := range r.updates {
		store.UpdateRecord(r.Level, key, rec)
	}
}

// Evaluate decides the validated flags like Validate without writing them.
func Evaluate(ctx context.Context, rep progress.Reporter, store identification.Store,
	level identification.Level, cm *score.ContextMap, fdr float64, log *slog.Logger) Result {

	if log == nil {
		log = slog.Default()
	}
	res := Result{Level: level, Limits: make(map[string]score.Limit)}
	if cm == nil {
		res.Err = fmt.Errorf("validate %s: %w", level, score.ErrNotEstimated)
		return res
	}
	rep.ReportText(fmt.Sprintf("Validating %s matches at %.2f%% FDR", level, fdr*100))

	updates := make(map[string]identification.Record)
	for _, key := range Keys(store, level) {
		if progress.Cancelled(ctx, rep) {
			res.Cancelled = true
			return res
		}
		rep.IncrementProgress()
		rec, ok := store.Record(level, key)
		if !ok {
			continue
		}
		res.Total++
		limit, err := threshold(cm, res.Limits, rec.ContextKey, fdr)
		if err != nil {
			log.Warn("match not validated", slog.String("level", level.String()), slog.String("key", key), slog.Any("error", err))
			res.Faults = append(res.Faults, identification.Fault{Level: level, Key: key, Err: err})
		}
		rec.Validated = err == nil && limit.Admits(rec.Score)
		if rec.Validated {
			res.Validated++
		}
		updates[key] = rec
	}

	res.updates = updates
	log.Info("level evaluated",
		slog.String("level", level.String()),
		slog.Int("validated", res.Validated),
		slog.Int("total", res.Total))
	return res
}

func threshold(cm *score.ContextMap, cache map[string]score.Limit, key string, fdr float64) (score.Limit, error) {
	corrected, err := cm.CorrectedKey(key)
	if err != nil {
		return score.Limit{}, err
	}
	if l, ok := cache[corrected]; ok {
		return l, nil
	}
	l, err := cm.ScoreLimit(key, fdr)
	if err != nil {
		return l, err
	}
	cache[corrected] = l
	return l, nil
}
