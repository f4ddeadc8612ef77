// Package consensus selects one best assumption per spectrum from the
// assumptions of all advocates.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/524D/mzvalid/internal/identification"
	"github.com/524D/mzvalid/internal/parallel"
	"github.com/524D/mzvalid/internal/progress"
	"github.com/524D/mzvalid/internal/score"
)

// ErrNoAssumptions is reported for spectra without any assumption.
var ErrNoAssumptions = errors.New("consensus: spectrum has no assumptions")

// AdvocateMap is the name of the advocate calibration map in warnings.
const AdvocateMap = "advocate"

// Options configures a Resolver.
type Options struct {
	MinDecoys int
	Workers   int
	Estimator score.Estimator
	// Raw scores of all advocates are already posterior error
	// probabilities and are used without calibration
	Precalibrated bool
}

// Result summarizes one Resolve call.
type Result struct {
	Resolved       int  // spectra with a best assumption
	Conflicts      int  // spectra with more than one equally good peptide
	Switched       int  // conflicts where dataset evidence replaced the first choice
	SingleAdvocate bool // the whole dataset comes from one advocate
	Warnings       []score.Warning
	Faults         []identification.Fault
	// Err is set when selection failed as a whole; nothing was committed
	Err       error
	Cancelled bool
}

// Resolver fuses the assumptions of several advocates.
type Resolver struct {
	store identification.Store
	opts  Options
	log   *slog.Logger
}

// New returns a Resolver working on store.
func New(store identification.Store, opts Options, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{store: store, opts: opts, log: log}
}

// selection is the outcome of the first pass for one spectrum.
type selection struct {
	best       *identification.Assumption
	score      float64
	candidates []*identification.Assumption // equally good peptides, best first
	err        error
}

// Resolve designates the best assumption of every spectrum. Nothing in the
// store changes if the run is cancelled. Running it again on unchanged
// input selects the same assumptions.
func (r *Resolver) Resolve(ctx context.Context, rep progress.Reporter) Result {
	var res Result
	keys := r.store.SpectrumKeys()
	matches := make([]*identification.SpectrumMatch, 0, len(keys))
	advocates := make(map[string]bool)
	for _, key := range keys {
		m, err := r.store.SpectrumMatch(key)
		if err != nil {
			res.Faults = append(res.Faults, identification.Fault{Level: identification.LevelPSM, Key: key, Err: err})
			continue
		}
		matches = append(matches, m)
		for _, a := range m.Advocates() {
			advocates[a] = true
		}
	}
	res.SingleAdvocate = len(advocates) <= 1

	var prob probability
	switch {
	case res.SingleAdvocate:
	case r.opts.Precalibrated:
		prob = func(a *identification.Assumption) (float64, error) { return a.RawScore, nil }
	default:
		rep.ReportText("Calibrating advocate scores")
		calibration := r.calibrate(matches)
		res.Warnings = calibration.Warnings()
		for _, w := range res.Warnings {
			r.log.Warn("advocate calibration", slog.String("warning", w.String()))
		}
		prob = func(a *identification.Assumption) (float64, error) {
			return calibration.PEP(a.Advocate, a.RawScore)
		}
	}

	rep.ReportText(fmt.Sprintf("Selecting best assumptions for %d spectra", len(matches)))
	selections := make([]selection, len(matches))
	err := parallel.Range(ctx, rep, r.opts.Workers, len(matches), func(i int) {
		selections[i] = selectBest(matches[i], prob)
	})
	if errors.Is(err, parallel.ErrCancelled) {
		res.Cancelled = true
		return res
	}
	if err != nil {
		res.Err = err
		return res
	}

	// Reduce: dataset wide count of spectra per accession
	tally := make(map[string]int)
	for i := range selections {
		if selections[i].err != nil {
			continue
		}
		for _, acc := range identification.SortedAccessions(selections[i].best.Accessions) {
			tally[acc]++
		}
	}

	for i := range selections {
		if progress.Cancelled(ctx, rep) {
			res.Cancelled = true
			return res
		}
		s := &selections[i]
		if s.err != nil || len(s.candidates) < 2 {
			continue
		}
		res.Conflicts++
		if alt := breakTie(s.candidates, tally); alt != nil && alt != s.best {
			r.log.Debug("conflict resolved by dataset evidence",
				slog.String("spectrum", matches[i].Key),
				slog.String("from", s.best.PeptideKey()),
				slog.String("to", alt.PeptideKey()))
			s.best = alt
			res.Switched++
		}
	}

	for i, m := range matches {
		s := selections[i]
		if s.err != nil {
			r.log.Warn("spectrum skipped", slog.String("spectrum", m.Key), slog.Any("error", s.err))
			res.Faults = append(res.Faults, identification.Fault{Level: identification.LevelPSM, Key: m.Key, Err: s.err})
			continue
		}
		if prob != nil {
			for _, list := range m.Assumptions {
				for _, a := range list {
					p, err := prob(a)
					if err != nil {
						r.log.Debug("advocate probability unavailable",
							slog.String("spectrum", m.Key),
							slog.String("advocate", a.Advocate),
							slog.Any("error", err))
						p = math.NaN()
					}
					a.Probability = p
				}
			}
		}
		m.Best = s.best
		m.CombinedScore = s.score
		res.Resolved++
	}
	r.log.Info("consensus done",
		slog.Int("resolved", res.Resolved),
		slog.Int("conflicts", res.Conflicts),
		slog.Int("switched", res.Switched),
		slog.Bool("single_advocate", res.SingleAdvocate))
	return res
}

// calibrate builds one histogram per advocate from its best hit per spectrum.
func (r *Resolver) calibrate(matches []*identification.SpectrumMatch) *score.ContextMap {
	cm := score.NewContextMap(AdvocateMap, r.opts.MinDecoys, r.opts.Estimator)
	for _, m := range matches {
		for _, adv := range m.Advocates() {
			top := m.Assumptions[adv][0]
			if err := cm.AddPoint(adv, top.RawScore, top.Decoy); err != nil {
				r.log.Debug("advocate score ignored", slog.String("spectrum", m.Key), slog.Any("error", err))
			}
		}
	}
	cm.Estimate()
	return cm
}

// probability maps an assumption to its advocate level probability.
type probability func(a *identification.Assumption) (float64, error)

// topSet returns the assumptions sharing the best raw score of an advocate.
func topSet(list []*identification.Assumption) []*identification.Assumption {
	n := 1
	for n < len(list) && list[n].RawScore == list[0].RawScore {
		n++
	}
	return list[:n]
}

// selectBest combines the top assumptions of all advocates of m. Without
// calibration the raw score is used, otherwise the calibrated probabilities
// of advocates agreeing on a peptide are multiplied.
func selectBest(m *identification.SpectrumMatch, prob probability) selection {
	advocates := m.Advocates()
	if len(advocates) == 0 {
		return selection{err: ErrNoAssumptions}
	}
	var order []string
	first := make(map[string]*identification.Assumption)
	combined := make(map[string]float64)
	for _, adv := range advocates {
		seen := make(map[string]bool)
		for _, a := range topSet(m.Assumptions[adv]) {
			key := a.PeptideKey()
			if seen[key] {
				continue
			}
			seen[key] = true
			s := a.RawScore
			if prob != nil {
				p, err := prob(a)
				if err != nil {
					return selection{err: fmt.Errorf("advocate %s: %w", adv, err)}
				}
				s = p
			}
			if math.IsNaN(s) {
				return selection{err: fmt.Errorf("advocate %s: %w", adv, score.ErrInvalidScore)}
			}
			if _, ok := first[key]; !ok {
				first[key] = a
				combined[key] = s
				order = append(order, key)
				continue
			}
			combined[key] *= s
		}
	}

	sel := selection{score: math.Inf(1)}
	for _, key := range order {
		if combined[key] < sel.score {
			sel.score = combined[key]
			sel.best = first[key]
		}
	}
	if sel.best == nil {
		// all combined scores are +Inf
		sel.best = first[order[0]]
		sel.score = combined[order[0]]
	}
	for _, key := range order {
		if combined[key] == sel.score {
			sel.candidates = append(sel.candidates, first[key])
		}
	}
	return sel
}

// breakTie returns the candidate whose proteins collected the most spectra
// in the dataset, or nil if that maximum is shared.
func breakTie(candidates []*identification.Assumption, tally map[string]int) *identification.Assumption {
	support := make([]int, len(candidates))
	for i, c := range candidates {
		for _, acc := range c.Accessions {
			if tally[acc] > support[i] {
				support[i] = tally[acc]
			}
		}
	}
	idx := make([]int, len(candidates))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return support[idx[a]] > support[idx[b]] })
	if len(idx) > 1 && support[idx[0]] == support[idx[1]] {
		return nil
	}
	return candidates[idx[0]]
}
