// Package propagate computes calibrated probabilities at the spectrum,
// peptide and protein level. Every stage scores its matches, accumulates
// the scores in a context map, calibrates the map and attaches the PEP of
// each match to a fresh record. A stage commits its records and map only
// when it completes.
package propagate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strconv"

	"github.com/524D/mzvalid/internal/identification"
	"github.com/524D/mzvalid/internal/parallel"
	"github.com/524D/mzvalid/internal/progress"
	"github.com/524D/mzvalid/internal/score"
)

// ErrNoEvidence is reported for matches none of whose children were scored.
var ErrNoEvidence = errors.New("propagate: no evidence")

// Context keys of the peptide and protein maps
const (
	UnmodifiedContext = "unmodified"
	ProteinContext    = "protein"
)

// Options configures a Propagator.
type Options struct {
	MinDecoys int
	Workers   int
	Estimator score.Estimator
	// Separate PSM contexts per spectrum file
	SeparateFiles bool
}

// StageResult summarizes one stage.
type StageResult struct {
	Level     identification.Level
	Scored    int
	Warnings  []score.Warning
	Faults    []identification.Fault
	// Err is set when the stage failed as a whole; nothing was committed
	Err       error
	Cancelled bool
}

// stopped records why the map phase ended early.
func (r StageResult) stopped(err error) StageResult {
	if errors.Is(err, parallel.ErrCancelled) {
		r.Cancelled = true
	} else {
		r.Err = err
	}
	return r
}

// Propagator owns the calibrated context map of each level.
type Propagator struct {
	store identification.Store
	opts  Options
	log   *slog.Logger
	maps  [3]*score.ContextMap
}

// New returns a Propagator working on store.
func New(store identification.Store, opts Options, log *slog.Logger) *Propagator {
	if log == nil {
		log = slog.Default()
	}
	return &Propagator{store: store, opts: opts, log: log}
}

// Map returns the calibrated map of level, or nil if its stage has not
// completed yet.
func (p *Propagator) Map(level identification.Level) *score.ContextMap {
	return p.maps[level]
}

// scored is the map phase output for one match.
type scored struct {
	key     string
	context string
	score   float64
	decoy   bool
	err     error
}

// run performs the score, accumulate, calibrate and attach steps of a stage
// and commits the outcome unless the stage was cancelled.
func (p *Propagator) run(ctx context.Context, rep progress.Reporter, level identification.Level,
	keys []string, scoreFn func(key string) scored, commit func()) StageResult {

	res := StageResult{Level: level}
	rep.ReportText(fmt.Sprintf("Scoring %d %s matches", len(keys), level))
	items := make([]scored, len(keys))
	err := parallel.Range(ctx, rep, p.opts.Workers, len(keys), func(i int) {
		items[i] = scoreFn(keys[i])
		items[i].key = keys[i]
	})
	if err != nil {
		return res.stopped(err)
	}

	cm := score.NewContextMap(level.String(), p.opts.MinDecoys, p.opts.Estimator)
	for i := range items {
		it := &items[i]
		if it.err == nil {
			it.err = cm.AddPoint(it.context, it.score, it.decoy)
		}
		if it.err != nil {
			res.Faults = append(res.Faults, p.fault(level, it.key, it.err))
		}
	}

	rep.ReportText(fmt.Sprintf("Calibrating %s scores", level))
	res.Warnings = cm.Estimate()
	for _, w := range res.Warnings {
		p.log.Warn("suspicious context", slog.String("warning", w.String()))
	}

	peps := make([]float64, len(items))
	lookupErrs := make([]error, len(items))
	err = parallel.Range(ctx, rep, p.opts.Workers, len(items), func(i int) {
		if items[i].err != nil {
			return
		}
		peps[i], lookupErrs[i] = cm.PEP(items[i].context, items[i].score)
	})
	if err != nil {
		return res.stopped(err)
	}

	records := make(map[string]identification.Record, len(items))
	for i, it := range items {
		if it.err != nil {
			continue
		}
		if lookupErrs[i] != nil {
			res.Faults = append(res.Faults, p.fault(level, it.key, lookupErrs[i]))
			continue
		}
		records[it.key] = identification.Record{Score: it.score, ContextKey: it.context, PEP: peps[i]}
	}
	res.Scored = len(records)

	if commit != nil {
		commit()
	}
	p.store.SetRecords(level, records)
	p.maps[level] = cm
	p.log.Info("stage scored",
		slog.String("level", level.String()),
		slog.Int("scored", res.Scored),
		slog.Int("faults", len(res.Faults)),
		slog.Int("contexts", len(cm.Keys())))
	return res
}

func (p *Propagator) fault(level identification.Level, key string, err error) identification.Fault {
	p.log.Warn("match skipped", slog.String("level", level.String()), slog.String("key", key), slog.Any("error", err))
	return identification.Fault{Level: level, Key: key, Err: err}
}

// PSMContext returns the context key of a spectrum: its charge, optionally
// combined with the spectrum file.
func (p *Propagator) PSMContext(m *identification.SpectrumMatch) (string, error) {
	charge, err := m.Charge()
	if err != nil {
		return "", err
	}
	key := strconv.Itoa(charge)
	if p.opts.SeparateFiles && m.File != "" {
		key += "|" + filepath.Base(m.File)
	}
	return key, nil
}

// ScorePSMs calibrates the combined consensus score of every spectrum.
func (p *Propagator) ScorePSMs(ctx context.Context, rep progress.Reporter) StageResult {
	return p.run(ctx, rep, identification.LevelPSM, p.store.SpectrumKeys(), func(key string) scored {
		m, err := p.store.SpectrumMatch(key)
		if err != nil {
			return scored{err: err}
		}
		c, err := p.PSMContext(m)
		if err != nil {
			return scored{err: err}
		}
		return scored{context: c, score: m.CombinedScore, decoy: m.Best.Decoy}
	}, nil)
}

// BuildPeptides groups the scored spectra by the peptide of their best
// assumption. Spectrum keys are visited in order, so the result does not
// depend on scheduling.
func BuildPeptides(store identification.Store) []*identification.PeptideMatch {
	index := make(map[string]*identification.PeptideMatch)
	var out []*identification.PeptideMatch
	for _, key := range store.SpectrumKeys() {
		if _, ok := store.Record(identification.LevelPSM, key); !ok {
			continue
		}
		m, err := store.SpectrumMatch(key)
		if err != nil || m.Best == nil {
			continue
		}
		pk := m.Best.PeptideKey()
		pm, ok := index[pk]
		if !ok {
			pm = &identification.PeptideMatch{
				Key:        pk,
				Sequence:   m.Best.Sequence,
				ModProfile: identification.ModProfile(m.Best.Modifications),
				Decoy:      m.Best.Decoy,
			}
			index[pk] = pm
			out = append(out, pm)
		}
		pm.SpectrumKeys = append(pm.SpectrumKeys, key)
		pm.Accessions = identification.SortedAccessions(append(pm.Accessions, m.Best.Accessions...))
	}
	return out
}

// ScorePeptides rebuilds the peptide matches and scores each of them by the
// product of the PEPs of its spectra.
func (p *Propagator) ScorePeptides(ctx context.Context, rep progress.Reporter) StageResult {
	peptides := BuildPeptides(p.store)
	byKey := make(map[string]*identification.PeptideMatch, len(peptides))
	keys := make([]string, len(peptides))
	for i, pm := range peptides {
		byKey[pm.Key] = pm
		keys[i] = pm.Key
	}
	return p.run(ctx, rep, identification.LevelPeptide, keys, func(key string) scored {
		pm := byKey[key]
		s, err := p.product(identification.LevelPSM, pm.SpectrumKeys)
		if err != nil {
			return scored{err: err}
		}
		c := pm.ModProfile
		if c == "" {
			c = UnmodifiedContext
		}
		return scored{context: c, score: s, decoy: pm.Decoy}
	}, func() {
		p.store.SetPeptideMatches(peptides)
	})
}

// BuildProteins groups the scored peptides by their accession set.
func BuildProteins(store identification.Store) []*identification.ProteinMatch {
	index := make(map[string]*identification.ProteinMatch)
	var out []*identification.ProteinMatch
	for _, key := range store.PeptideKeys() {
		if _, ok := store.Record(identification.LevelPeptide, key); !ok {
			continue
		}
		pm, err := store.PeptideMatch(key)
		if err != nil || len(pm.Accessions) == 0 {
			continue
		}
		gk := identification.ProteinKey(pm.Accessions)
		g, ok := index[gk]
		if !ok {
			accs := identification.SortedAccessions(pm.Accessions)
			g = &identification.ProteinMatch{
				Key:           gk,
				Accessions:    accs,
				MainAccession: accs[0],
				Class:         identification.Single,
				Decoy:         pm.Decoy,
			}
			if len(accs) > 1 {
				g.Class = identification.Unrelated
			}
			index[gk] = g
			out = append(out, g)
		}
		g.AddPeptide(key)
	}
	return out
}

// ScoreProteins rebuilds the protein groups from the peptide matches and
// scores them.
func (p *Propagator) ScoreProteins(ctx context.Context, rep progress.Reporter) StageResult {
	proteins := BuildProteins(p.store)
	byKey := make(map[string]*identification.ProteinMatch, len(proteins))
	keys := make([]string, len(proteins))
	for i, g := range proteins {
		byKey[g.Key] = g
		keys[i] = g.Key
	}
	return p.run(ctx, rep, identification.LevelProtein, keys, func(key string) scored {
		return p.scoreProtein(byKey[key])
	}, func() {
		p.store.SetProteinMatches(proteins)
	})
}

// RescoreProteins scores the protein groups currently in the store without
// rebuilding them, after their peptide membership changed.
func (p *Propagator) RescoreProteins(ctx context.Context, rep progress.Reporter) StageResult {
	return p.run(ctx, rep, identification.LevelProtein, p.store.ProteinKeys(), func(key string) scored {
		g, err := p.store.ProteinMatch(key)
		if err != nil {
			return scored{err: err}
		}
		return p.scoreProtein(g)
	}, nil)
}

func (p *Propagator) scoreProtein(g *identification.ProteinMatch) scored {
	s, err := p.product(identification.LevelPeptide, g.PeptideKeys)
	if err != nil {
		return scored{err: err}
	}
	return scored{context: ProteinContext, score: s, decoy: g.Decoy}
}

// product multiplies the PEPs of the given matches of level. Matches
// without a record are skipped; at least one must have one.
func (p *Propagator) product(level identification.Level, keys []string) (float64, error) {
	s := 1.0
	n := 0
	for _, k := range keys {
		r, ok := p.store.Record(level, k)
		if !ok || math.IsNaN(r.PEP) {
			continue
		}
		s *= r.PEP
		n++
	}
	if n == 0 {
		return math.NaN(), fmt.Errorf("%w: no scored %s evidence", ErrNoEvidence, level)
	}
	return s, nil
}
