package propagate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/524D/mzvalid/internal/identification"
	"github.com/524D/mzvalid/internal/progress"
	"github.com/524D/mzvalid/internal/score"
)

// dataset returns n resolved spectra. Spectrum i identifies peptide i/2,
// peptide j belongs to protein j/3 and every fifth protein is a decoy.
func dataset(n int) *identification.MemStore {
	store := identification.NewMemStore()
	for i := 0; i < n; i++ {
		pep := i / 2
		decoy := (pep/3)%5 == 4
		acc := fmt.Sprintf("P%02d", pep/3)
		if decoy {
			acc = "DECOY_" + acc
		}
		a := &identification.Assumption{
			Advocate:   "comet",
			Sequence:   fmt.Sprintf("PEPTIDE%02dK", pep),
			Charge:     2 + i%2,
			Accessions: []string{acc},
			Decoy:      decoy,
			RawScore:   float64(i+1) / 1000,
		}
		if pep%4 == 1 {
			a.Modifications = []identification.Modification{{Name: "Oxidation", Position: 3}}
		}
		store.AddSpectrumMatch(&identification.SpectrumMatch{
			Key:           fmt.Sprintf("s%03d", i),
			File:          "/data/run1.mgf",
			Assumptions:   map[string][]*identification.Assumption{"comet": {a}},
			Best:          a,
			CombinedScore: a.RawScore,
		})
	}
	return store
}

func runAll(t *testing.T, p *Propagator) {
	t.Helper()
	ctx := context.Background()
	for _, stage := range []func(context.Context, progress.Reporter) StageResult{
		p.ScorePSMs, p.ScorePeptides, p.ScoreProteins,
	} {
		res := stage(ctx, progress.Discard)
		require.False(t, res.Cancelled)
		require.Empty(t, res.Faults)
	}
}

func TestPropagateThreeLevels(t *testing.T) {
	store := dataset(120)
	p := New(store, Options{MinDecoys: 2, Workers: 4}, nil)
	runAll(t, p)

	require.Len(t, store.SpectrumKeys(), 120)
	for _, k := range store.SpectrumKeys() {
		r, ok := store.Record(identification.LevelPSM, k)
		require.True(t, ok, k)
		require.Contains(t, []string{"2", "3"}, r.ContextKey)
		require.GreaterOrEqual(t, r.PEP, 0.0)
		require.LessOrEqual(t, r.PEP, 1.0)
	}

	require.Len(t, store.PeptideKeys(), 60)
	for _, k := range store.PeptideKeys() {
		pm, err := store.PeptideMatch(k)
		require.NoError(t, err)
		require.Len(t, pm.SpectrumKeys, 2)
		want := 1.0
		for _, sk := range pm.SpectrumKeys {
			r, _ := store.Record(identification.LevelPSM, sk)
			want *= r.PEP
		}
		r, ok := store.Record(identification.LevelPeptide, k)
		require.True(t, ok)
		require.InDelta(t, want, r.Score, 1e-15)
		if pm.ModProfile == "" {
			require.Equal(t, UnmodifiedContext, r.ContextKey)
		} else {
			require.Equal(t, "Oxidation", r.ContextKey)
		}
	}

	require.Len(t, store.ProteinKeys(), 20)
	for _, k := range store.ProteinKeys() {
		g, err := store.ProteinMatch(k)
		require.NoError(t, err)
		require.Len(t, g.PeptideKeys, 3)
		require.Equal(t, identification.Single, g.Class)
		require.Equal(t, g.Accessions[0], g.MainAccession)
		want := 1.0
		for _, pk := range g.PeptideKeys {
			r, _ := store.Record(identification.LevelPeptide, pk)
			want *= r.PEP
		}
		r, ok := store.Record(identification.LevelProtein, k)
		require.True(t, ok)
		require.InDelta(t, want, r.Score, 1e-15)
		require.Equal(t, ProteinContext, r.ContextKey)
	}
	for _, l := range []identification.Level{identification.LevelPSM, identification.LevelPeptide, identification.LevelProtein} {
		require.NotNil(t, p.Map(l), l.String())
	}
}

func TestSeparateFilesContext(t *testing.T) {
	store := dataset(40)
	p := New(store, Options{MinDecoys: 1, Workers: 2, SeparateFiles: true}, nil)
	res := p.ScorePSMs(context.Background(), progress.Discard)
	require.Empty(t, res.Faults)
	r, ok := store.Record(identification.LevelPSM, "s000")
	require.True(t, ok)
	require.Equal(t, "2|run1.mgf", r.ContextKey)
}

func TestUnresolvedSpectrumIsSkipped(t *testing.T) {
	store := dataset(40)
	store.AddSpectrumMatch(&identification.SpectrumMatch{Key: "s999"})
	p := New(store, Options{MinDecoys: 2, Workers: 2}, nil)
	res := p.ScorePSMs(context.Background(), progress.Discard)
	require.Len(t, res.Faults, 1)
	require.Equal(t, "s999", res.Faults[0].Key)
	require.ErrorIs(t, res.Faults[0], identification.ErrNoBestAssumption)
	require.Equal(t, 40, res.Scored)
	_, ok := store.Record(identification.LevelPSM, "s999")
	require.False(t, ok)

	res = p.ScorePeptides(context.Background(), progress.Discard)
	require.Empty(t, res.Faults)
	require.Len(t, store.PeptideKeys(), 20)
}

type cancelled struct{}

func (cancelled) ReportText(string)  {}
func (cancelled) IsCancelled() bool  { return true }
func (cancelled) IncrementProgress() {}

func TestCancelledStageKeepsPreviousState(t *testing.T) {
	store := dataset(40)
	p := New(store, Options{MinDecoys: 2, Workers: 2}, nil)
	require.Empty(t, p.ScorePSMs(context.Background(), progress.Discard).Faults)

	res := p.ScorePeptides(context.Background(), cancelled{})
	require.True(t, res.Cancelled)
	require.Empty(t, store.PeptideKeys())
	require.Nil(t, p.Map(identification.LevelPeptide))
	_, ok := store.Record(identification.LevelPSM, "s000")
	require.True(t, ok)
}

func TestNoDecoysIsReported(t *testing.T) {
	store := identification.NewMemStore()
	for i := 0; i < 5; i++ {
		a := &identification.Assumption{Sequence: "KR", Charge: 2, Accessions: []string{"P1"}, RawScore: float64(i)}
		store.AddSpectrumMatch(&identification.SpectrumMatch{Key: fmt.Sprint(i), Best: a, CombinedScore: a.RawScore})
	}
	p := New(store, Options{MinDecoys: 1, Workers: 1}, nil)
	res := p.ScorePSMs(context.Background(), progress.Discard)
	require.Equal(t, 0, res.Scored)
	require.Len(t, res.Faults, 5)
	require.ErrorIs(t, res.Faults[0], score.ErrNoDecoys)

	var kinds []score.WarningKind
	for _, w := range res.Warnings {
		kinds = append(kinds, w.Kind)
	}
	require.Contains(t, kinds, score.NoDecoys)
}

func TestRescoreProteinsUsesCurrentMembership(t *testing.T) {
	store := dataset(120)
	p := New(store, Options{MinDecoys: 2, Workers: 4}, nil)
	runAll(t, p)

	keys := store.ProteinKeys()
	g, err := store.ProteinMatch(keys[0])
	require.NoError(t, err)
	other, err := store.ProteinMatch(keys[1])
	require.NoError(t, err)
	for _, pk := range other.PeptideKeys {
		g.AddPeptide(pk)
	}

	res := p.RescoreProteins(context.Background(), progress.Discard)
	require.Empty(t, res.Faults)
	require.Len(t, store.ProteinKeys(), 20)
	r, ok := store.Record(identification.LevelProtein, g.Key)
	require.True(t, ok)
	want := 1.0
	for _, pk := range g.PeptideKeys {
		pr, _ := store.Record(identification.LevelPeptide, pk)
		want *= pr.PEP
	}
	require.InDelta(t, want, r.Score, 1e-15)
	require.False(t, math.IsNaN(r.PEP))
}

func TestProductWithoutEvidence(t *testing.T) {
	p := New(identification.NewMemStore(), Options{}, nil)
	_, err := p.product(identification.LevelPSM, []string{"missing"})
	require.True(t, errors.Is(err, ErrNoEvidence))
}
