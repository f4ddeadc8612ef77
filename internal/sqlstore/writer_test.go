package sqlstore

import (
	"database/sql"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/524D/mzvalid/internal/identification"
)

func testStore() *identification.MemStore {
	s := identification.NewMemStore()
	best := &identification.Assumption{
		Advocate:   "Comet",
		Sequence:   "PEPTIDEK",
		Charge:     2,
		Accessions: []string{"P1", "P2"},
		RawScore:   1e-4,
	}
	s.AddSpectrumMatch(&identification.SpectrumMatch{
		Key:           "run1|run1.10.10.2",
		File:          "run1",
		Title:         "run1.10.10.2",
		Assumptions:   map[string][]*identification.Assumption{"Comet": {best}},
		Best:          best,
		CombinedScore: 1e-4,
	})
	s.AddSpectrumMatch(&identification.SpectrumMatch{
		Key:         "run1|run1.11.11.2",
		File:        "run1",
		Assumptions: map[string][]*identification.Assumption{},
	})
	s.SetPeptideMatches([]*identification.PeptideMatch{{
		Key:          "PEPTIDEK",
		Sequence:     "PEPTIDEK",
		SpectrumKeys: []string{"run1|run1.10.10.2"},
		Accessions:   []string{"P1", "P2"},
	}})
	s.SetProteinMatches([]*identification.ProteinMatch{{
		Key:           "P1;P2",
		Accessions:    []string{"P1", "P2"},
		PeptideKeys:   []string{"PEPTIDEK"},
		MainAccession: "P1",
		Class:         identification.Isoforms,
	}})
	s.SetRecords(identification.LevelPSM, map[string]identification.Record{
		"run1|run1.10.10.2": {Score: 1e-4, ContextKey: "2", PEP: 0.001, Validated: true},
	})
	s.SetRecords(identification.LevelPeptide, map[string]identification.Record{
		"PEPTIDEK": {Score: 0.001, ContextKey: "unmodified", PEP: math.NaN()},
	})
	return s
}

func TestWriteMatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.db")
	w, err := NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteMatches(testStore(), map[string]string{"P1": "Actin"}))
	require.NoError(t, w.Finalize(Run{Version: "1.0.0", Inputs: []string{"a.mzid", "b.mzid"}, Report: "ok"}))

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM PsmTable`).Scan(&n))
	require.Equal(t, 2, n)

	var seq sql.NullString
	var pep sql.NullFloat64
	var valid sql.NullBool
	require.NoError(t, db.QueryRow(`SELECT Sequence, PEP, Validated FROM PsmTable WHERE SpectrumKey = ?`,
		"run1|run1.10.10.2").Scan(&seq, &pep, &valid))
	require.Equal(t, "PEPTIDEK", seq.String)
	require.InDelta(t, 0.001, pep.Float64, 1e-12)
	require.True(t, valid.Bool)

	require.NoError(t, db.QueryRow(`SELECT Sequence, PEP, Validated FROM PsmTable WHERE SpectrumKey = ?`,
		"run1|run1.11.11.2").Scan(&seq, &pep, &valid))
	require.False(t, seq.Valid)
	require.False(t, pep.Valid)

	var ctx string
	require.NoError(t, db.QueryRow(`SELECT Context, PEP FROM PeptideTable WHERE PeptideKey = ?`, "PEPTIDEK").Scan(&ctx, &pep))
	require.Equal(t, "unmodified", ctx)
	require.False(t, pep.Valid)

	var desc, class string
	var score sql.NullFloat64
	require.NoError(t, db.QueryRow(`SELECT Description, GroupClass, Score FROM ProteinTable WHERE ProteinKey = ?`, "P1;P2").
		Scan(&desc, &class, &score))
	require.Equal(t, "Actin", desc)
	require.Equal(t, "isoforms", class)
	require.False(t, score.Valid)

	var inputs, report string
	require.NoError(t, db.QueryRow(`SELECT Inputs, Report FROM RunTable`).Scan(&inputs, &report))
	require.Equal(t, "a.mzid\nb.mzid", inputs)
	require.Equal(t, "ok", report)
}

func TestNewWriterBadPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "out.db")
	_, err := NewWriter(path)
	require.ErrorContains(t, err, "failed to create tables in "+path)
}
