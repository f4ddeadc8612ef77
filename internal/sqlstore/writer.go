// Package sqlstore writes validated identifications to an SQLite database.
package sqlstore

import (
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/524D/mzvalid/internal/identification"
)

// Date format for RunTable (ISO 8601)
const runDateFormat = "2006-01-02 15:04:05"

// Run describes the invocation that produced the database.
type Run struct {
	Version    string
	Inputs     []string
	Parameters string // YAML encoded configuration
	Report     string
}

// Writer handles writing matches to SQLite database files
type Writer struct {
	db         *sql.DB
	outputPath string
}

// NewWriter creates a new SQLite writer
func NewWriter(outputPath string) (*Writer, error) {
	db, err := sql.Open("sqlite3", outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", outputPath, err)
	}

	w := &Writer{
		db:         db,
		outputPath: outputPath,
	}

	if err := w.createTables(); err != nil {
		db.Close()
		return nil, err
	}

	return w, nil
}

// createTables creates the required database schema
func (w *Writer) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS PsmTable (
		SpectrumKey TEXT PRIMARY KEY,
		SpectraFile TEXT,
		Title TEXT,
		Advocate TEXT,
		Sequence TEXT,
		PeptideKey TEXT,
		Charge INTEGER,
		Accessions TEXT,
		Decoy BOOL,
		CombinedScore DOUBLE,
		Context TEXT,
		PEP DOUBLE,
		Validated BOOL
	);

	CREATE TABLE IF NOT EXISTS PeptideTable (
		PeptideKey TEXT PRIMARY KEY,
		Sequence TEXT,
		ModProfile TEXT,
		Accessions TEXT,
		Decoy BOOL,
		NumSpectra INTEGER,
		Score DOUBLE,
		Context TEXT,
		PEP DOUBLE,
		Validated BOOL
	);

	CREATE TABLE IF NOT EXISTS ProteinTable (
		ProteinKey TEXT PRIMARY KEY,
		MainAccession TEXT,
		Description TEXT,
		Accessions TEXT,
		GroupClass TEXT,
		Decoy BOOL,
		NumPeptides INTEGER,
		Score DOUBLE,
		Context TEXT,
		PEP DOUBLE,
		Validated BOOL
	);

	CREATE TABLE IF NOT EXISTS RunTable (
		Version TEXT,
		CreationDate TEXT,
		Inputs TEXT,
		Parameters TEXT,
		Report TEXT
	);
	`

	_, err := w.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create tables in %s: %w", w.outputPath, err)
	}

	return nil
}

// WriteMatches writes all matches of the store with their records in one
// transaction. descriptions supplies the description of protein groups by
// main accession and may be nil.
func (w *Writer) WriteMatches(store identification.Store, descriptions map[string]string) error {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := writeMatches(tx, store, descriptions); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit matches to %s: %w", w.outputPath, err)
	}
	return nil
}

func writeMatches(tx *sql.Tx, store identification.Store, descriptions map[string]string) error {
	psmStmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO PsmTable (
			SpectrumKey, SpectraFile, Title, Advocate, Sequence, PeptideKey,
			Charge, Accessions, Decoy, CombinedScore, Context, PEP, Validated
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare psm statement: %w", err)
	}
	defer psmStmt.Close()

	for _, key := range store.SpectrumKeys() {
		m, err := store.SpectrumMatch(key)
		if err != nil {
			return err
		}
		var advocate, seq, pepKey, accs, charge, decoy, combined any
		if b := m.Best; b != nil {
			advocate, seq, pepKey = b.Advocate, b.Sequence, b.PeptideKey()
			accs, charge, decoy = strings.Join(b.Accessions, ";"), b.Charge, b.Decoy
			combined = nullFloat(m.CombinedScore)
		}
		ctx, pep, valid := recordArgs(store, identification.LevelPSM, key)
		if _, err := psmStmt.Exec(key, m.File, m.Title, advocate, seq, pepKey,
			charge, accs, decoy, combined, ctx, pep, valid); err != nil {
			return fmt.Errorf("failed to insert psm %s: %w", key, err)
		}
	}

	pepStmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO PeptideTable (
			PeptideKey, Sequence, ModProfile, Accessions, Decoy, NumSpectra,
			Score, Context, PEP, Validated
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare peptide statement: %w", err)
	}
	defer pepStmt.Close()

	for _, key := range store.PeptideKeys() {
		p, err := store.PeptideMatch(key)
		if err != nil {
			return err
		}
		score := scoreArg(store, identification.LevelPeptide, key)
		ctx, pep, valid := recordArgs(store, identification.LevelPeptide, key)
		if _, err := pepStmt.Exec(key, p.Sequence, p.ModProfile, strings.Join(p.Accessions, ";"),
			p.Decoy, len(p.SpectrumKeys), score, ctx, pep, valid); err != nil {
			return fmt.Errorf("failed to insert peptide %s: %w", key, err)
		}
	}

	protStmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO ProteinTable (
			ProteinKey, MainAccession, Description, Accessions, GroupClass, Decoy,
			NumPeptides, Score, Context, PEP, Validated
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare protein statement: %w", err)
	}
	defer protStmt.Close()

	for _, key := range store.ProteinKeys() {
		p, err := store.ProteinMatch(key)
		if err != nil {
			return err
		}
		score := scoreArg(store, identification.LevelProtein, key)
		ctx, pep, valid := recordArgs(store, identification.LevelProtein, key)
		if _, err := protStmt.Exec(key, p.MainAccession, descriptions[p.MainAccession],
			strings.Join(p.Accessions, ";"), p.Class.String(), p.Decoy, len(p.PeptideKeys),
			score, ctx, pep, valid); err != nil {
			return fmt.Errorf("failed to insert protein %s: %w", key, err)
		}
	}
	return nil
}

// recordArgs returns context, PEP and validation of a record, or NULLs when
// the match was never scored.
func recordArgs(store identification.Store, level identification.Level, key string) (any, any, any) {
	r, ok := store.Record(level, key)
	if !ok {
		return nil, nil, nil
	}
	return r.ContextKey, nullFloat(r.PEP), r.Validated
}

func scoreArg(store identification.Store, level identification.Level, key string) any {
	r, ok := store.Record(level, key)
	if !ok {
		return nil
	}
	return nullFloat(r.Score)
}

// nullFloat maps values SQLite cannot store to NULL.
func nullFloat(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// Finalize writes the run table and closes the database
func (w *Writer) Finalize(run Run) error {
	_, err := w.db.Exec(`
		INSERT INTO RunTable (Version, CreationDate, Inputs, Parameters, Report)
		VALUES (?, ?, ?, ?, ?)
	`, run.Version, time.Now().Format(runDateFormat), strings.Join(run.Inputs, "\n"), run.Parameters, run.Report)
	if err != nil {
		w.db.Close()
		return fmt.Errorf("failed to insert run into %s: %w", w.outputPath, err)
	}

	if err := w.db.Close(); err != nil {
		return fmt.Errorf("failed to close database %s: %w", w.outputPath, err)
	}

	return nil
}

// Close closes the database without writing the run table
func (w *Writer) Close() error {
	return w.db.Close()
}
