package pipeline

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/524D/mzvalid/internal/identification"
	"github.com/524D/mzvalid/internal/score"
	"github.com/524D/mzvalid/internal/validate"
)

// LevelSummary describes the validated matches of one level.
type LevelSummary struct {
	Level     identification.Level
	Total     int
	Validated int
	Decoys    int     // validated decoys
	MeanPEP   float64 // over validated targets
	// Sum of the PEPs of the validated targets
	ExpectedFalse float64
}

// Summarize computes the validated counts of level from the store.
func Summarize(store identification.Store, level identification.Level) LevelSummary {
	sum := LevelSummary{Level: level}
	var peps []float64
	for _, key := range validate.Keys(store, level) {
		rec, ok := store.Record(level, key)
		if !ok {
			continue
		}
		sum.Total++
		if !rec.Validated {
			continue
		}
		sum.Validated++
		if isDecoy(store, level, key) {
			sum.Decoys++
			continue
		}
		peps = append(peps, rec.PEP)
	}
	if len(peps) > 0 {
		sum.MeanPEP = stat.Mean(peps, nil)
		sum.ExpectedFalse = floats.Sum(peps)
	}
	return sum
}

func isDecoy(store identification.Store, level identification.Level, key string) bool {
	switch level {
	case identification.LevelPSM:
		if m, err := store.SpectrumMatch(key); err == nil && m.Best != nil {
			return m.Best.Decoy
		}
	case identification.LevelPeptide:
		if m, err := store.PeptideMatch(key); err == nil {
			return m.Decoy
		}
	case identification.LevelProtein:
		if m, err := store.ProteinMatch(key); err == nil {
			return m.Decoy
		}
	}
	return false
}

// Report renders the diagnostic summary of a run: suspicious contexts,
// protein group conflicts, validated matches and faults per stage.
func (o *Orchestrator) Report(res Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run from stage %s", res.From)
	switch last := res.LastCompleted(); {
	case !res.Cancelled:
	case last < 0:
		b.WriteString(" (cancelled before any stage completed)")
	default:
		fmt.Fprintf(&b, " (cancelled after %s)", last)
	}
	b.WriteString("\n")

	var warnings []score.Warning
	for _, s := range res.Stages {
		warnings = append(warnings, s.Warnings...)
	}
	fmt.Fprintf(&b, "Suspicious contexts: %d\n", len(warnings))
	for _, w := range warnings {
		fmt.Fprintf(&b, "  %s\n", w)
	}

	if c := res.Consensus; c != nil {
		fmt.Fprintf(&b, "Consensus: %d spectra resolved, %d conflicts, %d switched by dataset evidence",
			c.Resolved, c.Conflicts, c.Switched)
		if c.SingleAdvocate {
			b.WriteString(" (single advocate)")
		}
		b.WriteString("\n")
	}

	if g := res.Groups; g != nil {
		fmt.Fprintf(&b, "Protein groups: %d resolved, %d unresolved (%d removed, %d isoforms, %d isoforms with unrelated members, %d unrelated)\n",
			g.Resolved(), g.Unresolved(), len(g.Removed),
			g.Classes[identification.Isoforms],
			g.Classes[identification.IsoformsUnrelated],
			g.Classes[identification.Unrelated])
	}

	if len(res.Validation) > 0 {
		thresholds := [...]float64{o.cfg.FDR.PSM, o.cfg.FDR.Peptide, o.cfg.FDR.Protein}
		for _, v := range res.Validation {
			s := Summarize(o.store, v.Level)
			fmt.Fprintf(&b, "Validated %s: %d of %d at %.2f%% FDR (%d decoys, mean PEP %.4f, expected false %.1f)\n",
				v.Level, s.Validated, s.Total, thresholds[v.Level]*100, s.Decoys, s.MeanPEP, s.ExpectedFalse)
		}
	}

	for _, s := range res.Stages {
		fmt.Fprintf(&b, "Stage %s: %d faults", s.Stage, len(s.Faults))
		if s.Err != nil {
			fmt.Fprintf(&b, ", error: %v", s.Err)
		}
		if s.Cancelled {
			b.WriteString(", cancelled")
		}
		b.WriteString("\n")
	}
	return b.String()
}
