// Package identification holds the matches produced by identification
// engines and the score/validation records attached to them.
package identification

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNoBestAssumption = errors.New("identification: spectrum has no best assumption")
	ErrUnknownMatch     = errors.New("identification: unknown match")
)

// Level is the hierarchy level of a match.
type Level int

const (
	LevelPSM Level = iota
	LevelPeptide
	LevelProtein
)

func (l Level) String() string {
	switch l {
	case LevelPSM:
		return "psm"
	case LevelPeptide:
		return "peptide"
	case LevelProtein:
		return "protein"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Modification is a variable modification placed on a peptide.
type Modification struct {
	Name     string
	Mass     float64
	Position int // 1-based residue position; 0 for N-term, len+1 for C-term
}

// Assumption is a peptide proposed by one advocate for one spectrum.
type Assumption struct {
	Advocate      string
	Sequence      string
	Modifications []Modification
	Charge        int
	Accessions    []string
	Decoy         bool
	Rank          int
	RawScore      float64 // lower is better
	// Advocate-level posterior error probability, NaN until calibrated
	Probability float64
}

// PeptideKey returns the key of the assumption's peptide.
func (a *Assumption) PeptideKey() string {
	return PeptideKey(a.Sequence, a.Modifications)
}

// SpectrumMatch is one measured spectrum with the assumptions of all advocates.
type SpectrumMatch struct {
	Key   string
	File  string
	Title string
	// Assumptions per advocate, ordered best first
	Assumptions map[string][]*Assumption
	Best        *Assumption
	// Score of Best after consensus, lower is better
	CombinedScore float64
}

// Advocates returns the advocates that provided assumptions, sorted.
func (s *SpectrumMatch) Advocates() []string {
	advocates := make([]string, 0, len(s.Assumptions))
	for a, list := range s.Assumptions {
		if len(list) > 0 {
			advocates = append(advocates, a)
		}
	}
	sort.Strings(advocates)
	return advocates
}

// Charge returns the charge of the best assumption.
func (s *SpectrumMatch) Charge() (int, error) {
	if s.Best == nil {
		return 0, ErrNoBestAssumption
	}
	return s.Best.Charge, nil
}

// PeptideMatch groups all spectra whose best assumption is the same peptide.
type PeptideMatch struct {
	Key          string
	Sequence     string
	ModProfile   string
	SpectrumKeys []string
	Accessions   []string
	Decoy        bool
}

// GroupClass tells how the accessions of a protein group relate.
type GroupClass int

const (
	Single GroupClass = iota
	Isoforms
	IsoformsUnrelated
	Unrelated
)

func (c GroupClass) String() string {
	switch c {
	case Single:
		return "single"
	case Isoforms:
		return "isoforms"
	case IsoformsUnrelated:
		return "isoforms-unrelated"
	case Unrelated:
		return "unrelated"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// ProteinMatch is a group of accessions sharing the same peptide evidence.
type ProteinMatch struct {
	Key           string
	Accessions    []string // sorted
	PeptideKeys   []string
	MainAccession string
	Class         GroupClass
	Decoy         bool
}

// Shared reports whether the group holds more than one accession.
func (p *ProteinMatch) Shared() bool {
	return len(p.Accessions) > 1
}

// AddPeptide attaches a peptide match, ignoring duplicates.
func (p *ProteinMatch) AddPeptide(key string) bool {
	for _, k := range p.PeptideKeys {
		if k == key {
			return false
		}
	}
	p.PeptideKeys = append(p.PeptideKeys, key)
	return true
}

// Contains reports whether every accession of other is also in p, and p
// holds more accessions than other.
func (p *ProteinMatch) Contains(other *ProteinMatch) bool {
	if len(other.Accessions) >= len(p.Accessions) {
		return false
	}
	set := make(map[string]bool, len(p.Accessions))
	for _, a := range p.Accessions {
		set[a] = true
	}
	for _, a := range other.Accessions {
		if !set[a] {
			return false
		}
	}
	return true
}

// Record is the score and validation state attached to one match.
type Record struct {
	Score      float64
	ContextKey string
	PEP        float64
	Validated  bool
}

// PeptideKey builds the key of a peptide from its sequence and modifications.
// Modifications are ordered by position, so the key does not depend on the
// order in which an engine reported them.
func PeptideKey(sequence string, mods []Modification) string {
	if len(mods) == 0 {
		return sequence
	}
	sorted := make([]Modification, len(mods))
	copy(sorted, mods)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Position != sorted[j].Position {
			return sorted[i].Position < sorted[j].Position
		}
		return sorted[i].Name < sorted[j].Name
	})
	var b strings.Builder
	b.WriteString(sequence)
	for _, m := range sorted {
		fmt.Fprintf(&b, "_%s@%d", modName(m), m.Position)
	}
	return b.String()
}

// ModProfile returns the sorted, de-duplicated names of the modifications,
// or the empty string for unmodified peptides.
func ModProfile(mods []Modification) string {
	if len(mods) == 0 {
		return ""
	}
	seen := make(map[string]bool)
	var names []string
	for _, m := range mods {
		n := modName(m)
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

func modName(m Modification) string {
	if m.Name != "" {
		return m.Name
	}
	return fmt.Sprintf("%.4f", m.Mass)
}

// ProteinKey returns the order independent key of a set of accessions.
func ProteinKey(accessions []string) string {
	return strings.Join(SortedAccessions(accessions), ";")
}

// SortedAccessions returns a sorted copy of accessions without duplicates.
func SortedAccessions(accessions []string) []string {
	out := make([]string, 0, len(accessions))
	seen := make(map[string]bool, len(accessions))
	for _, a := range accessions {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	sort.Strings(out)
	return out
}

// Fault is a recoverable problem with a single match. The match is skipped
// by the stage that reported it.
type Fault struct {
	Level Level
	Key   string
	Err   error
}

func (f Fault) Error() string {
	return fmt.Sprintf("%s %s: %v", f.Level, f.Key, f.Err)
}

func (f Fault) Unwrap() error {
	return f.Err
}
