package identification

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPeptideKeyOrderIndependent(t *testing.T) {
	a := []Modification{{Name: "Oxidation", Position: 5}, {Name: "Phospho", Position: 2}}
	b := []Modification{{Name: "Phospho", Position: 2}, {Name: "Oxidation", Position: 5}}
	if PeptideKey("PEPTMIDE", a) != PeptideKey("PEPTMIDE", b) {
		t.Errorf("peptide key depends on modification order")
	}
	if got := PeptideKey("PEPTIDE", nil); got != "PEPTIDE" {
		t.Errorf("unmodified key = %q", got)
	}
	if got := PeptideKey("PEPTMIDE", a); got != "PEPTMIDE_Phospho@2_Oxidation@5" {
		t.Errorf("modified key = %q", got)
	}
	// Leucine and isoleucine peptides are distinct identifications
	if PeptideKey("PEPTLDE", nil) == PeptideKey("PEPTIDE", nil) {
		t.Errorf("I/L peptides must not collapse")
	}
}

func TestModProfile(t *testing.T) {
	mods := []Modification{
		{Name: "Oxidation", Position: 5},
		{Mass: 79.96633, Position: 2},
		{Name: "Oxidation", Position: 7},
	}
	if got := ModProfile(mods); got != "79.9663,Oxidation" {
		t.Errorf("ModProfile = %q", got)
	}
	if got := ModProfile(nil); got != "" {
		t.Errorf("unmodified profile = %q", got)
	}
}

func TestProteinKey(t *testing.T) {
	if got := ProteinKey([]string{"P2", "P1", "P2"}); got != "P1;P2" {
		t.Errorf("ProteinKey = %q", got)
	}
}

func TestProteinMatchContains(t *testing.T) {
	ab := &ProteinMatch{Accessions: []string{"A", "B"}}
	a := &ProteinMatch{Accessions: []string{"A"}}
	c := &ProteinMatch{Accessions: []string{"C"}}
	if !ab.Contains(a) {
		t.Errorf("{A,B} should contain {A}")
	}
	if a.Contains(ab) || ab.Contains(ab) || ab.Contains(c) {
		t.Errorf("containment must be strict and accession based")
	}
}

func TestMemStore(t *testing.T) {
	s := NewMemStore()
	s.AddSpectrumMatch(&SpectrumMatch{Key: "b"})
	s.AddSpectrumMatch(&SpectrumMatch{Key: "a"})
	if diff := cmp.Diff([]string{"a", "b"}, s.SpectrumKeys()); diff != "" {
		t.Errorf("SpectrumKeys (-want +got):\n%s", diff)
	}
	if _, err := s.SpectrumMatch("c"); !errors.Is(err, ErrUnknownMatch) {
		t.Errorf("expected ErrUnknownMatch, got %v", err)
	}

	s.SetProteinMatches([]*ProteinMatch{{Key: "A"}, {Key: "A;B"}})
	s.UpdateRecord(LevelProtein, "A;B", Record{Score: 0.5})
	s.RemoveProteinMatch("A;B")
	if _, ok := s.Record(LevelProtein, "A;B"); ok {
		t.Errorf("record must be removed with its protein match")
	}
	if diff := cmp.Diff([]string{"A"}, s.ProteinKeys()); diff != "" {
		t.Errorf("ProteinKeys (-want +got):\n%s", diff)
	}

	recs := map[string]Record{"x": {Score: 1}}
	s.SetRecords(LevelPSM, recs)
	recs["y"] = Record{}
	if _, ok := s.Record(LevelPSM, "y"); ok {
		t.Errorf("SetRecords must copy its input")
	}
}

func TestAdvocatesSorted(t *testing.T) {
	s := &SpectrumMatch{Assumptions: map[string][]*Assumption{
		"X!Tandem": {{}},
		"Comet":    {{}},
		"Empty":    nil,
	}}
	if diff := cmp.Diff([]string{"Comet", "X!Tandem"}, s.Advocates()); diff != "" {
		t.Errorf("Advocates (-want +got):\n%s", diff)
	}
}
