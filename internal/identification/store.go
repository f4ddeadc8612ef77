package identification

import (
	"fmt"
	"sort"
	"sync"
)

// Store gives access to the matches of a dataset and to the record attached
// to each of them. Key lists are returned in a deterministic order.
type Store interface {
	SpectrumKeys() []string
	SpectrumMatch(key string) (*SpectrumMatch, error)
	AddSpectrumMatch(m *SpectrumMatch)

	PeptideKeys() []string
	PeptideMatch(key string) (*PeptideMatch, error)
	SetPeptideMatches(matches []*PeptideMatch)

	ProteinKeys() []string
	ProteinMatch(key string) (*ProteinMatch, error)
	SetProteinMatches(matches []*ProteinMatch)
	RemoveProteinMatch(key string)

	Record(level Level, key string) (Record, bool)
	// SetRecords replaces all records of a level
	SetRecords(level Level, records map[string]Record)
	UpdateRecord(level Level, key string, r Record)
}

// MemStore keeps all matches in memory.
type MemStore struct {
	mu       sync.RWMutex
	spectra  map[string]*SpectrumMatch
	peptides map[string]*PeptideMatch
	proteins map[string]*ProteinMatch
	records  [3]map[string]Record
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	s := &MemStore{
		spectra:  make(map[string]*SpectrumMatch),
		peptides: make(map[string]*PeptideMatch),
		proteins: make(map[string]*ProteinMatch),
	}
	for i := range s.records {
		s.records[i] = make(map[string]Record)
	}
	return s
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *MemStore) SpectrumKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.spectra)
}

func (s *MemStore) SpectrumMatch(key string) (*SpectrumMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.spectra[key]
	if !ok {
		return nil, fmt.Errorf("%w: spectrum %s", ErrUnknownMatch, key)
	}
	return m, nil
}

func (s *MemStore) AddSpectrumMatch(m *SpectrumMatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spectra[m.Key] = m
}

func (s *MemStore) PeptideKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.peptides)
}

func (s *MemStore) PeptideMatch(key string) (*PeptideMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.peptides[key]
	if !ok {
		return nil, fmt.Errorf("%w: peptide %s", ErrUnknownMatch, key)
	}
	return m, nil
}

func (s *MemStore) SetPeptideMatches(matches []*PeptideMatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peptides = make(map[string]*PeptideMatch, len(matches))
	for _, m := range matches {
		s.peptides[m.Key] = m
	}
}

func (s *MemStore) ProteinKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.proteins)
}

func (s *MemStore) ProteinMatch(key string) (*ProteinMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.proteins[key]
	if !ok {
		return nil, fmt.Errorf("%w: protein %s", ErrUnknownMatch, key)
	}
	return m, nil
}

func (s *MemStore) SetProteinMatches(matches []*ProteinMatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proteins = make(map[string]*ProteinMatch, len(matches))
	for _, m := range matches {
		s.proteins[m.Key] = m
	}
}

func (s *MemStore) RemoveProteinMatch(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.proteins, key)
	delete(s.records[LevelProtein], key)
}

func (s *MemStore) Record(level Level, key string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[level][key]
	return r, ok
}

func (s *MemStore) SetRecords(level Level, records map[string]Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fresh := make(map[string]Record, len(records))
	for k, r := range records {
		fresh[k] = r
	}
	s.records[level] = fresh
}

func (s *MemStore) UpdateRecord(level Level, key string, r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[level][key] = r
}
