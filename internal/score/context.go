package score

import (
	"fmt"
	"math"
	"sort"
)

// Keys of the pooled histograms of a ContextMap
const (
	PooledKey = "~pooled"
	GlobalKey = "~all"
)

// WarningKind classifies a statistical warning.
type WarningKind int

const (
	// Thin contexts have too few decoys and were redirected
	Thin WarningKind = iota
	// NoDecoys contexts cannot produce an FDR at all
	NoDecoys
	// Irregular contexts have decoys concentrated at good scores
	Irregular
)

func (k WarningKind) String() string {
	switch k {
	case Thin:
		return "thin"
	case NoDecoys:
		return "no-decoys"
	case Irregular:
		return "irregular"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Warning flags a suspicious context.
type Warning struct {
	Map     string
	Key     string
	Kind    WarningKind
	Target  string // corrected key, for Thin
	Targets int
	Decoys  int
}

func (w Warning) String() string {
	s := fmt.Sprintf("%s context %q is %s (%d targets, %d decoys)",
		w.Map, w.Key, w.Kind, w.Targets, w.Decoys)
	if w.Kind == Thin {
		s += fmt.Sprintf(", using %q", w.Target)
	}
	return s
}

// ContextMap keeps one histogram per context key. Keys with fewer decoys
// than the minimum are pooled; if the pool is still too thin, lookups use
// the histogram of all observations.
type ContextMap struct {
	name      string
	minDecoys int
	estimator Estimator

	histograms map[string]*Histogram
	redirect   map[string]string
	pooled     *Histogram
	global     *Histogram
	warnings   []Warning
	estimated  bool
}

// NewContextMap creates an empty map. The name is used in warnings.
func NewContextMap(name string, minDecoys int, est Estimator) *ContextMap {
	return &ContextMap{
		name:       name,
		minDecoys:  minDecoys,
		estimator:  est,
		histograms: make(map[string]*Histogram),
	}
}

// Name returns the name of the map.
func (m *ContextMap) Name() string {
	return m.name
}

// AddPoint records an observation in the histogram of key.
func (m *ContextMap) AddPoint(key string, score float64, decoy bool) error {
	if math.IsNaN(score) {
		return ErrInvalidScore
	}
	h, ok := m.histograms[key]
	if !ok {
		h = NewHistogram()
		m.histograms[key] = h
	}
	m.estimated = false
	return h.AddPoint(score, decoy)
}

// RemovePoint removes an observation from the histogram of key. Estimate
// must be called again before further lookups.
func (m *ContextMap) RemovePoint(key string, score float64, decoy bool) bool {
	h, ok := m.histograms[key]
	if !ok {
		return false
	}
	m.estimated = false
	return h.RemovePoint(score, decoy)
}

// Keys returns the context keys that received observations, sorted.
func (m *ContextMap) Keys() []string {
	keys := make([]string, 0, len(m.histograms))
	for k := range m.histograms {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Counts returns the target and decoy counts of a raw context key.
func (m *ContextMap) Counts(key string) (targets, decoys int) {
	if h, ok := m.histograms[key]; ok {
		return h.Counts()
	}
	return 0, 0
}

// Estimate corrects thin contexts and estimates all histograms that are
// used for lookups. The returned warnings are also kept for Warnings.
func (m *ContextMap) Estimate() []Warning {
	m.pooled = NewHistogram()
	m.global = NewHistogram()
	m.redirect = make(map[string]string, len(m.histograms))
	m.warnings = nil

	var thin []string
	for _, key := range m.Keys() {
		h := m.histograms[key]
		m.global.Merge(h)
		if _, d := h.Counts(); d < m.minDecoys {
			thin = append(thin, key)
			m.pooled.Merge(h)
			continue
		}
		m.redirect[key] = key
	}

	poolKey := PooledKey
	if _, d := m.pooled.Counts(); d < m.minDecoys {
		poolKey = GlobalKey
	}
	for _, key := range thin {
		m.redirect[key] = poolKey
		t, d := m.histograms[key].Counts()
		m.warnings = append(m.warnings, Warning{
			Map: m.name, Key: key, Kind: Thin, Target: poolKey, Targets: t, Decoys: d,
		})
	}

	used := make(map[string]bool)
	for _, target := range m.redirect {
		used[target] = true
	}
	usedKeys := make([]string, 0, len(used))
	for k := range used {
		usedKeys = append(usedKeys, k)
	}
	sort.Strings(usedKeys)
	for _, key := range usedKeys {
		h := m.histogram(key)
		t, d := h.Counts()
		if err := h.Estimate(); err != nil {
			m.warnings = append(m.warnings, Warning{Map: m.name, Key: key, Kind: NoDecoys, Targets: t, Decoys: d})
			continue
		}
		if h.Irregular() {
			m.warnings = append(m.warnings, Warning{Map: m.name, Key: key, Kind: Irregular, Targets: t, Decoys: d})
		}
	}
	m.estimated = true
	return m.warnings
}

// Warnings returns the warnings of the last Estimate.
func (m *ContextMap) Warnings() []Warning {
	return m.warnings
}

func (m *ContextMap) histogram(key string) *Histogram {
	switch key {
	case PooledKey:
		return m.pooled
	case GlobalKey:
		return m.global
	}
	return m.histograms[key]
}

// CorrectedKey returns the key whose histogram serves lookups for key.
func (m *ContextMap) CorrectedKey(key string) (string, error) {
	if !m.estimated {
		return "", ErrNotEstimated
	}
	c, ok := m.redirect[key]
	if !ok {
		return "", fmt.Errorf("%w: %s %q", ErrUnknownContext, m.name, key)
	}
	return c, nil
}

// Histogram returns the histogram serving lookups for key.
func (m *ContextMap) Histogram(key string) (*Histogram, error) {
	c, err := m.CorrectedKey(key)
	if err != nil {
		return nil, err
	}
	return m.histogram(c), nil
}

// PEP returns the calibrated probability of score s in context key.
func (m *ContextMap) PEP(key string, s float64) (float64, error) {
	h, err := m.Histogram(key)
	if err != nil {
		return math.NaN(), err
	}
	return h.PEP(s)
}

// ScoreLimit returns the threshold reaching the target FDR in context key.
func (m *ContextMap) ScoreLimit(key string, target float64) (Limit, error) {
	h, err := m.Histogram(key)
	if err != nil {
		return Limit{Score: math.Inf(-1)}, err
	}
	return h.ScoreLimit(target, m.estimator)
}

// Reset drops all observations.
func (m *ContextMap) Reset() {
	m.histograms = make(map[string]*Histogram)
	m.redirect = nil
	m.pooled = nil
	m.global = nil
	m.warnings = nil
	m.estimated = false
}
