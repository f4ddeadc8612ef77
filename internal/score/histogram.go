// Package score estimates false discovery rates and posterior error
// probabilities from target/decoy score distributions.
//
// Scores are oriented so that lower is better: e-values, error
// probabilities and products of those. A threshold admits every hit whose
// score is lower than or equal to it.
package score

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	ErrNoDecoys       = errors.New("score: no decoy observations")
	ErrEmpty          = errors.New("score: no observations")
	ErrNotEstimated   = errors.New("score: statistics not estimated")
	ErrInvalidScore   = errors.New("score: invalid score")
	ErrUnknownContext = errors.New("score: unknown context")
)

// Estimator selects how the FDR at a threshold is computed.
type Estimator int

const (
	// Classical uses cumulative decoys over cumulative targets
	Classical Estimator = iota
	// Probabilistic uses the mean PEP of the accepted targets
	Probabilistic
)

// Limit is the outcome of a threshold search.
type Limit struct {
	Score   float64 // admit hits with score <= Score
	Targets int     // targets admitted
	Decoys  int     // decoys admitted
	FDR     float64 // estimated FDR at Score
	Found   bool    // false if no threshold reaches the requested FDR
}

// Admits reports whether a hit with score s passes the limit.
func (l Limit) Admits(s float64) bool {
	return l.Found && s <= l.Score
}

type point struct {
	nTarget int
	nDecoy  int
}

// Histogram accumulates target and decoy counts per distinct score.
type Histogram struct {
	points  map[float64]*point
	nTarget int
	nDecoy  int

	// Derived by Estimate, indexed like scores (ascending)
	estimated bool
	err       error
	scores    []float64
	targets   []float64
	cumTarget []float64
	cumDecoy  []float64
	pep       []float64
	fdr       [2][]float64 // per Estimator
	nMax      int
}

// NewHistogram returns an empty histogram.
func NewHistogram() *Histogram {
	return &Histogram{points: make(map[float64]*point)}
}

// AddPoint records one observation. It invalidates earlier estimates.
func (h *Histogram) AddPoint(score float64, decoy bool) error {
	if math.IsNaN(score) {
		return ErrInvalidScore
	}
	p, ok := h.points[score]
	if !ok {
		p = &point{}
		h.points[score] = p
	}
	if decoy {
		p.nDecoy++
		h.nDecoy++
	} else {
		p.nTarget++
		h.nTarget++
	}
	h.estimated = false
	return nil
}

// RemovePoint removes one observation recorded earlier. It returns false if
// no such observation exists.
func (h *Histogram) RemovePoint(score float64, decoy bool) bool {
	p, ok := h.points[score]
	if !ok {
		return false
	}
	if decoy {
		if p.nDecoy == 0 {
			return false
		}
		p.nDecoy--
		h.nDecoy--
	} else {
		if p.nTarget == 0 {
			return false
		}
		p.nTarget--
		h.nTarget--
	}
	if p.nTarget == 0 && p.nDecoy == 0 {
		delete(h.points, score)
	}
	h.estimated = false
	return true
}

// Merge adds all observations of other to h.
func (h *Histogram) Merge(other *Histogram) {
	for s, op := range other.points {
		p, ok := h.points[s]
		if !ok {
			p = &point{}
			h.points[s] = p
		}
		p.nTarget += op.nTarget
		p.nDecoy += op.nDecoy
	}
	h.nTarget += other.nTarget
	h.nDecoy += other.nDecoy
	h.estimated = false
}

// Counts returns the number of target and decoy observations.
func (h *Histogram) Counts() (targets, decoys int) {
	return h.nTarget, h.nDecoy
}

// NMax returns the largest number of targets found between two consecutive
// decoys, the resolution of the PEP estimation.
func (h *Histogram) NMax() int {
	return h.nMax
}

// Estimate derives the PEP and FDR curves. It must be called after the last
// point was added and before any lookup.
func (h *Histogram) Estimate() error {
	h.estimated = false
	h.err = nil
	if h.nTarget+h.nDecoy == 0 {
		h.err = ErrEmpty
		return h.err
	}
	if h.nDecoy == 0 {
		h.err = ErrNoDecoys
		return h.err
	}

	n := len(h.points)
	h.scores = make([]float64, 0, n)
	for s := range h.points {
		h.scores = append(h.scores, s)
	}
	sort.Float64s(h.scores)

	h.targets = make([]float64, n)
	decoys := make([]float64, n)
	for i, s := range h.scores {
		h.targets[i] = float64(h.points[s].nTarget)
		decoys[i] = float64(h.points[s].nDecoy)
	}
	h.cumTarget = floats.CumSum(make([]float64, n), h.targets)
	h.cumDecoy = floats.CumSum(make([]float64, n), decoys)

	h.nMax = targetsBetweenDecoys(h.targets, decoys)
	h.pep = h.estimatePEP(decoys)
	h.fdr[Classical] = h.classicalFDR()
	h.fdr[Probabilistic] = h.probabilisticFDR()
	h.estimated = true
	return nil
}

func targetsBetweenDecoys(targets, decoys []float64) int {
	nMax := 0
	run := 0
	seenDecoy := false
	for i := range targets {
		if decoys[i] > 0 {
			if seenDecoy && run > nMax {
				nMax = run
			}
			seenDecoy = true
			run = 0
		}
		run += int(targets[i])
	}
	return nMax
}

// estimatePEP computes the decoy share of a window holding about nMax targets
// around each score: decoy density over total density, nD/(nT+nD). The curve
// is then made non-decreasing by walking from the worst score to the best.
func (h *Histogram) estimatePEP(decoys []float64) []float64 {
	n := len(h.scores)
	prevTarget := make([]float64, n)
	prevDecoy := make([]float64, n)
	floats.SubTo(prevTarget, h.cumTarget, h.targets)
	floats.SubTo(prevDecoy, h.cumDecoy, decoys)

	half := math.Max(float64(h.nMax)/2, 1)
	pep := make([]float64, n)
	for i := range h.scores {
		center := h.cumTarget[i] - h.targets[i]/2
		lo := sort.Search(n, func(j int) bool { return h.cumTarget[j] >= center-half })
		hi := sort.Search(n, func(j int) bool { return prevTarget[j] > center+half }) - 1
		if lo > i {
			lo = i
		}
		if hi < i {
			hi = i
		}
		nT := h.cumTarget[hi] - prevTarget[lo]
		nD := h.cumDecoy[hi] - prevDecoy[lo]
		p := 1.0
		if nT > 0 {
			p = nD / (nT + nD)
		}
		pep[i] = p
	}
	for i := n - 2; i >= 0; i-- {
		if pep[i] > pep[i+1] {
			pep[i] = pep[i+1]
		}
	}
	return pep
}

func (h *Histogram) classicalFDR() []float64 {
	fdr := make([]float64, len(h.scores))
	for i := range fdr {
		switch {
		case h.cumTarget[i] > 0:
			fdr[i] = math.Min(h.cumDecoy[i]/h.cumTarget[i], 1)
		case h.cumDecoy[i] > 0:
			fdr[i] = 1
		}
	}
	monotonize(fdr)
	return fdr
}

func (h *Histogram) probabilisticFDR() []float64 {
	fdr := make([]float64, len(h.scores))
	sum := 0.0
	for i := range fdr {
		sum += h.pep[i] * h.targets[i]
		if h.cumTarget[i] > 0 {
			fdr[i] = sum / h.cumTarget[i]
		} else {
			fdr[i] = h.pep[i]
		}
	}
	monotonize(fdr)
	return fdr
}

// monotonize makes v non-decreasing by carrying minima from tail to head.
func monotonize(v []float64) {
	for i := len(v) - 2; i >= 0; i-- {
		if v[i] > v[i+1] {
			v[i] = v[i+1]
		}
	}
}

func (h *Histogram) ready() error {
	if h.estimated {
		return nil
	}
	if h.err != nil {
		return h.err
	}
	return ErrNotEstimated
}

// PEP interpolates the posterior error probability at score s.
func (h *Histogram) PEP(s float64) (float64, error) {
	if err := h.ready(); err != nil {
		return math.NaN(), err
	}
	if math.IsNaN(s) {
		return math.NaN(), ErrInvalidScore
	}
	return interpolate(h.scores, h.pep, s), nil
}

// FDR returns the FDR of the threshold s.
func (h *Histogram) FDR(s float64, est Estimator) (float64, error) {
	if err := h.ready(); err != nil {
		return math.NaN(), err
	}
	i := sort.Search(len(h.scores), func(j int) bool { return h.scores[j] > s }) - 1
	if i < 0 {
		return 0, nil
	}
	return h.fdr[est][i], nil
}

// ScoreLimit returns the most permissive threshold whose FDR does not
// exceed target.
func (h *Histogram) ScoreLimit(target float64, est Estimator) (Limit, error) {
	if err := h.ready(); err != nil {
		return Limit{Score: math.Inf(-1)}, err
	}
	curve := h.fdr[est]
	i := sort.Search(len(curve), func(j int) bool { return curve[j] > target }) - 1
	if i < 0 {
		return Limit{Score: math.Inf(-1)}, nil
	}
	return Limit{
		Score:   h.scores[i],
		Targets: int(h.cumTarget[i]),
		Decoys:  int(h.cumDecoy[i]),
		FDR:     curve[i],
		Found:   true,
	}, nil
}

// Irregular reports decoys that are relatively more frequent among the
// better half of the targets than among the worse half.
func (h *Histogram) Irregular() bool {
	if !h.estimated || h.nDecoy < 2 {
		return false
	}
	half := float64(h.nTarget) / 2
	split := sort.Search(len(h.cumTarget), func(j int) bool { return h.cumTarget[j] >= half })
	if split >= len(h.scores)-1 {
		return false
	}
	t1, d1 := h.cumTarget[split], h.cumDecoy[split]
	t2 := h.cumTarget[len(h.scores)-1] - t1
	d2 := h.cumDecoy[len(h.scores)-1] - d1
	return d1/math.Max(t1, 1) > d2/math.Max(t2, 1)
}

// MeanPEP returns the target weighted mean PEP of the histogram.
func (h *Histogram) MeanPEP() float64 {
	if !h.estimated || h.nTarget == 0 {
		return math.NaN()
	}
	return stat.Mean(h.pep, h.targets)
}

func interpolate(xs, ys []float64, x float64) float64 {
	n := len(xs)
	i := sort.SearchFloat64s(xs, x)
	switch {
	case i < n && xs[i] == x:
		return ys[i]
	case i == 0:
		return ys[0]
	case i == n:
		return ys[n-1]
	}
	x0, x1 := xs[i-1], xs[i]
	if math.IsInf(x0, 0) || math.IsInf(x1, 0) {
		return ys[i]
	}
	f := (x - x0) / (x1 - x0)
	return ys[i-1] + f*(ys[i]-ys[i-1])
}
