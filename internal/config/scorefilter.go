package config

import (
	"errors"
	"math"
	"regexp"
	"strconv"
)

var ErrRangeSpec = errors.New("invalid range specified")

// ScoreRange defines which values of a score are accepted, and how the
// score is oriented.
type ScoreRange struct {
	Min            float64 // Minimum score to accept
	Max            float64 // Maximum score to accept
	Priority       int     // Priority of the score, lowest is best
	HigherIsBetter bool
}

// Accept reports whether v lies within the range.
func (r ScoreRange) Accept(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// ScoreFilter maps a CV accession or score name to its accepted range.
type ScoreFilter map[string]ScoreRange

// Lookup returns the range for a CV term, trying the accession first and the
// name second.
func (f ScoreFilter) Lookup(accession, name string) (ScoreRange, bool) {
	r, ok := f[accession]
	if !ok {
		r, ok = f[name]
	}
	return r, ok
}

// ParseScoreFilter parses strings like
// "MS:1002257(0.0:1e-2)MS:1001330(:)". When multiple score names/CV terms
// are specified, the first one on the list gets the highest priority.
func ParseScoreFilter(scoreFilterStr string) (ScoreFilter, error) {
	scoreFilt := make(ScoreFilter)

	re := regexp.MustCompile(`([^\(]+)\(([^\)]*)\)`)
	matchedStringsList := re.FindAllStringSubmatch(scoreFilterStr, -1)
	for n, matchedStrings := range matchedStringsList {
		scoreName := matchedStrings[1]
		scoreRangeStr := matchedStrings[2]
		_, ok := scoreFilt[scoreName]
		if ok {
			return nil, errors.New(scoreName + ` defined more than once.`)
		}
		minScore, maxScore, err := ParseFloat64Range(scoreRangeStr,
			-math.MaxFloat64, math.MaxFloat64)
		if err != nil {
			return nil, errors.New(`Invalid range for score ` + scoreName)
		}
		scoreFilt[scoreName] = ScoreRange{Min: minScore, Max: maxScore, Priority: n}
	}

	return scoreFilt, nil
}

// ParseFloat64Range parses a string like "-12.01e1:+6" into 2 values, -120.1
// and 6.0. Parameters min and max are the "default" min/max values; when a
// value is not specified (e.g. "-12.01e1:"), the default is assigned.
func ParseFloat64Range(r string, min float64, max float64) (
	float64, float64, error) {
	re := regexp.MustCompile(`\s*([-+]?[0-9]*\.?[0-9]*([eE][-+]?[0-9]+)?):([-+]?[0-9]*\.?[0-9]*([eE][-+]?[0-9]+)?)`)
	m := re.FindStringSubmatch(r)
	minOut := min
	maxOut := max
	if len(m) >= 2 && m[1] != "" {
		minOut, _ = strconv.ParseFloat(m[1], 64)
		if minOut < min {
			minOut = min
		}
	}
	if len(m) >= 4 && m[3] != "" {
		maxOut, _ = strconv.ParseFloat(m[3], 64)
		if maxOut > max {
			maxOut = max
		}
	}
	var err error
	if minOut > maxOut {
		err = ErrRangeSpec
		minOut = maxOut
	}
	return minOut, maxOut, err
}
