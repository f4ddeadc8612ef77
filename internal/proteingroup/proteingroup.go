// Package proteingroup resolves protein groups that share peptide evidence.
//
// The first phase hands the peptides of a shared group to every smaller
// group it contains and drops the shared group when one of those scores at
// least as well. The second phase classifies the remaining shared groups by
// the similarity of the protein descriptions.
package proteingroup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/524D/mzvalid/internal/identification"
	"github.com/524D/mzvalid/internal/progress"
	"github.com/524D/mzvalid/internal/score"
)

// minTokenLength is the length a description word must exceed to count
const minTokenLength = 3

// Result summarizes one Resolve call.
type Result struct {
	Merged      int      // groups that received peptides of a containing group
	Removed     []string // keys of the removed shared groups
	Classes     map[identification.GroupClass]int
	MainChanged int
	Faults      []identification.Fault
	Cancelled   bool
}

// Resolved returns the number of shared groups that were removed or found
// to be isoforms of one gene.
func (r Result) Resolved() int {
	return len(r.Removed) + r.Classes[identification.Isoforms]
}

// Unresolved returns the number of shared groups left ambiguous.
func (r Result) Unresolved() int {
	return r.Classes[identification.Unrelated] + r.Classes[identification.IsoformsUnrelated]
}

// Resolver works on the protein groups of a store.
type Resolver struct {
	store        identification.Store
	descriptions map[string]string // accession -> description
	log          *slog.Logger
}

// New returns a Resolver. descriptions maps accessions to their free text
// protein description and may be nil.
func New(store identification.Store, descriptions map[string]string, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{store: store, descriptions: descriptions, log: log}
}

// Resolve runs both phases. Removed groups are also taken out of the
// protein map, which must be estimated again before further lookups. The
// store is only changed if the call is not cancelled.
func (r *Resolver) Resolve(ctx context.Context, rep progress.Reporter, proteins *score.ContextMap) Result {
	res := Result{Classes: make(map[identification.GroupClass]int)}
	keys := r.store.ProteinKeys()
	groups := make(map[string]*identification.ProteinMatch, len(keys))
	scores := make(map[string]identification.Record, len(keys))
	for _, k := range keys {
		g, err := r.store.ProteinMatch(k)
		if err != nil {
			res.Faults = append(res.Faults, identification.Fault{Level: identification.LevelProtein, Key: k, Err: err})
			continue
		}
		groups[k] = g
		if rec, ok := r.store.Record(identification.LevelProtein, k); ok {
			scores[k] = rec
		}
	}

	rep.ReportText(fmt.Sprintf("Resolving %d protein groups", len(groups)))
	attach, remove, ok := r.merge(ctx, rep, keys, groups, scores)
	if !ok {
		res.Cancelled = true
		return res
	}
	classes, ok := r.classify(ctx, rep, keys, groups, remove)
	if !ok {
		res.Cancelled = true
		return res
	}

	for _, k := range keys {
		if add, found := attach[k]; found {
			g := groups[k]
			for _, pk := range add {
				g.AddPeptide(pk)
			}
			res.Merged++
		}
	}
	for _, k := range keys {
		if !remove[k] {
			continue
		}
		rec, scored := scores[k]
		if scored && proteins != nil {
			proteins.RemovePoint(rec.ContextKey, rec.Score, groups[k].Decoy)
		}
		r.store.RemoveProteinMatch(k)
		res.Removed = append(res.Removed, k)
		r.log.Debug("protein group removed", slog.String("group", k))
	}
	for _, k := range keys {
		c, found := classes[k]
		if !found {
			continue
		}
		g := groups[k]
		g.Class = c.class
		if g.MainAccession != c.main {
			g.MainAccession = c.main
			res.MainChanged++
		}
		res.Classes[c.class]++
	}
	r.log.Info("protein groups resolved",
		slog.Int("merged", res.Merged),
		slog.Int("removed", len(res.Removed)),
		slog.Int("isoforms", res.Classes[identification.Isoforms]),
		slog.Int("isoforms_unrelated", res.Classes[identification.IsoformsUnrelated]),
		slog.Int("unrelated", res.Classes[identification.Unrelated]))
	return res
}

// merge plans the subsumption phase. Every shared group is visited once
// and scores are taken from before any merge, so containment cycles cannot
// make it loop.
func (r *Resolver) merge(ctx context.Context, rep progress.Reporter, keys []string,
	groups map[string]*identification.ProteinMatch, scores map[string]identification.Record,
) (attach map[string][]string, remove map[string]bool, ok bool) {

	attach = make(map[string][]string)
	remove = make(map[string]bool)
	for _, gk := range keys {
		if progress.Cancelled(ctx, rep) {
			return nil, nil, false
		}
		rep.IncrementProgress()
		g := groups[gk]
		if g == nil || !g.Shared() {
			continue
		}
		gs, scored := scores[gk]
		if !scored || !(gs.Score < 1) {
			continue
		}
		drop := false
		for _, uk := range keys {
			u := groups[uk]
			if u == nil || uk == gk || remove[uk] || !g.Contains(u) {
				continue
			}
			attach[uk] = appendNew(attach[uk], u.PeptideKeys, g.PeptideKeys)
			if us, ok := scores[uk]; ok && us.Score <= gs.Score {
				drop = true
			}
		}
		if drop {
			remove[gk] = true
		}
	}
	return attach, remove, true
}

// appendNew appends the keys of add that are neither in have nor in dst.
func appendNew(dst, have, add []string) []string {
	seen := make(map[string]bool, len(dst)+len(have))
	for _, k := range have {
		seen[k] = true
	}
	for _, k := range dst {
		seen[k] = true
	}
	for _, k := range add {
		if !seen[k] {
			seen[k] = true
			dst = append(dst, k)
		}
	}
	return dst
}

type classification struct {
	class identification.GroupClass
	main  string
}

func (r *Resolver) classify(ctx context.Context, rep progress.Reporter, keys []string,
	groups map[string]*identification.ProteinMatch, removed map[string]bool,
) (map[string]classification, bool) {

	out := make(map[string]classification)
	for _, k := range keys {
		if progress.Cancelled(ctx, rep) {
			return nil, false
		}
		g := groups[k]
		if g == nil || removed[k] || !g.Shared() {
			continue
		}
		tokens := make([][]string, len(g.Accessions))
		for i, acc := range g.Accessions {
			tokens[i] = Tokens(r.descriptions[acc])
		}
		class, main := Classify(tokens)
		out[k] = classification{class: class, main: g.Accessions[main]}
	}
	return out, true
}

// Classify decides how the accessions of a group relate given the tokens
// of their descriptions, in sorted accession order. It returns the class
// and the index of the main accession.
func Classify(tokens [][]string) (identification.GroupClass, int) {
	if len(tokens) < 2 {
		return identification.Single, 0
	}
	main := -1
	for i := 0; i < len(tokens) && main < 0; i++ {
		for j := i + 1; j < len(tokens); j++ {
			if Similar(tokens[i], tokens[j]) {
				main = i
				break
			}
		}
	}
	if main < 0 {
		return identification.Unrelated, 0
	}
	for i := range tokens {
		if i != main && !Similar(tokens[main], tokens[i]) {
			return identification.IsoformsUnrelated, main
		}
	}
	return identification.Isoforms, main
}

// Tokens splits a description into the words longer than three characters.
func Tokens(description string) []string {
	var out []string
	for _, w := range strings.Fields(description) {
		if len(w) > minTokenLength {
			out = append(out, w)
		}
	}
	return out
}

// Similarity returns the fraction of positions holding the same token, or
// 0 if the token lists differ in length or are empty.
func Similarity(a, b []string) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	same := 0
	for i := range a {
		if a[i] == b[i] {
			same++
		}
	}
	return float64(same) / float64(len(a))
}

// Similar reports whether at least half of the tokens match position-wise.
func Similar(a, b []string) bool {
	return Similarity(a, b) >= 0.5
}
