// Package importer turns mzIdentML identifications of one or more search
// engines into spectrum matches with per-advocate assumptions.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/524D/mzvalid/internal/config"
	"github.com/524D/mzvalid/internal/identification"
	"github.com/524D/mzvalid/internal/mzidentml"
)

var (
	ErrNoScore      = errors.New("importer: no score matching the score filter")
	ErrInvalidScore = errors.New("importer: invalid score value")
)

// Stats counts what happened to the identification items.
type Stats struct {
	Files      int
	Items      int
	Accepted   int
	NoScore    int
	OutOfRange int
	Spectra    int
	Advocates  []string
}

// Importer collects identifications until Finish moves them to a store.
type Importer struct {
	filter       config.ScoreFilter
	cfg          config.Config
	log          *slog.Logger
	spectra      map[string]*identification.SpectrumMatch
	descriptions map[string]string
	advocates    map[string]bool
	stats        Stats
}

// New returns an Importer using the score filter and decoy tags of cfg.
func New(cfg config.Config, log *slog.Logger) (*Importer, error) {
	filt, err := cfg.ScoreFilter()
	if err != nil {
		return nil, err
	}
	if len(filt) == 0 {
		return nil, config.ErrNoScores
	}
	if log == nil {
		log = slog.Default()
	}
	return &Importer{
		filter:       filt,
		cfg:          cfg,
		log:          log,
		spectra:      make(map[string]*identification.SpectrumMatch),
		descriptions: make(map[string]string),
		advocates:    make(map[string]bool),
	}, nil
}

// ReadFiles parses the files concurrently and adds them in argument order.
func (im *Importer) ReadFiles(ctx context.Context, paths []string, workers int) error {
	docs := make([]mzidentml.MzIdentML, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			im.log.Info("reading identifications", slog.String("file", path))
			docs[i], err = mzidentml.Read(f)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, path := range paths {
		if err := im.Add(path, &docs[i]); err != nil {
			return err
		}
	}
	return nil
}

// Add merges the identifications of one parsed file. name is used as the
// advocate when the file does not name its software, and as the spectrum
// file when the identifications do not refer to one.
func (im *Importer) Add(name string, doc *mzidentml.MzIdentML) error {
	im.stats.Files++
	for acc, desc := range doc.Descriptions() {
		im.descriptions[acc] = desc
	}
	fallback := trimExt(filepath.Base(name))
	for i := 0; i < doc.NumIdents(); i++ {
		ident, err := doc.Ident(i)
		if err != nil {
			return fmt.Errorf("%s: identification %d: %w", name, i, err)
		}
		im.stats.Items++
		raw, err := im.score(ident.Cv)
		switch {
		case errors.Is(err, ErrNoScore):
			im.stats.NoScore++
			continue
		case errors.Is(err, errOutOfRange):
			im.stats.OutOfRange++
			continue
		case err != nil:
			return fmt.Errorf("%s: %s: %w", name, ident.SpecID, err)
		}
		im.stats.Accepted++
		im.add(ident, raw, fallback)
	}
	return nil
}

var errOutOfRange = errors.New("score out of range")

// score returns the value of the highest priority score term, oriented so
// that lower is better.
func (im *Importer) score(cvs []mzidentml.CvParam) (float64, error) {
	found := false
	var best config.ScoreRange
	var value float64
	for _, cv := range cvs {
		// Check if the CV accession number or CV name matches scorefilter
		filt, ok := im.filter.Lookup(cv.Accession, cv.Name)
		if !ok || (found && filt.Priority >= best.Priority) {
			continue
		}
		v, err := strconv.ParseFloat(cv.Value, 64)
		if err != nil || math.IsNaN(v) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidScore, cv.Value)
		}
		found, best, value = true, filt, v
	}
	if !found {
		return 0, ErrNoScore
	}
	if !best.Accept(value) {
		return 0, errOutOfRange
	}
	if best.HigherIsBetter {
		return -value, nil
	}
	return value, nil
}

func (im *Importer) add(ident mzidentml.Identification, raw float64, fallback string) {
	file := fallback
	if ident.SpectraFile != "" {
		file = trimExt(filepath.Base(ident.SpectraFile))
	}
	id := ident.Title
	if id == "" {
		id = ident.SpecID
	}
	key := file + "|" + id
	m, ok := im.spectra[key]
	if !ok {
		m = &identification.SpectrumMatch{
			Key:         key,
			File:        file,
			Title:       ident.Title,
			Assumptions: make(map[string][]*identification.Assumption),
		}
		im.spectra[key] = m
	}
	advocate := ident.Advocate
	if advocate == "" {
		advocate = fallback
	}
	im.advocates[advocate] = true

	mods := make([]identification.Modification, len(ident.Mods))
	for i, mod := range ident.Mods {
		mods[i] = identification.Modification{Name: mod.Name, Mass: mod.Mass, Position: mod.Location}
	}
	m.Assumptions[advocate] = append(m.Assumptions[advocate], &identification.Assumption{
		Advocate:      advocate,
		Sequence:      ident.PepSeq,
		Modifications: mods,
		Charge:        ident.Charge,
		Accessions:    ident.Accessions,
		Decoy:         ident.Decoy || im.taggedDecoy(ident.Accessions),
		Rank:          ident.Rank,
		RawScore:      raw,
		Probability:   math.NaN(),
	})
}

// taggedDecoy reports whether all accessions carry a decoy tag.
func (im *Importer) taggedDecoy(accessions []string) bool {
	if len(accessions) == 0 {
		return false
	}
	for _, acc := range accessions {
		if !im.cfg.IsDecoyAccession(acc) {
			return false
		}
	}
	return true
}

// Finish orders the assumptions of every advocate by score and rank and
// adds the spectrum matches to store.
func (im *Importer) Finish(store identification.Store) Stats {
	keys := make([]string, 0, len(im.spectra))
	for k := range im.spectra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m := im.spectra[k]
		for _, list := range m.Assumptions {
			sort.SliceStable(list, func(i, j int) bool {
				if list[i].RawScore != list[j].RawScore {
					return list[i].RawScore < list[j].RawScore
				}
				return list[i].Rank < list[j].Rank
			})
		}
		store.AddSpectrumMatch(m)
	}
	im.stats.Spectra = len(keys)
	im.stats.Advocates = im.stats.Advocates[:0]
	for a := range im.advocates {
		im.stats.Advocates = append(im.stats.Advocates, a)
	}
	sort.Strings(im.stats.Advocates)
	im.log.Info("identifications imported",
		slog.Int("files", im.stats.Files),
		slog.Int("items", im.stats.Items),
		slog.Int("accepted", im.stats.Accepted),
		slog.Int("no_score", im.stats.NoScore),
		slog.Int("out_of_range", im.stats.OutOfRange),
		slog.Int("spectra", im.stats.Spectra),
		slog.String("advocates", strings.Join(im.stats.Advocates, ",")))
	return im.stats
}

// Descriptions returns the protein descriptions found in the imported files.
func (im *Importer) Descriptions() map[string]string {
	return im.descriptions
}

func trimExt(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
