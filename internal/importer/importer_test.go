package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/524D/mzvalid/internal/config"
	"github.com/524D/mzvalid/internal/identification"
)

type item struct {
	title    string
	seq      string
	acc      string
	decoy    string // isDecoy attribute, may be empty
	rank     int
	scoreAcc string
	score    string
}

// mzid renders a minimal mzIdentML document produced by software.
func mzid(software string, items []item) string {
	var seqs, results strings.Builder
	for i, it := range items {
		decoy := ""
		if it.decoy != "" {
			decoy = fmt.Sprintf(` isDecoy="%s"`, it.decoy)
		}
		fmt.Fprintf(&seqs, `<DBSequence id="DB%d" accession="%s"/>
<Peptide id="PEP%d"><PeptideSequence>%s</PeptideSequence></Peptide>
<PeptideEvidence id="PE%d" dBSequence_ref="DB%d" peptide_ref="PEP%d"%s/>
`, i, it.acc, i, it.seq, i, i, i, decoy)
		fmt.Fprintf(&results, `<SpectrumIdentificationResult id="R%d" spectrumID="index=%d" spectraData_ref="SD">
<SpectrumIdentificationItem id="I%d" rank="%d" chargeState="2" peptide_ref="PEP%d">
<PeptideEvidenceRef peptideEvidence_ref="PE%d"/>
<cvParam accession="%s" name="score" value="%s"/>
</SpectrumIdentificationItem>
<cvParam accession="MS:1000796" name="spectrum title" value="%s"/>
</SpectrumIdentificationResult>
`, i, i, i, it.rank, i, i, it.scoreAcc, it.score, it.title)
	}
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<MzIdentML>
<AnalysisSoftwareList><AnalysisSoftware id="AS"><SoftwareName><cvParam name="%s"/></SoftwareName></AnalysisSoftware></AnalysisSoftwareList>
<SequenceCollection>
%s</SequenceCollection>
<AnalysisCollection><SpectrumIdentification spectrumIdentificationProtocol_ref="SIP" spectrumIdentificationList_ref="SIL"/></AnalysisCollection>
<AnalysisProtocolCollection><SpectrumIdentificationProtocol id="SIP" analysisSoftware_ref="AS"/></AnalysisProtocolCollection>
<DataCollection>
<Inputs><SpectraData id="SD" location="/data/run1.mgf"/></Inputs>
<AnalysisData><SpectrumIdentificationList id="SIL">
%s</SpectrumIdentificationList></AnalysisData>
</DataCollection>
</MzIdentML>`, software, seqs.String(), results.String())
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestMergeAdvocates(t *testing.T) {
	dir := t.TempDir()
	comet := writeFile(t, dir, "comet.mzid", mzid("Comet", []item{
		{title: "run1.10.10.2", seq: "PEPTIDEK", acc: "P1", rank: 2, scoreAcc: "MS:1002257", score: "0.5"},
		{title: "run1.10.10.2", seq: "PEPTLDEK", acc: "P2", rank: 1, scoreAcc: "MS:1002257", score: "1e-4"},
		{title: "run1.11.11.2", seq: "KEDITPEP", acc: "DECOY_P1", rank: 1, scoreAcc: "MS:1002257", score: "0.01"},
		{title: "run1.12.12.2", seq: "AAAK", acc: "P3", rank: 1, scoreAcc: "MS:1002049", score: "120"},
	}))
	msgf := writeFile(t, dir, "msgf.mzid", mzid("MS-GF+", []item{
		{title: "run1.10.10.2", seq: "PEPTLDEK", acc: "P2", decoy: "false", rank: 1, scoreAcc: "MS:1002053", score: "2e-6"},
	}))

	im, err := New(config.Default(), nil)
	require.NoError(t, err)
	require.NoError(t, im.ReadFiles(context.Background(), []string{comet, msgf}, 2))
	store := identification.NewMemStore()
	stats := im.Finish(store)

	require.Equal(t, 2, stats.Files)
	require.Equal(t, 5, stats.Items)
	require.Equal(t, 4, stats.Accepted)
	require.Equal(t, 1, stats.NoScore)
	require.Equal(t, 2, stats.Spectra)
	require.Equal(t, []string{"Comet", "MS-GF+"}, stats.Advocates)

	m, err := store.SpectrumMatch("run1|run1.10.10.2")
	require.NoError(t, err)
	require.Equal(t, "run1", m.File)
	require.Equal(t, []string{"Comet", "MS-GF+"}, m.Advocates())
	comets := m.Assumptions["Comet"]
	require.Len(t, comets, 2)
	require.Equal(t, "PEPTLDEK", comets[0].Sequence)
	require.Equal(t, 1e-4, comets[0].RawScore)
	require.Equal(t, "PEPTIDEK", comets[1].Sequence)
	require.Equal(t, 2e-6, m.Assumptions["MS-GF+"][0].RawScore)
	require.Equal(t, []string{"P2"}, m.Assumptions["MS-GF+"][0].Accessions)

	d, err := store.SpectrumMatch("run1|run1.11.11.2")
	require.NoError(t, err)
	require.True(t, d.Assumptions["Comet"][0].Decoy)
	require.False(t, comets[0].Decoy)
}

func TestScoreRangeAndOrientation(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "x.mzid", mzid("Engine", []item{
		{title: "a", seq: "AAAK", acc: "P1", rank: 1, scoreAcc: "MS:1", score: "42"},
		{title: "b", seq: "CCCK", acc: "P1", rank: 1, scoreAcc: "MS:1", score: "3"},
	}))
	cfg := config.Default()
	cfg.Scores = "MS:1(10:)"
	cfg.HigherIsBetter = []string{"MS:1"}
	im, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, im.ReadFiles(context.Background(), []string{path}, 1))
	store := identification.NewMemStore()
	stats := im.Finish(store)
	require.Equal(t, 1, stats.Accepted)
	require.Equal(t, 1, stats.OutOfRange)

	m, err := store.SpectrumMatch("run1|a")
	require.NoError(t, err)
	require.Equal(t, -42.0, m.Assumptions["Engine"][0].RawScore)
}

func TestInvalidScoreValue(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "x.mzid", mzid("Engine", []item{
		{title: "a", seq: "AAAK", acc: "P1", rank: 1, scoreAcc: "MS:1002257", score: "n/a"},
	}))
	im, err := New(config.Default(), nil)
	require.NoError(t, err)
	require.ErrorIs(t, im.ReadFiles(context.Background(), []string{path}, 1), ErrInvalidScore)
}

func TestMissingFile(t *testing.T) {
	im, err := New(config.Default(), nil)
	require.NoError(t, err)
	err = im.ReadFiles(context.Background(), []string{filepath.Join(t.TempDir(), "missing.mzid")}, 1)
	require.ErrorIs(t, err, os.ErrNotExist)
}
