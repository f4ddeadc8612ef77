package mzidentml

import (
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"golang.org/x/net/html/charset"
)

// CV accessions used while reading
const (
	cvSpectrumTitle      = "MS:1000796"
	cvProteinDescription = "MS:1001088"
)

// Read reads mzIdentML content from io.reader
func Read(reader io.Reader) (MzIdentML, error) {
	var mzIdentML MzIdentML
	d := xml.NewDecoder(reader)
	d.CharsetReader = charset.NewReaderLabel
	err := d.Decode(&mzIdentML.content)
	if err != nil {
		return mzIdentML, err
	}
	mzIdentML.buildIndexes()
	mzIdentML.buildAdvocates()
	mzIdentML.buildIdentList()
	return mzIdentML, nil
}

func (m *MzIdentML) buildIndexes() {
	m.pepID2Idx = make(map[string]int, len(m.content.Peptide))
	for i, p := range m.content.Peptide {
		m.pepID2Idx[p.ID] = i
	}
	m.evidenceID2Idx = make(map[string]int, len(m.content.PeptideEvidence))
	for i, e := range m.content.PeptideEvidence {
		m.evidenceID2Idx[e.ID] = i
	}
	m.dbSeqID2Idx = make(map[string]int, len(m.content.DBSequence))
	for i, s := range m.content.DBSequence {
		m.dbSeqID2Idx[s.ID] = i
	}
	m.spectraFile = make(map[string]string, len(m.content.SpectraData))
	for _, s := range m.content.SpectraData {
		if s.Location != "" {
			m.spectraFile[s.ID] = s.Location
		} else {
			m.spectraFile[s.ID] = s.Name
		}
	}
}

// buildAdvocates resolves the software that produced each identification
// list: list -> SpectrumIdentification -> protocol -> AnalysisSoftware.
func (m *MzIdentML) buildAdvocates() {
	software := make(map[string]string, len(m.content.AnalysisSoftware))
	for _, s := range m.content.AnalysisSoftware {
		software[s.ID] = s.advocate()
	}
	protocol := make(map[string]string, len(m.content.SpectrumIdentificationProtocol))
	for _, p := range m.content.SpectrumIdentificationProtocol {
		protocol[p.ID] = software[p.SoftwareRef]
	}
	list := make(map[string]string)
	for _, si := range m.content.SpectrumIdentification {
		list[si.ListRef] = protocol[si.ProtocolRef]
	}
	m.listAdvocate = make([]string, len(m.content.SpectrumIdentificationList))
	for i, l := range m.content.SpectrumIdentificationList {
		m.listAdvocate[i] = list[l.ID]
		if m.listAdvocate[i] == "" && len(m.content.AnalysisSoftware) == 1 {
			m.listAdvocate[i] = m.content.AnalysisSoftware[0].advocate()
		}
	}
}

func (s analysisSoftware) advocate() string {
	for _, cv := range s.SoftwareName {
		if cv.Name != "" {
			return cv.Name
		}
	}
	for _, p := range s.SoftwareUser {
		if p.Name != "" {
			return p.Name
		}
	}
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

func (m *MzIdentML) buildIdentList() {
	for l := range m.content.SpectrumIdentificationList {
		results := m.content.SpectrumIdentificationList[l].SpectrumIdentificationResult
		for i := range results {
			for j := range results[i].SpectrumIdentificationItem {
				m.identList = append(m.identList, identRef{listIdx: l, specResultIdx: i, specItemIdx: j})
			}
		}
	}
}

// NumIdents returns the total number of identifications in the mzIdentML file
// Note that for some spectra, multiple identifications may be present
// The identifications can be accessed using the Ident() method, which takes
// an index as argument. The index runs from 0 to NumIdents()-1
func (m *MzIdentML) NumIdents() int {
	return len(m.identList)
}

// Advocates returns the names of the software that produced the
// identification lists, in file order without duplicates.
func (m *MzIdentML) Advocates() []string {
	var out []string
	seen := make(map[string]bool)
	for _, a := range m.listAdvocate {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}

// Descriptions returns the protein description of each accession that has
// one.
func (m *MzIdentML) Descriptions() map[string]string {
	out := make(map[string]string)
	for _, s := range m.content.DBSequence {
		for _, cv := range append(s.CvPar, s.UserPar...) {
			if cv.Accession == cvProteinDescription || cv.Name == "protein description" {
				out[s.Accession] = cv.Value
				break
			}
		}
	}
	return out
}

// Ident returns a spectrum identification from the mzIdentML file.
// Parameter i is the index of the identification to return. The index runs
// from 0 to NumIdents()-1
func (m *MzIdentML) Ident(i int) (Identification, error) {

	var ident Identification

	if i < 0 || i >= len(m.identList) {
		return ident, ErrInvalidIdentIndex
	}
	ref := m.identList[i]
	result := &m.content.SpectrumIdentificationList[ref.listIdx].SpectrumIdentificationResult[ref.specResultIdx]
	item := &result.SpectrumIdentificationItem[ref.specItemIdx]

	pepIdx, ok := m.pepID2Idx[item.PeptideRef]
	if !ok {
		return ident, fmt.Errorf("%w: %q", ErrUnknownPeptide, item.PeptideRef)
	}
	pep := &m.content.Peptide[pepIdx]
	ident.PepSeq = pep.PeptideSequence
	ident.PepID = pep.ID
	ident.Charge = item.ChargeState
	ident.Rank = item.Rank
	ident.Advocate = m.listAdvocate[ref.listIdx]
	for _, mod := range pep.Modification {
		ident.ModMass += mod.MonoisotopicMassDelta
		name := ""
		if len(mod.CvPar) > 0 {
			name = mod.CvPar[0].Name
		}
		ident.Mods = append(ident.Mods, Modification{Name: name, Mass: mod.MonoisotopicMassDelta, Location: mod.Location})
	}
	ident.SpecID = result.SpectrumID
	ident.SpectraFile = m.spectraFile[result.SpectraDataRef]

	ident.Accessions, ident.Decoy = m.evidence(item)

	ident.RetentionTime = float64(-1)
	prio := math.MaxInt32
	for _, cv := range result.CvPar {
		if cv.Accession == cvSpectrumTitle {
			ident.Title = cv.Value
			continue
		}
		// There are multiple CV terms that can be used to report the
		// retention time. In order of decreasing preference we use:
		// 1. MS:1000016 - scan start time
		// 2. MS:1000894 - retention time
		// 3. MS:1000826 - elution time
		// 4. MS:1001114 - retention time (deprecated)
		p := retentionTimePriority(cv.Accession)
		if p == 0 || p >= prio {
			continue
		}
		prio = p
		retentionTime, err := strconv.ParseFloat(cv.Value, 64)
		if err != nil {
			return ident, err
		}
		// Check if the retention time is in minutes, otherwise assume it's seconds
		if cv.UnitAccession == "UO:0000031" || cv.UnitAccession == "MS:1000038" {
			retentionTime *= 60
		}
		ident.RetentionTime = retentionTime
	}
	// Collect CV terms/values for the identification, the scores are in there
	ident.Cv = append(ident.Cv, item.CvPar...)
	ident.Cv = append(ident.Cv, item.UserPar...)

	return ident, nil
}

func retentionTimePriority(accession string) int {
	switch accession {
	case "MS:1000016":
		return 1
	case "MS:1000894":
		return 2
	case "MS:1000826":
		return 3
	case "MS:1001114":
		return 4
	}
	return 0
}

// evidence returns the sorted protein accessions of an item and whether all
// of its evidence is decoy. Without PeptideEvidenceRef elements, all
// evidence of the peptide is used.
func (m *MzIdentML) evidence(item *spectrumIdentificationItem) ([]string, bool) {
	var idx []int
	for _, r := range item.EvidenceRef {
		if i, ok := m.evidenceID2Idx[r.Ref]; ok {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		for i, e := range m.content.PeptideEvidence {
			if e.PeptideRef == item.PeptideRef {
				idx = append(idx, i)
			}
		}
	}
	seen := make(map[string]bool)
	var accessions []string
	decoy := len(idx) > 0
	for _, i := range idx {
		e := m.content.PeptideEvidence[i]
		decoy = decoy && e.IsDecoy
		acc := e.DBSeqRef
		if s, ok := m.dbSeqID2Idx[e.DBSeqRef]; ok && m.content.DBSequence[s].Accession != "" {
			acc = m.content.DBSequence[s].Accession
		}
		if !seen[acc] {
			seen[acc] = true
			accessions = append(accessions, acc)
		}
	}
	sort.Strings(accessions)
	return accessions, decoy
}
