package mzidentml

import (
	"encoding/xml"
	"errors"
)

// Types for parsing mzIdentML

// MzIdentML holds the parts of an mzIdentML file needed to rebuild peptide
// assumptions: peptides, protein evidence, the identifying software and the
// spectrum identification items.
type MzIdentML struct {
	pepID2Idx      map[string]int
	evidenceID2Idx map[string]int
	dbSeqID2Idx    map[string]int
	listAdvocate   []string // advocate per SpectrumIdentificationList
	spectraFile    map[string]string
	identList      []identRef
	content        mzIdentMLContent
}

type identRef struct {
	listIdx       int // Index into SpectrumIdentificationList
	specResultIdx int // Index into SpectrumIdentificationResult
	specItemIdx   int // Index into SpectrumIdentificationItem
}

// Modification is a modification of an identified peptide.
type Modification struct {
	Name     string
	Mass     float64
	Location int
}

// Identification is one spectrum identification item with the peptide and
// protein evidence it refers to.
type Identification struct {
	PepSeq        string
	PepID         string
	Charge        int
	Rank          int
	ModMass       float64
	Mods          []Modification
	SpecID        string
	Title         string
	SpectraFile   string
	RetentionTime float64
	Advocate      string
	Accessions    []string
	// All peptide evidence points to decoy sequences
	Decoy bool
	Cv    []CvParam
}

type mzIdentMLContent struct {
	XMLName                        xml.Name                         `xml:"MzIdentML"`
	AnalysisSoftware               []analysisSoftware               `xml:"AnalysisSoftwareList>AnalysisSoftware"`
	DBSequence                     []dbSequence                     `xml:"SequenceCollection>DBSequence"`
	Peptide                        []peptide                        `xml:"SequenceCollection>Peptide"`
	PeptideEvidence                []peptideEvidence                `xml:"SequenceCollection>PeptideEvidence"`
	SpectrumIdentification         []spectrumIdentification         `xml:"AnalysisCollection>SpectrumIdentification"`
	SpectrumIdentificationProtocol []spectrumIdentificationProtocol `xml:"AnalysisProtocolCollection>SpectrumIdentificationProtocol"`
	SpectraData                    []spectraData                    `xml:"DataCollection>Inputs>SpectraData"`
	SpectrumIdentificationList     []spectrumIdentificationList     `xml:"DataCollection>AnalysisData>SpectrumIdentificationList"`
}

type analysisSoftware struct {
	ID           string    `xml:"id,attr"`
	Name         string    `xml:"name,attr"`
	SoftwareName []CvParam `xml:"SoftwareName>cvParam"`
	SoftwareUser []CvParam `xml:"SoftwareName>userParam"`
}

type spectrumIdentificationProtocol struct {
	ID          string `xml:"id,attr"`
	SoftwareRef string `xml:"analysisSoftware_ref,attr"`
}

type spectrumIdentification struct {
	ProtocolRef string `xml:"spectrumIdentificationProtocol_ref,attr"`
	ListRef     string `xml:"spectrumIdentificationList_ref,attr"`
}

type spectraData struct {
	ID       string `xml:"id,attr"`
	Location string `xml:"location,attr"`
	Name     string `xml:"name,attr"`
}

type dbSequence struct {
	ID        string    `xml:"id,attr"`
	Accession string    `xml:"accession,attr"`
	CvPar     []CvParam `xml:"cvParam"`
	UserPar   []CvParam `xml:"userParam"`
}

type peptide struct {
	ID              string `xml:"id,attr"`
	PeptideSequence string
	Modification    []modification
}

type modification struct {
	// Note: monoisotopicMassDelta is optional according the the schema, but
	// appears to be no other way to determine mass shift, as other
	// corresponding cvParam's don't carry this info either
	MonoisotopicMassDelta float64   `xml:"monoisotopicMassDelta,attr"`
	Location              int       `xml:"location,attr"`
	CvPar                 []CvParam `xml:"cvParam"`
}

type peptideEvidence struct {
	ID         string `xml:"id,attr"`
	DBSeqRef   string `xml:"dBSequence_ref,attr"`
	PeptideRef string `xml:"peptide_ref,attr"`
	IsDecoy    bool   `xml:"isDecoy,attr"`
}

type spectrumIdentificationList struct {
	ID                           string                         `xml:"id,attr"`
	SpectrumIdentificationResult []spectrumIdentificationResult `xml:"SpectrumIdentificationResult"`
}

type spectrumIdentificationResult struct {
	SpectrumID                 string `xml:"spectrumID,attr"`
	SpectraDataRef             string `xml:"spectraData_ref,attr"`
	SpectrumIdentificationItem []spectrumIdentificationItem
	CvPar                      []CvParam `xml:"cvParam"`
}

type spectrumIdentificationItem struct {
	ChargeState int    `xml:"chargeState,attr"`
	PeptideRef  string `xml:"peptide_ref,attr"`
	Rank        int    `xml:"rank,attr"`
	EvidenceRef []struct {
		Ref string `xml:"peptideEvidence_ref,attr"`
	} `xml:"PeptideEvidenceRef"`
	CvPar   []CvParam `xml:"cvParam"`
	UserPar []CvParam `xml:"userParam"`
}

// CvParam is a controlled vocabulary or user parameter.
type CvParam struct {
	Accession     string `xml:"accession,attr"`
	Name          string `xml:"name,attr"`
	Value         string `xml:"value,attr"`
	UnitAccession string `xml:"unitAccession,attr"`
}

var (
	ErrInvalidIdentIndex = errors.New("mzIdentML: invalid identification index")
	ErrUnknownPeptide    = errors.New("mzIdentML: unknown peptide reference")
)
