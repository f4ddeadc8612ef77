// Package fasta provides a streaming reader for protein FASTA files. Only
// headers are interpreted; sequences are skipped.
package fasta

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var ErrEmptyHeader = errors.New("fasta: empty header")

// Entry is the header of one protein.
type Entry struct {
	Accession   string
	Description string
}

// Reader provides streaming access to FASTA headers
type Reader struct {
	scanner *bufio.Scanner
	lineNum int
	current Entry
	err     error
}

// NewReader creates a new FASTA reader
func NewReader(r io.Reader) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &Reader{scanner: s}
}

// Next advances to the next protein. Returns false when no more proteins or error.
func (r *Reader) Next() bool {
	for r.scanner.Scan() {
		r.lineNum++
		line := strings.TrimSpace(r.scanner.Text())
		if !strings.HasPrefix(line, ">") {
			continue
		}
		e, err := ParseHeader(line[1:])
		if err != nil {
			r.err = fmt.Errorf("line %d: %w", r.lineNum, err)
			return false
		}
		r.current = e
		return true
	}
	r.err = r.scanner.Err()
	return false
}

// Entry returns the current protein
func (r *Reader) Entry() Entry {
	return r.current
}

// Err returns any error encountered during reading
func (r *Reader) Err() error {
	return r.err
}

// ParseHeader splits a header line (without '>') into accession and
// description. For UniProt headers like
// "sp|P68871|HBB_HUMAN Hemoglobin subunit beta OS=Homo sapiens OX=9606"
// the accession is the middle field and the description stops before the
// first key=value field.
func ParseHeader(header string) (Entry, error) {
	id, desc, _ := strings.Cut(strings.TrimSpace(header), " ")
	if id == "" {
		return Entry{}, ErrEmptyHeader
	}
	acc := id
	if parts := strings.Split(id, "|"); len(parts) >= 3 && (parts[0] == "sp" || parts[0] == "tr") {
		acc = parts[1]
	}
	if i := strings.Index(desc, " OS="); i >= 0 {
		desc = desc[:i]
	}
	return Entry{Accession: acc, Description: strings.TrimSpace(desc)}, nil
}

// ReadDescriptions returns the description of every protein in the file.
func ReadDescriptions(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string]string)
	r := NewReader(f)
	for r.Next() {
		e := r.Entry()
		out[e.Accession] = e.Description
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}
