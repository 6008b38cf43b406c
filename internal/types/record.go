package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Record is one parsed annotation entry. Immutable once emitted by a
// parser; the loader consumes it row by row.
type Record struct {
	Accession   string
	Description string
	Organism    string
	ECNumbers   []string
	OrthologIDs []string
	SeqLength   int
	Source      Source
}

const tabColumns = 7

// TabLine renders the record as one tab-separated table row. Embedded tabs
// and newlines in free-text fields are flattened to spaces so the row stays
// a single line.
func (r Record) TabLine() string {
	cols := [tabColumns]string{
		sanitize(r.Accession),
		sanitize(r.Description),
		sanitize(r.Organism),
		strings.Join(r.ECNumbers, ","),
		strings.Join(r.OrthologIDs, ","),
		strconv.Itoa(r.SeqLength),
		string(r.Source),
	}
	return strings.Join(cols[:], "\t")
}

// ParseTabLine is the inverse of TabLine.
func ParseTabLine(line string) (Record, error) {
	cols := strings.Split(line, "\t")
	if len(cols) != tabColumns {
		return Record{}, fmt.Errorf("table row: want %d columns, got %d", tabColumns, len(cols))
	}
	n, err := strconv.Atoi(cols[5])
	if err != nil {
		return Record{}, fmt.Errorf("table row: sequence length %q: %w", cols[5], err)
	}
	src := Source(cols[6])
	if !src.Valid() {
		return Record{}, fmt.Errorf("table row: unknown source %q", cols[6])
	}
	return Record{
		Accession:   cols[0],
		Description: cols[1],
		Organism:    cols[2],
		ECNumbers:   splitList(cols[3]),
		OrthologIDs: splitList(cols[4]),
		SeqLength:   n,
		Source:      src,
	}, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func sanitize(s string) string {
	if !strings.ContainsAny(s, "\t\n") {
		return s
	}
	s = strings.ReplaceAll(s, "\t", " ")
	return strings.ReplaceAll(s, "\n", " ")
}
