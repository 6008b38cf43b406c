package parser

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/yourorg/microbe-annotator/internal/types"
)

// ParseUniProt reads UniProt flat records (SwissProt/TrEMBL .dat streams)
// and emits one record per stanza. Stanzas are delimited by a "//" line;
// fields are keyed by the two-character line code in columns 1-2 with the
// value starting at column 6.
//
// A stanza with no accession cannot be keyed and is skipped (counted in
// Stats.Malformed); a stanza missing description, organism or length is
// emitted with those fields empty.
func ParseUniProt(ctx context.Context, r io.Reader, src types.Source, emit EmitFunc) (Stats, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, scanBufInit), scanBufMax)

	var (
		st    Stats
		cur   types.Record
		dirty bool
	)
	cur.Source = src

	reset := func() {
		cur = types.Record{Source: src}
		dirty = false
	}

	for sc.Scan() {
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		default:
		}
		line := sc.Text()
		if line == "//" {
			if cur.Accession == "" {
				if dirty {
					st.Malformed++
				}
				reset()
				continue
			}
			if err := emit(cur); err != nil {
				return st, err
			}
			st.Records++
			reset()
			continue
		}
		if len(line) < 6 {
			continue
		}
		code, val := line[:2], strings.TrimSpace(line[5:])
		if val == "" {
			continue
		}
		dirty = true
		switch code {
		case "AC":
			if cur.Accession == "" {
				cur.Accession = firstField(val)
			}
		case "DE":
			if cur.Description == "" {
				if name, ok := deName(val); ok {
					cur.Description = name
				}
			}
			if ec, ok := deEC(val); ok {
				cur.ECNumbers = appendUnique(cur.ECNumbers, ec)
			}
		case "OS":
			if cur.Organism == "" {
				cur.Organism = strings.TrimSuffix(val, ".")
			}
		case "DR":
			if id, ok := crossRefID(val); ok {
				cur.OrthologIDs = appendUnique(cur.OrthologIDs, id)
			}
		case "SQ":
			if cur.SeqLength == 0 {
				cur.SeqLength = sqLength(val)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return st, fmt.Errorf("uniprot scan: %w", err)
	}
	// Trailing unterminated stanza: the terminator is the only reliable
	// record boundary, so treat the remnant as malformed.
	if dirty {
		st.Malformed++
	}
	return st, nil
}

// firstField cuts "P12345; Q67890;" down to "P12345".
func firstField(s string) string {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// deName extracts the protein name from "RecName: Full=...;" (reviewed
// entries) or "SubName: Full=...;" (TrEMBL submissions).
func deName(s string) (string, bool) {
	if !strings.HasPrefix(s, "RecName:") && !strings.HasPrefix(s, "SubName:") {
		return "", false
	}
	i := strings.Index(s, "Full=")
	if i < 0 {
		return "", false
	}
	return trimDEValue(s[i+len("Full="):]), true
}

// deEC extracts an EC number from a DE line such as "EC=2.6.1.1;" or
// "AltName: ... EC=1.1.1.1 {ECO:...};".
func deEC(s string) (string, bool) {
	i := strings.Index(s, "EC=")
	if i < 0 {
		return "", false
	}
	v := trimDEValue(s[i+len("EC="):])
	if v == "" {
		return "", false
	}
	return v, true
}

// trimDEValue cuts a DE field value at the terminating ';' and drops any
// trailing evidence block ("{ECO:...}").
func trimDEValue(s string) string {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	if i := strings.Index(s, " {"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// orthologDatabases are the DR cross-reference databases harvested into
// the ortholog/pathway identifier list.
var orthologDatabases = map[string]bool{
	"KO":         true,
	"KEGG":       true,
	"UniPathway": true,
}

// crossRefID parses a DR line value like "KO; K00812; -." and returns the
// identifier when the database is one we harvest.
func crossRefID(s string) (string, bool) {
	parts := strings.SplitN(s, ";", 3)
	if len(parts) < 2 {
		return "", false
	}
	db := strings.TrimSpace(parts[0])
	if !orthologDatabases[db] {
		return "", false
	}
	id := strings.TrimSpace(parts[1])
	id = strings.TrimSuffix(id, ".")
	if id == "" || id == "-" {
		return "", false
	}
	return id, true
}

// sqLength parses "SEQUENCE   245 AA;  26625 MW; ..." returning 0 when the
// line does not follow the expected shape.
func sqLength(s string) int {
	fields := strings.Fields(s)
	for i := 0; i+1 < len(fields); i++ {
		if strings.EqualFold(strings.TrimSuffix(fields[i+1], ";"), "AA") {
			if n, err := strconv.Atoi(fields[i]); err == nil {
				return n
			}
		}
	}
	return 0
}

func appendUnique(list []string, v string) []string {
	for _, have := range list {
		if have == v {
			return list
		}
	}
	return append(list, v)
}
