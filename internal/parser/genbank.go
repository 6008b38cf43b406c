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

// ParseGenBank reads RefSeq protein GenBank records (.gpff streams) and
// emits one record per top-level entry. Entries end with a "//" line.
// Coding-sequence features are scanned for /product, /EC_number and
// /protein_id; the first value seen wins when a tag repeats within an
// entry. The accession is the /protein_id when present, otherwise the
// VERSION field.
func ParseGenBank(ctx context.Context, r io.Reader, emit EmitFunc) (Stats, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, scanBufInit), scanBufMax)

	var (
		st  Stats
		cur gbEntry
	)

	for sc.Scan() {
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		default:
		}
		line := sc.Text()
		if line == "//" {
			rec, ok := cur.finish()
			if ok {
				if err := emit(rec); err != nil {
					return st, err
				}
				st.Records++
			} else if cur.dirty {
				st.Malformed++
			}
			cur = gbEntry{}
			continue
		}
		cur.feed(line)
	}
	if err := sc.Err(); err != nil {
		return st, fmt.Errorf("genbank scan: %w", err)
	}
	if cur.dirty {
		st.Malformed++
	}
	return st, nil
}

// gbEntry accumulates one GenBank entry while its lines stream past.
type gbEntry struct {
	dirty      bool
	version    string
	proteinID  string
	definition strings.Builder
	inDef      bool
	organism   string
	length     int
	product    string
	ecNumbers  []string

	inFeatures bool
	qualName   string
	qualValue  strings.Builder
	qualOpen   bool
}

func (e *gbEntry) feed(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	e.dirty = true

	// Continuation of a multi-line qualifier value.
	if e.qualOpen {
		e.appendQualifier(strings.TrimSpace(line))
		return
	}

	switch {
	case strings.HasPrefix(line, "LOCUS"):
		e.inDef = false
		e.length = locusLength(line)
	case strings.HasPrefix(line, "DEFINITION"):
		e.inDef = true
		e.definition.WriteString(strings.TrimSpace(line[len("DEFINITION"):]))
	case strings.HasPrefix(line, "VERSION"):
		e.inDef = false
		if e.version == "" {
			f := strings.Fields(line)
			if len(f) > 1 {
				e.version = f[1]
			}
		}
	case strings.HasPrefix(line, "FEATURES"):
		e.inDef = false
		e.inFeatures = true
	case strings.HasPrefix(line, "ORIGIN"):
		e.inDef = false
		e.inFeatures = false
	case strings.HasPrefix(strings.TrimSpace(line), "ORGANISM"):
		e.inDef = false
		if e.organism == "" {
			e.organism = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "ORGANISM"))
		}
	case e.inFeatures && strings.HasPrefix(strings.TrimSpace(line), "/"):
		e.startQualifier(strings.TrimSpace(line))
	case e.inDef && strings.HasPrefix(line, " "):
		e.definition.WriteByte(' ')
		e.definition.WriteString(strings.TrimSpace(line))
	default:
		e.inDef = false
	}
}

// startQualifier handles a "/name=value" feature qualifier line; quoted
// values may continue across lines until the closing quote.
func (e *gbEntry) startQualifier(line string) {
	body := strings.TrimPrefix(line, "/")
	name, value, hasValue := strings.Cut(body, "=")
	if !hasValue {
		return
	}
	e.qualName = name
	e.qualValue.Reset()
	if strings.HasPrefix(value, `"`) {
		rest := value[1:]
		if closed := strings.HasSuffix(rest, `"`) && len(rest) > 0; closed {
			e.qualValue.WriteString(strings.TrimSuffix(rest, `"`))
			e.closeQualifier()
			return
		}
		e.qualValue.WriteString(rest)
		e.qualOpen = true
		return
	}
	e.qualValue.WriteString(value)
	e.closeQualifier()
}

func (e *gbEntry) appendQualifier(line string) {
	if e.qualValue.Len() > 0 {
		e.qualValue.WriteByte(' ')
	}
	if strings.HasSuffix(line, `"`) {
		e.qualValue.WriteString(strings.TrimSuffix(line, `"`))
		e.qualOpen = false
		e.closeQualifier()
		return
	}
	e.qualValue.WriteString(line)
}

// closeQualifier maps a completed qualifier into the entry; first value
// wins for repeated tags.
func (e *gbEntry) closeQualifier() {
	v := e.qualValue.String()
	switch e.qualName {
	case "product":
		if e.product == "" {
			e.product = v
		}
	case "EC_number":
		e.ecNumbers = appendUnique(e.ecNumbers, v)
	case "protein_id":
		if e.proteinID == "" {
			e.proteinID = v
		}
	}
	e.qualName = ""
	e.qualValue.Reset()
}

func (e *gbEntry) finish() (types.Record, bool) {
	acc := e.proteinID
	if acc == "" {
		acc = e.version
	}
	if acc == "" {
		return types.Record{}, false
	}
	desc := e.product
	if desc == "" {
		desc = strings.TrimSuffix(strings.TrimSpace(e.definition.String()), ".")
	}
	return types.Record{
		Accession:   acc,
		Description: desc,
		Organism:    e.organism,
		ECNumbers:   e.ecNumbers,
		SeqLength:   e.length,
		Source:      types.SourceRefSeq,
	}, true
}

// locusLength pulls the residue count out of a LOCUS line such as
// "LOCUS       WP_000002298     245 aa   linear   BCT 01-JAN-2020".
func locusLength(line string) int {
	f := strings.Fields(line)
	for i := 0; i+1 < len(f); i++ {
		if strings.EqualFold(f[i+1], "aa") {
			if n, err := strconv.Atoi(f[i]); err == nil {
				return n
			}
		}
	}
	return 0
}
