// Package parser turns UniProt-dat and GenBank flat-file streams into
// annotation records. Parsers are streaming and single-pass: a restart
// re-reads from the start of the same file. Malformed stanzas are counted
// and skipped, never fatal.
package parser

import (
	"context"
	"io"

	"github.com/yourorg/microbe-annotator/internal/types"
)

// Stats reports one parse pass over a single stream.
type Stats struct {
	Records   uint64
	Malformed uint64
}

// EmitFunc receives each record as it is completed. Returning an error
// aborts the parse and propagates the error.
type EmitFunc func(types.Record) error

// Parse dispatches to the grammar for the source: GenBank for refseq,
// UniProt-dat otherwise.
func Parse(ctx context.Context, r io.Reader, src types.Source, emit EmitFunc) (Stats, error) {
	if src == types.SourceRefSeq {
		return ParseGenBank(ctx, r, emit)
	}
	return ParseUniProt(ctx, r, src, emit)
}

// scanner buffer sizing: annotation lines are short, but sequence data and
// long DE/DEFINITION blocks can produce lines well past bufio's default.
const (
	scanBufInit = 64 * 1024
	scanBufMax  = 4 * 1024 * 1024
)
