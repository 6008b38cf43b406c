// Package mergepkg concatenates worker shards into one Annotation Table.
// Shards are appended in shard-index order, never completion or directory
// order, so a table built by W workers is byte-identical to one built by a
// single worker over the same file list.
package mergepkg

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/microbe-annotator/internal/metrics"
	"github.com/yourorg/microbe-annotator/internal/types"
)

// Manifest is written next to each merged table and records how it was
// produced. It doubles as a human-readable audit trail for resumed builds.
type Manifest struct {
	Source    types.Source      `json:"source"`
	Output    string            `json:"output"`
	Rows      uint64            `json:"rows"`
	Malformed uint64            `json:"malformed"`
	Shards    []types.ShardInfo `json:"shards"`
	MergedAt  string            `json:"merged_at"`
}

// Merge appends the shards to outPath in index order and writes a manifest
// to manifestPath. The merge is append-only: no dedup, no reordering.
// Shards are deleted only after the table has been fully written, synced
// and renamed into place, so a failed merge can be retried from the same
// shards.
func Merge(shards []types.ShardInfo, src types.Source, outPath, manifestPath string, log *zap.Logger) (types.MergeStats, error) {
	if log == nil {
		log = zap.NewNop()
	}
	for i, s := range shards {
		if s.Index != i {
			return types.MergeStats{}, fmt.Errorf("merge %s: shard order broken: position %d holds index %d", src, i, s.Index)
		}
	}

	partial := outPath + ".partial"
	out, err := os.Create(partial)
	if err != nil {
		return types.MergeStats{}, err
	}
	bw := bufio.NewWriterSize(out, 1<<20)

	var rows, malformed uint64
	for _, s := range shards {
		n, err := appendShard(bw, s.Path)
		if err != nil {
			_ = out.Close()
			_ = os.Remove(partial)
			return types.MergeStats{}, fmt.Errorf("merge %s: shard %d: %w", src, s.Index, err)
		}
		rows += n
		malformed += s.Malformed
	}
	if err := bw.Flush(); err != nil {
		_ = out.Close()
		_ = os.Remove(partial)
		return types.MergeStats{}, err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		_ = os.Remove(partial)
		return types.MergeStats{}, err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(partial)
		return types.MergeStats{}, err
	}
	if err := os.Rename(partial, outPath); err != nil {
		_ = os.Remove(partial)
		return types.MergeStats{}, err
	}

	man := Manifest{
		Source:    src,
		Output:    outPath,
		Rows:      rows,
		Malformed: malformed,
		Shards:    shards,
		MergedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	mb, _ := json.MarshalIndent(man, "", "  ")
	if err := os.WriteFile(manifestPath, mb, 0o644); err != nil {
		log.Warn("merge manifest not written", zap.String("path", manifestPath), zap.Error(err))
	}

	// Table confirmed on disk; shards are safe to reclaim now.
	for _, s := range shards {
		if err := os.Remove(s.Path); err != nil {
			log.Warn("shard not removed", zap.String("path", s.Path), zap.Error(err))
		}
	}

	metrics.RowsMerged.Add(float64(rows))
	log.Info("shards merged",
		zap.String("source", string(src)),
		zap.Int("shards", len(shards)),
		zap.Uint64("rows", rows),
		zap.String("table", outPath))
	return types.MergeStats{Rows: rows}, nil
}

// appendShard copies one shard line-by-line, counting rows. The line walk
// keeps the row count exact even if a shard ends without a newline.
func appendShard(bw *bufio.Writer, path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var n uint64
	r := bufio.NewReaderSize(f, 1<<20)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			if line[len(line)-1] != '\n' {
				line = append(line, '\n')
			}
			if _, werr := bw.Write(line); werr != nil {
				return n, werr
			}
			n++
		}
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
	}
}
