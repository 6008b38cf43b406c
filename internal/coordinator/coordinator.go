// Package coordinator fans a finite file list out across a fixed worker
// pool. Each worker parses its slice of the list and writes one private
// shard; the partition is a pure function of (file order, worker count) so
// shard contents and shard order reproduce across runs.
package coordinator

import (
	"bufio"
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/yourorg/microbe-annotator/internal/iopkg"
	"github.com/yourorg/microbe-annotator/internal/metrics"
	"github.com/yourorg/microbe-annotator/internal/parser"
	"github.com/yourorg/microbe-annotator/internal/types"
)

type Coordinator struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{log: log}
}

// Partition splits n files into at most workers contiguous slices and
// returns the [start,end) bounds per slice. Empty slices are elided, so
// every returned slice owns at least one file. The result depends only on
// (n, workers).
func Partition(n, workers int) [][2]int {
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}
	var out [][2]int
	if n == 0 {
		return out
	}
	base := n / workers
	rem := n % workers
	start := 0
	for i := 0; i < workers; i++ {
		size := base
		if i < rem {
			size++
		}
		out = append(out, [2]int{start, start + size})
		start += size
	}
	return out
}

// ShardPath names worker idx's private shard for a source. No two workers
// ever share a path.
func ShardPath(tempDir string, src types.Source, idx int) string {
	return filepath.Join(tempDir, fmt.Sprintf("%s.shard-%02d", src, idx))
}

// Run parses p.Files across p.Workers workers and blocks until every
// worker finishes (the merge barrier). Any worker error is fatal to the
// whole parse: a missing shard would silently under-populate the merged
// table, so there is no partial tolerance and no retry.
func (c *Coordinator) Run(ctx context.Context, p types.ParseParams) (types.ParseResult, error) {
	if len(p.Files) == 0 {
		return types.ParseResult{}, fmt.Errorf("parse %s: no input files", p.Source)
	}
	bounds := Partition(len(p.Files), p.Workers)
	shards := make([]types.ShardInfo, len(bounds))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	wg.Add(len(bounds))
	for i, b := range bounds {
		i, b := i, b
		go func() {
			defer wg.Done()
			info, err := c.runWorker(ctx, p, i, p.Files[b[0]:b[1]])
			if err != nil {
				fail(fmt.Errorf("worker %d (%s): %w", i, p.Source, err))
				return
			}
			shards[i] = info
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return types.ParseResult{}, firstErr
	}

	res := types.ParseResult{Shards: shards}
	for _, s := range shards {
		res.Rows += s.Rows
		res.Malformed += s.Malformed
	}
	c.log.Info("parse complete",
		zap.String("source", string(p.Source)),
		zap.Int("files", len(p.Files)),
		zap.Int("shards", len(shards)),
		zap.Uint64("records", res.Rows),
		zap.Uint64("malformed", res.Malformed))
	return res, nil
}

// runWorker parses one contiguous slice of the file list into one shard.
// Files are processed in list order so the shard's row order is the
// concatenation of its inputs' emission orders.
func (c *Coordinator) runWorker(ctx context.Context, p types.ParseParams, idx int, files []string) (types.ShardInfo, error) {
	path := ShardPath(p.TempDir, p.Source, idx)
	w, closer, err := iopkg.Create(path)
	if err != nil {
		return types.ShardInfo{}, err
	}
	bw := bufio.NewWriterSize(w, 1<<20)
	info := types.ShardInfo{Index: idx, Path: path}

	for _, f := range files {
		st, err := c.parseFile(ctx, f, p.Source, bw, &info)
		if err != nil {
			_ = closer.Close()
			return types.ShardInfo{}, fmt.Errorf("%s: %w", f, err)
		}
		info.Rows += st.Records
		info.Malformed += st.Malformed
	}

	if err := bw.Flush(); err != nil {
		_ = closer.Close()
		return types.ShardInfo{}, err
	}
	if err := closer.Close(); err != nil {
		return types.ShardInfo{}, err
	}
	return info, nil
}

func (c *Coordinator) parseFile(ctx context.Context, file string, src types.Source, bw *bufio.Writer, info *types.ShardInfo) (parser.Stats, error) {
	rc, err := iopkg.OpenDecoded(ctx, file)
	if err != nil {
		return parser.Stats{}, err
	}
	defer rc.Close()

	st, err := parser.Parse(ctx, rc, src, func(r types.Record) error {
		if _, err := bw.WriteString(r.TabLine()); err != nil {
			return err
		}
		return bw.WriteByte('\n')
	})
	if err != nil {
		return parser.Stats{}, err
	}
	metrics.RecordsParsed.Add(float64(st.Records))
	metrics.MalformedSkipped.Add(float64(st.Malformed))
	if st.Malformed > 0 {
		c.log.Warn("malformed records skipped",
			zap.String("file", file),
			zap.Uint64("skipped", st.Malformed))
	}
	return st, nil
}
