// Command proteindb formats the protein fasta under <dir>/01.Protein_DB
// for a search tool on its own, without re-running the pipeline. It is the
// recovery entry point builddb names when --method is unsupported at the
// final stage.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/yourorg/microbe-annotator/internal/proteindb"
	"github.com/yourorg/microbe-annotator/internal/types"
)

func main() {
	var (
		dir     = flag.String("dir", "", "annotation database build directory (required)")
		method  = flag.String("method", "diamond", "search tool: blast|diamond|sword")
		threads = flag.Int("threads", 1, "tool threads where supported")
		binPath = flag.String("bin-path", "", "directory holding the search tool binaries")
	)
	flag.Parse()

	zl := newZap(getenv("LOG_LEVEL", "info"))
	defer func() { _ = zl.Sync() }()

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "proteindb: --dir is required")
		flag.Usage()
		os.Exit(2)
	}
	m, err := proteindb.ParseMethod(*method)
	if err != nil {
		zl.Error("invalid --method", zap.Error(err))
		os.Exit(1)
	}

	layout := types.Layout{Root: *dir}
	err = proteindb.Build(context.Background(), proteindb.Config{
		Method:   m,
		FastaDir: layout.ProteinDBDir(),
		BinPath:  *binPath,
		Threads:  *threads,
		Log:      zl,
	})
	if err != nil {
		zl.Error("protein database build failed", zap.Error(err))
		os.Exit(1)
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func newZap(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
