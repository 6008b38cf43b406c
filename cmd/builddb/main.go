// Command builddb builds the local protein annotation database: it
// downloads the bulk reference datasets, parses them in parallel into
// annotation tables, loads the tables into the SQLite store and formats
// the protein fasta for the chosen search tool.
//
// Usage:
//
//	builddb --dir ./out --method diamond --threads 8 [--light] [--step N]
//
// --step resumes a failed build: stages below it must have left their
// artifacts in --dir.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/yourorg/microbe-annotator/internal/metrics"
	"github.com/yourorg/microbe-annotator/internal/pipeline"
	"github.com/yourorg/microbe-annotator/internal/proteindb"
	"github.com/yourorg/microbe-annotator/internal/types"
)

func main() {
	var (
		dir     = flag.String("dir", "", "output directory for the annotation database build (required)")
		method  = flag.String("method", "diamond", "search tool to format the protein database for: blast|diamond|sword")
		threads = flag.Int("threads", 1, "parse workers")
		binPath = flag.String("bin-path", "", "directory holding the search tool binaries")
		light   = flag.Bool("light", false, "light build: SwissProt only, skip TrEMBL and RefSeq")
		step    = flag.Int("step", 1, "stage to resume from: 1=download 2=parse 3=load 4=build-protein-db")
		mirror  = flag.String("table-mirror", "", "optional file:// or s3:// destination to copy merged tables to")
	)
	flag.Parse()

	zl := newZap(getenv("LOG_LEVEL", "info"))
	defer func() { _ = zl.Sync() }()

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "builddb: --dir is required")
		flag.Usage()
		os.Exit(2)
	}

	metrics.Init()
	go func() {
		if err := metrics.Serve(metrics.AddrFromEnv()); err != nil {
			zl.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	m, err := proteindb.ParseMethod(*method)
	if err != nil {
		zl.Error("invalid --method", zap.Error(err))
		os.Exit(1)
	}

	ctrl, err := pipeline.New(pipeline.Config{
		Layout:      types.Layout{Root: *dir},
		Method:      m,
		Threads:     *threads,
		BinPath:     *binPath,
		Light:       *light,
		Step:        *step,
		UniProtBase: os.Getenv("MA_UNIPROT_MIRROR"),
		RefSeqBase:  os.Getenv("MA_REFSEQ_MIRROR"),
		TableMirror: *mirror,
		Log:         zl,
	})
	if err != nil {
		zl.Error("invalid configuration", zap.Error(err))
		os.Exit(1)
	}

	if err := ctrl.Run(context.Background()); err != nil {
		zl.Error("build failed", zap.Error(err))
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
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
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
