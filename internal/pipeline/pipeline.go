// Package pipeline sequences the four build stages (download, parse,
// load, build-protein-db) over the fixed on-disk layout. The resume
// cursor is the caller-supplied step: stages below it are assumed done and
// their artifacts are located on disk, never reconstructed from memory of
// a previous run.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/yourorg/microbe-annotator/internal/checkpoint"
	"github.com/yourorg/microbe-annotator/internal/coordinator"
	"github.com/yourorg/microbe-annotator/internal/download"
	"github.com/yourorg/microbe-annotator/internal/iopkg"
	"github.com/yourorg/microbe-annotator/internal/mergepkg"
	"github.com/yourorg/microbe-annotator/internal/proteindb"
	"github.com/yourorg/microbe-annotator/internal/store"
	"github.com/yourorg/microbe-annotator/internal/types"
)

const (
	StageDownload = 1
	StageParse    = 2
	StageLoad     = 3
	StageBuildDB  = 4
)

var stageNames = map[int]string{
	StageDownload: "download",
	StageParse:    "parse",
	StageLoad:     "load",
	StageBuildDB:  "build-protein-db",
}

type Config struct {
	Layout  types.Layout
	Method  proteindb.Method
	Threads int
	BinPath string
	Light   bool
	Step    int

	// Mirror overrides for the download stage; empty means the public
	// endpoints.
	UniProtBase string
	RefSeqBase  string

	// TableMirror is an optional file:// or s3:// destination each merged
	// table and manifest is copied to after the parse stage.
	TableMirror string

	Log *zap.Logger
}

type Controller struct {
	cfg Config
	log *zap.Logger
}

func New(cfg Config) (*Controller, error) {
	if cfg.Step == 0 {
		cfg.Step = StageDownload
	}
	if cfg.Step < StageDownload || cfg.Step > StageBuildDB {
		return nil, fmt.Errorf("invalid --step %d: must be between 1 and 4", cfg.Step)
	}
	if _, err := proteindb.ParseMethod(string(cfg.Method)); err != nil {
		return nil, err
	}
	if cfg.Threads < 1 {
		cfg.Threads = 1
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	return &Controller{cfg: cfg, log: cfg.Log}, nil
}

// Run executes stages cfg.Step..4 in order. Each stage checks its
// preconditions first; a failed check is a user error whose message names
// the --step to re-invoke.
func (c *Controller) Run(ctx context.Context) error {
	if err := os.MkdirAll(c.cfg.Layout.Root, 0o755); err != nil {
		return err
	}

	cp, err := checkpoint.Open(c.cfg.Layout.CheckpointDir())
	if err != nil {
		// The checkpoint is a hardening layer, not a precondition.
		c.log.Warn("checkpoint store unavailable; resume validation disabled", zap.Error(err))
		cp = nil
	} else {
		defer cp.Close()
	}

	for stage := c.cfg.Step; stage <= StageBuildDB; stage++ {
		if err := c.checkPreconditions(stage); err != nil {
			return err
		}
		if cp != nil && stage > StageDownload {
			done, _, cperr := cp.StageDone(stage - 1)
			if cperr == nil && !done {
				c.log.Warn("no completion record for the previous stage; trusting --step",
					zap.Int("stage", stage),
					zap.String("previous", stageNames[stage-1]))
			}
		}

		c.log.Info("stage starting", zap.Int("step", stage), zap.String("stage", stageNames[stage]))
		hash, err := c.runStage(ctx, stage)
		if err != nil {
			return fmt.Errorf("stage %d (%s): %w; fix the cause and re-invoke with --step %d",
				stage, stageNames[stage], err, stage)
		}
		if cp != nil {
			if err := cp.MarkStage(stage, hash); err != nil {
				c.log.Warn("stage completion not recorded", zap.Int("stage", stage), zap.Error(err))
			}
		}
		c.log.Info("stage complete", zap.Int("step", stage), zap.String("stage", stageNames[stage]))
	}
	c.log.Info("annotation database build complete", zap.String("store", c.cfg.Layout.StorePath()))
	return nil
}

func (c *Controller) runStage(ctx context.Context, stage int) (string, error) {
	switch stage {
	case StageDownload:
		return "", download.Run(ctx, download.Config{
			Layout:      c.cfg.Layout,
			UniProtBase: c.cfg.UniProtBase,
			RefSeqBase:  c.cfg.RefSeqBase,
			Light:       c.cfg.Light,
			Log:         c.log,
		})
	case StageParse:
		return c.runParse(ctx)
	case StageLoad:
		return "", c.runLoad(ctx)
	case StageBuildDB:
		return "", proteindb.Build(ctx, proteindb.Config{
			Method:   c.cfg.Method,
			FastaDir: c.cfg.Layout.ProteinDBDir(),
			BinPath:  c.cfg.BinPath,
			Threads:  c.cfg.Threads,
			Log:      c.log,
		})
	default:
		return "", fmt.Errorf("unknown stage %d", stage)
	}
}

// runParse runs the parallel parse and merge per active source, then
// reclaims the temp input trees. The refseq table is confirmed on disk
// before 02.temp_genbank is removed.
func (c *Controller) runParse(ctx context.Context) (string, error) {
	coord := coordinator.New(c.log)
	var allInputs []string

	for _, src := range types.ActiveSources(c.cfg.Light) {
		files, err := c.inputFiles(src)
		if err != nil {
			return "", err
		}
		allInputs = append(allInputs, files...)

		res, err := coord.Run(ctx, types.ParseParams{
			Source:  src,
			Files:   files,
			Workers: c.cfg.Threads,
			TempDir: c.cfg.Layout.Root,
		})
		if err != nil {
			return "", err
		}
		if _, err := mergepkg.Merge(res.Shards, src, c.cfg.Layout.TablePath(src), c.cfg.Layout.ManifestPath(src), c.log); err != nil {
			return "", err
		}
		if c.cfg.TableMirror != "" {
			if err := c.mirrorTable(ctx, src); err != nil {
				return "", err
			}
		}
	}

	hash := checkpoint.ManifestHash(allInputs)
	if err := os.RemoveAll(c.cfg.Layout.TempDatDir()); err != nil {
		c.log.Warn("temp dat files not removed", zap.Error(err))
	}
	if !c.cfg.Light {
		if err := os.RemoveAll(c.cfg.Layout.TempGenBankDir()); err != nil {
			c.log.Warn("temp genbank files not removed", zap.Error(err))
		}
	}
	return hash, nil
}

// mirrorTable copies a source's merged table and manifest to the configured
// mirror destination. The manifest write is warn-only at merge time, so a
// missing manifest is skipped rather than failed.
func (c *Controller) mirrorTable(ctx context.Context, src types.Source) error {
	base := strings.TrimSuffix(c.cfg.TableMirror, "/")
	for _, p := range []string{c.cfg.Layout.TablePath(src), c.cfg.Layout.ManifestPath(src)} {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		dst := base + "/" + filepath.Base(p)
		if err := copyToURI(ctx, p, dst); err != nil {
			return fmt.Errorf("mirror %s: %w", p, err)
		}
		c.log.Info("table mirrored", zap.String("from", p), zap.String("to", dst))
	}
	return nil
}

func copyToURI(ctx context.Context, path, uri string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w, closer, err := iopkg.CreateWriter(ctx, uri)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, f); err != nil {
		_ = closer.Close()
		return err
	}
	return closer.Close()
}

func (c *Controller) runLoad(ctx context.Context) error {
	s, err := store.Open(c.cfg.Layout.StorePath(), c.log)
	if err != nil {
		return err
	}
	defer s.Close()

	for _, src := range types.ActiveSources(c.cfg.Light) {
		if _, err := s.LoadTable(ctx, src, c.cfg.Layout.TablePath(src)); err != nil {
			return err
		}
	}
	return nil
}

// inputFiles reconstructs a source's ordered input list from disk, so a
// resumed parse sees exactly what a fresh run would.
func (c *Controller) inputFiles(src types.Source) ([]string, error) {
	l := c.cfg.Layout
	var files []string
	switch src {
	case types.SourceSwissProt, types.SourceTrembl:
		stem := "uniprot_sprot"
		if src == types.SourceTrembl {
			stem = "uniprot_trembl"
		}
		m, err := filepath.Glob(filepath.Join(l.TempDatDir(), stem+"*.dat*"))
		if err != nil {
			return nil, err
		}
		sort.Strings(m)
		files = m
	case types.SourceRefSeq:
		// Fixed domain order, sorted within each domain: the same order
		// every run, independent of download completion order.
		for _, domain := range types.GenBankDomains {
			m, err := filepath.Glob(filepath.Join(l.TempGenBankDir(), domain, "*.gpff*"))
			if err != nil {
				return nil, err
			}
			sort.Strings(m)
			files = append(files, m...)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no input files for %s: run the download first (--step 1)", src)
	}
	return files, nil
}

// checkPreconditions verifies the prior stages left their artifacts in the
// expected layout. It checks existence only: an invalid resume point is a
// user error, not a recoverable fault.
func (c *Controller) checkPreconditions(stage int) error {
	l := c.cfg.Layout
	switch stage {
	case StageParse:
		if _, err := os.Stat(l.TempDatDir()); err != nil {
			return fmt.Errorf("parse precondition: %s missing: run the download stage (--step 1)", l.TempDatDir())
		}
		if !c.cfg.Light {
			if _, err := os.Stat(l.TempGenBankDir()); err != nil {
				return fmt.Errorf("parse precondition: %s missing: run the download stage (--step 1)", l.TempGenBankDir())
			}
		}
	case StageLoad:
		for _, src := range types.ActiveSources(c.cfg.Light) {
			if _, err := os.Stat(l.TablePath(src)); err != nil {
				return fmt.Errorf("load precondition: %s missing: run the parse stage (--step 2)", l.TablePath(src))
			}
		}
	case StageBuildDB:
		if _, err := os.Stat(l.ProteinDBDir()); err != nil {
			return fmt.Errorf("build precondition: %s missing: run the download stage (--step 1)", l.ProteinDBDir())
		}
	}
	return nil
}
