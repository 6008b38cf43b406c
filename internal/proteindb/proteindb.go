// Package proteindb shells out to the third-party alignment-database
// builders over the merged fasta in 01.Protein_DB/. It is subprocess glue:
// the binaries themselves are external collaborators.
package proteindb

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Method selects the alignment tool the database is formatted for.
type Method string

const (
	MethodBlast   Method = "blast"
	MethodDiamond Method = "diamond"
	MethodSword   Method = "sword"
)

// ErrUnsupportedMethod is returned for a method this build cannot format
// for; the caller exits non-zero with the recovery hint attached.
var ErrUnsupportedMethod = errors.New("unsupported method")

// ParseMethod validates a --method value.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(s)) {
	case MethodBlast:
		return MethodBlast, nil
	case MethodDiamond:
		return MethodDiamond, nil
	case MethodSword:
		return MethodSword, nil
	default:
		return "", fmt.Errorf("%w %q: supported methods are blast, diamond and sword; "+
			"to build the protein database on its own, run cmd/proteindb", ErrUnsupportedMethod, s)
	}
}

type Config struct {
	Method   Method
	FastaDir string // 01.Protein_DB
	BinPath  string // optional directory holding the tool binaries
	Threads  int
	Log      *zap.Logger
}

// runCommand executes one external tool invocation; overridden in tests.
var runCommand = func(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Build formats the protein fasta for the chosen method. Sword aligns
// against plain fasta and needs no prebuilt index.
func Build(ctx context.Context, cfg Config) error {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if _, err := ParseMethod(string(cfg.Method)); err != nil {
		return err
	}

	fastas, err := findFasta(cfg.FastaDir)
	if err != nil {
		return err
	}
	if len(fastas) == 0 {
		return fmt.Errorf("no protein fasta found in %s: run the pipeline from --step 1", cfg.FastaDir)
	}

	if cfg.Method == MethodSword {
		cfg.Log.Info("sword searches plain fasta; no database formatting needed",
			zap.Strings("fasta", fastas))
		return nil
	}

	threads := cfg.Threads
	if threads < 1 {
		threads = 1
	}
	for _, fasta := range fastas {
		out := strings.TrimSuffix(fasta, filepath.Ext(fasta))
		var name string
		var args []string
		switch cfg.Method {
		case MethodBlast:
			name = tool(cfg.BinPath, "makeblastdb")
			args = []string{"-in", fasta, "-dbtype", "prot", "-out", out}
		case MethodDiamond:
			name = tool(cfg.BinPath, "diamond")
			args = []string{"makedb", "--in", fasta, "--db", out, "--threads", strconv.Itoa(threads)}
		}
		cfg.Log.Info("formatting protein database",
			zap.String("method", string(cfg.Method)),
			zap.String("fasta", fasta))
		if err := runCommand(ctx, name, args...); err != nil {
			return fmt.Errorf("format %s: %w", fasta, err)
		}
	}
	return nil
}

func tool(binPath, name string) string {
	if binPath == "" {
		return name
	}
	return filepath.Join(binPath, name)
}

func findFasta(dir string) ([]string, error) {
	var out []string
	for _, pat := range []string{"*.fasta", "*.faa"} {
		m, err := filepath.Glob(filepath.Join(dir, pat))
		if err != nil {
			return nil, err
		}
		out = append(out, m...)
	}
	sort.Strings(out)
	return out, nil
}
