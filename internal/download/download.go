// Package download is the acquisition glue in front of the pipeline core:
// it pulls the bulk source archives into the fixed on-disk layout the
// parse stage consumes. Sources are URI-addressed, so mirrors on s3:// or
// file:// work the same as the public ftp-over-https endpoints.
package download

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/yourorg/microbe-annotator/internal/iopkg"
	"github.com/yourorg/microbe-annotator/internal/types"
)

const (
	DefaultUniProtBase = "https://ftp.uniprot.org/pub/databases/uniprot/current_release/knowledgebase/complete"
	DefaultRefSeqBase  = "https://ftp.ncbi.nlm.nih.gov/refseq/release"
)

type Config struct {
	Layout      types.Layout
	UniProtBase string
	RefSeqBase  string
	Light       bool
	Log         *zap.Logger
}

func (c *Config) defaults() {
	if c.UniProtBase == "" {
		c.UniProtBase = DefaultUniProtBase
	}
	if c.RefSeqBase == "" {
		c.RefSeqBase = DefaultRefSeqBase
	}
	if c.Log == nil {
		c.Log = zap.NewNop()
	}
}

// Run executes the whole download stage: UniProt dat archives into
// 02.temp_dat_files/, the protein fastas the search tools are formatted
// from into 01.Protein_DB/, and (full builds only) the RefSeq GenBank
// subtrees into 02.temp_genbank/{viral,bacteria,archaea}/ plus the
// release marker under 01.Protein_DB/.
func Run(ctx context.Context, cfg Config) error {
	cfg.defaults()
	l := cfg.Layout
	for _, dir := range []string{l.ProteinDBDir(), l.TempDatDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	datNames := []string{"uniprot_sprot.dat.gz"}
	if !cfg.Light {
		datNames = append(datNames, "uniprot_trembl.dat.gz")
	}
	for _, name := range datNames {
		dst := filepath.Join(l.TempDatDir(), name)
		cfg.Log.Info("downloading", zap.String("archive", name))
		if err := fetchFile(ctx, cfg.UniProtBase+"/"+name, dst); err != nil {
			return fmt.Errorf("download %s: %w", name, err)
		}
	}

	fastaNames := []string{"uniprot_sprot.fasta.gz"}
	if !cfg.Light {
		fastaNames = append(fastaNames, "uniprot_trembl.fasta.gz")
	}
	for _, name := range fastaNames {
		dst := filepath.Join(l.ProteinDBDir(), strings.TrimSuffix(name, ".gz"))
		cfg.Log.Info("downloading", zap.String("archive", name))
		if err := fetchDecoded(ctx, cfg.UniProtBase+"/"+name, dst); err != nil {
			return fmt.Errorf("download %s: %w", name, err)
		}
	}
	if cfg.Light {
		return nil
	}

	if err := writeReleaseMarker(ctx, cfg); err != nil {
		// The marker is informational; a mirror without RELEASE_NUMBER
		// should not fail the build.
		cfg.Log.Warn("refseq release marker not written", zap.Error(err))
	}

	for _, domain := range types.GenBankDomains {
		dir := filepath.Join(l.TempGenBankDir(), domain)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		names, err := listGenBank(ctx, cfg.RefSeqBase+"/"+domain+"/")
		if err != nil {
			return fmt.Errorf("list refseq %s: %w", domain, err)
		}
		cfg.Log.Info("downloading genbank archives",
			zap.String("domain", domain), zap.Int("files", len(names)))
		for _, name := range names {
			dst := filepath.Join(dir, path.Base(name))
			if err := fetchFile(ctx, cfg.RefSeqBase+"/"+domain+"/"+name, dst); err != nil {
				return fmt.Errorf("download refseq %s/%s: %w", domain, name, err)
			}
		}
	}
	return buildRefSeqFasta(ctx, cfg)
}

// buildRefSeqFasta gunzip-merges every domain's protein fasta archives into
// the single refseq_protein.fasta the protein-db stage formats.
func buildRefSeqFasta(ctx context.Context, cfg Config) error {
	dst := filepath.Join(cfg.Layout.ProteinDBDir(), "refseq_protein.fasta")
	part := dst + ".part"
	w, closer, err := iopkg.Create(part)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = closer.Close()
			_ = os.Remove(part)
		}
	}()

	bw := bufio.NewWriterSize(w, 1<<20)
	for _, domain := range types.GenBankDomains {
		base := cfg.RefSeqBase + "/" + domain + "/"
		names, err := listFasta(ctx, base)
		if err != nil {
			return fmt.Errorf("list refseq fasta %s: %w", domain, err)
		}
		cfg.Log.Info("merging protein fasta archives",
			zap.String("domain", domain), zap.Int("files", len(names)))
		for _, name := range names {
			if err := appendDecoded(ctx, base+name, bw); err != nil {
				return fmt.Errorf("refseq fasta %s/%s: %w", domain, name, err)
			}
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := closer.Close(); err != nil {
		return err
	}
	if err := os.Rename(part, dst); err != nil {
		return err
	}
	committed = true
	return nil
}

// appendDecoded streams one gzip archive, decompressed, onto w.
func appendDecoded(ctx context.Context, uri string, w io.Writer) error {
	rc, err := iopkg.OpenDecoded(ctx, uri)
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(w, rc)
	return err
}

// fetchFile streams one URI into a local path via a .part rename, so an
// interrupted download never leaves a truncated file under its final name.
func fetchFile(ctx context.Context, uri, dst string) error {
	rc, _, err := iopkg.Open(ctx, uri)
	if err != nil {
		return err
	}
	defer rc.Close()

	part := dst + ".part"
	w, closer, err := iopkg.Create(part)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, rc); err != nil {
		_ = closer.Close()
		_ = os.Remove(part)
		return err
	}
	if err := closer.Close(); err != nil {
		_ = os.Remove(part)
		return err
	}
	return os.Rename(part, dst)
}

// fetchDecoded streams one gzip archive into a plain local file via a .part
// rename.
func fetchDecoded(ctx context.Context, uri, dst string) error {
	rc, err := iopkg.OpenDecoded(ctx, uri)
	if err != nil {
		return err
	}
	defer rc.Close()

	part := dst + ".part"
	w, closer, err := iopkg.Create(part)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, rc); err != nil {
		_ = closer.Close()
		_ = os.Remove(part)
		return err
	}
	if err := closer.Close(); err != nil {
		_ = os.Remove(part)
		return err
	}
	return os.Rename(part, dst)
}

var (
	gpffHrefRe = regexp.MustCompile(`href="([^"/]+\.gpff\.gz)"`)
	faaHrefRe  = regexp.MustCompile(`href="([^"/]+\.protein\.faa\.gz)"`)
)

// listGenBank scrapes an http(s) directory index for protein GenBank
// archives (*.gpff.gz), returning names in index order.
func listGenBank(ctx context.Context, indexURI string) ([]string, error) {
	names, err := scrapeIndex(ctx, indexURI, gpffHrefRe)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no .gpff.gz entries at %s", indexURI)
	}
	return names, nil
}

// listFasta scrapes the same index for protein fasta archives
// (*.protein.faa.gz).
func listFasta(ctx context.Context, indexURI string) ([]string, error) {
	names, err := scrapeIndex(ctx, indexURI, faaHrefRe)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no .protein.faa.gz entries at %s", indexURI)
	}
	return names, nil
}

func scrapeIndex(ctx context.Context, indexURI string, re *regexp.Regexp) ([]string, error) {
	rc, _, err := iopkg.Open(ctx, indexURI)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var names []string
	seen := map[string]bool{}
	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		for _, m := range re.FindAllStringSubmatch(sc.Text(), -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				names = append(names, m[1])
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return names, nil
}

// writeReleaseMarker records the refseq release number the build was made
// from, in the same "Release number N" form the downstream tooling reads.
func writeReleaseMarker(ctx context.Context, cfg Config) error {
	rc, _, err := iopkg.Open(ctx, cfg.RefSeqBase+"/RELEASE_NUMBER")
	if err != nil {
		return err
	}
	defer rc.Close()
	b, err := io.ReadAll(io.LimitReader(rc, 64))
	if err != nil {
		return err
	}
	release := strings.TrimSpace(string(b))
	marker := filepath.Join(cfg.Layout.ProteinDBDir(), "refseq_release.txt")
	return os.WriteFile(marker, []byte(fmt.Sprintf("Release number %s", release)), 0o644)
}
