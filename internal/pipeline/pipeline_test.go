package pipeline

import (
	"compress/gzip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yourorg/microbe-annotator/internal/proteindb"
	"github.com/yourorg/microbe-annotator/internal/store"
	"github.com/yourorg/microbe-annotator/internal/types"
)

const wellFormedStanza = `AC   P12345;
DE   RecName: Full=Aspartate aminotransferase;
OS   Homo sapiens.
SQ   SEQUENCE   413 AA;  46248 MW;  ABC CRC64;
//
`

// Same accession, no description line: must still parse to a record.
const noDescriptionStanza = `AC   P12345;
OS   Homo sapiens.
SQ   SEQUENCE   413 AA;  46248 MW;  ABC CRC64;
//
`

const gpffEntry = `LOCUS       WP_000001   50 aa   linear   BCT 01-JAN-2020
DEFINITION  hypothetical protein [Escherichia coli].
VERSION     WP_000001.1
  ORGANISM  Escherichia coli
FEATURES             Location/Qualifiers
     CDS             1..50
                     /product="hypothetical protein"
                     /protein_id="WP_000001.1"
//
`

func gzWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	gw := gzip.NewWriter(f)
	if _, err := gw.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

// seedStage1 lays out the artifacts the download stage would have left.
func seedStage1(t *testing.T, layout types.Layout, light bool) {
	t.Helper()
	gzWrite(t, filepath.Join(layout.TempDatDir(), "uniprot_sprot.dat.gz"), wellFormedStanza+noDescriptionStanza)
	if !light {
		gzWrite(t, filepath.Join(layout.TempDatDir(), "uniprot_trembl.dat.gz"),
			"AC   A0A001;\nDE   SubName: Full=Uncharacterized protein;\nOS   Drosophila.\n//\n")
		for _, domain := range types.GenBankDomains {
			gzWrite(t, filepath.Join(layout.TempGenBankDir(), domain, domain+".1.protein.gpff.gz"),
				strings.ReplaceAll(gpffEntry, "WP_000001", "WP_"+domain))
		}
	}
	// Stage 1 also creates the protein-db folder.
	if err := os.MkdirAll(layout.ProteinDBDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(layout.ProteinDBDir(), "refseq_protein.fasta"), []byte(">p\nMA\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newController(t *testing.T, cfg Config) *Controller {
	t.Helper()
	if cfg.Method == "" {
		cfg.Method = proteindb.MethodSword
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{Step: 9, Method: proteindb.MethodSword}); err == nil {
		t.Error("expected error for step out of range")
	}
	_, err := New(Config{Step: 1, Method: proteindb.Method("usearch")})
	if !errors.Is(err, proteindb.ErrUnsupportedMethod) {
		t.Errorf("err = %v, want ErrUnsupportedMethod", err)
	}
}

func TestLoadPreconditionNamesResumeStep(t *testing.T) {
	layout := types.Layout{Root: t.TempDir()}
	c := newController(t, Config{Layout: layout, Step: StageLoad, Light: true})
	err := c.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "--step 2") {
		t.Fatalf("err = %v, want precondition error naming --step 2", err)
	}
}

// Running the parse stage alone over pre-existing stage-1 artifacts must
// produce the same table bytes regardless of worker count or run count.
func TestParseStageReproducible(t *testing.T) {
	tables := make([]string, 0, 3)
	for _, threads := range []int{1, 3, 3} {
		layout := types.Layout{Root: t.TempDir()}
		seedStage1(t, layout, false)
		c := newController(t, Config{Layout: layout, Step: StageParse, Threads: threads})
		if _, err := c.runParse(context.Background()); err != nil {
			t.Fatalf("runParse(threads=%d): %v", threads, err)
		}
		var all string
		for _, src := range types.AllSources {
			b, err := os.ReadFile(layout.TablePath(src))
			if err != nil {
				t.Fatalf("table %s: %v", src, err)
			}
			all += string(b) + "\x00"
		}
		tables = append(tables, all)
	}
	if tables[0] != tables[1] || tables[1] != tables[2] {
		t.Error("parse output differs across worker counts or runs")
	}
}

func TestParseStageCleansTempTrees(t *testing.T) {
	layout := types.Layout{Root: t.TempDir()}
	seedStage1(t, layout, false)
	c := newController(t, Config{Layout: layout, Step: StageParse, Threads: 2})
	if _, err := c.runParse(context.Background()); err != nil {
		t.Fatalf("runParse: %v", err)
	}
	if _, err := os.Stat(layout.TablePath(types.SourceRefSeq)); err != nil {
		t.Errorf("refseq table missing: %v", err)
	}
	if _, err := os.Stat(layout.TempGenBankDir()); !os.IsNotExist(err) {
		t.Errorf("temp genbank tree should be removed after merge: %v", err)
	}
	if _, err := os.Stat(layout.TempDatDir()); !os.IsNotExist(err) {
		t.Errorf("temp dat tree should be removed after merge: %v", err)
	}
}

func TestRunFromParseLightEndToEnd(t *testing.T) {
	ctx := context.Background()
	layout := types.Layout{Root: t.TempDir()}
	seedStage1(t, layout, true)

	c := newController(t, Config{Layout: layout, Step: StageParse, Light: true, Threads: 2})
	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Light mode must never create trembl/refseq artifacts.
	for _, src := range []types.Source{types.SourceTrembl, types.SourceRefSeq} {
		if _, err := os.Stat(layout.TablePath(src)); !os.IsNotExist(err) {
			t.Errorf("%s table created in light mode: %v", src, err)
		}
	}
	// The loaded table file is reclaimed post-commit.
	if _, err := os.Stat(layout.TablePath(types.SourceSwissProt)); !os.IsNotExist(err) {
		t.Errorf("swissprot table file should be deleted after load: %v", err)
	}

	s, err := store.Open(layout.StorePath(), nil)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer s.Close()

	for _, src := range []types.Source{types.SourceTrembl, types.SourceRefSeq} {
		if has, _ := s.HasTable(ctx, src); has {
			t.Errorf("store contains %s table in light mode", src)
		}
	}
	n, err := s.Count(ctx, types.SourceSwissProt)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("swissprot rows = %d, want 2 (both stanzas, one without description)", n)
	}
	rec, err := s.LookupAccession(ctx, types.SourceSwissProt, "P12345")
	if err != nil {
		t.Fatalf("LookupAccession: %v", err)
	}
	if rec.Accession != "P12345" || rec.Description != "Aspartate aminotransferase" {
		t.Errorf("record = %+v", rec)
	}
}

// With a table mirror configured, the parse stage copies each merged table
// and manifest to the destination, byte for byte.
func TestParseStageMirrorsTables(t *testing.T) {
	layout := types.Layout{Root: t.TempDir()}
	seedStage1(t, layout, true)
	mirror := t.TempDir()

	c := newController(t, Config{
		Layout:      layout,
		Step:        StageParse,
		Light:       true,
		TableMirror: "file://" + mirror,
	})
	if _, err := c.runParse(context.Background()); err != nil {
		t.Fatalf("runParse: %v", err)
	}

	orig, err := os.ReadFile(layout.TablePath(types.SourceSwissProt))
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	copied, err := os.ReadFile(filepath.Join(mirror, "02.uniprot_sprot.table"))
	if err != nil {
		t.Fatalf("mirrored table: %v", err)
	}
	if string(copied) != string(orig) {
		t.Error("mirrored table differs from local table")
	}
	if _, err := os.Stat(filepath.Join(mirror, "02.uniprot_sprot.table.manifest.json")); err != nil {
		t.Errorf("mirrored manifest missing: %v", err)
	}
}

func TestRunRecordsCheckpoints(t *testing.T) {
	layout := types.Layout{Root: t.TempDir()}
	seedStage1(t, layout, true)
	c := newController(t, Config{Layout: layout, Step: StageParse, Light: true})
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(layout.CheckpointDir()); err != nil {
		t.Errorf("checkpoint dir missing: %v", err)
	}
}

func TestInputFilesMissingNamesDownloadStep(t *testing.T) {
	layout := types.Layout{Root: t.TempDir()}
	if err := os.MkdirAll(layout.TempDatDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	c := newController(t, Config{Layout: layout, Step: StageParse, Light: true})
	_, err := c.inputFiles(types.SourceSwissProt)
	if err == nil || !strings.Contains(err.Error(), "--step 1") {
		t.Fatalf("err = %v, want missing-input error naming --step 1", err)
	}
}
