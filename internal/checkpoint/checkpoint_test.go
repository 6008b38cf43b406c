package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMarkAndQueryStage(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), ".pipeline_checkpoint"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	done, _, err := c.StageDone(2)
	if err != nil {
		t.Fatalf("StageDone: %v", err)
	}
	if done {
		t.Fatal("stage 2 reported done before MarkStage")
	}

	if err := c.MarkStage(2, "abc123"); err != nil {
		t.Fatalf("MarkStage: %v", err)
	}
	done, hash, err := c.StageDone(2)
	if err != nil {
		t.Fatalf("StageDone: %v", err)
	}
	if !done || hash != "abc123" {
		t.Errorf("done=%v hash=%q, want done with abc123", done, hash)
	}

	// Re-marking overwrites.
	if err := c.MarkStage(2, "def456"); err != nil {
		t.Fatal(err)
	}
	_, hash, _ = c.StageDone(2)
	if hash != "def456" {
		t.Errorf("hash = %q after re-mark", hash)
	}
}

func TestCheckpointSurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".pipeline_checkpoint")
	c, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.MarkStage(1, "h1"); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	c2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer c2.Close()
	done, hash, err := c2.StageDone(1)
	if err != nil {
		t.Fatal(err)
	}
	if !done || hash != "h1" {
		t.Errorf("done=%v hash=%q after reopen", done, hash)
	}
}

func TestManifestHashStable(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.dat.gz")
	b := filepath.Join(dir, "b.dat.gz")
	if err := os.WriteFile(a, []byte("aaa"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("bbbb"), 0o644); err != nil {
		t.Fatal(err)
	}

	h1 := ManifestHash([]string{a, b})
	h2 := ManifestHash([]string{a, b})
	if h1 != h2 {
		t.Errorf("hash not stable: %q vs %q", h1, h2)
	}
	if ManifestHash([]string{b, a}) == h1 {
		t.Error("hash should depend on file order")
	}
	if err := os.WriteFile(a, []byte("aaaa"), 0o644); err != nil {
		t.Fatal(err)
	}
	if ManifestHash([]string{a, b}) == h1 {
		t.Error("hash should depend on file size")
	}
}
