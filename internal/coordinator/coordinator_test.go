package coordinator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/yourorg/microbe-annotator/internal/mergepkg"
	"github.com/yourorg/microbe-annotator/internal/types"
)

func TestPartitionDeterministic(t *testing.T) {
	cases := []struct {
		n, workers int
		want       [][2]int
	}{
		{n: 0, workers: 4, want: nil},
		{n: 1, workers: 4, want: [][2]int{{0, 1}}},
		{n: 3, workers: 1, want: [][2]int{{0, 3}}},
		{n: 3, workers: 3, want: [][2]int{{0, 1}, {1, 2}, {2, 3}}},
		{n: 5, workers: 2, want: [][2]int{{0, 3}, {3, 5}}},
		{n: 7, workers: 3, want: [][2]int{{0, 3}, {3, 5}, {5, 7}}},
		{n: 2, workers: 0, want: [][2]int{{0, 2}}},
	}
	for _, c := range cases {
		got := Partition(c.n, c.workers)
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("Partition(%d,%d) = %v, want %v", c.n, c.workers, got, c.want)
		}
		// Re-running must reproduce the same assignment.
		again := Partition(c.n, c.workers)
		if !reflect.DeepEqual(got, again) {
			t.Errorf("Partition(%d,%d) not stable: %v then %v", c.n, c.workers, got, again)
		}
	}
}

func TestPartitionCoversEveryFileOnce(t *testing.T) {
	for n := 1; n <= 20; n++ {
		for w := 1; w <= 8; w++ {
			bounds := Partition(n, w)
			next := 0
			for _, b := range bounds {
				if b[0] != next {
					t.Fatalf("Partition(%d,%d): gap or overlap at %v", n, w, b)
				}
				if b[1] <= b[0] {
					t.Fatalf("Partition(%d,%d): empty slice %v", n, w, b)
				}
				next = b[1]
			}
			if next != n {
				t.Fatalf("Partition(%d,%d): covered %d files", n, w, next)
			}
		}
	}
}

func stanza(acc string) string {
	return fmt.Sprintf("AC   %s;\nDE   RecName: Full=Protein %s;\nOS   Escherichia coli.\nSQ   SEQUENCE   100 AA;  1 MW;  X CRC64;\n//\n", acc, acc)
}

func writeInputs(t *testing.T, dir string, perFile [][]string) []string {
	t.Helper()
	var files []string
	for i, accs := range perFile {
		var body string
		for _, a := range accs {
			body += stanza(a)
		}
		p := filepath.Join(dir, fmt.Sprintf("in-%02d.dat", i))
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		files = append(files, p)
	}
	return files
}

func mergeRun(t *testing.T, files []string, workers int) string {
	t.Helper()
	temp := t.TempDir()
	c := New(nil)
	res, err := c.Run(context.Background(), types.ParseParams{
		Source:  types.SourceSwissProt,
		Files:   files,
		Workers: workers,
		TempDir: temp,
	})
	if err != nil {
		t.Fatalf("Run(workers=%d): %v", workers, err)
	}
	out := filepath.Join(temp, "merged.table")
	if _, err := mergepkg.Merge(res.Shards, types.SourceSwissProt, out, out+".manifest.json", nil); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

// Merging shards from W workers must reproduce the single-worker row order
// exactly: the partition is derived from file-list order, not completion
// order.
func TestMergeOrderStableAcrossWorkerCounts(t *testing.T) {
	dir := t.TempDir()
	files := writeInputs(t, dir, [][]string{
		{"A00001", "A00002"},
		{"B00001"},
		{"C00001", "C00002", "C00003"},
		{"D00001"},
		{"E00001", "E00002"},
	})

	serial := mergeRun(t, files, 1)
	for _, w := range []int{2, 3, 5, 8} {
		if got := mergeRun(t, files, w); got != serial {
			t.Errorf("workers=%d produced different table content", w)
		}
	}
}

func TestRunFailsFastOnUnreadableFile(t *testing.T) {
	dir := t.TempDir()
	files := writeInputs(t, dir, [][]string{{"A00001"}, {"B00001"}})
	files = append(files, filepath.Join(dir, "does-not-exist.dat"))

	c := New(nil)
	_, err := c.Run(context.Background(), types.ParseParams{
		Source:  types.SourceSwissProt,
		Files:   files,
		Workers: 3,
		TempDir: t.TempDir(),
	})
	if err == nil {
		t.Fatal("expected worker failure to surface as a parse-stage error")
	}
}

func TestRunRejectsEmptyFileList(t *testing.T) {
	c := New(nil)
	if _, err := c.Run(context.Background(), types.ParseParams{Source: types.SourceSwissProt, TempDir: t.TempDir()}); err == nil {
		t.Fatal("expected error for empty file list")
	}
}

func TestShardPathsAreDisjoint(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 8; i++ {
		p := ShardPath("/tmp/x", types.SourceRefSeq, i)
		if seen[p] {
			t.Fatalf("duplicate shard path %q", p)
		}
		seen[p] = true
	}
}

func TestRunCountsMalformed(t *testing.T) {
	dir := t.TempDir()
	good := stanza("P12345")
	truncated := "AC   Q00001;\nDE   RecName: Full=Lost;\n" // no terminator
	p := filepath.Join(dir, "mixed.dat")
	if err := os.WriteFile(p, []byte(good+truncated), 0o644); err != nil {
		t.Fatal(err)
	}

	c := New(nil)
	res, err := c.Run(context.Background(), types.ParseParams{
		Source:  types.SourceSwissProt,
		Files:   []string{p},
		Workers: 1,
		TempDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Rows != 1 || res.Malformed != 1 {
		t.Errorf("result = %+v, want 1 row and 1 malformed", res)
	}
}
