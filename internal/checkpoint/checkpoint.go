// Package checkpoint records which pipeline stages have completed, beside
// the build outputs. The caller-supplied --step stays authoritative; the
// checkpoint exists so a resume can be sanity-checked instead of blindly
// trusted.
package checkpoint

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
)

type Checkpoint struct {
	db *badger.DB
}

// Open opens (creating if needed) the checkpoint store in dir.
func Open(dir string) (*Checkpoint, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	return &Checkpoint{db: db}, nil
}

func (c *Checkpoint) Close() error { return c.db.Close() }

func stageKey(stage int) []byte {
	return []byte(fmt.Sprintf("stage:%d", stage))
}

// MarkStage records a stage as completed together with the input manifest
// hash it ran over.
func (c *Checkpoint) MarkStage(stage int, manifestHash string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stageKey(stage), []byte(manifestHash))
	})
}

// StageDone reports whether a stage has a completion record, returning the
// manifest hash it was recorded with.
func (c *Checkpoint) StageDone(stage int) (bool, string, error) {
	var hash string
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(stageKey(stage))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			hash = string(v)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	return true, hash, nil
}

// ManifestHash fingerprints an ordered input file list by name and size.
// Unstatable entries contribute their name only, so the hash stays defined
// even when inputs have since been cleaned up.
func ManifestHash(files []string) string {
	h := fnv.New64a()
	for _, f := range files {
		_, _ = h.Write([]byte(filepath.Base(f)))
		if st, err := os.Stat(f); err == nil {
			_, _ = fmt.Fprintf(h, ":%d", st.Size())
		}
		_, _ = h.Write([]byte{'\n'})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
