package types

import "path/filepath"

// Source identifies the reference dataset a record was parsed from.
type Source string

const (
	SourceSwissProt Source = "swissprot"
	SourceTrembl    Source = "trembl"
	SourceRefSeq    Source = "refseq"
)

// AllSources lists the sources in pipeline order.
var AllSources = []Source{SourceSwissProt, SourceTrembl, SourceRefSeq}

// ActiveSources returns the sources a build processes. Light builds keep
// only SwissProt; every stage prunes its work from this list.
func ActiveSources(light bool) []Source {
	if light {
		return []Source{SourceSwissProt}
	}
	return AllSources
}

func (s Source) Valid() bool {
	switch s {
	case SourceSwissProt, SourceTrembl, SourceRefSeq:
		return true
	}
	return false
}

// GenBankDomains are the refseq subtrees, in the fixed order the parse
// stage walks them.
var GenBankDomains = []string{"viral", "bacteria", "archaea"}

// Layout maps the build's output directory to the fixed on-disk contract
// shared with the downloader and the external protein-db tools. It is
// threaded explicitly through every stage; there is no ambient working-dir
// state.
type Layout struct {
	Root string
}

func (l Layout) ProteinDBDir() string   { return filepath.Join(l.Root, "01.Protein_DB") }
func (l Layout) TempDatDir() string     { return filepath.Join(l.Root, "02.temp_dat_files") }
func (l Layout) TempGenBankDir() string { return filepath.Join(l.Root, "02.temp_genbank") }
func (l Layout) StorePath() string      { return filepath.Join(l.Root, "02.MicrobeAnnotator.db") }
func (l Layout) CheckpointDir() string  { return filepath.Join(l.Root, ".pipeline_checkpoint") }

// TablePath returns the merged Annotation Table path for a source.
func (l Layout) TablePath(src Source) string {
	switch src {
	case SourceSwissProt:
		return filepath.Join(l.Root, "02.uniprot_sprot.table")
	case SourceTrembl:
		return filepath.Join(l.Root, "02.uniprot_trembl.table")
	default:
		return filepath.Join(l.Root, "02.refseq.table")
	}
}

// ManifestPath returns the merge manifest written next to a table.
func (l Layout) ManifestPath(src Source) string {
	return l.TablePath(src) + ".manifest.json"
}

// ParseParams drives one source's parallel parse.
type ParseParams struct {
	Source  Source
	Files   []string // ordered input file list; partition is derived from this order
	Workers int
	TempDir string // where worker shards are written
}

// ShardInfo describes one worker's finished shard. Index is the worker's
// position in the deterministic partition, which fixes merge order.
type ShardInfo struct {
	Index     int
	Path      string
	Rows      uint64
	Malformed uint64
}

// ParseResult is the coordinator's barrier output: every shard, in index
// order, plus aggregate counts.
type ParseResult struct {
	Shards    []ShardInfo
	Rows      uint64
	Malformed uint64
}

// MergeStats summarizes a completed shard merge.
type MergeStats struct {
	Rows uint64
}

// LoadStats summarizes a committed table load.
type LoadStats struct {
	Rows uint64
}
