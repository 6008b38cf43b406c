// Package store persists merged annotation tables in a single SQLite
// database, one table per source, each indexed by accession. Loads are
// all-or-nothing: rows go into a staging table inside one transaction and
// the staging table is renamed over the live one at commit, so a failed
// load never leaves a partially populated table visible to queries.
package store

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/yourorg/microbe-annotator/internal/metrics"
	"github.com/yourorg/microbe-annotator/internal/types"
)

// ErrNotFound indicates no row matched the accession lookup.
var ErrNotFound = errors.New("not found")

type Store struct {
	db   *sql.DB
	path string
	log  *zap.Logger
}

// Open opens (creating if needed) the store database file.
func Open(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// The loader serializes all writes; a single connection keeps
	// transaction and DDL ordering trivial.
	db.SetMaxOpenConns(1)
	return &Store{db: db, path: path, log: log}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// LoadTable bulk-loads an Annotation Table file into the source's store
// table and indexes it by accession. The previous table (if any) stays
// queryable until the transaction commits; the source file is removed only
// after a confirmed commit, so a failed load can be retried from the still
// present table file.
func (s *Store) LoadTable(ctx context.Context, src types.Source, tablePath string) (st types.LoadStats, retErr error) {
	if !src.Valid() {
		return types.LoadStats{}, fmt.Errorf("load: unknown source %q", src)
	}
	f, err := os.Open(tablePath)
	if err != nil {
		return types.LoadStats{}, fmt.Errorf("load %s: %w", src, err)
	}
	defer f.Close()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.LoadStats{}, err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	staging := string(src) + "_staging"
	ddl := []string{
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, staging),
		fmt.Sprintf(`CREATE TABLE %s (
			accession TEXT NOT NULL,
			description TEXT,
			organism TEXT,
			ec_numbers TEXT,
			ortholog_ids TEXT,
			seq_length INTEGER,
			source TEXT NOT NULL
		)`, staging),
	}
	for _, q := range ddl {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			retErr = fmt.Errorf("load %s: %w", src, err)
			return types.LoadStats{}, retErr
		}
	}

	ins, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (accession, description, organism, ec_numbers, ortholog_ids, seq_length, source)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`, staging))
	if err != nil {
		retErr = err
		return types.LoadStats{}, retErr
	}
	defer ins.Close()

	var rows uint64
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		rec, err := types.ParseTabLine(line)
		if err != nil {
			retErr = fmt.Errorf("load %s row %d: %w", src, rows+1, err)
			return types.LoadStats{}, retErr
		}
		if _, err := ins.ExecContext(ctx,
			rec.Accession,
			rec.Description,
			rec.Organism,
			strings.Join(rec.ECNumbers, ","),
			strings.Join(rec.OrthologIDs, ","),
			rec.SeqLength,
			string(rec.Source),
		); err != nil {
			retErr = fmt.Errorf("load %s: insert: %w", src, err)
			return types.LoadStats{}, retErr
		}
		rows++
	}
	if err := sc.Err(); err != nil {
		retErr = fmt.Errorf("load %s: read table: %w", src, err)
		return types.LoadStats{}, retErr
	}

	// Swap staging over the live table and rebuild the accession index,
	// all inside the same transaction.
	swap := []string{
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, src),
		fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, staging, src),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_accession ON %s (accession)`, src, src),
	}
	for _, q := range swap {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			retErr = fmt.Errorf("load %s: swap: %w", src, err)
			return types.LoadStats{}, retErr
		}
	}
	if err := tx.Commit(); err != nil {
		retErr = err
		return types.LoadStats{}, retErr
	}

	// Committed: reclaim the table file.
	_ = f.Close()
	if err := os.Remove(tablePath); err != nil {
		s.log.Warn("annotation table not removed after load", zap.String("path", tablePath), zap.Error(err))
	}

	metrics.RowsLoaded.Add(float64(rows))
	s.log.Info("table loaded",
		zap.String("source", string(src)),
		zap.Uint64("rows", rows),
		zap.String("store", s.path))
	return types.LoadStats{Rows: rows}, nil
}

// LookupAccession returns the record for an accession within a source
// table. Duplicate accessions across sources are disambiguated by the
// source argument; within a source the first stored row wins.
func (s *Store) LookupAccession(ctx context.Context, src types.Source, accession string) (types.Record, error) {
	if !src.Valid() {
		return types.Record{}, fmt.Errorf("lookup: unknown source %q", src)
	}
	q := fmt.Sprintf(
		`SELECT accession, description, organism, ec_numbers, ortholog_ids, seq_length, source
		 FROM %s WHERE accession = ? LIMIT 1`, src)
	row := s.db.QueryRowContext(ctx, q, accession)

	var rec types.Record
	var ec, ko, srcCol string
	err := row.Scan(&rec.Accession, &rec.Description, &rec.Organism, &ec, &ko, &rec.SeqLength, &srcCol)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Record{}, ErrNotFound
	}
	if err != nil {
		return types.Record{}, err
	}
	rec.Source = types.Source(srcCol)
	if ec != "" {
		rec.ECNumbers = strings.Split(ec, ",")
	}
	if ko != "" {
		rec.OrthologIDs = strings.Split(ko, ",")
	}
	return rec, nil
}

// Count returns the row count of a source table, or ErrNotFound when the
// table has never been loaded. Existence is checked against sqlite_master
// rather than inferred from the query error.
func (s *Store) Count(ctx context.Context, src types.Source) (int64, error) {
	if !src.Valid() {
		return 0, fmt.Errorf("count: unknown source %q", src)
	}
	has, err := s.HasTable(ctx, src)
	if err != nil {
		return 0, err
	}
	if !has {
		return 0, ErrNotFound
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, src)).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// HasTable reports whether a source table exists in the store.
func (s *Store) HasTable(ctx context.Context, src types.Source) (bool, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, string(src)).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
