// Package sqlitestore persists a spreadsheet document to SQLite.
//
// Build modes:
//   - Default: pure Go modernc.org/sqlite (driver "sqlite")
//   - CGO mode (-tags cgo_sqlite): mattn/go-sqlite3 (driver "sqlite3")
//
// A Store keeps the whole document in a spreadsheet.MemStore and writes
// every mutation through to the database before returning.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	tiers      TEXT NOT NULL DEFAULT '{}',
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS cells (
	document  TEXT    NOT NULL,
	row_index INTEGER NOT NULL,
	col_index INTEGER NOT NULL,
	data      TEXT    NOT NULL,
	PRIMARY KEY (document, row_index, col_index)
);`

// DriverName returns the SQL driver name in use
func DriverName() string {
	return driverName
}

// Store is a spreadsheet.Store backed by SQLite
type Store struct {
	*spreadsheet.MemStore
	db     *sql.DB
	doc    uuid.UUID
	logger *slog.Logger
}

var _ spreadsheet.Store = (*Store)(nil)

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger, slog.Default() otherwise
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Open opens the database at dsn and loads document doc, creating it when it
// does not exist yet.
func Open(ctx context.Context, dsn string, doc uuid.UUID, opts ...Option) (*Store, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dsn, err)
	}
	// a single connection keeps ":memory:" databases alive and serializes writes
	db.SetMaxOpenConns(1)

	s := &Store{
		MemStore: spreadsheet.NewMemStore(),
		db:       db,
		doc:      doc,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("document", doc.String(), "driver", driverName)

	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	var tiersJSON string
	err := s.db.QueryRowContext(ctx, `SELECT tiers FROM documents WHERE id = ?`, s.doc.String()).Scan(&tiersJSON)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO documents (id, tiers, updated_at) VALUES (?, '{}', ?)`,
			s.doc.String(), now())
		if err != nil {
			return fmt.Errorf("create document: %w", err)
		}
		s.logger.Info("created document")
		return nil
	case err != nil:
		return fmt.Errorf("read document: %w", err)
	}

	var tiers spreadsheet.TierStyles
	if err := json.Unmarshal([]byte(tiersJSON), &tiers); err != nil {
		return fmt.Errorf("decode tier styles: %w", err)
	}
	grid, err := s.loadCells(ctx)
	if err != nil {
		return err
	}
	if err := s.MemStore.Replace(grid, tiers); err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	s.logger.Info("loaded document", "cells", len(grid))
	return nil
}

func (s *Store) loadCells(ctx context.Context) (spreadsheet.Grid, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT row_index, col_index, data FROM cells WHERE document = ?`, s.doc.String())
	if err != nil {
		return nil, fmt.Errorf("read cells: %w", err)
	}
	defer rows.Close()

	grid := make(spreadsheet.Grid)
	for rows.Next() {
		var row, col int
		var data string
		if err := rows.Scan(&row, &col, &data); err != nil {
			return nil, fmt.Errorf("scan cell: %w", err)
		}
		var cell spreadsheet.Cell
		if err := json.Unmarshal([]byte(data), &cell); err != nil {
			return nil, fmt.Errorf("decode cell at row %d col %d: %w", row, col, err)
		}
		grid[spreadsheet.ToSref(spreadsheet.Ref{Row: row, Col: col})] = cell
	}
	return grid, rows.Err()
}

// Document returns the id of the loaded document
func (s *Store) Document() uuid.UUID {
	return s.doc
}

// Documents lists every document held by the database
func (s *Store) Documents(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM documents ORDER BY updated_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(text)
		if err != nil {
			s.logger.Warn("skipping document with malformed id", "id", text)
			continue
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// persistence failures surface as Internal application errors
func failed(op string, err error) error {
	return spreadsheet.NewApplicationError(spreadsheet.Internal, fmt.Sprintf("persist %s: %v", op, err))
}

// tx runs fn in a transaction and bumps the document timestamp
func (s *Store) tx(op string, fn func(*sql.Tx) error) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return failed(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		s.logger.Warn("persistence failed", "op", op, "error", err)
		return failed(op, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE documents SET updated_at = ? WHERE id = ?`, now(), s.doc.String()); err != nil {
		_ = tx.Rollback()
		return failed(op, err)
	}
	if err := tx.Commit(); err != nil {
		return failed(op, err)
	}
	return nil
}

// writeCells stores the current in-memory state of refs
func (s *Store) writeCells(tx *sql.Tx, refs []spreadsheet.Ref) error {
	upsert, err := tx.Prepare(`INSERT OR REPLACE INTO cells (document, row_index, col_index, data) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer upsert.Close()
	remove, err := tx.Prepare(`DELETE FROM cells WHERE document = ? AND row_index = ? AND col_index = ?`)
	if err != nil {
		return err
	}
	defer remove.Close()

	for _, ref := range refs {
		cell, ok := s.MemStore.Get(ref)
		if !ok {
			if _, err := remove.Exec(s.doc.String(), ref.Row, ref.Col); err != nil {
				return err
			}
			continue
		}
		data, err := json.Marshal(cell)
		if err != nil {
			return fmt.Errorf("encode %s: %w", ref, err)
		}
		if _, err := upsert.Exec(s.doc.String(), ref.Row, ref.Col, string(data)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) writeTiers(tx *sql.Tx) error {
	data, err := json.Marshal(s.MemStore.TierStyles())
	if err != nil {
		return err
	}
	_, err = tx.Exec(`UPDATE documents SET tiers = ? WHERE id = ?`, string(data), s.doc.String())
	return err
}

func (s *Store) persistRefs(op string, refs ...spreadsheet.Ref) error {
	return s.tx(op, func(tx *sql.Tx) error { return s.writeCells(tx, refs) })
}

// persistAll rewrites the whole document, used after structural edits
func (s *Store) persistAll(op string) error {
	return s.tx(op, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM cells WHERE document = ?`, s.doc.String()); err != nil {
			return err
		}
		var refs []spreadsheet.Ref
		for ref := range s.MemStore.Cells() {
			refs = append(refs, ref)
		}
		if err := s.writeCells(tx, refs); err != nil {
			return err
		}
		return s.writeTiers(tx)
	})
}

// saveCells captures refs so a failed write can put the cache back
func (s *Store) saveCells(refs ...spreadsheet.Ref) func() {
	type saved struct {
		cell spreadsheet.Cell
		ok   bool
	}
	old := make(map[spreadsheet.Ref]saved, len(refs))
	for _, ref := range refs {
		cell, ok := s.MemStore.Get(ref)
		old[ref] = saved{cell, ok}
	}
	return func() {
		for ref, o := range old {
			if o.ok {
				_ = s.MemStore.Set(ref, o.cell)
			} else {
				_, _ = s.MemStore.Delete(ref)
			}
		}
	}
}

// saveAll captures the whole cache, used around edits that touch every cell
func (s *Store) saveAll() func() {
	grid := make(spreadsheet.Grid, s.MemStore.Len())
	for ref, cell := range s.MemStore.Cells() {
		grid[ref.Sref()] = cell
	}
	tiers := s.MemStore.TierStyles()
	return func() { _ = s.MemStore.Replace(grid, tiers) }
}

// commit applies an edit to the cache, then writes it through. when either
// step fails the cache is restored so it never holds what the database
// does not.
func (s *Store) commit(restore func(), apply, persist func() error) error {
	if err := apply(); err != nil {
		restore()
		return err
	}
	if err := persist(); err != nil {
		restore()
		return err
	}
	return nil
}

func (s *Store) Set(ref spreadsheet.Ref, cell spreadsheet.Cell) error {
	return s.commit(s.saveCells(ref),
		func() error { return s.MemStore.Set(ref, cell) },
		func() error { return s.persistRefs("set", ref) })
}

func (s *Store) Delete(ref spreadsheet.Ref) (bool, error) {
	if _, ok := s.MemStore.Get(ref); !ok {
		return false, nil
	}
	err := s.commit(s.saveCells(ref),
		func() error { _, err := s.MemStore.Delete(ref); return err },
		func() error { return s.persistRefs("delete", ref) })
	return err == nil, err
}

func (s *Store) SetGrid(grid spreadsheet.Grid) error {
	refs := make([]spreadsheet.Ref, 0, len(grid))
	for sref := range grid {
		ref, err := spreadsheet.ParseRef(string(sref))
		if err != nil {
			continue
		}
		refs = append(refs, ref)
	}
	return s.commit(s.saveCells(refs...),
		func() error { return s.MemStore.SetGrid(grid) },
		func() error { return s.persistRefs("set grid", refs...) })
}

func (s *Store) Replace(grid spreadsheet.Grid, tiers spreadsheet.TierStyles) error {
	return s.commit(s.saveAll(),
		func() error { return s.MemStore.Replace(grid, tiers) },
		func() error { return s.persistAll("replace") })
}

func (s *Store) SetStyle(ref spreadsheet.Ref, patch spreadsheet.Style) error {
	return s.commit(s.saveCells(ref),
		func() error { return s.MemStore.SetStyle(ref, patch) },
		func() error { return s.persistRefs("set style", ref) })
}

func (s *Store) SetRangeStyle(rng spreadsheet.Range, patch spreadsheet.Style) error {
	return s.commit(s.saveAll(),
		func() error { return s.MemStore.SetRangeStyle(rng, patch) },
		func() error {
			return s.tx("set range style", func(tx *sql.Tx) error {
				_, err := tx.Exec(`DELETE FROM cells WHERE document = ? AND row_index BETWEEN ? AND ? AND col_index BETWEEN ? AND ?`,
					s.doc.String(), rng.From.Row, rng.To.Row, rng.From.Col, rng.To.Col)
				if err != nil {
					return err
				}
				var refs []spreadsheet.Ref
				for sref := range s.MemStore.GetGrid(rng) {
					if ref, err := spreadsheet.ParseRef(string(sref)); err == nil {
						refs = append(refs, ref)
					}
				}
				return s.writeCells(tx, refs)
			})
		})
}

func (s *Store) ToggleStyle(ref spreadsheet.Ref, key spreadsheet.StyleKey) error {
	return s.commit(s.saveCells(ref),
		func() error { return s.MemStore.ToggleStyle(ref, key) },
		func() error { return s.persistRefs("toggle style", ref) })
}

// tiers writes a change to the state kept outside the cells through
func (s *Store) tiers(op string, apply func() error) error {
	saved := s.MemStore.TierStyles()
	return s.commit(func() { s.MemStore.LoadTierStyles(saved) },
		apply,
		func() error { return s.tx(op, s.writeTiers) })
}

func (s *Store) SetColumnStyle(col int, patch spreadsheet.Style) error {
	return s.tiers("set column style", func() error { return s.MemStore.SetColumnStyle(col, patch) })
}

func (s *Store) SetRowStyle(row int, patch spreadsheet.Style) error {
	return s.tiers("set row style", func() error { return s.MemStore.SetRowStyle(row, patch) })
}

func (s *Store) SetSheetStyle(patch spreadsheet.Style) error {
	return s.tiers("set sheet style", func() error { return s.MemStore.SetSheetStyle(patch) })
}

// structural writes the whole document after a shift or move
func (s *Store) structural(op string, apply func() error) error {
	return s.commit(s.saveAll(), apply, func() error { return s.persistAll(op) })
}

func (s *Store) InsertRows(at, count int) error {
	return s.structural("insert rows", func() error { return s.MemStore.InsertRows(at, count) })
}

func (s *Store) InsertColumns(at, count int) error {
	return s.structural("insert columns", func() error { return s.MemStore.InsertColumns(at, count) })
}

func (s *Store) DeleteRows(at, count int) error {
	return s.structural("delete rows", func() error { return s.MemStore.DeleteRows(at, count) })
}

func (s *Store) DeleteColumns(at, count int) error {
	return s.structural("delete columns", func() error { return s.MemStore.DeleteColumns(at, count) })
}

func (s *Store) MoveRows(src, count, dst int) error {
	return s.structural("move rows", func() error { return s.MemStore.MoveRows(src, count, dst) })
}

func (s *Store) MoveColumns(src, count, dst int) error {
	return s.structural("move columns", func() error { return s.MemStore.MoveColumns(src, count, dst) })
}

// Merge writes the merge and the cells it cleared through
func (s *Store) Merge(rng spreadsheet.Range) error {
	var refs []spreadsheet.Ref
	for sref := range s.MemStore.GetGrid(rng) {
		if ref, err := spreadsheet.ParseRef(string(sref)); err == nil {
			refs = append(refs, ref)
		}
	}
	restoreCells := s.saveCells(refs...)
	saved := s.MemStore.TierStyles()
	restore := func() {
		restoreCells()
		s.MemStore.LoadTierStyles(saved)
	}
	return s.commit(restore,
		func() error { return s.MemStore.Merge(rng) },
		func() error {
			return s.tx("merge", func(tx *sql.Tx) error {
				if err := s.writeCells(tx, refs); err != nil {
					return err
				}
				return s.writeTiers(tx)
			})
		})
}

func (s *Store) Unmerge(rng spreadsheet.Range) ([]spreadsheet.Range, error) {
	var removed []spreadsheet.Range
	err := s.tiers("unmerge", func() error {
		var err error
		removed, err = s.MemStore.Unmerge(rng)
		return err
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (s *Store) SetConditionalFormats(rules []spreadsheet.ConditionalFormat) error {
	return s.tiers("set conditional formats", func() error { return s.MemStore.SetConditionalFormats(rules) })
}

func (s *Store) SetRowHeight(row, height int) error {
	return s.tiers("set row height", func() error { return s.MemStore.SetRowHeight(row, height) })
}

func (s *Store) SetColumnWidth(col, width int) error {
	return s.tiers("set column width", func() error { return s.MemStore.SetColumnWidth(col, width) })
}
