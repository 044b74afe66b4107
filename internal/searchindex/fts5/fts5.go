// Package fts5 implements the search index on a SQLite FTS5 virtual table
// living in the same database file as the canonical items.
package fts5

import (
	"context"
	"database/sql"
	"strings"

	"github.com/rs/zerolog"

	perrors "github.com/Mystery2099/dnd-pwa-sub000/internal/errors"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/model"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/searchindex"
)

const createTable = `CREATE VIRTUAL TABLE IF NOT EXISTS items_fts USING fts5(
	name, summary, content, item_type UNINDEXED, tokenize = 'porter unicode61'
)`

// Index is the FTS5 search index.
type Index struct {
	db  *sql.DB
	log zerolog.Logger
}

var _ searchindex.Index = (*Index)(nil)

func New(db *sql.DB, log zerolog.Logger) *Index {
	return &Index{db: db, log: log}
}

// RebuildAll replaces the table inside one transaction; searches keep seeing
// the previous index until it commits.
func (x *Index) RebuildAll(ctx context.Context, src searchindex.Source) (int, error) {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &perrors.IndexError{Op: "rebuild", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{`DROP TABLE IF EXISTS items_fts`, createTable} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return 0, &perrors.IndexError{Op: "rebuild", Err: err}
		}
	}
	n, err := searchindex.Stream(ctx, src, func(batch []searchindex.Entry) error {
		return insert(ctx, tx, batch)
	})
	if err != nil {
		return 0, &perrors.IndexError{Op: "rebuild", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return 0, &perrors.IndexError{Op: "rebuild", Err: err}
	}
	x.log.Info().Int("items", n).Msg("search index rebuilt")
	return n, nil
}

func (x *Index) SyncItems(ctx context.Context, entries []searchindex.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	err := x.inTx(ctx, func(tx *sql.Tx) error {
		ids := make([]int64, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}
		if err := remove(ctx, tx, ids); err != nil {
			return err
		}
		return insert(ctx, tx, entries)
	})
	if err != nil {
		return &perrors.IndexError{Op: "sync", Err: err}
	}
	return nil
}

func (x *Index) RemoveItems(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := x.inTx(ctx, func(tx *sql.Tx) error { return remove(ctx, tx, ids) }); err != nil {
		return &perrors.IndexError{Op: "remove", Err: err}
	}
	return nil
}

// Search ranks by bm25 with name weighted over summary over content. The last
// token is matched as a prefix.
func (x *Index) Search(ctx context.Context, t model.ItemType, query string, limit int) ([]int64, error) {
	match := MatchExpr(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = model.DefaultLimit
	}
	rows, err := x.db.QueryContext(ctx, `SELECT rowid FROM items_fts
		WHERE items_fts MATCH ? AND item_type = ?
		ORDER BY bm25(items_fts, 10.0, 5.0, 1.0), rowid
		LIMIT ?`, match, string(t), limit)
	if err != nil {
		return nil, &perrors.IndexError{Op: "search", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, &perrors.IndexError{Op: "search", Err: err}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &perrors.IndexError{Op: "search", Err: err}
	}
	return ids, nil
}

// HealthPing fails with ErrNotInitialized until the table exists.
func (x *Index) HealthPing(ctx context.Context) error {
	var n int
	err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'items_fts'`).Scan(&n)
	if err != nil {
		return err
	}
	if n == 0 {
		return searchindex.ErrNotInitialized
	}
	return nil
}

// MatchExpr quotes each token and turns the last one into a prefix query:
// `fire bo` becomes `"fire" "bo"*`.
func MatchExpr(query string) string {
	toks := searchindex.Tokens(query)
	if len(toks) == 0 {
		return ""
	}
	parts := make([]string, len(toks))
	for i, tok := range toks {
		parts[i] = `"` + strings.ReplaceAll(tok, `"`, `""`) + `"`
	}
	parts[len(parts)-1] += "*"
	return strings.Join(parts, " ")
}

func (x *Index) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func insert(ctx context.Context, tx *sql.Tx, entries []searchindex.Entry) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO items_fts (rowid, name, summary, content, item_type) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.ID, e.Name, e.Summary, e.Content, string(e.Type)); err != nil {
			return err
		}
	}
	return nil
}

func remove(ctx context.Context, tx *sql.Tx, ids []int64) error {
	stmt, err := tx.PrepareContext(ctx, `DELETE FROM items_fts WHERE rowid = ?`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
