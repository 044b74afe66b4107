// Package pgtext implements the search index on a Postgres tsvector table.
package pgtext

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	perrors "github.com/Mystery2099/dnd-pwa-sub000/internal/errors"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/model"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/searchindex"
)

const document = `setweight(to_tsvector('english', $3), 'A') ||
	setweight(to_tsvector('english', $4), 'B') ||
	setweight(to_tsvector('english', $5), 'C')`

const upsertSQL = `INSERT INTO items_search (item_id, item_type, name, document)
	VALUES ($1, $2, $3, ` + document + `)
	ON CONFLICT (item_id) DO UPDATE SET
		item_type = excluded.item_type, name = excluded.name, document = excluded.document`

// Index is the tsvector search index.
type Index struct {
	db  *sql.DB
	log zerolog.Logger
}

var _ searchindex.Index = (*Index)(nil)

func New(db *sql.DB, log zerolog.Logger) *Index {
	return &Index{db: db, log: log}
}

func (x *Index) RebuildAll(ctx context.Context, src searchindex.Source) (int, error) {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &perrors.IndexError{Op: "rebuild", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `TRUNCATE items_search`); err != nil {
		return 0, &perrors.IndexError{Op: "rebuild", Err: err}
	}
	n, err := searchindex.Stream(ctx, src, func(batch []searchindex.Entry) error {
		return upsert(ctx, tx, batch)
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
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return &perrors.IndexError{Op: "sync", Err: err}
	}
	defer func() { _ = tx.Rollback() }()
	if err := upsert(ctx, tx, entries); err != nil {
		return &perrors.IndexError{Op: "sync", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &perrors.IndexError{Op: "sync", Err: err}
	}
	return nil
}

func (x *Index) RemoveItems(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	marks := make([]string, len(ids))
	for i, id := range ids {
		args[i] = id
		marks[i] = "$" + strconv.Itoa(i+1)
	}
	_, err := x.db.ExecContext(ctx, `DELETE FROM items_search WHERE item_id IN (`+strings.Join(marks, ", ")+`)`, args...)
	if err != nil {
		return &perrors.IndexError{Op: "remove", Err: err}
	}
	return nil
}

func (x *Index) Search(ctx context.Context, t model.ItemType, query string, limit int) ([]int64, error) {
	tsq := TSQuery(query)
	if tsq == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = model.DefaultLimit
	}
	rows, err := x.db.QueryContext(ctx, `SELECT item_id FROM items_search
		WHERE item_type = $1 AND document @@ to_tsquery('english', $2)
		ORDER BY ts_rank(document, to_tsquery('english', $2)) DESC, item_id
		LIMIT $3`, string(t), tsq, limit)
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

func (x *Index) HealthPing(ctx context.Context) error {
	var name sql.NullString
	if err := x.db.QueryRowContext(ctx, `SELECT to_regclass('items_search')::text`).Scan(&name); err != nil {
		return err
	}
	if !name.Valid {
		return searchindex.ErrNotInitialized
	}
	return nil
}

// TSQuery ANDs the query tokens and marks the last one as a prefix:
// `fire bo` becomes `fire & bo:*`.
func TSQuery(query string) string {
	toks := searchindex.Tokens(query)
	if len(toks) == 0 {
		return ""
	}
	toks[len(toks)-1] += ":*"
	return strings.Join(toks, " & ")
}

func upsert(ctx context.Context, tx *sql.Tx, entries []searchindex.Entry) error {
	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.ID, string(e.Type), e.Name, e.Summary, e.Content); err != nil {
			return err
		}
	}
	return nil
}
