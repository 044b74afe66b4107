package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"

	perrors "github.com/Mystery2099/dnd-pwa-sub000/internal/errors"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/model"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/store"
)

type items struct{ s *Store }

var (
	insertSQL       = `INSERT INTO items (` + writeColumns + `) VALUES (` + writePlaceholders + `) RETURNING id`
	insertWithIDSQL = `INSERT INTO items (id, ` + writeColumns + `) VALUES (?, ` + writePlaceholders + `)`
)

type prior struct {
	id      int64
	created int64
}

func (r *items) ReplaceTypeSource(ctx context.Context, t model.ItemType, source string, list []model.NormalizedItem) (store.ReplaceResult, error) {
	var res store.ReplaceResult
	err := r.s.withTx(ctx, func(tx *sql.Tx) error {
		old := make(map[string]prior)
		rows, err := tx.QueryContext(ctx, r.s.q(`SELECT id, external_id, created_at FROM items WHERE type = ? AND source = ?`), string(t), source)
		if err != nil {
			return err
		}
		for rows.Next() {
			var p prior
			var ext string
			if err := rows.Scan(&p.id, &ext, &p.created); err != nil {
				_ = rows.Close()
				return err
			}
			old[ext] = p
		}
		_ = rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, r.s.q(`DELETE FROM items WHERE type = ? AND source = ?`), string(t), source); err != nil {
			return err
		}

		insNew, err := tx.PrepareContext(ctx, r.s.q(insertSQL))
		if err != nil {
			return err
		}
		defer func() { _ = insNew.Close() }()
		insOld, err := tx.PrepareContext(ctx, r.s.q(insertWithIDSQL))
		if err != nil {
			return err
		}
		defer func() { _ = insOld.Close() }()

		now := r.s.now()
		seen := make(map[string]bool, len(list))
		kept := make(map[int64]bool, len(old))
		res.Items = make([]model.NormalizedItem, 0, len(list))

		for _, it := range list {
			if seen[it.ExternalID] {
				continue
			}
			seen[it.ExternalID] = true

			it.Type, it.Source = t, source
			it.CreatedAt, it.UpdatedAt = now, now
			p, existed := old[it.ExternalID]
			if existed {
				it.ID = p.id
				it.CreatedAt = fromMillis(p.created)
			}
			args, err := writeArgs(it)
			if err != nil {
				return err
			}
			if existed {
				if _, err := insOld.ExecContext(ctx, append([]any{it.ID}, args...)...); err != nil {
					return err
				}
				kept[p.id] = true
			} else if err := insNew.QueryRowContext(ctx, args...).Scan(&it.ID); err != nil {
				return err
			}
			res.Items = append(res.Items, it)
		}

		for _, p := range old {
			if !kept[p.id] {
				res.RemovedIDs = append(res.RemovedIDs, p.id)
			}
		}
		sort.Slice(res.RemovedIDs, func(i, j int) bool { return res.RemovedIDs[i] < res.RemovedIDs[j] })
		return nil
	})
	if err != nil {
		return store.ReplaceResult{}, &perrors.StorageError{Op: "replace " + string(t) + "/" + source, Err: err}
	}
	return res, nil
}

// Upsert writes a single item. With ID set the row must already exist for
// the item's type; otherwise the (type, source, externalId) key decides
// between insert and update. Items without an external id get a UUID.
func (r *items) Upsert(ctx context.Context, in *model.NormalizedItem) (*model.NormalizedItem, error) {
	it := *in
	now := r.s.now()
	it.UpdatedAt = now
	if it.CreatedAt.IsZero() {
		it.CreatedAt = now
	}

	if it.ID > 0 {
		return r.update(ctx, it)
	}
	if strings.TrimSpace(it.ExternalID) == "" {
		it.ExternalID = uuid.NewString()
	}

	args, err := writeArgs(it)
	if err != nil {
		return nil, err
	}
	q := `INSERT INTO items (` + writeColumns + `) VALUES (` + writePlaceholders + `)
		ON CONFLICT (type, source, external_id) DO UPDATE SET
			name = excluded.name, summary = excluded.summary, details = excluded.details, content = excluded.content,
			spell_level = excluded.spell_level, spell_school = excluded.spell_school,
			challenge_rating = excluded.challenge_rating, challenge_value = excluded.challenge_value,
			creature_size = excluded.creature_size, creature_type = excluded.creature_type,
			item_rarity = excluded.item_rarity, item_category = excluded.item_category,
			edition = excluded.edition, source_book = excluded.source_book, data_version = excluded.data_version,
			updated_at = excluded.updated_at
		RETURNING id, created_at`
	var created int64
	if err := r.s.db.QueryRowContext(ctx, r.s.q(q), args...).Scan(&it.ID, &created); err != nil {
		return nil, &perrors.StorageError{Op: "upsert item", Err: err}
	}
	it.CreatedAt = fromMillis(created)
	it.UpdatedAt = fromMillis(millis(it.UpdatedAt))
	return &it, nil
}

func (r *items) update(ctx context.Context, it model.NormalizedItem) (*model.NormalizedItem, error) {
	args, err := writeArgs(it)
	if err != nil {
		return nil, err
	}
	// args[3:] skips type, source, external_id which are immutable here.
	q := `UPDATE items SET name = ?, summary = ?, details = ?, content = ?,
			spell_level = ?, spell_school = ?, challenge_rating = ?, challenge_value = ?,
			creature_size = ?, creature_type = ?, item_rarity = ?, item_category = ?,
			edition = ?, source_book = ?, data_version = ?, updated_at = ?
		WHERE id = ? AND type = ?
		RETURNING source, external_id, created_at`
	vals := append(append([]any{}, args[3:18]...), args[19], it.ID, string(it.Type))

	var created int64
	err = r.s.db.QueryRowContext(ctx, r.s.q(q), vals...).Scan(&it.Source, &it.ExternalID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, &perrors.StorageError{Op: "update item", Err: err}
	}
	it.CreatedAt = fromMillis(created)
	it.UpdatedAt = fromMillis(millis(it.UpdatedAt))
	return &it, nil
}

func (r *items) Delete(ctx context.Context, t model.ItemType, id int64) (*model.NormalizedItem, error) {
	row := r.s.db.QueryRowContext(ctx, r.s.q(`DELETE FROM items WHERE type = ? AND id = ? RETURNING `+itemColumns), string(t), id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, &perrors.StorageError{Op: "delete item", Err: err}
	}
	return &it, nil
}

func (r *items) Get(ctx context.Context, t model.ItemType, id int64) (*model.NormalizedItem, error) {
	row := r.s.db.QueryRowContext(ctx, r.s.q(`SELECT `+itemColumns+` FROM items WHERE type = ? AND id = ?`), string(t), id)
	return r.one(row)
}

// GetByExternalID prefers the first source in id order when several providers share an external id.
func (r *items) GetByExternalID(ctx context.Context, t model.ItemType, externalID string) (*model.NormalizedItem, error) {
	row := r.s.db.QueryRowContext(ctx,
		r.s.q(`SELECT `+itemColumns+` FROM items WHERE type = ? AND external_id = ? ORDER BY id LIMIT 1`),
		string(t), externalID)
	return r.one(row)
}

func (r *items) one(row *sql.Row) (*model.NormalizedItem, error) {
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (r *items) GetMany(ctx context.Context, ids []int64) ([]model.NormalizedItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.s.db.QueryContext(ctx, r.s.q(`SELECT `+itemColumns+` FROM items WHERE id IN (`+placeholders(len(ids))+`)`), args...)
	if err != nil {
		return nil, err
	}
	found, err := collectItems(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]model.NormalizedItem, len(found))
	for _, it := range found {
		byID[it.ID] = it
	}
	out := make([]model.NormalizedItem, 0, len(found))
	for _, id := range ids {
		if it, ok := byID[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

func (r *items) List(ctx context.Context, t model.ItemType, opts model.ListOptions) (model.Page, error) {
	opts = opts.Normalize()
	where, args := listWhere(t, opts)

	var total int
	if err := r.s.db.QueryRowContext(ctx, r.s.q(`SELECT COUNT(*) FROM items WHERE `+where), args...).Scan(&total); err != nil {
		return model.Page{}, err
	}

	q := `SELECT ` + itemColumns + ` FROM items WHERE ` + where + ` ORDER BY ` + orderBy(opts) + ` LIMIT ? OFFSET ?`
	rows, err := r.s.db.QueryContext(ctx, r.s.q(q), append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return model.Page{}, err
	}
	list, err := collectItems(rows)
	if err != nil {
		return model.Page{}, err
	}
	return model.NewPage(list, total, opts.Limit, opts.Offset), nil
}

func (r *items) SearchLike(ctx context.Context, t model.ItemType, query string, limit int) ([]model.NormalizedItem, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = model.DefaultLimit
	}
	pattern := "%" + escapeLike(query) + "%"
	q := `SELECT ` + itemColumns + ` FROM items
		WHERE type = ? AND (lower(name) LIKE ? ESCAPE '\' OR lower(summary) LIKE ? ESCAPE '\' OR lower(content) LIKE ? ESCAPE '\')
		ORDER BY CASE WHEN lower(name) = ? THEN 0 WHEN lower(name) LIKE ? ESCAPE '\' THEN 1 ELSE 2 END, lower(name), id
		LIMIT ?`
	rows, err := r.s.db.QueryContext(ctx, r.s.q(q), string(t), pattern, pattern, pattern, query, escapeLike(query)+"%", limit)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

func (r *items) Scan(ctx context.Context, afterID int64, limit int) ([]model.NormalizedItem, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.s.db.QueryContext(ctx, r.s.q(`SELECT `+itemColumns+` FROM items WHERE id > ? ORDER BY id LIMIT ?`), afterID, limit)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

func (r *items) PurgeSources(ctx context.Context, keep []string) ([]store.ItemRef, error) {
	q := `DELETE FROM items`
	args := make([]any, 0, len(keep))
	if len(keep) > 0 {
		q += ` WHERE source NOT IN (` + placeholders(len(keep)) + `)`
		for _, k := range keep {
			args = append(args, k)
		}
	}
	q += ` RETURNING id, type`

	rows, err := r.s.db.QueryContext(ctx, r.s.q(q), args...)
	if err != nil {
		return nil, &perrors.StorageError{Op: "purge sources", Err: err}
	}
	defer func() { _ = rows.Close() }()
	var out []store.ItemRef
	for rows.Next() {
		var ref store.ItemRef
		var typ string
		if err := rows.Scan(&ref.ID, &typ); err != nil {
			return nil, err
		}
		ref.Type = model.ItemType(typ)
		out = append(out, ref)
	}
	return out, rows.Err()
}

func (r *items) Count(ctx context.Context, t model.ItemType, source string) (int, error) {
	q := `SELECT COUNT(*) FROM items WHERE type = ?`
	args := []any{string(t)}
	if source != "" {
		q += ` AND source = ?`
		args = append(args, source)
	}
	var n int
	err := r.s.db.QueryRowContext(ctx, r.s.q(q), args...).Scan(&n)
	return n, err
}
