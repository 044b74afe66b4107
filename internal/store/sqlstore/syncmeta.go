package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	perrors "github.com/Mystery2099/dnd-pwa-sub000/internal/errors"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/model"
)

type syncMetadata struct{ s *Store }

func (m *syncMetadata) Upsert(ctx context.Context, md model.SyncMetadata) error {
	q := `INSERT INTO sync_metadata (provider_id, last_sync_at, last_sync_type, items_synced, last_error)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (provider_id) DO UPDATE SET
			last_sync_at = excluded.last_sync_at,
			last_sync_type = excluded.last_sync_type,
			items_synced = excluded.items_synced,
			last_error = excluded.last_error`
	_, err := m.s.db.ExecContext(ctx, m.s.q(q),
		md.ProviderID, millis(md.LastSyncAt), string(md.LastSyncType), md.ItemsSynced, md.LastError)
	if err != nil {
		return &perrors.StorageError{Op: "upsert sync metadata", Err: err}
	}
	return nil
}

func (m *syncMetadata) Get(ctx context.Context, providerID string) (*model.SyncMetadata, error) {
	row := m.s.db.QueryRowContext(ctx,
		m.s.q(`SELECT provider_id, last_sync_at, last_sync_type, items_synced, last_error FROM sync_metadata WHERE provider_id = ?`),
		providerID)
	md, err := scanSyncMetadata(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &md, nil
}

func (m *syncMetadata) List(ctx context.Context) ([]model.SyncMetadata, error) {
	rows, err := m.s.db.QueryContext(ctx,
		`SELECT provider_id, last_sync_at, last_sync_type, items_synced, last_error FROM sync_metadata ORDER BY provider_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.SyncMetadata
	for rows.Next() {
		md, err := scanSyncMetadata(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, md)
	}
	return out, rows.Err()
}

func scanSyncMetadata(row rowScanner) (model.SyncMetadata, error) {
	var md model.SyncMetadata
	var at int64
	var typ string
	if err := row.Scan(&md.ProviderID, &at, &typ, &md.ItemsSynced, &md.LastError); err != nil {
		return md, err
	}
	md.LastSyncAt = fromMillis(at)
	md.LastSyncType = model.SyncType(typ)
	return md, nil
}
