package store

import (
	"context"
	"database/sql"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/model"
)

// Store is the canonical item store. Implementations live under
// internal/store/<driver>/ and share their SQL through internal/store/sqlstore.
type Store interface {
	Items() Items
	SyncMetadata() SyncMetadata
	HealthPing(ctx context.Context) error
	// DB exposes the connection so the search index can live beside the items.
	DB() *sql.DB
	Dialect() string
	Close() error
}

// ItemRef identifies a stored row for index and cache maintenance.
type ItemRef struct {
	ID   int64
	Type model.ItemType
}

// ReplaceResult reports the effect of ReplaceTypeSource.
type ReplaceResult struct {
	// RemovedIDs are rows that existed before and were not re-inserted.
	RemovedIDs []int64
	// Items are the inserted rows with their ids. Items whose external id
	// existed before keep their previous id.
	Items []model.NormalizedItem
}

// Items reads and writes canonical rows.
type Items interface {
	// ReplaceTypeSource clears every row of (t, source) and inserts items in
	// one transaction. Readers see either the old or the new complete set.
	ReplaceTypeSource(ctx context.Context, t model.ItemType, source string, items []model.NormalizedItem) (ReplaceResult, error)
	// Upsert writes one item keyed by (type, source, externalId), or by ID when set.
	Upsert(ctx context.Context, it *model.NormalizedItem) (*model.NormalizedItem, error)
	Delete(ctx context.Context, t model.ItemType, id int64) (*model.NormalizedItem, error)

	Get(ctx context.Context, t model.ItemType, id int64) (*model.NormalizedItem, error)
	GetByExternalID(ctx context.Context, t model.ItemType, externalID string) (*model.NormalizedItem, error)
	// GetMany returns the rows for ids in the order given, skipping missing ids.
	GetMany(ctx context.Context, ids []int64) ([]model.NormalizedItem, error)
	List(ctx context.Context, t model.ItemType, opts model.ListOptions) (model.Page, error)
	// SearchLike matches name, summary and content by substring, best name matches first.
	SearchLike(ctx context.Context, t model.ItemType, query string, limit int) ([]model.NormalizedItem, error)
	// Scan pages through all rows by ascending id, starting after afterID.
	Scan(ctx context.Context, afterID int64, limit int) ([]model.NormalizedItem, error)
	// PurgeSources deletes every row whose source is not in keep.
	PurgeSources(ctx context.Context, keep []string) ([]ItemRef, error)
	Count(ctx context.Context, t model.ItemType, source string) (int, error)
}

// SyncMetadata records the outcome of the last sync per provider.
type SyncMetadata interface {
	Upsert(ctx context.Context, m model.SyncMetadata) error
	Get(ctx context.Context, providerID string) (*model.SyncMetadata, error)
	List(ctx context.Context) ([]model.SyncMetadata, error)
}
