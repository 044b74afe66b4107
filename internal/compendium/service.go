// Package compendium is the read/write service over the canonical store. Every
// write fans out in the same order: store, search index, query cache, version.
package compendium

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/cacheversion"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/catalog"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/model"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/querycache"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/searchindex"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/store"
)

const (
	// IndexSearchLimit caps ranked index hits.
	IndexSearchLimit = 50
	// FallbackSearchLimit caps substring matches when the index cannot answer.
	FallbackSearchLimit = 20
)

// Service serves compendium reads and local writes.
type Service struct {
	store    store.Store
	index    searchindex.Index
	cache    *querycache.Cache
	versions *cacheversion.Authority
	log      zerolog.Logger
}

func New(st store.Store, idx searchindex.Index, cache *querycache.Cache, versions *cacheversion.Authority, log zerolog.Logger) *Service {
	return &Service{store: st, index: idx, cache: cache, versions: versions, log: log}
}

// GetPaginatedItems lists items of t through the query cache.
func (s *Service) GetPaginatedItems(ctx context.Context, t model.ItemType, opts model.ListOptions) (model.Page, error) {
	if !t.Valid() {
		return model.Page{}, fmt.Errorf("%w: %q", model.ErrUnsupportedType, t)
	}
	opts = opts.Normalize()
	return querycache.GetOrLoad(s.cache, querycache.ListKey(t, opts), func() (model.Page, error) {
		return s.store.Items().List(ctx, t, opts)
	})
}

// GetItem resolves id as an internal numeric id first, then as an external id.
func (s *Service) GetItem(ctx context.Context, t model.ItemType, id string) (*model.NormalizedItem, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", model.ErrUnsupportedType, t)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, model.ErrNotFound
	}
	return querycache.GetOrLoad(s.cache, querycache.ItemKey(t, id), func() (*model.NormalizedItem, error) {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil && n > 0 {
			it, err := s.store.Items().Get(ctx, t, n)
			if err == nil {
				return it, nil
			}
			if !errors.Is(err, model.ErrNotFound) {
				return nil, err
			}
		}
		return s.store.Items().GetByExternalID(ctx, t, id)
	})
}

// SearchItems ranks through the search index and falls back to substring
// matching when the index errors or finds nothing.
func (s *Service) SearchItems(ctx context.Context, t model.ItemType, query string) ([]model.NormalizedItem, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", model.ErrUnsupportedType, t)
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return []model.NormalizedItem{}, nil
	}
	return querycache.GetOrLoad(s.cache, querycache.SearchKey(t, query, IndexSearchLimit), func() ([]model.NormalizedItem, error) {
		ids, err := s.index.Search(ctx, t, query, IndexSearchLimit)
		if err != nil {
			s.log.Warn().Err(err).Str("type", string(t)).Msg("search index unavailable; using substring search")
		}
		if err == nil && len(ids) > 0 {
			items, err := s.store.Items().GetMany(ctx, ids)
			if err != nil {
				return nil, err
			}
			return ofType(items, t), nil
		}
		items, err := s.store.Items().SearchLike(ctx, t, query, FallbackSearchLimit)
		if err != nil {
			return nil, err
		}
		if items == nil {
			items = []model.NormalizedItem{}
		}
		return items, nil
	})
}

// SaveItem creates or updates a local item. New items are always sourced
// "local"; updates by id keep the row's source.
func (s *Service) SaveItem(ctx context.Context, t model.ItemType, in model.NormalizedItem) (*model.NormalizedItem, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", model.ErrUnsupportedType, t)
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, fmt.Errorf("%w: name is required", model.ErrValidation)
	}
	in.Type = t
	if in.ID == 0 {
		in.Source = model.SourceLocal
	}
	if err := catalog.Derive(&in); err != nil {
		return nil, err
	}

	saved, err := s.store.Items().Upsert(ctx, &in)
	if err != nil {
		return nil, err
	}
	if err := searchindex.SyncItem(ctx, s.index, searchindex.EntryFor(*saved)); err != nil {
		s.log.Error().Err(err).Int64("id", saved.ID).Msg("index sync failed; rebuild to repair")
	}
	s.changed(t)
	return saved, nil
}

// DeleteItem removes an item and its index entry.
func (s *Service) DeleteItem(ctx context.Context, t model.ItemType, id int64) (*model.NormalizedItem, error) {
	deleted, err := s.store.Items().Delete(ctx, t, id)
	if err != nil {
		return nil, err
	}
	if err := searchindex.RemoveItem(ctx, s.index, id); err != nil {
		s.log.Error().Err(err).Int64("id", id).Msg("index removal failed; rebuild to repair")
	}
	s.changed(t)
	return deleted, nil
}

// ApplyReplace propagates a ReplaceTypeSource result to the index and cache.
// The caller bumps the version once per run.
func (s *Service) ApplyReplace(ctx context.Context, t model.ItemType, res store.ReplaceResult) error {
	var firstErr error
	if err := s.index.RemoveItems(ctx, res.RemovedIDs); err != nil {
		firstErr = err
	}
	entries := make([]searchindex.Entry, len(res.Items))
	for i, it := range res.Items {
		entries[i] = searchindex.EntryFor(it)
	}
	if err := s.index.SyncItems(ctx, entries); err != nil && firstErr == nil {
		firstErr = err
	}
	s.cache.InvalidateType(t)
	return firstErr
}

// ApplyPurge drops index entries and cached reads for purged rows.
func (s *Service) ApplyPurge(ctx context.Context, refs []store.ItemRef) error {
	if len(refs) == 0 {
		return nil
	}
	ids := make([]int64, len(refs))
	types := map[model.ItemType]bool{}
	for i, r := range refs {
		ids[i] = r.ID
		types[r.Type] = true
	}
	err := s.index.RemoveItems(ctx, ids)
	for t := range types {
		s.cache.InvalidateType(t)
	}
	return err
}

// RebuildIndex recreates the search index from the store.
func (s *Service) RebuildIndex(ctx context.Context) (int, error) {
	n, err := s.index.RebuildAll(ctx, s.store.Items())
	if err != nil {
		return 0, err
	}
	s.cache.Purge()
	s.versions.Bump("", 0)
	return n, nil
}

// InvalidateAll drops every cached read.
func (s *Service) InvalidateAll() {
	s.cache.Purge()
}

// BumpVersion announces a new data generation.
func (s *Service) BumpVersion(version string) cacheversion.Token {
	return s.versions.Bump(version, 0)
}

func (s *Service) changed(t model.ItemType) {
	s.cache.InvalidateType(t)
	s.versions.Bump("", 0)
}

func ofType(items []model.NormalizedItem, t model.ItemType) []model.NormalizedItem {
	out := items[:0]
	for _, it := range items {
		if it.Type == t {
			out = append(out, it)
		}
	}
	return out
}
