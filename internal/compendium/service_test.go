package compendium

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/cacheversion"
	perrors "github.com/Mystery2099/dnd-pwa-sub000/internal/errors"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/model"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/querycache"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/searchindex"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/searchindex/fts5"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/store"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/store/sqlite"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/store/storetest"
)

type fixture struct {
	svc      *Service
	store    store.Store
	index    searchindex.Index
	versions *cacheversion.Authority
	cache    *querycache.Cache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "compendium.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{
		store:    st,
		index:    fts5.New(st.DB(), zerolog.Nop()),
		versions: cacheversion.New(zerolog.Nop()),
		cache:    querycache.New(querycache.DefaultConfig()),
	}
	f.svc = New(f.store, f.index, f.cache, f.versions, zerolog.Nop())
	return f
}

// sync mimics one provider run for a single type.
func (f *fixture) sync(t *testing.T, items ...model.NormalizedItem) {
	t.Helper()
	ctx := context.Background()
	res, err := f.store.Items().ReplaceTypeSource(ctx, items[0].Type, items[0].Source, items)
	require.NoError(t, err)
	require.NoError(t, f.svc.ApplyReplace(ctx, items[0].Type, res))
	f.versions.Bump("", 0)
}

type brokenIndex struct{ searchindex.Index }

func (brokenIndex) Search(context.Context, model.ItemType, string, int) ([]int64, error) {
	return nil, &perrors.IndexError{Op: "search", Err: searchindex.ErrNotInitialized}
}

func TestSearchItems_IndexedAfterTwoPageSync(t *testing.T) {
	f := newFixture(t)
	f.sync(t,
		storetest.Item(t, model.TypeSpell, "open5e", "fireball", "Fireball", model.Details{"level": 3, "school": "evocation"}),
		storetest.Item(t, model.TypeSpell, "open5e", "ice-storm", "Ice Storm", model.Details{"level": 4, "school": "evocation"}),
	)

	n, err := f.store.Items().Count(context.Background(), model.TypeSpell, "open5e")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := f.svc.SearchItems(context.Background(), model.TypeSpell, "fire")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "fireball", got[0].ExternalID)
}

func TestSearchItems_FallsBackToSubstring(t *testing.T) {
	f := newFixture(t)
	f.sync(t, storetest.Item(t, model.TypeSpell, "open5e", "fireball", "Fireball", model.Details{"level": 3}))
	f.svc.index = brokenIndex{f.index}

	got, err := f.svc.SearchItems(context.Background(), model.TypeSpell, "reba")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Fireball", got[0].Name)
}

func TestGetPaginatedItems_ReadAfterSyncSeesNewItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sync(t, storetest.Item(t, model.TypeSpell, "open5e", "fireball", "Fireball", model.Details{"level": 3}))

	before, err := f.svc.GetPaginatedItems(ctx, model.TypeSpell, model.ListOptions{SortBy: model.SortName})
	require.NoError(t, err)
	require.Len(t, before.Items, 1)

	f.sync(t,
		storetest.Item(t, model.TypeSpell, "open5e", "fireball", "Fireball", model.Details{"level": 3}),
		storetest.Item(t, model.TypeSpell, "open5e", "aardvarks-bite", "Aardvark's Bite", model.Details{"level": 1}),
	)

	assert.Len(t, before.Items, 1, "an already returned page is never mutated")
	after, err := f.svc.GetPaginatedItems(ctx, model.TypeSpell, model.ListOptions{SortBy: model.SortName})
	require.NoError(t, err)
	require.Len(t, after.Items, 2)
	assert.Equal(t, "Aardvark's Bite", after.Items[0].Name)
}

func TestGetPaginatedItems_FiltersCombineWithAnd(t *testing.T) {
	f := newFixture(t)
	f.sync(t,
		storetest.Item(t, model.TypeSpell, "srd", "fireball", "Fireball", model.Details{"level": 3, "school": "evocation"}),
		storetest.Item(t, model.TypeSpell, "srd", "magic-missile", "Magic Missile", model.Details{"level": 1, "school": "evocation"}),
		storetest.Item(t, model.TypeSpell, "srd", "counterspell", "Counterspell", model.Details{"level": 3, "school": "abjuration"}),
	)

	page, err := f.svc.GetPaginatedItems(context.Background(), model.TypeSpell, model.ListOptions{
		Filters: model.Filters{SpellLevel: []int{3}, SpellSchool: []string{"evocation"}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "Fireball", page.Items[0].Name)

	page, err = f.svc.GetPaginatedItems(context.Background(), model.TypeSpell, model.ListOptions{
		FilterLogic: "or",
		Filters:     model.Filters{SpellLevel: []int{3}, SpellSchool: []string{"evocation"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
}

func TestGetPaginatedItems_ServesFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sync(t, storetest.Item(t, model.TypeFeat, "srd", "alert", "Alert", nil))

	_, err := f.svc.GetPaginatedItems(ctx, model.TypeFeat, model.ListOptions{})
	require.NoError(t, err)

	// a write behind the service's back is invisible until invalidation
	_, err = f.store.Items().ReplaceTypeSource(ctx, model.TypeFeat, "srd", nil)
	require.NoError(t, err)
	cached, err := f.svc.GetPaginatedItems(ctx, model.TypeFeat, model.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, cached.Total)

	f.svc.InvalidateAll()
	fresh, err := f.svc.GetPaginatedItems(ctx, model.TypeFeat, model.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, fresh.Total)
}

func TestGetItem_ByInternalOrExternalID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sync(t, storetest.Item(t, model.TypeCreature, "srd", "goblin", "Goblin", model.Details{"challenge_rating": 0.25}))

	byExt, err := f.svc.GetItem(ctx, model.TypeCreature, "goblin")
	require.NoError(t, err)
	byID, err := f.svc.GetItem(ctx, model.TypeCreature, itoa(byExt.ID))
	require.NoError(t, err)
	assert.Equal(t, byExt.ExternalID, byID.ExternalID)
	assert.Equal(t, "1/4", *byID.ChallengeRating)

	_, err = f.svc.GetItem(ctx, model.TypeCreature, "dragon")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = f.svc.GetItem(ctx, model.ItemType("vehicle"), "1")
	assert.ErrorIs(t, err, model.ErrUnsupportedType)
}

func TestSaveAndDeleteItem_FanOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v0 := f.versions.Current()

	saved, err := f.svc.SaveItem(ctx, model.TypeSpell, model.NormalizedItem{
		Source: "srd", Name: " Witch Bolt ", Details: model.Details{"level": 1, "school": "evocation", "desc": "A beam of crackling energy"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.SourceLocal, saved.Source)
	assert.Equal(t, "Witch Bolt", saved.Name)
	assert.Equal(t, "Level 1 Evocation", saved.Summary)
	assert.NotEqual(t, v0.Version, f.versions.Current().Version)

	ids, err := f.index.Search(ctx, model.TypeSpell, "beam", 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{saved.ID}, ids)

	saved.Details["level"] = 2
	updated, err := f.svc.SaveItem(ctx, model.TypeSpell, *saved)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, updated.ID)
	assert.Equal(t, 2, *updated.SpellLevel)

	_, err = f.svc.DeleteItem(ctx, model.TypeSpell, saved.ID)
	require.NoError(t, err)
	ids, err = f.index.Search(ctx, model.TypeSpell, "beam", 10)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = f.svc.DeleteItem(ctx, model.TypeSpell, saved.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = f.svc.SaveItem(ctx, model.TypeSpell, model.NormalizedItem{Name: "  "})
	assert.True(t, errors.Is(err, model.ErrValidation))
}

func TestRebuildIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.Items().ReplaceTypeSource(ctx, model.TypeSpell, "srd", []model.NormalizedItem{
		storetest.Item(t, model.TypeSpell, "srd", "bless", "Bless", model.Details{"level": 1}),
	})
	require.NoError(t, err)

	ids, err := f.index.Search(ctx, model.TypeSpell, "bless", 10)
	require.NoError(t, err)
	assert.Empty(t, ids, "index not yet synced")

	n, err := f.svc.RebuildIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, err := f.svc.SearchItems(ctx, model.TypeSpell, "Bless")
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
