package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/catalog"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/model"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/store"
)

// Item builds a derived item for suites and fixtures.
func Item(t *testing.T, typ model.ItemType, source, externalID, name string, details model.Details) model.NormalizedItem {
	t.Helper()
	it := model.NormalizedItem{Type: typ, Source: source, ExternalID: externalID, Name: name, Details: details}
	if err := catalog.Derive(&it); err != nil {
		t.Fatalf("derive %s: %v", externalID, err)
	}
	return it
}

// Run exercises a compliance suite against a store.Store implementation.
// makeStore must return a clean, migrated store.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()

	s := makeStore(t)
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	items := s.Items()

	if err := s.HealthPing(ctx); err != nil {
		t.Fatalf("HealthPing: %v", err)
	}

	spells := []model.NormalizedItem{
		Item(t, model.TypeSpell, "srd", "fireball", "Fireball", model.Details{"level": 3, "school": "evocation", "desc": "A bright streak of blessed flame"}),
		Item(t, model.TypeSpell, "srd", "fire-bolt", "Fire Bolt", model.Details{"level": 0, "school": "evocation"}),
		Item(t, model.TypeSpell, "srd", "wish", "Wish", model.Details{"level": 9, "school": "conjuration"}),
		Item(t, model.TypeSpell, "srd", "odd", "Odd Spell", model.Details{}),
	}

	// Replace
	res, err := items.ReplaceTypeSource(ctx, model.TypeSpell, "srd", spells)
	if err != nil {
		t.Fatalf("ReplaceTypeSource: %v", err)
	}
	if len(res.Items) != 4 || len(res.RemovedIDs) != 0 {
		t.Fatalf("ReplaceTypeSource: items=%d removed=%v", len(res.Items), res.RemovedIDs)
	}
	ids := map[string]int64{}
	for _, it := range res.Items {
		if it.ID == 0 {
			t.Fatalf("ReplaceTypeSource: item %s has no id", it.ExternalID)
		}
		ids[it.ExternalID] = it.ID
	}

	// Re-import keeps ids of surviving external ids and reports the rest as removed.
	time.Sleep(2 * time.Millisecond)
	res2, err := items.ReplaceTypeSource(ctx, model.TypeSpell, "srd", append(spells[:2:2],
		Item(t, model.TypeSpell, "srd", "bless", "Bless", model.Details{"level": 1, "school": "enchantment"})))
	if err != nil {
		t.Fatalf("ReplaceTypeSource again: %v", err)
	}
	if res2.Items[0].ID != ids["fireball"] || res2.Items[1].ID != ids["fire-bolt"] {
		t.Fatalf("ReplaceTypeSource: ids not stable: %+v", res2.Items)
	}
	if len(res2.RemovedIDs) != 2 {
		t.Fatalf("ReplaceTypeSource: removed=%v", res2.RemovedIDs)
	}
	got, err := items.Get(ctx, model.TypeSpell, ids["fireball"])
	if err != nil || got.Name != "Fireball" || got.SpellSchool == nil || *got.SpellSchool != "Evocation" {
		t.Fatalf("Get: got=%+v err=%v", got, err)
	}
	if !got.UpdatedAt.After(got.CreatedAt) {
		t.Fatalf("Get: updated_at %v should be after created_at %v", got.UpdatedAt, got.CreatedAt)
	}
	if _, err := items.Get(ctx, model.TypeSpell, ids["wish"]); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Get removed: expected ErrNotFound, got %v", err)
	}
	if _, err := items.Get(ctx, model.TypeCreature, ids["fireball"]); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Get wrong type: expected ErrNotFound, got %v", err)
	}
	if byExt, err := items.GetByExternalID(ctx, model.TypeSpell, "bless"); err != nil || byExt.Name != "Bless" {
		t.Fatalf("GetByExternalID: got=%+v err=%v", byExt, err)
	}

	// List, sort and filter
	page, err := items.List(ctx, model.TypeSpell, model.ListOptions{})
	if err != nil || page.Total != 3 || page.Items[0].Name != "Bless" {
		t.Fatalf("List: page=%+v err=%v", page, err)
	}
	page, err = items.List(ctx, model.TypeSpell, model.ListOptions{SortBy: model.SortSpellLevel, SortOrder: "desc"})
	if err != nil || page.Items[0].Name != "Fireball" || page.Items[2].Name != "Fire Bolt" {
		t.Fatalf("List by level desc: %+v err=%v", names(page.Items), err)
	}
	page, err = items.List(ctx, model.TypeSpell, model.ListOptions{Filters: model.Filters{SpellLevel: []int{0, 1}}})
	if err != nil || page.Total != 2 {
		t.Fatalf("List filter levels: %v err=%v", names(page.Items), err)
	}
	page, err = items.List(ctx, model.TypeSpell, model.ListOptions{
		FilterLogic: "and",
		Filters:     model.Filters{SpellLevel: []int{0, 3}, SpellSchool: []string{"EVOCATION"}},
	})
	if err != nil || page.Total != 2 {
		t.Fatalf("List filter and: %v err=%v", names(page.Items), err)
	}
	page, err = items.List(ctx, model.TypeSpell, model.ListOptions{
		Filters: model.Filters{SpellLevel: []int{3}, SpellSchool: []string{"evocation"}},
	})
	if err != nil || page.Total != 1 || page.Items[0].Name != "Fireball" {
		t.Fatalf("List filter default logic: %v err=%v", names(page.Items), err)
	}
	page, err = items.List(ctx, model.TypeSpell, model.ListOptions{
		FilterLogic: "or",
		Filters:     model.Filters{SpellLevel: []int{1}, SpellSchool: []string{"evocation"}},
	})
	if err != nil || page.Total != 3 {
		t.Fatalf("List filter or: %v err=%v", names(page.Items), err)
	}
	page, err = items.List(ctx, model.TypeSpell, model.ListOptions{Search: "fire", Limit: 1})
	if err != nil || page.Total != 2 || len(page.Items) != 1 || !page.HasMore {
		t.Fatalf("List search: %+v err=%v", page, err)
	}

	// Creatures: NULL challenge ratings sort last both ways.
	creatures := []model.NormalizedItem{
		Item(t, model.TypeCreature, "srd", "goblin", "Goblin", model.Details{"challenge_rating": 0.25, "size": "Small", "type": "humanoid"}),
		Item(t, model.TypeCreature, "srd", "dragon", "Adult Red Dragon", model.Details{"challenge_rating": 17, "size": "Huge", "type": "dragon"}),
		Item(t, model.TypeCreature, "srd", "blob", "Blob", model.Details{"size": "Large"}),
	}
	if _, err := items.ReplaceTypeSource(ctx, model.TypeCreature, "srd", creatures); err != nil {
		t.Fatalf("ReplaceTypeSource creatures: %v", err)
	}
	for _, order := range []string{"asc", "desc"} {
		page, err = items.List(ctx, model.TypeCreature, model.ListOptions{SortBy: model.SortChallengeRating, SortOrder: order})
		if err != nil || page.Items[2].Name != "Blob" {
			t.Fatalf("List cr %s: %v err=%v", order, names(page.Items), err)
		}
	}
	page, err = items.List(ctx, model.TypeCreature, model.ListOptions{SortBy: model.SortCreatureSize})
	if err != nil || page.Items[0].Name != "Goblin" || page.Items[2].Name != "Adult Red Dragon" {
		t.Fatalf("List size: %v err=%v", names(page.Items), err)
	}
	page, err = items.List(ctx, model.TypeCreature, model.ListOptions{Filters: model.Filters{ChallengeRating: []string{"0.25"}}})
	if err != nil || page.Total != 1 || page.Items[0].Name != "Goblin" {
		t.Fatalf("List cr filter: %v err=%v", names(page.Items), err)
	}

	// SearchLike ranks exact and prefix name matches first.
	found, err := items.SearchLike(ctx, model.TypeSpell, "bless", 10)
	if err != nil || len(found) != 2 || found[0].Name != "Bless" || found[1].Name != "Fireball" {
		t.Fatalf("SearchLike: %v err=%v", names(found), err)
	}
	if found, err = items.SearchLike(ctx, model.TypeSpell, "streak", 10); err != nil || len(found) != 1 {
		t.Fatalf("SearchLike content: %v err=%v", names(found), err)
	}
	if found, err = items.SearchLike(ctx, model.TypeSpell, "100%", 10); err != nil || len(found) != 0 {
		t.Fatalf("SearchLike escapes wildcards: %v err=%v", names(found), err)
	}

	// Local writes
	local := Item(t, model.TypeFeat, "local", "", "Alert", model.Details{"desc": "Always ready"})
	created, err := items.Upsert(ctx, &local)
	if err != nil || created.ID == 0 || created.ExternalID == "" {
		t.Fatalf("Upsert create: got=%+v err=%v", created, err)
	}
	created.Name = "Alert!"
	updated, err := items.Upsert(ctx, created)
	if err != nil || updated.ID != created.ID || updated.Name != "Alert!" {
		t.Fatalf("Upsert update: got=%+v err=%v", updated, err)
	}
	byKey := Item(t, model.TypeFeat, "local", created.ExternalID, "Alert (keyed)", nil)
	if again, err := items.Upsert(ctx, &byKey); err != nil || again.ID != created.ID {
		t.Fatalf("Upsert by key: got=%+v err=%v", again, err)
	}
	missing := Item(t, model.TypeFeat, "local", "x", "Ghost", nil)
	missing.ID = 999999
	if _, err := items.Upsert(ctx, &missing); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Upsert missing id: expected ErrNotFound, got %v", err)
	}

	// GetMany / Scan / Count
	many, err := items.GetMany(ctx, []int64{created.ID, 999999, ids["fireball"]})
	if err != nil || len(many) != 2 || many[0].ID != created.ID {
		t.Fatalf("GetMany: %v err=%v", names(many), err)
	}
	var scanned int
	var after int64
	for {
		batch, err := items.Scan(ctx, after, 2)
		if err != nil {
			t.Fatalf("Scan: %v", err)
		}
		if len(batch) == 0 {
			break
		}
		scanned += len(batch)
		after = batch[len(batch)-1].ID
	}
	if scanned != 7 {
		t.Fatalf("Scan: saw %d rows, want 7", scanned)
	}
	if n, err := items.Count(ctx, model.TypeSpell, ""); err != nil || n != 3 {
		t.Fatalf("Count: n=%d err=%v", n, err)
	}

	// Delete
	deleted, err := items.Delete(ctx, model.TypeFeat, created.ID)
	if err != nil || deleted.ID != created.ID {
		t.Fatalf("Delete: got=%+v err=%v", deleted, err)
	}
	if _, err := items.Delete(ctx, model.TypeFeat, created.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Delete twice: expected ErrNotFound, got %v", err)
	}

	// Purge
	refs, err := items.PurgeSources(ctx, []string{"local"})
	if err != nil || len(refs) != 6 {
		t.Fatalf("PurgeSources: refs=%d err=%v", len(refs), err)
	}
	if n, _ := items.Count(ctx, model.TypeSpell, "srd"); n != 0 {
		t.Fatalf("PurgeSources left %d spells", n)
	}

	// Sync metadata
	md := s.SyncMetadata()
	at := time.UnixMilli(time.Now().UnixMilli()).UTC()
	if err := md.Upsert(ctx, model.SyncMetadata{ProviderID: "srd", LastSyncAt: at, LastSyncType: model.SyncFull, ItemsSynced: 3}); err != nil {
		t.Fatalf("SyncMetadata.Upsert: %v", err)
	}
	if err := md.Upsert(ctx, model.SyncMetadata{ProviderID: "srd", LastSyncAt: at, LastSyncType: model.SyncFull, ItemsSynced: 5, LastError: "boom"}); err != nil {
		t.Fatalf("SyncMetadata.Upsert again: %v", err)
	}
	if got, err := md.Get(ctx, "srd"); err != nil || got.ItemsSynced != 5 || got.LastError != "boom" || !got.LastSyncAt.Equal(at) {
		t.Fatalf("SyncMetadata.Get: got=%+v err=%v", got, err)
	}
	if _, err := md.Get(ctx, "nope"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("SyncMetadata.Get missing: expected ErrNotFound, got %v", err)
	}
	if all, err := md.List(ctx); err != nil || len(all) != 1 {
		t.Fatalf("SyncMetadata.List: n=%d err=%v", len(all), err)
	}
}

func names(list []model.NormalizedItem) []string {
	out := make([]string, len(list))
	for i, it := range list {
		out[i] = it.Name
	}
	return out
}
