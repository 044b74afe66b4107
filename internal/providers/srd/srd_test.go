package srd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/Mystery2099/dnd-pwa-sub000/internal/errors"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/model"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/providers"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/retry"
)

func newProvider(t *testing.T, url string, pageSize int) *Provider {
	t.Helper()
	p, err := New(Config{
		BaseURL:  url,
		PageSize: pageSize,
		Fetch:    providers.FetcherConfig{PageTimeout: time.Second, Retry: retry.Options{MaxRetries: 2, BaseDelay: time.Millisecond}},
	}, zerolog.Nop())
	require.NoError(t, err)
	return p
}

func TestFetchAll_PagesUntilShortPage(t *testing.T) {
	total := 5
	var (
		mu    sync.Mutex
		skips []int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req gqlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		limit, skip := req.Variables["limit"], req.Variables["skip"]
		mu.Lock()
		skips = append(skips, skip)
		mu.Unlock()
		var rows []map[string]any
		for i := skip; i < skip+limit && i < total; i++ {
			rows = append(rows, map[string]any{"index": string(rune('a' + i)), "name": "n"})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"monsters": rows}})
	}))
	defer srv.Close()

	var got int
	err := newProvider(t, srv.URL, 2).FetchAll(context.Background(), model.TypeCreature, func(page []providers.RawRecord) error {
		got += len(page)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, total, got)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 2, 4}, skips)
}

func TestFetchAll_GraphQLErrorsAreTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"data":null,"errors":[{"message":"Cannot query field"}]}`))
	}))
	defer srv.Close()

	err := newProvider(t, srv.URL, 10).FetchAll(context.Background(), model.TypeSpell, func([]providers.RawRecord) error { return nil })
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, perrors.IsIrrecoverable(err))
	assert.Contains(t, err.Error(), "Cannot query field")
}

func TestFetchAll_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"feats":[{"index":"grappler","name":"Grappler"}]}}`))
	}))
	defer srv.Close()

	var got []providers.RawRecord
	err := newProvider(t, srv.URL, 10).FetchAll(context.Background(), model.TypeFeat, func(page []providers.RawRecord) error {
		got = append(got, page...)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTransform(t *testing.T) {
	p := newProvider(t, "http://unused", 10)

	spell, err := p.Transform(providers.RawRecord{
		"index":  "acid-arrow",
		"name":   "Acid Arrow",
		"level":  2.0,
		"school": map[string]any{"name": "Evocation"},
		"desc":   []any{"A shimmering green arrow."},
	}, model.TypeSpell)
	require.NoError(t, err)
	assert.Equal(t, "acid-arrow", spell.ExternalID)
	assert.Equal(t, "Level 2 Evocation", spell.Summary)
	assert.Equal(t, "2014", spell.Edition)
	assert.Equal(t, "SRD 5.1", spell.SourceBook)

	monster, err := p.Transform(providers.RawRecord{
		"index":            "goblin",
		"name":             "Goblin",
		"size":             "Small",
		"type":             "humanoid",
		"challenge_rating": 0.25,
		"armor_class":      []any{map[string]any{"type": "armor", "value": 15.0}},
		"actions":          []any{map[string]any{"name": "Scimitar", "desc": "Melee Weapon Attack."}},
	}, model.TypeCreature)
	require.NoError(t, err)
	assert.Equal(t, "Small Humanoid, CR 1/4", monster.Summary)
	assert.Equal(t, 15, monster.Details["armor_class"])
	assert.Contains(t, monster.Content, "Melee Weapon Attack.")

	item, err := p.Transform(providers.RawRecord{
		"index":              "bag-of-tricks",
		"name":               "Bag of Tricks",
		"equipment_category": map[string]any{"name": "Wondrous Items"},
		"rarity":             map[string]any{"name": "Uncommon"},
		"desc":               []any{"Wondrous item, uncommon (requires attunement)", "This bag looks empty."},
	}, model.TypeItem)
	require.NoError(t, err)
	assert.Equal(t, "Wondrous items, uncommon (requires attunement)", item.Summary)
	assert.Equal(t, "This bag looks empty.", item.Details["desc"])

	_, err = p.Transform(providers.RawRecord{"name": "No Index"}, model.TypeClass)
	var ve *perrors.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"__typename":"Query"}}`))
	}))
	defer srv.Close()
	assert.NoError(t, newProvider(t, srv.URL, 10).HealthCheck(context.Background()))
}
