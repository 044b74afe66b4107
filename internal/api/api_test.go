package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/broadcast"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/cacheversion"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/compendium"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/model"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/orchestrator"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/providers"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/querycache"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/searchindex/fts5"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/store/sqlite"
)

type stubProvider struct{ records []providers.RawRecord }

func (s *stubProvider) ID() string   { return "open5e" }
func (s *stubProvider) Name() string { return "Stub" }
func (s *stubProvider) SupportedTypes() []model.ItemType {
	return []model.ItemType{model.TypeSpell}
}
func (s *stubProvider) FetchAll(_ context.Context, _ model.ItemType, fn providers.PageFunc) error {
	return fn(s.records)
}
func (s *stubProvider) Transform(raw providers.RawRecord, t model.ItemType) (model.NormalizedItem, error) {
	slug, _ := raw["slug"].(string)
	name, _ := raw["name"].(string)
	return providers.Build("open5e", t, slug, name, model.Details(raw), model.Provenance{})
}
func (s *stubProvider) HealthCheck(context.Context) error { return nil }

type env struct {
	router   *mux.Router
	versions *cacheversion.Authority
	orch     *orchestrator.Orchestrator
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	versions := cacheversion.New(zerolog.Nop())
	svc := compendium.New(st, fts5.New(st.DB(), zerolog.Nop()), querycache.New(querycache.DefaultConfig()), versions, zerolog.Nop())
	reg := providers.NewRegistry()
	reg.Register(&stubProvider{records: []providers.RawRecord{
		{"slug": "fireball", "name": "Fireball", "level": 3, "school": "evocation"},
		{"slug": "ice-storm", "name": "Ice Storm", "level": 4, "school": "evocation"},
		{"slug": "bless", "name": "Bless", "level": 1, "school": "enchantment"},
	}}, true)
	orch := orchestrator.New(reg, st, svc, zerolog.Nop())

	router := NewRouter(Deps{
		Base:         context.Background(),
		Service:      svc,
		Orchestrator: orch,
		Registry:     reg,
		Store:        st,
		Versions:     versions,
		Hub:          broadcast.New(versions, time.Minute, zerolog.Nop()),
		Health:       staticHealth{ok: true, components: map[string]bool{"store": true}},
		Log:          zerolog.Nop(),
	})
	return &env{router: router, versions: versions, orch: orch}
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func (e *env) syncNow(t *testing.T) {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/api/sync?wait=true", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestListItems(t *testing.T) {
	e := newEnv(t)
	e.syncNow(t)

	rr := e.do(t, http.MethodGet, "/api/compendium/spells?sortBy=spellLevel&sortOrder=desc&limit=2", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	page := decode[model.Page](t, rr)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	assert.True(t, page.HasMore)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "Ice Storm", page.Items[0].Name)

	rr = e.do(t, http.MethodGet, "/api/compendium/spell?spellSchool=evocation&spellLevel=3", nil)
	page = decode[model.Page](t, rr)
	require.Len(t, page.Items, 2, "or logic across fields")

	rr = e.do(t, http.MethodGet, "/api/compendium/spell?spellSchool=evocation&spellLevel=3&filterLogic=and", nil)
	page = decode[model.Page](t, rr)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Fireball", page.Items[0].Name)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/compendium/vehicles", nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/compendium/spell?sortBy=weight", nil).Code)
}

func TestSearchAndGetItem(t *testing.T) {
	e := newEnv(t)
	e.syncNow(t)

	rr := e.do(t, http.MethodGet, "/api/compendium/spell/search?q=fire", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	found := decode[struct {
		Items []model.NormalizedItem `json:"items"`
		Count int                    `json:"count"`
	}](t, rr)
	require.Equal(t, 1, found.Count)
	id := found.Items[0].ID

	rr = e.do(t, http.MethodGet, "/api/compendium/spell/"+strconv.FormatInt(id, 10), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "fireball", decode[model.NormalizedItem](t, rr).ExternalID)

	rr = e.do(t, http.MethodGet, "/api/compendium/spell/ice-storm", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Ice Storm", decode[model.NormalizedItem](t, rr).Name)

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/compendium/spell/wish", nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/compendium/spell/search", nil).Code)
}

func TestLocalWrites(t *testing.T) {
	e := newEnv(t)
	v0 := e.versions.Current()

	rr := e.do(t, http.MethodPost, "/api/compendium/feat", map[string]any{
		"name": "Table Rule", "details": map[string]any{"prerequisite": "DM approval"},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[model.NormalizedItem](t, rr)
	assert.Equal(t, model.SourceLocal, created.Source)
	assert.Equal(t, "Prerequisite: DM approval", created.Summary)
	assert.NotEqual(t, v0.Version, e.versions.Current().Version)

	path := "/api/compendium/feat/" + strconv.FormatInt(created.ID, 10)
	rr = e.do(t, http.MethodPut, path, map[string]any{"name": "Table Rule v2"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "Table Rule v2", decode[model.NormalizedItem](t, rr).Name)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/api/compendium/feat", map[string]any{"name": ""}).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodPut, "/api/compendium/feat/999", map[string]any{"name": "Ghost"}).Code)

	assert.Equal(t, http.StatusNoContent, e.do(t, http.MethodDelete, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodDelete, path, nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodDelete, "/api/compendium/feat/abc", nil).Code)
}

func TestCreateItem_ReplayedMutationIsIdempotent(t *testing.T) {
	e := newEnv(t)
	body := map[string]any{"name": "Homebrew Bolt", "details": map[string]any{"level": 1}}

	var ids []int64
	for i := 0; i < 2; i++ {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
		req := httptest.NewRequest(http.MethodPost, "/api/compendium/spell", &buf)
		req.Header.Set(model.MutationIDHeader, "mut-1")
		rr := httptest.NewRecorder()
		e.router.ServeHTTP(rr, req)
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		item := decode[model.NormalizedItem](t, rr)
		assert.Equal(t, "mut-1", item.ExternalID)
		ids = append(ids, item.ID)
	}
	assert.Equal(t, ids[0], ids[1])

	rr := e.do(t, http.MethodGet, "/api/compendium/spell", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, decode[model.Page](t, rr).Total)
}

func TestSyncEndpoints(t *testing.T) {
	e := newEnv(t)

	rr := e.do(t, http.MethodPost, "/api/sync/open5e?wait=true&type=spells", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := decode[orchestrator.SyncResult](t, rr)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.ItemsSynced)

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodPost, "/api/sync/nope", nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/api/sync?type=vehicle", nil).Code)

	_, before := e.orch.LastResults()
	rr = e.do(t, http.MethodPost, "/api/sync", nil)
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Eventually(t, func() bool {
		_, at := e.orch.LastResults()
		return !e.orch.Running() && at.After(before)
	}, 5*time.Second, 10*time.Millisecond)

	rr = e.do(t, http.MethodGet, "/api/sync/status", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	status := decode[struct {
		Running  bool                 `json:"running"`
		Metadata []model.SyncMetadata `json:"metadata"`
	}](t, rr)
	assert.False(t, status.Running)
	require.Len(t, status.Metadata, 1)
	assert.Equal(t, 3, status.Metadata[0].ItemsSynced)

	rr = e.do(t, http.MethodGet, "/api/providers/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"ok":true`)

	rr = e.do(t, http.MethodPost, "/api/search/rebuild", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 3, decode[map[string]int](t, rr)["indexed"])
}

func TestCacheVersionEndpoints(t *testing.T) {
	e := newEnv(t)

	rr := e.do(t, http.MethodGet, "/api/cache/version", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "v1", decode[cacheversion.Token](t, rr).Version)

	rr = e.do(t, http.MethodPost, "/api/cache/version", map[string]string{"version": "v42"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "v42", decode[cacheversion.Token](t, rr).Version)

	req := httptest.NewRequest(http.MethodPost, "/api/cache/version", nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	tok := decode[cacheversion.Token](t, rec)
	assert.True(t, strings.HasPrefix(tok.Version, "v"))
	assert.NotEqual(t, "v42", tok.Version)

	rr = e.do(t, http.MethodPost, "/api/cache/invalidate", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 0, decode[map[string]int](t, rr)["clients"])
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t)
	e.syncNow(t)

	rr := e.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"healthy"`)

	rr = e.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "compendium_sync_items_total")
}
