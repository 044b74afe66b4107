package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	respond "github.com/Mystery2099/dnd-pwa-sub000/internal/api/respond"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/compendium"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/model"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/orchestrator"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/providers"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/store"
)

// SyncHandler exposes the sync orchestrator and provider administration.
type SyncHandler struct {
	orch     *orchestrator.Orchestrator
	registry *providers.Registry
	meta     store.SyncMetadata
	svc      *compendium.Service
	// base outlives the request for background runs.
	base context.Context
	log  zerolog.Logger
}

func NewSyncHandler(base context.Context, orch *orchestrator.Orchestrator, reg *providers.Registry, meta store.SyncMetadata, svc *compendium.Service, log zerolog.Logger) *SyncHandler {
	return &SyncHandler{orch: orch, registry: reg, meta: meta, svc: svc, base: base, log: log}
}

// RunFullSync POST /api/sync
// Answers 202 and runs in the background unless ?wait=true.
func (h *SyncHandler) RunFullSync(w http.ResponseWriter, r *http.Request) {
	opts, err := syncOptions(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if wait(r) {
		results, err := h.orch.RunFullSync(r.Context(), opts)
		if err != nil {
			writeErr(w, err)
			return
		}
		respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"results": results})
		return
	}
	if h.orch.Running() {
		writeErr(w, orchestrator.ErrSyncInProgress)
		return
	}
	go func() {
		if _, err := h.orch.RunFullSync(h.base, opts); err != nil {
			h.log.Error().Err(err).Msg("background sync failed")
		}
	}()
	respond.WriteJSON(w, http.StatusAccepted, map[string]interface{}{"status": "started"})
}

// RunProviderSync POST /api/sync/{provider}
func (h *SyncHandler) RunProviderSync(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["provider"]
	if _, ok := h.registry.Get(id); !ok {
		respond.WriteNotFound(w, "unknown provider "+strconv.Quote(id))
		return
	}
	opts, err := syncOptions(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if wait(r) {
		res, err := h.orch.RunProviderSync(r.Context(), id, opts)
		if err != nil {
			writeErr(w, err)
			return
		}
		respond.WriteJSON(w, http.StatusOK, res)
		return
	}
	if h.orch.Running() {
		writeErr(w, orchestrator.ErrSyncInProgress)
		return
	}
	go func() {
		if _, err := h.orch.RunProviderSync(h.base, id, opts); err != nil {
			h.log.Error().Err(err).Str("provider", id).Msg("background provider sync failed")
		}
	}()
	respond.WriteJSON(w, http.StatusAccepted, map[string]interface{}{"status": "started", "provider": id})
}

// Status GET /api/sync/status
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	meta, err := h.meta.List(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	results, at := h.orch.LastResults()
	resp := map[string]interface{}{
		"running":   h.orch.Running(),
		"providers": h.registry.EnabledIDs(),
		"metadata":  meta,
		"results":   results,
	}
	if !at.IsZero() {
		resp["lastRunAt"] = at.UTC().Format(time.RFC3339)
	}
	respond.WriteJSON(w, http.StatusOK, resp)
}

// ProvidersHealth GET /api/providers/health
func (h *SyncHandler) ProvidersHealth(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"providers": h.registry.HealthCheckAll(r.Context())})
}

// RebuildIndex POST /api/search/rebuild
func (h *SyncHandler) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.RebuildIndex(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"indexed": n})
}

func wait(r *http.Request) bool {
	ok, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	return ok
}

func syncOptions(r *http.Request) (orchestrator.Options, error) {
	var opts orchestrator.Options
	for _, raw := range r.URL.Query()["type"] {
		t, err := model.ParseItemType(raw)
		if err != nil {
			return opts, err
		}
		opts.Types = append(opts.Types, t)
	}
	return opts, nil
}
