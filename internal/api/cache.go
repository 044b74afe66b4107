package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	respond "github.com/Mystery2099/dnd-pwa-sub000/internal/api/respond"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/broadcast"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/cacheversion"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/compendium"
)

// CacheHandler serves the cache version and the invalidation push channel.
type CacheHandler struct {
	versions *cacheversion.Authority
	hub      *broadcast.Hub
	svc      *compendium.Service
}

func NewCacheHandler(versions *cacheversion.Authority, hub *broadcast.Hub, svc *compendium.Service) *CacheHandler {
	return &CacheHandler{versions: versions, hub: hub, svc: svc}
}

// GetVersion GET /api/cache/version
func (h *CacheHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSON(w, http.StatusOK, h.versions.Current())
}

// BumpVersion POST /api/cache/version
// An empty body generates the next version.
func (h *CacheHandler) BumpVersion(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil && !errors.Is(err, io.EOF) {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}
	tok := h.svc.BumpVersion(strings.TrimSpace(in.Version))
	respond.WriteJSON(w, http.StatusOK, tok)
}

// Invalidate POST /api/cache/invalidate
func (h *CacheHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	h.svc.InvalidateAll()
	n := h.hub.Invalidate()
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"clients": n})
}
