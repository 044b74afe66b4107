package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	respond "github.com/Mystery2099/dnd-pwa-sub000/internal/api/respond"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/api/validate"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/compendium"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/model"
)

// CompendiumHandler is the HTTP transport over compendium.Service.
type CompendiumHandler struct {
	svc *compendium.Service
}

func NewCompendiumHandler(svc *compendium.Service) *CompendiumHandler {
	return &CompendiumHandler{svc: svc}
}

// itemInput is the writable part of an item.
type itemInput struct {
	ExternalID string           `json:"externalId"`
	Name       string           `json:"name"`
	Details    model.Details    `json:"details"`
	Provenance model.Provenance `json:"provenance"`
}

// ListItems GET /api/compendium/{type}
func (h *CompendiumHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	t, err := validate.ItemType(mux.Vars(r)["type"])
	if err != nil {
		writeErr(w, err)
		return
	}
	opts, err := validate.ListOptions(r.URL.Query())
	if err != nil {
		writeErr(w, err)
		return
	}
	page, err := h.svc.GetPaginatedItems(r.Context(), t, opts)
	if err != nil {
		writeErr(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, page)
}

// SearchItems GET /api/compendium/{type}/search?q=
func (h *CompendiumHandler) SearchItems(w http.ResponseWriter, r *http.Request) {
	t, err := validate.ItemType(mux.Vars(r)["type"])
	if err != nil {
		writeErr(w, err)
		return
	}
	q, err := validate.Query(r.URL.Query().Get("q"))
	if err != nil {
		writeErr(w, err)
		return
	}
	items, err := h.svc.SearchItems(r.Context(), t, q)
	if err != nil {
		writeErr(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"items": items, "count": len(items)})
}

// GetItem GET /api/compendium/{type}/{id}
func (h *CompendiumHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	t, err := validate.ItemType(vars["type"])
	if err != nil {
		writeErr(w, err)
		return
	}
	it, err := h.svc.GetItem(r.Context(), t, vars["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, it)
}

// CreateItem POST /api/compendium/{type}
func (h *CompendiumHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	t, err := validate.ItemType(mux.Vars(r)["type"])
	if err != nil {
		writeErr(w, err)
		return
	}
	in, ok := decodeItem(w, r)
	if !ok {
		return
	}
	externalID := strings.TrimSpace(in.ExternalID)
	if externalID == "" {
		externalID = strings.TrimSpace(r.Header.Get(model.MutationIDHeader))
	}
	out, err := h.svc.SaveItem(r.Context(), t, model.NormalizedItem{
		ExternalID: externalID,
		Name:       in.Name,
		Details:    in.Details,
		Provenance: in.Provenance,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, out)
}

// UpdateItem PUT /api/compendium/{type}/{id}
func (h *CompendiumHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	t, err := validate.ItemType(vars["type"])
	if err != nil {
		writeErr(w, err)
		return
	}
	id, err := validate.ID(vars["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	in, ok := decodeItem(w, r)
	if !ok {
		return
	}
	out, err := h.svc.SaveItem(r.Context(), t, model.NormalizedItem{
		ID:         id,
		Name:       in.Name,
		Details:    in.Details,
		Provenance: in.Provenance,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

// DeleteItem DELETE /api/compendium/{type}/{id}
func (h *CompendiumHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	t, err := validate.ItemType(vars["type"])
	if err != nil {
		writeErr(w, err)
		return
	}
	id, err := validate.ID(vars["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	if _, err := h.svc.DeleteItem(r.Context(), t, id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeItem(w http.ResponseWriter, r *http.Request) (itemInput, bool) {
	var in itemInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return in, false
	}
	if err := validate.Item(in.Name, in.Details); err != nil {
		writeErr(w, err)
		return in, false
	}
	return in, true
}
