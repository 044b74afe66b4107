package api

import (
	"errors"
	"net/http"

	respond "github.com/Mystery2099/dnd-pwa-sub000/internal/api/respond"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/model"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/orchestrator"
)

// writeErr maps service errors onto HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		respond.WriteNotFound(w, err.Error())
	case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrUnsupportedType):
		respond.WriteBadRequest(w, err.Error())
	case errors.Is(err, orchestrator.ErrSyncInProgress):
		respond.WriteConflict(w, err.Error())
	default:
		respond.WriteInternalError(w, err.Error())
	}
}
