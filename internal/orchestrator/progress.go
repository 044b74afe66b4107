package orchestrator

import (
	"github.com/rs/zerolog"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/model"
)

// Status is the phase a progress Event reports.
type Status string

const (
	StatusStarting     Status = "starting"
	StatusFetching     Status = "fetching"
	StatusTransforming Status = "transforming"
	StatusSaving       Status = "saving"
	StatusComplete     Status = "complete"
	StatusError        Status = "error"
)

// TransformProgressInterval is how many records pass between transforming events.
const TransformProgressInterval = 50

// Event is one progress notification. Type is empty for provider-level events.
type Event struct {
	Provider       string         `json:"provider"`
	Type           model.ItemType `json:"type,omitempty"`
	Status         Status         `json:"status"`
	ItemsProcessed int            `json:"itemsProcessed"`
	TotalItems     int            `json:"totalItems,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// ProgressFunc receives progress events synchronously on the sync goroutine.
type ProgressFunc func(Event)

// NopProgress discards events.
func NopProgress(Event) {}

// ChannelProgress forwards events to ch without blocking; events are dropped
// while ch is full.
func ChannelProgress(ch chan<- Event) ProgressFunc {
	return func(ev Event) {
		select {
		case ch <- ev:
		default:
		}
	}
}

// reporter shields the sync from a misbehaving callback.
type reporter struct {
	fn  ProgressFunc
	log zerolog.Logger
}

func (r reporter) emit(ev Event) {
	if r.fn == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Interface("panic", p).Str("provider", ev.Provider).Str("status", string(ev.Status)).Msg("progress callback panicked")
		}
	}()
	r.fn(ev)
}
