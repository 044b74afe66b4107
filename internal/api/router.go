package api

import (
	"context"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/api/recovery"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/broadcast"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/cacheversion"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/compendium"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/orchestrator"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/providers"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/store"
)

// Deps are the components the HTTP surface is wired to.
type Deps struct {
	// Base is the server lifetime context used by background syncs.
	Base         context.Context
	Service      *compendium.Service
	Orchestrator *orchestrator.Orchestrator
	Registry     *providers.Registry
	Store        store.Store
	Versions     *cacheversion.Authority
	Hub          *broadcast.Hub
	Health       ServiceHealth
	Log          zerolog.Logger
}

// NewRouter registers every route of the compendium service.
func NewRouter(d Deps) *mux.Router {
	if d.Base == nil {
		d.Base = context.Background()
	}
	root := mux.NewRouter()
	root.Use(recovery.Middleware(d.Log))

	health := NewHealthHandler(d.Health)
	root.HandleFunc("/api/health", health.CheckHealth).Methods("GET")
	root.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Sync and administration
	sync := NewSyncHandler(d.Base, d.Orchestrator, d.Registry, d.Store.SyncMetadata(), d.Service, d.Log)
	root.HandleFunc("/api/sync/status", sync.Status).Methods("GET")
	root.HandleFunc("/api/sync", sync.RunFullSync).Methods("POST")
	root.HandleFunc("/api/sync/{provider}", sync.RunProviderSync).Methods("POST")
	root.HandleFunc("/api/providers/health", sync.ProvidersHealth).Methods("GET")
	root.HandleFunc("/api/search/rebuild", sync.RebuildIndex).Methods("POST")

	// Cache version and push channel
	cache := NewCacheHandler(d.Versions, d.Hub, d.Service)
	root.HandleFunc("/api/cache/version", cache.GetVersion).Methods("GET")
	root.HandleFunc("/api/cache/version", cache.BumpVersion).Methods("POST")
	root.HandleFunc("/api/cache/invalidate", cache.Invalidate).Methods("POST")
	root.Handle("/api/cache/events", d.Hub).Methods("GET")

	// Compendium reads and local writes; search is registered before {id}
	items := NewCompendiumHandler(d.Service)
	root.HandleFunc("/api/compendium/{type}", items.ListItems).Methods("GET")
	root.HandleFunc("/api/compendium/{type}", items.CreateItem).Methods("POST")
	root.HandleFunc("/api/compendium/{type}/search", items.SearchItems).Methods("GET")
	root.HandleFunc("/api/compendium/{type}/{id}", items.GetItem).Methods("GET")
	root.HandleFunc("/api/compendium/{type}/{id}", items.UpdateItem).Methods("PUT")
	root.HandleFunc("/api/compendium/{type}/{id}", items.DeleteItem).Methods("DELETE")
	return root
}
