// Package replica is the client side of the compendium: a local cache of
// server responses kept consistent by the version push channel, and a durable
// queue of writes made while the server was unreachable.
package replica

import (
	"context"
	"errors"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/broadcast"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/cacheversion"
)

// Config configures a Replica.
type Config struct {
	ServerURL string
	// DBPath is the local SQLite file.
	DBPath         string
	RequestTimeout time.Duration
	CheckInterval  time.Duration
	Syncer         SyncerConfig
	Queue          QueueConfig
}

// Defaults fills unset durations and limits.
func (c Config) Defaults() Config {
	if c.DBPath == "" {
		c.DBPath = "data/replica.db"
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.Syncer.ReconnectBase <= 0 {
		c.Syncer.ReconnectBase = DefaultReconnectBase
	}
	if c.Syncer.MaxReconnectAttempts <= 0 {
		c.Syncer.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Syncer.IdleTimeout <= 0 {
		c.Syncer.IdleTimeout = DefaultIdleTimeout
	}
	if c.Queue.MaxAge <= 0 {
		c.Queue.MaxAge = DefaultMaxAge
	}
	if c.Queue.DrainInterval <= 0 {
		c.Queue.DrainInterval = DefaultDrainInterval
	}
	return c
}

// Replica wires the local database, cache, push channel, queue and
// connectivity monitor together.
type Replica struct {
	Local   *LocalDB
	Cache   *Cache
	Syncer  *Syncer
	Queue   *Queue
	Monitor *Monitor

	client *resty.Client
	log    zerolog.Logger
}

// Open opens the local database and builds every component. Nothing runs until Start.
func Open(ctx context.Context, cfg Config, log zerolog.Logger) (*Replica, error) {
	if cfg.ServerURL == "" {
		return nil, errors.New("replica: server url required")
	}
	cfg = cfg.Defaults()
	local, err := OpenLocal(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	client := newHTTPClient(cfg.ServerURL, cfg.RequestTimeout)
	cache := NewCache(local, client, log.With().Str("component", "replica_cache").Logger())

	scfg := cfg.Syncer
	scfg.ServerURL = cfg.ServerURL
	r := &Replica{
		Local:   local,
		Cache:   cache,
		Syncer:  NewSyncer(scfg, local, cache, client, log.With().Str("component", "replica_syncer").Logger()),
		Queue:   NewQueue(cfg.Queue, local, client, log.With().Str("component", "replica_queue").Logger()),
		Monitor: NewMonitor(client, cfg.CheckInterval, log.With().Str("component", "replica_monitor").Logger()),
		client:  client,
		log:     log,
	}
	if _, err := r.Queue.Load(ctx); err != nil {
		_ = local.Close()
		return nil, err
	}
	return r, nil
}

// Start runs the push channel, the queue drain loop and the connectivity monitor.
// Coming back online drains the queue and forces a version check.
func (r *Replica) Start(ctx context.Context) {
	r.Monitor.OnChange(func(online bool) {
		r.Queue.SetOnline(online)
		if !online {
			return
		}
		if _, err := r.Syncer.ForceSync(ctx); err != nil {
			r.log.Warn().Err(err).Msg("version check after reconnect failed")
		}
	})
	r.Queue.Start(ctx)
	r.Syncer.Start(ctx)
	r.Monitor.Start(ctx)
}

// Stop halts background work and closes the local database.
func (r *Replica) Stop() error {
	r.Monitor.Stop()
	r.Syncer.Stop()
	r.Queue.Stop()
	return r.Local.Close()
}

// Fetch reads path through the local cache.
func (r *Replica) Fetch(ctx context.Context, path string) (Entry, error) {
	return r.Cache.Fetch(ctx, path)
}

// Version returns the adopted cache version.
func (r *Replica) Version(ctx context.Context) (cacheversion.Token, bool, error) {
	return r.Local.Version(ctx)
}

// Watch calls fn for every applied push event until the returned function is called.
func (r *Replica) Watch(fn func(broadcast.Event)) (stop func()) {
	return r.Syncer.Subscribe(Listener(fn))
}
