// Package compendiumservice wires the compendium server together and runs it
// until SIGINT or SIGTERM.
package compendiumservice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/api"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/broadcast"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/cacheversion"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/compendium"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/config"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/factory"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/health"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/logger"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/orchestrator"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/providers/homebrew"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/querycache"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/searchindex"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/store"
)

// Run starts the compendium HTTP server and blocks until shutdown or error.
func Run() error {
	log := logger.New("compendium-service")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}
	logger.SetLevel(cfg.LogLevel)

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("db_driver", cfg.DBDriver).
		Int("http_port", cfg.HTTPPort).
		Strs("providers", cfg.Providers).
		Msg("Compendium service starting")

	// Create cancellable root context bound to SIGINT/SIGTERM
	ctx, stop := newServerContext()
	defer stop()

	app, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.close()

	// Block startup until store and index report healthy; fail fast otherwise
	if err := waitUntilHealthy(ctx, cfg, app.health); err != nil {
		log.Error().Stack().Err(err).Msg("startup health check failed")
		return err
	}
	app.startBackground(ctx, cfg, log)

	server := newHTTPServer(ctx, cfg, app.router)
	errCh := serveHTTP(server, log, cfg)

	// Graceful shutdown on context cancel or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			log.Error().Stack().Err(err).Msg("Server forced to shutdown")
			return err
		}
		log.Info().Msg("Server exited")
		return nil
	case err := <-errCh:
		log.Error().Stack().Err(err).Msg("HTTP server failed")
		return err
	}
}

// app holds the wired components and the background loops to stop on exit.
type app struct {
	store   store.Store
	index   searchindex.Index
	service *compendium.Service
	orch    *orchestrator.Orchestrator
	hub     *broadcast.Hub
	health  *health.ServiceHealthChecker
	router  http.Handler

	homebrewDir string
	homebrewOn  bool
	stops       []func()
}

// build constructs every component. Nothing syncs until startBackground.
func build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app, error) {
	st, idx, err := initDependencies(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	provs, err := factory.NewProviders(cfg, logger.Component(log, "providers"))
	if err != nil {
		_ = st.Close()
		log.Error().Stack().Err(err).Msg("Provider adapters unavailable")
		return nil, err
	}

	versions := cacheversion.New(logger.Component(log, "cache_version"))
	cache := querycache.New(querycache.Config{
		MaxEntries: cfg.CacheMaxEntries,
		ListTTL:    time.Duration(cfg.CacheListTTLSeconds) * time.Second,
		SearchTTL:  time.Duration(cfg.CacheSearchTTLSeconds) * time.Second,
		ItemTTL:    time.Duration(cfg.CacheListTTLSeconds) * time.Second,
	})
	svc := compendium.New(st, idx, cache, versions, logger.Component(log, "compendium"))
	orch := orchestrator.New(provs.Registry, st, svc, logger.Component(log, "orchestrator"))
	hub := broadcast.New(versions, cfg.HeartbeatInterval(), logger.Component(log, "broadcast"))

	a := &app{
		store:       st,
		index:       idx,
		service:     svc,
		orch:        orch,
		hub:         hub,
		homebrewDir: provs.Homebrew.Dir(),
		homebrewOn:  cfg.HomebrewWatch && provs.Registry.IsEnabled(homebrew.ID),
	}
	a.health = startHealthCheckers(ctx, cfg, log, st, idx)
	a.router = api.NewRouter(api.Deps{
		Base:         ctx,
		Service:      svc,
		Orchestrator: orch,
		Registry:     provs.Registry,
		Store:        st,
		Versions:     versions,
		Hub:          hub,
		Health:       a.health,
		Log:          logger.Component(log, "api"),
	})
	return a, nil
}

// initDependencies opens the canonical store and its search index; both are required.
func initDependencies(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Store, searchindex.Index, error) {
	st, err := factory.NewStore(ctx, cfg, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("Store adapter unavailable")
		return nil, nil, err
	}
	idx := factory.NewSearchIndex(ctx, st, 2*time.Minute, logger.Component(log, "search_index"))
	return st, idx, nil
}

// startBackground runs the push hub, the sync scheduler and the homebrew watcher.
func (a *app) startBackground(ctx context.Context, cfg *config.Config, log zerolog.Logger) {
	a.hub.Start(ctx)
	a.stops = append(a.stops, a.hub.Stop)

	if cfg.SyncInterval() > 0 || cfg.SyncOnStart {
		sched := orchestrator.NewScheduler(a.orch, cfg.SyncInterval(), cfg.SyncOnStart, logger.Component(log, "scheduler"))
		sched.Start(ctx)
		a.stops = append(a.stops, sched.Stop)
	}

	if a.homebrewOn {
		w := &homebrew.Watcher{
			Dir:     a.homebrewDir,
			Trigger: a.resyncHomebrew,
			Log:     logger.Component(log, "homebrew_watcher"),
		}
		if err := w.Start(ctx); err != nil {
			log.Warn().Err(err).Str("dir", a.homebrewDir).Msg("Homebrew watcher unavailable")
		} else {
			a.stops = append(a.stops, w.Stop)
		}
	}
}

func (a *app) resyncHomebrew(ctx context.Context) error {
	_, err := a.orch.RunProviderSync(ctx, homebrew.ID, orchestrator.Options{})
	if errors.Is(err, orchestrator.ErrSyncInProgress) {
		return nil
	}
	return err
}

func (a *app) close() {
	for i := len(a.stops) - 1; i >= 0; i-- {
		a.stops[i]()
	}
	_ = a.store.Close()
}

// startHealthCheckers starts component checkers and the service-level aggregator.
// Upstream providers are reported on /api/providers/health and do not gate service health.
func startHealthCheckers(ctx context.Context, cfg *config.Config, log zerolog.Logger, st store.Store, idx searchindex.Index) *health.ServiceHealthChecker {
	checkTimeout := cfg.HealthCheckTimeout()
	interval := cfg.HealthInterval()

	storeChecker := health.NewPingChecker("store", st, log, checkTimeout)
	go storeChecker.Start(ctx, interval)

	idxChecker := health.NewPingChecker("search_index", idx, log, checkTimeout)
	go idxChecker.Start(ctx, interval)

	svcHealth := health.NewServiceHealthChecker(log, storeChecker, idxChecker)
	go svcHealth.Start(ctx, interval)
	return svcHealth
}

func newHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// blocking syncs (?wait=true) outlive a short write timeout
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
}

func serveHTTP(server *http.Server, log zerolog.Logger, cfg *config.Config) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

// calculateStartupHealthTimeout returns the startup health timeout in seconds,
// calculated as interval*2 with a minimum of 60 seconds.
func calculateStartupHealthTimeout(healthIntervalSeconds int) int {
	timeout := healthIntervalSeconds * 2
	if timeout < 60 {
		return 60
	}
	return timeout
}

// waitUntilHealthy blocks until service health is healthy or the startup window expires.
func waitUntilHealthy(ctx context.Context, cfg *config.Config, svcHealth *health.ServiceHealthChecker) error {
	timeoutSeconds := calculateStartupHealthTimeout(cfg.HealthIntervalSeconds)
	deadline := time.Now().Add(time.Duration(timeoutSeconds) * time.Second)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		if svcHealth.IsHealthy() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("startup aborted: dependencies not healthy within %d seconds", timeoutSeconds)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// newServerContext returns a cancellable context that is cancelled on SIGINT/SIGTERM.
func newServerContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
