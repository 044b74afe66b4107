package replica

import (
	"context"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/health"
)

const (
	DefaultCheckInterval = 15 * time.Second
	healthPath           = "/api/health"
)

// Monitor tracks whether the server is reachable and reports transitions.
type Monitor struct {
	checker  *health.PingChecker
	interval time.Duration
	log      zerolog.Logger

	mu        sync.Mutex
	online    bool
	listeners []func(online bool)
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewMonitor(client *resty.Client, interval time.Duration, log zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	ping := health.PingerFunc(func(ctx context.Context) error {
		_, err := get(ctx, client, healthPath)
		return err
	})
	return &Monitor{
		checker:  health.NewPingChecker("server", ping, log, DefaultRequestTimeout),
		interval: interval,
		log:      log,
	}
}

// OnChange registers fn for online/offline transitions. Register before Start.
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Online reports the last check result.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Check runs once and notifies listeners when the state flips.
func (m *Monitor) Check(ctx context.Context) bool {
	up := m.checker.Check(ctx)

	m.mu.Lock()
	changed := up != m.online
	m.online = up
	ls := append([](func(bool))(nil), m.listeners...)
	m.mu.Unlock()

	if changed {
		m.log.Info().Bool("online", up).Msg("server connectivity changed")
		for _, fn := range ls {
			fn(up)
		}
	}
	return up
}

// Start checks immediately and then on every interval.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel, m.done = cancel, done
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		m.Check(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Check(ctx)
			}
		}
	}()
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
