package replica

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/broadcast"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/cacheversion"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/metrics"
)

// State is the push channel connection state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

const (
	DefaultReconnectBase        = 5 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultIdleTimeout          = 90 * time.Second

	versionPath = "/api/cache/version"
	eventsPath  = "/api/cache/events"
)

// SyncerConfig tunes the push channel.
type SyncerConfig struct {
	ServerURL            string
	ReconnectBase        time.Duration
	MaxReconnectAttempts int
	// IdleTimeout drops a connection that delivers nothing, pings included.
	IdleTimeout time.Duration
}

// Listener observes events after the replica has applied them.
type Listener func(broadcast.Event)

// Syncer keeps the local version in step with the server: push events while
// connected, one pull on every (re)connect and on ForceSync.
type Syncer struct {
	cfg    SyncerConfig
	local  *LocalDB
	cache  *Cache
	client *resty.Client
	dialer *websocket.Dialer
	log    zerolog.Logger

	state atomic.Int32
	// adoptMu orders version adoption between the push loop and ForceSync.
	adoptMu sync.Mutex

	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
	base      context.Context
	cancel    context.CancelFunc
	running   bool
	done      chan struct{}
	wake      chan struct{}
}

func NewSyncer(cfg SyncerConfig, local *LocalDB, cache *Cache, client *resty.Client, log zerolog.Logger) *Syncer {
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = DefaultReconnectBase
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	return &Syncer{
		cfg:       cfg,
		local:     local,
		cache:     cache,
		client:    client,
		dialer:    &websocket.Dialer{HandshakeTimeout: DefaultRequestTimeout},
		log:       log,
		listeners: map[int]Listener{},
		wake:      make(chan struct{}, 1),
	}
}

// ReconnectDelay is the wait before reconnect attempt n (1-based): base * 1.5^(n-1).
func ReconnectDelay(base time.Duration, attempt int) time.Duration {
	d := float64(base)
	for i := 1; i < attempt; i++ {
		d *= 1.5
	}
	return time.Duration(d)
}

// newReconnectBackOff yields ReconnectDelay(base, 1..max) and then Stop.
func newReconnectBackOff(base time.Duration, max int) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = base
	exp.Multiplier = 1.5
	exp.RandomizationFactor = 0
	exp.MaxInterval = 24 * time.Hour
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithMaxRetries(exp, uint64(max))
}

// State returns the current connection state.
func (s *Syncer) State() State { return State(s.state.Load()) }

func (s *Syncer) setState(st State) {
	if State(s.state.Swap(int32(st))) != st {
		s.log.Debug().Str("state", st.String()).Msg("push channel state")
	}
}

// Subscribe registers l and returns a function removing it.
func (s *Syncer) Subscribe(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Syncer) notify(ev broadcast.Event) {
	s.mu.Lock()
	ls := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.mu.Unlock()
	for _, l := range ls {
		l(ev)
	}
}

// Start opens the push channel in the background.
func (s *Syncer) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	s.base, s.cancel = context.WithCancel(ctx)
	s.launchLocked()
}

// Stop closes the push channel and waits for the loop to exit.
func (s *Syncer) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
	s.setState(Disconnected)
}

func (s *Syncer) launchLocked() {
	if s.running {
		return
	}
	s.running = true
	s.done = make(chan struct{})
	go s.loop(s.base, s.done)
}

// resume restarts a loop that gave up, or cuts short a pending reconnect wait.
func (s *Syncer) resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	if !s.running {
		s.launchLocked()
		return
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// ForceSync pulls the server version, adopts it when it differs from the local
// one and resumes the push channel with a fresh attempt budget. It reports
// whether the local cache was invalidated.
func (s *Syncer) ForceSync(ctx context.Context) (bool, error) {
	changed, err := s.pull(ctx)
	s.resume()
	return changed, err
}

func (s *Syncer) pull(ctx context.Context) (bool, error) {
	body, err := get(ctx, s.client, versionPath)
	if err != nil {
		return false, err
	}
	var tok cacheversion.Token
	if err := json.Unmarshal(body, &tok); err != nil {
		return false, fmt.Errorf("decode server version: %w", err)
	}
	return s.adopt(ctx, tok)
}

// adopt records tok and invalidates every cached entry when tok differs from
// the local version. A token older than the local one is ignored.
func (s *Syncer) adopt(ctx context.Context, tok cacheversion.Token) (bool, error) {
	s.adoptMu.Lock()
	cur, ok, err := s.local.Version(ctx)
	if err != nil {
		s.adoptMu.Unlock()
		return false, err
	}
	if ok && (cur.Version == tok.Version || tok.Timestamp < cur.Timestamp) {
		s.adoptMu.Unlock()
		if cur.Version != tok.Version {
			s.log.Debug().Str("held", cur.Version).Str("ignored", tok.Version).Msg("stale cache version ignored")
		}
		return false, nil
	}
	if err := s.local.SetVersion(ctx, tok); err != nil {
		s.adoptMu.Unlock()
		return false, err
	}
	_, err = s.cache.InvalidateAll(ctx)
	s.adoptMu.Unlock()
	if err != nil {
		return true, err
	}
	s.log.Info().Str("from", cur.Version).Str("to", tok.Version).Msg("adopted server cache version")
	s.notify(broadcast.Event{Type: broadcast.EventVersionUpdate, Version: tok.Version, Timestamp: tok.Timestamp})
	return true, nil
}

func (s *Syncer) handle(ctx context.Context, ev broadcast.Event) error {
	switch ev.Type {
	case broadcast.EventVersionUpdate:
		_, err := s.adopt(ctx, cacheversion.Token{Version: ev.Version, Timestamp: ev.Timestamp})
		return err
	case broadcast.EventInvalidate:
		if _, err := s.cache.InvalidateAll(ctx); err != nil {
			return err
		}
		s.notify(ev)
	case broadcast.EventHeartbeat:
	default:
		s.log.Debug().Str("type", string(ev.Type)).Msg("unknown push event ignored")
	}
	return nil
}

func (s *Syncer) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(done)
	}()

	b := newReconnectBackOff(s.cfg.ReconnectBase, s.cfg.MaxReconnectAttempts)
	for {
		err := s.serve(ctx, b)
		s.setState(Disconnected)
		if ctx.Err() != nil {
			return
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			s.log.Warn().Err(err).Int("attempts", s.cfg.MaxReconnectAttempts).Msg("push channel gave up; serving cached data until ForceSync")
			return
		}
		metrics.ReplicaReconnectsTotal.Inc()
		s.log.Debug().Err(err).Dur("wait", wait).Msg("push channel reconnect scheduled")

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-s.wake:
			t.Stop()
			b.Reset()
		case <-t.C:
		}
	}
}

// serve dials, pulls once and applies events until the connection drops.
func (s *Syncer) serve(ctx context.Context, b backoff.BackOff) error {
	s.setState(Connecting)
	u, err := eventsURL(s.cfg.ServerURL)
	if err != nil {
		return err
	}
	conn, _, err := s.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return err
	}
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = conn.Close()
	}()

	b.Reset()
	s.setState(Connected)
	if _, err := s.pull(ctx); err != nil {
		s.log.Warn().Err(err).Msg("version pull after connect failed")
	}

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		var ev broadcast.Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			s.log.Warn().Err(err).Msg("malformed push event ignored")
			continue
		}
		if err := s.handle(ctx, ev); err != nil {
			s.log.Error().Err(err).Str("type", string(ev.Type)).Msg("push event not applied")
		}
	}
}

func eventsURL(server string) (string, error) {
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += eventsPath
	return u.String(), nil
}
