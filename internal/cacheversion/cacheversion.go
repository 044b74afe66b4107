// Package cacheversion is the Cache Version Authority: a process-wide token
// naming the current generation of canonical data.
package cacheversion

import (
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/metrics"
)

// Token is the version record exchanged with clients.
type Token struct {
	Version   string `json:"version"`
	Timestamp int64  `json:"timestamp"`
}

// Listener observes bumps. Listeners run synchronously in Bump and must not block.
type Listener func(Token)

// Authority owns the current token.
type Authority struct {
	mu        sync.RWMutex
	cur       Token
	listeners map[int]Listener
	nextID    int
	now       func() time.Time
	log       zerolog.Logger
}

// New starts at version "v1" stamped with the current time.
func New(log zerolog.Logger) *Authority {
	return NewWithClock(log, time.Now)
}

func NewWithClock(log zerolog.Logger, now func() time.Time) *Authority {
	return &Authority{
		cur:       Token{Version: "v1", Timestamp: now().UnixMilli()},
		listeners: map[int]Listener{},
		now:       now,
		log:       log,
	}
}

// Current returns the current token.
func (a *Authority) Current() Token {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cur
}

// Bump installs a new token and notifies listeners. An empty version becomes
// "v{timestamp}". Timestamps never move backwards: a timestamp at or below
// the current one is advanced to current+1.
func (a *Authority) Bump(version string, timestamp int64) Token {
	a.mu.Lock()
	if timestamp <= 0 {
		timestamp = a.now().UnixMilli()
	}
	if timestamp <= a.cur.Timestamp {
		timestamp = a.cur.Timestamp + 1
	}
	if version == "" {
		version = "v" + strconv.FormatInt(timestamp, 10)
	}
	a.cur = Token{Version: version, Timestamp: timestamp}
	tok := a.cur
	listeners := make([]Listener, 0, len(a.listeners))
	for _, l := range a.listeners {
		listeners = append(listeners, l)
	}
	a.mu.Unlock()

	metrics.CacheVersionBumpsTotal.Inc()
	a.log.Info().Str("version", tok.Version).Int64("timestamp", tok.Timestamp).Msg("cache version updated")
	for _, l := range listeners {
		l(tok)
	}
	return tok
}

// Subscribe registers l and returns a function removing it.
func (a *Authority) Subscribe(l Listener) (unsubscribe func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = l
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.listeners, id)
	}
}
