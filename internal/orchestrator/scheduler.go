package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Runner is the part of Orchestrator the scheduler drives.
type Runner interface {
	RunFullSync(ctx context.Context, opts Options) (map[string]SyncResult, error)
}

// Scheduler triggers full syncs on a fixed interval.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	onStart  bool
	log      zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler returns a scheduler. A zero interval only honours runOnStart.
func NewScheduler(r Runner, interval time.Duration, runOnStart bool, log zerolog.Logger) *Scheduler {
	return &Scheduler{runner: r, interval: interval, onStart: runOnStart, log: log}
}

// Start launches the loop. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
}

// Stop cancels the loop and waits for an in-flight run to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	if s.onStart {
		s.runOnce(ctx)
	}
	if s.interval <= 0 {
		return
	}
	s.log.Info().Dur("interval", s.interval).Msg("sync scheduler started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("sync scheduler stopping")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("scheduled sync panicked")
		}
	}()
	if _, err := s.runner.RunFullSync(ctx, Options{}); err != nil {
		if errors.Is(err, ErrSyncInProgress) {
			s.log.Info().Msg("scheduled sync skipped; a run is already active")
			return
		}
		s.log.Error().Err(err).Msg("scheduled sync failed")
	}
}
