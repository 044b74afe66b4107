package replica

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	perrors "github.com/Mystery2099/dnd-pwa-sub000/internal/errors"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/metrics"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/model"
)

// MutationKind selects the HTTP method a queued write is replayed with.
type MutationKind string

const (
	KindCreate MutationKind = "create"
	KindUpdate MutationKind = "update"
	KindDelete MutationKind = "delete"
)

func (k MutationKind) method() (string, error) {
	switch k {
	case KindCreate:
		return http.MethodPost, nil
	case KindUpdate:
		return http.MethodPut, nil
	case KindDelete:
		return http.MethodDelete, nil
	}
	return "", fmt.Errorf("unknown mutation kind %q", k)
}

const (
	DefaultMaxAge        = 7 * 24 * time.Hour
	DefaultDrainInterval = 30 * time.Second
)

// QueuedMutation is a write waiting for the server.
type QueuedMutation struct {
	ID         string          `json:"id"`
	Kind       MutationKind    `json:"kind"`
	Endpoint   string          `json:"endpoint"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	RetryCount int             `json:"retryCount"`
	LastError  string          `json:"lastError,omitempty"`
	// Terminal marks a pending entry the server rejected outright. Drains skip
	// it; it stays visible until removed or aged out.
	Terminal bool `json:"terminal,omitempty"`
	// DeadAt is set only on dead letters.
	DeadAt *time.Time `json:"deadAt,omitempty"`
}

// QueueStatus is the externally visible queue state.
type QueueStatus struct {
	Pending int `json:"pending"`
	// Rejected counts pending entries held back after a terminal failure.
	Rejected     int  `json:"rejected"`
	Syncing      bool `json:"syncing"`
	Online       bool `json:"online"`
	DeadLettered int  `json:"deadLettered"`
}

// QueueConfig tunes delivery.
type QueueConfig struct {
	// MaxAge discards entries older than this when the queue loads.
	MaxAge time.Duration
	// MaxAttempts dead-letters an entry after this many failed deliveries, and
	// dead-letters terminal failures at once. Zero keeps every failure pending.
	MaxAttempts   int
	DrainInterval time.Duration
}

// Queue is the durable offline mutation queue. Appends may come from any
// goroutine; every other write happens under drainMu.
type Queue struct {
	cfg    QueueConfig
	local  *LocalDB
	client *resty.Client
	log    zerolog.Logger
	now    func() time.Time

	drainMu sync.Mutex
	online  atomic.Bool
	syncing atomic.Bool
	trigger chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewQueue(cfg QueueConfig, local *LocalDB, client *resty.Client, log zerolog.Logger) *Queue {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = DefaultDrainInterval
	}
	return &Queue{
		cfg:     cfg,
		local:   local,
		client:  client,
		log:     log,
		now:     time.Now,
		trigger: make(chan struct{}, 1),
	}
}

// Load discards entries older than MaxAge and returns how many were dropped.
func (q *Queue) Load(ctx context.Context) (int, error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()
	cutoff := q.now().Add(-q.cfg.MaxAge).UnixMilli()
	res, err := q.local.db.ExecContext(ctx, `DELETE FROM mutations WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune mutations: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		q.log.Warn().Int64("dropped", n).Dur("max_age", q.cfg.MaxAge).Msg("discarded expired queued mutations")
	}
	q.refreshDepth(ctx)
	return int(n), nil
}

// QueueMutation appends a write and returns its id. The write is not confirmed
// until a drain delivers it.
func (q *Queue) QueueMutation(ctx context.Context, kind MutationKind, endpoint string, payload any) (string, error) {
	if _, err := kind.method(); err != nil {
		return "", err
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := q.enqueue(ctx, QueuedMutation{ID: id, Kind: kind, Endpoint: endpoint, Payload: raw}); err != nil {
		return "", err
	}
	return id, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode mutation payload: %w", err)
	}
	return raw, nil
}

func (q *Queue) enqueue(ctx context.Context, m QueuedMutation) error {
	id, kind, endpoint, raw := m.ID, m.Kind, m.Endpoint, []byte(m.Payload)
	_, err := q.local.db.ExecContext(ctx, `
		INSERT INTO mutations (id, kind, endpoint, payload, created_at, retry_count, last_error)
		VALUES (?, ?, ?, ?, ?, 0, '')`, id, string(kind), endpoint, raw, q.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to queue mutation: %w", err)
	}
	q.refreshDepth(ctx)
	q.log.Info().Str("id", id).Str("kind", string(kind)).Str("endpoint", endpoint).Msg("mutation queued")
	if q.online.Load() {
		q.kick()
	}
	return nil
}

// Submit delivers a write immediately and falls back to the queue when the
// server cannot be reached. queued reports which path was taken. The same
// mutation id is sent on the direct attempt and on every replay.
func (q *Queue) Submit(ctx context.Context, kind MutationKind, endpoint string, payload any) (id string, queued bool, err error) {
	if _, err := kind.method(); err != nil {
		return "", false, err
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return "", false, err
	}
	m := QueuedMutation{ID: uuid.NewString(), Kind: kind, Endpoint: endpoint, Payload: raw}
	err = q.deliver(ctx, m)
	if err == nil {
		return m.ID, false, nil
	}
	if !perrors.IsNetwork(err) {
		return m.ID, false, err
	}
	if err := q.enqueue(ctx, m); err != nil {
		return "", false, err
	}
	return m.ID, true, nil
}

// Status reports queue depth and connectivity.
func (q *Queue) Status(ctx context.Context) (QueueStatus, error) {
	st := QueueStatus{Syncing: q.syncing.Load(), Online: q.online.Load()}
	if err := q.local.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(terminal), 0) FROM mutations`).Scan(&st.Pending, &st.Rejected); err != nil {
		return st, fmt.Errorf("failed to count mutations: %w", err)
	}
	if err := q.local.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letters`).Scan(&st.DeadLettered); err != nil {
		return st, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return st, nil
}

// Pending lists queued mutations oldest first, rejected ones included.
func (q *Queue) Pending(ctx context.Context) ([]QueuedMutation, error) {
	return q.list(ctx, `SELECT id, kind, endpoint, payload, created_at, retry_count, last_error, terminal, NULL
		FROM mutations ORDER BY created_at, id`)
}

func (q *Queue) deliverable(ctx context.Context) ([]QueuedMutation, error) {
	return q.list(ctx, `SELECT id, kind, endpoint, payload, created_at, retry_count, last_error, terminal, NULL
		FROM mutations WHERE terminal = 0 ORDER BY created_at, id`)
}

// DeadLetters lists mutations that were given up on.
func (q *Queue) DeadLetters(ctx context.Context) ([]QueuedMutation, error) {
	return q.list(ctx, `SELECT id, kind, endpoint, payload, created_at, retry_count, last_error, 0, dead_at
		FROM dead_letters ORDER BY dead_at, id`)
}

// Remove drops one queued mutation.
func (q *Queue) Remove(ctx context.Context, id string) error {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()
	if _, err := q.local.db.ExecContext(ctx, `DELETE FROM mutations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove mutation %s: %w", id, err)
	}
	q.refreshDepth(ctx)
	return nil
}

// Clear drops every queued mutation and dead letter.
func (q *Queue) Clear(ctx context.Context) error {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()
	if _, err := q.local.db.ExecContext(ctx, `DELETE FROM mutations`); err != nil {
		return fmt.Errorf("failed to clear mutations: %w", err)
	}
	if _, err := q.local.db.ExecContext(ctx, `DELETE FROM dead_letters`); err != nil {
		return fmt.Errorf("failed to clear dead letters: %w", err)
	}
	q.refreshDepth(ctx)
	return nil
}

// SetOnline records connectivity; going online triggers a drain.
func (q *Queue) SetOnline(online bool) {
	if q.online.Swap(online) != online && online {
		q.kick()
	}
}

func (q *Queue) kick() {
	select {
	case q.trigger <- struct{}{}:
	default:
	}
}

// Drain delivers queued mutations oldest first and returns how many succeeded.
// It stops early when the server becomes unreachable. A terminal failure stays
// pending with its error recorded and is skipped by later drains, unless
// MaxAttempts is set, in which case it is dead-lettered.
func (q *Queue) Drain(ctx context.Context) (int, error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()
	q.syncing.Store(true)
	defer q.syncing.Store(false)
	defer q.refreshDepth(ctx)

	pending, err := q.deliverable(ctx)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, m := range pending {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		err := q.deliver(ctx, m)
		if err == nil {
			if _, err := q.local.db.ExecContext(ctx, `DELETE FROM mutations WHERE id = ?`, m.ID); err != nil {
				return delivered, fmt.Errorf("failed to remove delivered mutation: %w", err)
			}
			delivered++
			continue
		}

		m.RetryCount++
		m.Terminal = perrors.IsIrrecoverable(err)
		if q.cfg.MaxAttempts > 0 && (m.Terminal || m.RetryCount >= q.cfg.MaxAttempts) {
			if err := q.deadLetter(ctx, m, err); err != nil {
				return delivered, err
			}
			continue
		}
		if _, uerr := q.local.db.ExecContext(ctx,
			`UPDATE mutations SET retry_count = ?, last_error = ?, terminal = ? WHERE id = ?`,
			m.RetryCount, err.Error(), m.Terminal, m.ID); uerr != nil {
			return delivered, fmt.Errorf("failed to record mutation failure: %w", uerr)
		}
		if m.Terminal {
			q.log.Error().Err(err).Str("id", m.ID).Str("endpoint", m.Endpoint).Msg("mutation rejected; kept pending")
			continue
		}
		q.log.Warn().Err(err).Str("id", m.ID).Int("retry_count", m.RetryCount).Msg("mutation delivery failed; kept for retry")
		if perrors.IsNetwork(err) {
			return delivered, nil
		}
	}
	if delivered > 0 {
		q.log.Info().Int("delivered", delivered).Msg("mutation queue drained")
	}
	return delivered, nil
}

func (q *Queue) deliver(ctx context.Context, m QueuedMutation) error {
	method, err := m.Kind.method()
	if err != nil {
		return &perrors.ClassifiedError{Category: perrors.Irrecoverable, Underlying: err}
	}
	req := q.client.R().SetContext(ctx)
	if m.ID != "" {
		req.SetHeader(model.MutationIDHeader, m.ID)
	}
	if len(m.Payload) > 0 {
		req.SetHeader("Content-Type", "application/json").SetBody([]byte(m.Payload))
	}
	resp, err := req.Execute(method, m.Endpoint)
	return classify(method+" "+m.Endpoint, resp, err)
}

func (q *Queue) deadLetter(ctx context.Context, m QueuedMutation, cause error) error {
	tx, err := q.local.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO dead_letters (id, kind, endpoint, payload, created_at, retry_count, last_error, dead_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, string(m.Kind), m.Endpoint, []byte(m.Payload), m.CreatedAt.UnixMilli(), m.RetryCount, cause.Error(), q.now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to dead-letter mutation: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM mutations WHERE id = ?`, m.ID); err != nil {
		return fmt.Errorf("failed to dead-letter mutation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	q.log.Error().Err(cause).Str("id", m.ID).Str("endpoint", m.Endpoint).Msg("mutation dead-lettered")
	return nil
}

func (q *Queue) list(ctx context.Context, query string) ([]QueuedMutation, error) {
	rows, err := q.local.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list mutations: %w", err)
	}
	defer rows.Close()

	var out []QueuedMutation
	for rows.Next() {
		var (
			m       QueuedMutation
			kind    string
			payload []byte
			created int64
			deadAt  sql.NullInt64
		)
		if err := rows.Scan(&m.ID, &kind, &m.Endpoint, &payload, &created, &m.RetryCount, &m.LastError, &m.Terminal, &deadAt); err != nil {
			return nil, fmt.Errorf("failed to scan mutation: %w", err)
		}
		m.Kind = MutationKind(kind)
		if len(payload) > 0 {
			m.Payload = json.RawMessage(payload)
		}
		m.CreatedAt = time.UnixMilli(created).UTC()
		if deadAt.Valid {
			t := time.UnixMilli(deadAt.Int64).UTC()
			m.DeadAt = &t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (q *Queue) refreshDepth(ctx context.Context) {
	var n int
	if err := q.local.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mutations`).Scan(&n); err == nil {
		metrics.ReplicaQueueDepth.Set(float64(n))
	}
}

// Start runs the drain loop: on every online transition and on a ticker while online.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancel != nil {
		return
	}
	ctx, q.cancel = context.WithCancel(ctx)
	q.done = make(chan struct{})
	go q.loop(ctx, q.done)
}

// Stop ends the drain loop and waits for an in-flight drain.
func (q *Queue) Stop() {
	q.mu.Lock()
	cancel, done := q.cancel, q.done
	q.cancel, q.done = nil, nil
	q.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (q *Queue) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(q.cfg.DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.trigger:
		case <-ticker.C:
			if !q.online.Load() {
				continue
			}
		}
		if _, err := q.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
			q.log.Error().Err(err).Msg("mutation drain failed")
		}
	}
}

// offline reports a transport failure: no HTTP status was received.
