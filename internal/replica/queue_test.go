package replica

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/model"
)

type recordedRequest struct {
	Method     string
	Path       string
	Body       string
	MutationID string
}

// mutationServer answers with status(path) and records every request.
type mutationServer struct {
	*httptest.Server
	mu     sync.Mutex
	reqs   []recordedRequest
	status func(path string) int
}

func newMutationServer(t *testing.T, status func(path string) int) *mutationServer {
	t.Helper()
	ms := &mutationServer{status: status}
	ms.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ms.mu.Lock()
		ms.reqs = append(ms.reqs, recordedRequest{
			Method: r.Method, Path: r.URL.Path, Body: string(body), MutationID: r.Header.Get(model.MutationIDHeader),
		})
		ms.mu.Unlock()
		w.WriteHeader(ms.status(r.URL.Path))
	}))
	t.Cleanup(ms.Close)
	return ms
}

func (ms *mutationServer) requests() []recordedRequest {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([]recordedRequest(nil), ms.reqs...)
}

func newTestQueue(t *testing.T, url string, cfg QueueConfig) *Queue {
	t.Helper()
	q := NewQueue(cfg, openTestLocal(t), newHTTPClient(url, time.Second), zerolog.Nop())
	q.now = stepClock(time.Now())
	return q
}

func TestQueue_DrainDeliversInOrder(t *testing.T) {
	srv := newMutationServer(t, func(string) int { return http.StatusOK })
	q := newTestQueue(t, srv.URL, QueueConfig{})
	ctx := context.Background()

	_, err := q.QueueMutation(ctx, KindCreate, "/api/compendium/spell", map[string]any{"name": "Glitter Burst"})
	require.NoError(t, err)
	_, err = q.QueueMutation(ctx, KindUpdate, "/api/compendium/spell/7", map[string]any{"name": "Glitter Storm"})
	require.NoError(t, err)
	_, err = q.QueueMutation(ctx, KindDelete, "/api/compendium/spell/8", nil)
	require.NoError(t, err)

	st, err := q.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Pending)

	n, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	reqs := srv.requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.JSONEq(t, `{"name":"Glitter Burst"}`, reqs[0].Body)
	assert.Equal(t, http.MethodPut, reqs[1].Method)
	assert.Equal(t, "/api/compendium/spell/7", reqs[1].Path)
	assert.Equal(t, http.MethodDelete, reqs[2].Method)
	assert.Empty(t, reqs[2].Body)

	st, err = q.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Pending)
	assert.False(t, st.Syncing)
}

func failureServer(t *testing.T) *mutationServer {
	return newMutationServer(t, func(path string) int {
		switch path {
		case "/bad":
			return http.StatusBadRequest
		case "/busy":
			return http.StatusServiceUnavailable
		}
		return http.StatusNoContent
	})
}

func TestQueue_TerminalFailureStaysPending(t *testing.T) {
	srv := failureServer(t)
	q := newTestQueue(t, srv.URL, QueueConfig{})
	ctx := context.Background()

	badID, err := q.QueueMutation(ctx, KindCreate, "/bad", map[string]any{"name": ""})
	require.NoError(t, err)
	busyID, err := q.QueueMutation(ctx, KindCreate, "/busy", map[string]any{"name": "x"})
	require.NoError(t, err)
	_, err = q.QueueMutation(ctx, KindCreate, "/ok", map[string]any{"name": "y"})
	require.NoError(t, err)

	n, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, badID, pending[0].ID)
	assert.True(t, pending[0].Terminal)
	assert.Equal(t, 1, pending[0].RetryCount)
	assert.Contains(t, pending[0].LastError, "400")
	assert.Equal(t, busyID, pending[1].ID)
	assert.False(t, pending[1].Terminal)
	assert.Contains(t, pending[1].LastError, "503")

	st, err := q.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Pending)
	assert.Equal(t, 1, st.Rejected)
	assert.Zero(t, st.DeadLettered)

	// the rejected entry is not resent; the retryable one is
	_, err = q.Drain(ctx)
	require.NoError(t, err)
	bad := 0
	for _, r := range srv.requests() {
		if r.Path == "/bad" {
			bad++
		}
	}
	assert.Equal(t, 1, bad)
	pending, err = q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, 1, pending[0].RetryCount)
	assert.Equal(t, 2, pending[1].RetryCount)
}

func TestQueue_MaxAttemptsDeadLetters(t *testing.T) {
	srv := failureServer(t)
	q := newTestQueue(t, srv.URL, QueueConfig{MaxAttempts: 2})
	ctx := context.Background()

	badID, err := q.QueueMutation(ctx, KindCreate, "/bad", map[string]any{"name": ""})
	require.NoError(t, err)
	busyID, err := q.QueueMutation(ctx, KindCreate, "/busy", map[string]any{"name": "x"})
	require.NoError(t, err)

	_, err = q.Drain(ctx)
	require.NoError(t, err)
	dead, err := q.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, badID, dead[0].ID)
	assert.NotNil(t, dead[0].DeadAt)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, busyID, pending[0].ID)

	_, err = q.Drain(ctx)
	require.NoError(t, err)
	st, err := q.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Pending)
	assert.Equal(t, 2, st.DeadLettered)
}

func TestQueue_NetworkFailureStopsDrain(t *testing.T) {
	srv := newMutationServer(t, func(string) int { return http.StatusOK })
	url := srv.URL
	srv.Close()

	q := newTestQueue(t, url, QueueConfig{})
	ctx := context.Background()
	first, err := q.QueueMutation(ctx, KindCreate, "/api/compendium/spell", map[string]any{"name": "a"})
	require.NoError(t, err)
	_, err = q.QueueMutation(ctx, KindCreate, "/api/compendium/spell", map[string]any{"name": "b"})
	require.NoError(t, err)

	n, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first, pending[0].ID)
	assert.Equal(t, 1, pending[0].RetryCount)
	assert.Equal(t, 0, pending[1].RetryCount, "drain stops at the first network failure")
}

func TestQueue_LoadDiscardsExpiredEntries(t *testing.T) {
	srv := newMutationServer(t, func(string) int { return http.StatusOK })
	q := newTestQueue(t, srv.URL, QueueConfig{})
	ctx := context.Background()

	base := time.Now()
	q.now = func() time.Time { return base.Add(-8 * 24 * time.Hour) }
	_, err := q.QueueMutation(ctx, KindCreate, "/old", nil)
	require.NoError(t, err)
	q.now = func() time.Time { return base.Add(-time.Hour) }
	keep, err := q.QueueMutation(ctx, KindCreate, "/recent", nil)
	require.NoError(t, err)

	q.now = func() time.Time { return base }
	dropped, err := q.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, keep, pending[0].ID)
}

func TestQueue_RemoveAndClear(t *testing.T) {
	srv := newMutationServer(t, func(string) int { return http.StatusOK })
	q := newTestQueue(t, srv.URL, QueueConfig{})
	ctx := context.Background()

	id, err := q.QueueMutation(ctx, KindDelete, "/api/compendium/spell/1", nil)
	require.NoError(t, err)
	_, err = q.QueueMutation(ctx, KindDelete, "/api/compendium/spell/2", nil)
	require.NoError(t, err)

	require.NoError(t, q.Remove(ctx, id))
	st, err := q.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Pending)

	require.NoError(t, q.Clear(ctx))
	st, err = q.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Pending)

	_, err = q.QueueMutation(ctx, MutationKind("patch"), "/x", nil)
	assert.Error(t, err)
}

func TestQueue_SubmitQueuesOnlyWhenOffline(t *testing.T) {
	srv := newMutationServer(t, func(string) int { return http.StatusCreated })
	ctx := context.Background()

	online := newTestQueue(t, srv.URL, QueueConfig{})
	id, queued, err := online.Submit(ctx, KindCreate, "/api/compendium/feat", map[string]any{"name": "Lucky"})
	require.NoError(t, err)
	assert.False(t, queued)
	reqs := srv.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, id, reqs[0].MutationID)

	offline := newTestQueue(t, "http://127.0.0.1:1", QueueConfig{})
	id, queued, err = offline.Submit(ctx, KindCreate, "/api/compendium/feat", map[string]any{"name": "Lucky"})
	require.NoError(t, err)
	assert.True(t, queued)
	pending, err := offline.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID, "the queued replay keeps the submitted id")
}

func TestQueue_GoingOnlineTriggersDrain(t *testing.T) {
	srv := newMutationServer(t, func(string) int { return http.StatusOK })
	q := newTestQueue(t, srv.URL, QueueConfig{DrainInterval: time.Hour})
	ctx := context.Background()

	_, err := q.QueueMutation(ctx, KindCreate, "/api/compendium/spell", map[string]any{"name": "a"})
	require.NoError(t, err)

	q.Start(ctx)
	defer q.Stop()
	q.SetOnline(true)

	require.Eventually(t, func() bool {
		st, err := q.Status(ctx)
		return err == nil && st.Pending == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, srv.requests(), 1)
}
