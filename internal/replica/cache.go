package replica

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	perrors "github.com/Mystery2099/dnd-pwa-sub000/internal/errors"
)

// Entry is one cached query result.
type Entry struct {
	Key       string
	Payload   []byte
	FetchedAt time.Time
	Stale     bool
}

// Cache holds server responses keyed by request path. Invalidation marks
// entries stale instead of deleting them, so an unreachable server still
// leaves something to show.
type Cache struct {
	local  *LocalDB
	client *resty.Client
	now    func() time.Time
	log    zerolog.Logger
}

func NewCache(local *LocalDB, client *resty.Client, log zerolog.Logger) *Cache {
	return &Cache{local: local, client: client, now: time.Now, log: log}
}

// Get returns the entry for key.
func (c *Cache) Get(ctx context.Context, key string) (Entry, bool, error) {
	var (
		e       = Entry{Key: key}
		fetched int64
		stale   int
	)
	err := c.local.db.QueryRowContext(ctx,
		`SELECT payload, fetched_at, stale FROM query_cache WHERE key = ?`, key).
		Scan(&e.Payload, &fetched, &stale)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to get cache[%s]: %w", key, err)
	}
	e.FetchedAt = time.UnixMilli(fetched).UTC()
	e.Stale = stale != 0
	return e, true, nil
}

// Put stores a fresh payload for key.
func (c *Cache) Put(ctx context.Context, key string, payload []byte) error {
	_, err := c.local.db.ExecContext(ctx, `
		INSERT INTO query_cache (key, payload, fetched_at, stale) VALUES (?, ?, ?, 0)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, fetched_at = excluded.fetched_at, stale = 0`,
		key, payload, c.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to put cache[%s]: %w", key, err)
	}
	return nil
}

// InvalidateAll marks every entry for refetch and returns how many were fresh.
func (c *Cache) InvalidateAll(ctx context.Context) (int, error) {
	res, err := c.local.db.ExecContext(ctx, `UPDATE query_cache SET stale = 1 WHERE stale = 0`)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate cache: %w", err)
	}
	n, _ := res.RowsAffected()
	c.log.Debug().Int64("entries", n).Msg("local cache invalidated")
	return int(n), nil
}

// Fetch is a read-through GET of path. Fresh entries are served locally;
// stale or missing ones are refetched, and a stale entry is served when the
// server cannot answer.
func (c *Cache) Fetch(ctx context.Context, path string) (Entry, error) {
	cached, ok, err := c.Get(ctx, path)
	if err != nil {
		return Entry{}, err
	}
	if ok && !cached.Stale {
		return cached, nil
	}

	body, err := get(ctx, c.client, path)
	if err != nil {
		if ok && perrors.IsRetryable(err) {
			c.log.Warn().Err(err).Str("path", path).Msg("server unreachable; serving stale entry")
			return cached, nil
		}
		return Entry{}, err
	}
	if err := c.Put(ctx, path, body); err != nil {
		return Entry{}, err
	}
	return Entry{Key: path, Payload: body, FetchedAt: time.UnixMilli(c.now().UnixMilli()).UTC()}, nil
}
