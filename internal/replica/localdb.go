package replica

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/cacheversion"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/store/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

const versionKey = "cache_version"

// LocalDB is the replica's durable state: the version record, cached query
// results and the mutation queue.
type LocalDB struct {
	db *sql.DB
}

// OpenLocal opens and migrates the local database at path.
func OpenLocal(ctx context.Context, path string) (*LocalDB, error) {
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, err
	}
	if err := sqlite.Up(ctx, db, migrations, "migrations"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &LocalDB{db: db}, nil
}

func (l *LocalDB) Close() error { return l.db.Close() }

func (l *LocalDB) getKV(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := l.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get kv[%s]: %w", key, err)
	}
	return v, true, nil
}

func (l *LocalDB) setKV(ctx context.Context, key, value string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set kv[%s]: %w", key, err)
	}
	return nil
}

// Version returns the locally adopted cache version; ok is false before the
// first adoption.
func (l *LocalDB) Version(ctx context.Context) (tok cacheversion.Token, ok bool, err error) {
	raw, ok, err := l.getKV(ctx, versionKey)
	if err != nil || !ok {
		return tok, ok, err
	}
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return tok, false, fmt.Errorf("decode local version: %w", err)
	}
	return tok, true, nil
}

// SetVersion records tok as the adopted version.
func (l *LocalDB) SetVersion(ctx context.Context, tok cacheversion.Token) error {
	raw, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return l.setKV(ctx, versionKey, string(raw))
}
