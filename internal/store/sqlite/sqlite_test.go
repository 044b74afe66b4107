package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/store"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/store/storetest"
)

func makeSQLiteStore(t *testing.T) store.Store {
	t.Helper()
	s, err := New(context.Background(), filepath.Join(t.TempDir(), "nested", "compendium.db"))
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	return s
}

func TestSQLiteStore_Compliance(t *testing.T) {
	storetest.Run(t, makeSQLiteStore)
}

func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "compendium.db")
	s, err := New(ctx, path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	_ = s.Close()

	s, err = New(ctx, path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer func() { _ = s.Close() }()

	var n int
	if err := s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM items_fts`).Scan(&n); err != nil {
		t.Fatalf("fts table missing: %v", err)
	}
}
