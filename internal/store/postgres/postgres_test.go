package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/store"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/store/storetest"
)

func makePGStore(t *testing.T) store.Store {
	t.Helper()
	dsn := os.Getenv("COMPENDIUM_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("COMPENDIUM_POSTGRES_DSN not set; skipping postgres store integration test")
	}
	s, err := New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("postgres open: %v", err)
	}
	// the suite expects an empty store
	if _, err := s.DB().Exec(`TRUNCATE items, sync_metadata, items_search`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return s
}

func TestPostgresStore_Compliance(t *testing.T) {
	storetest.Run(t, makePGStore)
}
