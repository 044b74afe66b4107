//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/store"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/store/storetest"
)

func TestPostgresStore_Container(t *testing.T) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "compendium",
			"POSTGRES_PASSWORD": "compendium",
			"POSTGRES_DB":       "compendium",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://compendium:compendium@%s:%s/compendium?sslmode=disable", host, port.Port())

	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := New(ctx, dsn)
		if err != nil {
			t.Fatalf("postgres open: %v", err)
		}
		return s
	})
}
