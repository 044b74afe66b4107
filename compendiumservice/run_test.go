package compendiumservice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/config"
)

func TestCalculateStartupHealthTimeout(t *testing.T) {
	assert.Equal(t, 60, calculateStartupHealthTimeout(1))
	assert.Equal(t, 60, calculateStartupHealthTimeout(30))
	assert.Equal(t, 90, calculateStartupHealthTimeout(45))
}

func TestBuild_ServesHomebrewAfterSync(t *testing.T) {
	dir := t.TempDir()
	hbDir := filepath.Join(dir, "homebrew")
	require.NoError(t, os.MkdirAll(hbDir, 0o755))
	spells := `[{"key":"glitter-burst","name":"Glitter Burst","level":1,"school":"evocation","desc":"A shower of sparkles."}]`
	require.NoError(t, os.WriteFile(filepath.Join(hbDir, "spells.json"), []byte(spells), 0o644))

	cfg := config.NewForTesting()
	cfg.SQLitePath = filepath.Join(dir, "compendium.db")
	cfg.HomebrewDir = hbDir
	cfg.Providers = []string{"homebrew"}
	cfg.HomebrewWatch = false

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := build(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.close()

	require.NoError(t, waitUntilHealthy(ctx, cfg, a.health))
	a.startBackground(ctx, cfg, zerolog.Nop())

	srv := httptest.NewServer(a.router)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/sync?wait=true", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/compendium/spell/search?q=glitter")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1, body.Count)

	assert.Eventually(t, func() bool { return a.health.IsHealthy() }, 5*time.Second, 50*time.Millisecond)
}
