package config

import (
	"os"
	"testing"
)

func unsetEnv() {
	for _, k := range []string{
		"COMPENDIUM_DB_DRIVER", "COMPENDIUM_POSTGRES_DSN", "COMPENDIUM_SQLITE_PATH",
		"COMPENDIUM_PROVIDERS", "COMPENDIUM_SYNC_MAX_RETRIES",
	} {
		_ = os.Unsetenv(k)
	}
}

func TestConfigLoad_Defaults(t *testing.T) {
	unsetEnv()

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.DBDriver != "sqlite" || cfg.SQLitePath != "data/compendium.db" {
		t.Fatalf("unexpected storage defaults: %s %s", cfg.DBDriver, cfg.SQLitePath)
	}
	if len(cfg.Providers) != 3 || cfg.Providers[0] != "open5e" || cfg.Providers[2] != "homebrew" {
		t.Fatalf("unexpected provider order: %v", cfg.Providers)
	}
	if cfg.SyncMaxRetries != 3 || cfg.SyncRetryDelay().Milliseconds() != 1000 {
		t.Fatalf("unexpected retry defaults: %d %v", cfg.SyncMaxRetries, cfg.SyncRetryDelay())
	}
	if cfg.HeartbeatSeconds != 30 || cfg.HealthCheckTimeoutSeconds != 5 {
		t.Fatalf("unexpected broadcaster/health defaults: %+v", cfg)
	}
}

func TestConfigLoad_EnvOverride(t *testing.T) {
	unsetEnv()
	_ = os.Setenv("COMPENDIUM_PROVIDERS", " SRD , ,homebrew")
	_ = os.Setenv("COMPENDIUM_SYNC_MAX_RETRIES", "5")
	defer unsetEnv()

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if len(cfg.Providers) != 2 || cfg.Providers[0] != "srd" {
		t.Fatalf("providers not normalized: %v", cfg.Providers)
	}
	if !cfg.ProviderEnabled("homebrew") || cfg.ProviderEnabled("open5e") {
		t.Fatalf("ProviderEnabled mismatch: %v", cfg.Providers)
	}
	if cfg.SyncMaxRetries != 5 {
		t.Fatalf("retry override failed, got %d", cfg.SyncMaxRetries)
	}
}

func TestResolveDefaults_AutoPicksPostgresWhenDSNSet(t *testing.T) {
	cfg := NewForTesting()
	cfg.DBDriver = "auto"
	cfg.PostgresDSN = "postgres://localhost/compendium"
	if err := cfg.ResolveDefaults(); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.DBDriver != "postgres" {
		t.Fatalf("expected postgres, got %s", cfg.DBDriver)
	}
}

func TestResolveDefaults_Rejects(t *testing.T) {
	cfg := NewForTesting()
	cfg.DBDriver = "mysql"
	if err := cfg.ResolveDefaults(); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}

	cfg = NewForTesting()
	cfg.DBDriver = "postgres"
	cfg.PostgresDSN = ""
	if err := cfg.ResolveDefaults(); err == nil {
		t.Fatalf("expected error for postgres without DSN")
	}
}
