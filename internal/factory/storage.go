package factory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/config"
	storepkg "github.com/Mystery2099/dnd-pwa-sub000/internal/store"
	storepg "github.com/Mystery2099/dnd-pwa-sub000/internal/store/postgres"
	storesqlite "github.com/Mystery2099/dnd-pwa-sub000/internal/store/sqlite"
)

// NewStore opens and migrates the canonical store selected by cfg.DBDriver.
func NewStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storepkg.Store, error) {
	switch cfg.DBDriver {
	case "sqlite":
		st, err := storesqlite.New(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("driver", cfg.DBDriver).Str("path", cfg.SQLitePath).Msg("store opened")
		return st, nil
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("COMPENDIUM_POSTGRES_DSN is required when DB_DRIVER=postgres")
		}
		st, err := storepg.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("driver", cfg.DBDriver).Msg("store opened")
		return st, nil
	}
	return nil, fmt.Errorf("unknown DB_DRIVER: %s", cfg.DBDriver)
}
