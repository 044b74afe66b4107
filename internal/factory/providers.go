package factory

import (
	"github.com/rs/zerolog"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/config"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/providers"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/providers/homebrew"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/providers/open5e"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/providers/srd"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/retry"
)

// Providers is the built registry plus the homebrew adapter, whose directory
// the service watches.
type Providers struct {
	Registry *providers.Registry
	Homebrew *homebrew.Provider
}

// NewProviders builds every known adapter. Providers listed in cfg.Providers
// are registered first, enabled and in that order; the rest follow disabled
// so they can still be synced on demand.
func NewProviders(cfg *config.Config, log zerolog.Logger) (*Providers, error) {
	fetch := providers.FetcherConfig{
		PageTimeout: cfg.PageTimeout(),
		PageDelay:   cfg.PageDelay(),
		Retry: retry.Options{
			MaxRetries: cfg.SyncMaxRetries,
			BaseDelay:  cfg.SyncRetryDelay(),
		},
	}

	o5e, err := open5e.New(open5e.Config{
		BaseURL:   cfg.Open5eURL,
		BatchSize: cfg.Open5eBatchSize,
		DataTag:   cfg.Open5eDataTag,
		Fetch:     fetch,
	}, log)
	if err != nil {
		return nil, err
	}
	srdP, err := srd.New(srd.Config{BaseURL: cfg.SRDURL, PageSize: cfg.SRDPageSize, Fetch: fetch}, log)
	if err != nil {
		return nil, err
	}
	hb, err := homebrew.New(cfg.HomebrewDir, log)
	if err != nil {
		return nil, err
	}

	known := map[string]providers.Provider{o5e.ID(): o5e, srdP.ID(): srdP, hb.ID(): hb}
	reg := providers.NewRegistry()
	for _, id := range cfg.Providers {
		if p, ok := known[id]; ok {
			reg.Register(p, true)
			delete(known, id)
			continue
		}
		log.Warn().Str("provider", id).Msg("unknown provider in configuration ignored")
	}
	for _, p := range []providers.Provider{o5e, srdP, hb} {
		if _, left := known[p.ID()]; left {
			reg.Register(p, false)
		}
	}
	return &Providers{Registry: reg, Homebrew: hb}, nil
}
