// Package open5e adapts the Open5e v2 REST API. Lists are paged with
// limit and followed through the "next" link until it is null.
package open5e

import (
	"context"
	"embed"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/model"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/providers"
)

// ID is the provider id and the source value of its items.
const ID = "open5e"

//go:embed schemas/*.json
var schemaFS embed.FS

var endpoints = map[model.ItemType]string{
	model.TypeSpell:      "spells",
	model.TypeCreature:   "creatures",
	model.TypeItem:       "magicitems",
	model.TypeFeat:       "feats",
	model.TypeBackground: "backgrounds",
	model.TypeSpecies:    "species",
	model.TypeClass:      "classes",
}

// Config configures the adapter.
type Config struct {
	BaseURL   string
	BatchSize int
	// DataTag is the data version recorded when a record carries no document key.
	DataTag string
	Fetch   providers.FetcherConfig
}

type listResponse struct {
	Count    int                   `json:"count"`
	Next     *string               `json:"next"`
	Previous *string               `json:"previous"`
	Results  []providers.RawRecord `json:"results"`
}

// Provider implements providers.Provider for Open5e.
type Provider struct {
	cfg       Config
	fetcher   *providers.PageFetcher
	validator *providers.Validator
	log       zerolog.Logger
}

// New builds the adapter; it fails only if the embedded schemas do not compile.
func New(cfg Config, log zerolog.Logger) (*Provider, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	v, err := providers.NewValidator(ID, schemaFS, "schemas")
	if err != nil {
		return nil, err
	}
	fc := cfg.Fetch
	fc.Provider = ID
	fc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Provider{
		cfg:       cfg,
		fetcher:   providers.NewPageFetcher(fc, log),
		validator: v,
		log:       log.With().Str("provider", ID).Logger(),
	}, nil
}

func (p *Provider) ID() string   { return ID }
func (p *Provider) Name() string { return "Open5e API" }

func (p *Provider) SupportedTypes() []model.ItemType {
	return append([]model.ItemType(nil), model.AllTypes...)
}

// FetchAll walks the next links for t. A next link seen twice ends the walk
// with an error instead of looping.
func (p *Provider) FetchAll(ctx context.Context, t model.ItemType, fn providers.PageFunc) error {
	endpoint, ok := endpoints[t]
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrUnsupportedType, t)
	}

	next := "/v2/" + endpoint + "/"
	query := url.Values{"limit": {strconv.Itoa(p.cfg.BatchSize)}}
	seen := make(map[string]bool)
	pages := 0

	for next != "" {
		if seen[next] {
			return fmt.Errorf("open5e %s: pagination loop at %s", t, next)
		}
		seen[next] = true

		var page listResponse
		if _, err := p.fetcher.Get(ctx, next, query, &page); err != nil {
			return err
		}
		pages++
		query = nil

		if err := fn(page.Results); err != nil {
			return err
		}

		next = ""
		if page.Next != nil {
			next = *page.Next
		}
		if next != "" {
			if err := p.fetcher.Pause(ctx); err != nil {
				return err
			}
		}
	}

	p.log.Debug().Str("type", string(t)).Int("pages", pages).Msg("Fetch complete")
	return nil
}

// Transform validates raw against the type schema and maps it to the canonical shape.
func (p *Provider) Transform(raw providers.RawRecord, t model.ItemType) (model.NormalizedItem, error) {
	d := model.Details(raw)
	key := identity(d)
	if err := p.validator.Validate(t, key, raw); err != nil {
		return model.NormalizedItem{}, err
	}

	mapper, ok := mappers[t]
	if !ok {
		return model.NormalizedItem{}, fmt.Errorf("%w: %s", model.ErrUnsupportedType, t)
	}
	return providers.Build(ID, t, key, d.String("name"), mapper(d), p.provenance(d))
}

func (p *Provider) HealthCheck(ctx context.Context) error {
	return p.fetcher.Ping(ctx, "/v2/")
}

// identity prefers key, then slug, then the last segment of url.
func identity(d model.Details) string {
	if k := strings.TrimSpace(d.String("key")); k != "" {
		return k
	}
	if s := strings.TrimSpace(d.String("slug")); s != "" {
		return s
	}
	return providers.LastPathSegment(d.String("url"))
}

func (p *Provider) provenance(d model.Details) model.Provenance {
	doc := d.Object("document")
	prov := model.Provenance{
		SourceBook:  providers.NameOf(doc, "name"),
		DataVersion: doc.String("key"),
	}
	if gs := doc.Object("gamesystem"); gs != nil {
		prov.Edition = gs.String("key")
	} else {
		prov.Edition = d.String("gamesystem")
	}
	if prov.SourceBook == "" {
		prov.SourceBook = d.String("document__title")
	}
	if prov.DataVersion == "" {
		prov.DataVersion = d.String("document__slug")
	}
	if prov.DataVersion == "" {
		prov.DataVersion = p.cfg.DataTag
	}
	return prov
}
