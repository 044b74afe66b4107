// Package srd adapts the D&D 5e SRD GraphQL API. Pages are requested with
// limit/skip variables until a page comes back shorter than the limit.
package srd

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	perrors "github.com/Mystery2099/dnd-pwa-sub000/internal/errors"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/model"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/providers"
)

// ID is the provider id and the source value of its items.
const ID = "srd"

const (
	edition    = "2014"
	sourceBook = "SRD 5.1"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Config configures the adapter.
type Config struct {
	BaseURL  string
	PageSize int
	Fetch    providers.FetcherConfig
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]int `json:"variables"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   map[string][]providers.RawRecord `json:"data"`
	Errors []gqlError                       `json:"errors"`
}

// Provider implements providers.Provider for the SRD API.
type Provider struct {
	cfg       Config
	fetcher   *providers.PageFetcher
	validator *providers.Validator
	log       zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) (*Provider, error) {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
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
func (p *Provider) Name() string { return "D&D 5e SRD" }

func (p *Provider) SupportedTypes() []model.ItemType {
	out := make([]model.ItemType, 0, len(queries))
	for _, t := range model.AllTypes {
		if _, ok := queries[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

func (p *Provider) FetchAll(ctx context.Context, t model.ItemType, fn providers.PageFunc) error {
	q, ok := queries[t]
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrUnsupportedType, t)
	}

	limit := p.cfg.PageSize
	for skip := 0; ; skip += limit {
		req := gqlRequest{Query: q.query, Variables: map[string]int{"limit": limit, "skip": skip}}
		var resp gqlResponse
		if _, err := p.fetcher.Post(ctx, "/graphql", req, &resp); err != nil {
			return err
		}
		if len(resp.Errors) > 0 {
			msgs := make([]string, 0, len(resp.Errors))
			for _, e := range resp.Errors {
				msgs = append(msgs, e.Message)
			}
			return &perrors.FetchError{
				Provider: ID,
				URL:      "/graphql",
				Err:      fmt.Errorf("graphql %s: %s", q.field, strings.Join(msgs, "; ")),
				Terminal: true,
			}
		}

		page := resp.Data[q.field]
		if err := fn(page); err != nil {
			return err
		}
		if len(page) < limit {
			return nil
		}
		if err := p.fetcher.Pause(ctx); err != nil {
			return err
		}
	}
}

func (p *Provider) Transform(raw providers.RawRecord, t model.ItemType) (model.NormalizedItem, error) {
	d := model.Details(raw)
	key := d.String("index")
	if err := p.validator.Validate(t, key, raw); err != nil {
		return model.NormalizedItem{}, err
	}
	q, ok := queries[t]
	if !ok {
		return model.NormalizedItem{}, fmt.Errorf("%w: %s", model.ErrUnsupportedType, t)
	}
	prov := model.Provenance{Edition: edition, SourceBook: sourceBook, DataVersion: edition}
	return providers.Build(ID, t, key, d.String("name"), q.mapper(d), prov)
}

// HealthCheck asks the endpoint for its schema type name, which every GraphQL server answers.
func (p *Provider) HealthCheck(ctx context.Context) error {
	var resp struct {
		Errors []gqlError `json:"errors"`
	}
	if _, err := p.fetcher.Post(ctx, "/graphql", map[string]string{"query": "{ __typename }"}, &resp); err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		return fmt.Errorf("srd graphql: %s", resp.Errors[0].Message)
	}
	return nil
}
