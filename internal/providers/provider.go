// Package providers defines the upstream adapter contract and the shared
// plumbing adapters build on: a paged HTTP fetcher, per-type JSON schema
// validation, and the ordered provider registry.
package providers

import (
	"context"
	"regexp"
	"strings"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/model"
)

// RawRecord is one upstream record as decoded from JSON.
type RawRecord = map[string]any

// PageFunc receives each fetched page in order. Returning an error stops the fetch.
type PageFunc func(page []RawRecord) error

// Provider is an upstream source of compendium content.
type Provider interface {
	ID() string
	Name() string
	SupportedTypes() []model.ItemType
	// FetchAll retrieves every record of type t, page by page.
	FetchAll(ctx context.Context, t model.ItemType, fn PageFunc) error
	// Transform maps one raw record to the canonical shape. A ValidationError
	// means this record is skipped; the rest of the page is unaffected.
	Transform(raw RawRecord, t model.ItemType) (model.NormalizedItem, error)
	HealthCheck(ctx context.Context) error
}

// Supports reports whether p serves t.
func Supports(p Provider, t model.ItemType) bool {
	for _, s := range p.SupportedTypes() {
		if s == t {
			return true
		}
	}
	return false
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lower-cases s and joins alphanumeric runs with underscores.
func Slug(s string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "_"), "_")
}

// LastPathSegment returns the final non-empty segment of a URL path.
func LastPathSegment(u string) string {
	u = strings.TrimRight(u, "/")
	if i := strings.LastIndex(u, "/"); i >= 0 {
		return u[i+1:]
	}
	return u
}
