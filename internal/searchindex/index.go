// Package searchindex maintains the full-text index derived from the
// canonical store. Entries share the item row id; the store stays the source
// of truth and the index can always be rebuilt from it.
package searchindex

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/catalog"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/model"
)

// ErrNotInitialized is returned while the index table does not exist.
var ErrNotInitialized = errors.New("search index not initialized")

// RebuildBatchSize bounds how many items are read and written per rebuild step.
const RebuildBatchSize = 500

// Entry is one indexed document.
type Entry struct {
	ID      int64
	Type    model.ItemType
	Name    string
	Summary string
	Content string
}

// EntryFor builds the entry of it. Content falls back to the catalog
// extraction when the item carries none.
func EntryFor(it model.NormalizedItem) Entry {
	content := it.Content
	if content == "" {
		content = catalog.ExtractContent(it.Type, it.Details)
	}
	return Entry{ID: it.ID, Type: it.Type, Name: it.Name, Summary: it.Summary, Content: content}
}

// Source streams canonical items by ascending id. store.Items satisfies it.
type Source interface {
	Scan(ctx context.Context, afterID int64, limit int) ([]model.NormalizedItem, error)
}

// Index is the Search Index Maintainer.
type Index interface {
	// RebuildAll drops and recreates the index from src and returns the number of entries.
	RebuildAll(ctx context.Context, src Source) (int, error)
	// SyncItems upserts entries; it is idempotent.
	SyncItems(ctx context.Context, entries []Entry) error
	RemoveItems(ctx context.Context, ids []int64) error
	// Search returns item ids of type t, most relevant first.
	Search(ctx context.Context, t model.ItemType, query string, limit int) ([]int64, error)
	HealthPing(ctx context.Context) error
}

// SyncItem upserts a single entry.
func SyncItem(ctx context.Context, idx Index, e Entry) error {
	return idx.SyncItems(ctx, []Entry{e})
}

// RemoveItem deletes a single entry.
func RemoveItem(ctx context.Context, idx Index, id int64) error {
	return idx.RemoveItems(ctx, []int64{id})
}

// Stream pages through src and hands each batch of freshly extracted entries to fn.
func Stream(ctx context.Context, src Source, fn func([]Entry) error) (int, error) {
	var after int64
	total := 0
	for {
		batch, err := src.Scan(ctx, after, RebuildBatchSize)
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			return total, nil
		}
		entries := make([]Entry, len(batch))
		for i, it := range batch {
			it.Content = ""
			entries[i] = EntryFor(it)
		}
		if err := fn(entries); err != nil {
			return total, err
		}
		total += len(entries)
		after = batch[len(batch)-1].ID
	}
}

// Tokens lowercases q and splits it on anything that is not a letter or digit.
func Tokens(q string) []string {
	return strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
