// Package querycache is the in-process, TTL-bounded cache in front of
// canonical store reads. Writers invalidate by key prefix; correctness never
// depends on an entry being present.
package querycache

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/metrics"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/model"
)

// Category groups keys sharing a TTL.
type Category string

const (
	CategoryList   Category = "list"
	CategorySearch Category = "search"
	CategoryItem   Category = "item"
)

const keyRoot = "compendium:"

// Config sizes each category independently.
type Config struct {
	MaxEntries int
	ListTTL    time.Duration
	SearchTTL  time.Duration
	ItemTTL    time.Duration
}

// DefaultConfig mirrors the service defaults: 10 minutes for lists and items, 5 for searches.
func DefaultConfig() Config {
	return Config{MaxEntries: 1000, ListTTL: 10 * time.Minute, SearchTTL: 5 * time.Minute, ItemTTL: 10 * time.Minute}
}

// Cache maps keys to result payloads.
type Cache struct {
	mu   sync.Mutex
	lrus map[Category]*expirable.LRU[string, any]
	// gen advances on every invalidation; loads that started before it are not stored.
	gen uint64
}

func New(cfg Config) *Cache {
	def := DefaultConfig()
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	ttl := func(d, fallback time.Duration) time.Duration {
		if d <= 0 {
			return fallback
		}
		return d
	}
	return &Cache{lrus: map[Category]*expirable.LRU[string, any]{
		CategoryList:   expirable.NewLRU[string, any](cfg.MaxEntries, nil, ttl(cfg.ListTTL, def.ListTTL)),
		CategorySearch: expirable.NewLRU[string, any](cfg.MaxEntries, nil, ttl(cfg.SearchTTL, def.SearchTTL)),
		CategoryItem:   expirable.NewLRU[string, any](cfg.MaxEntries, nil, ttl(cfg.ItemTTL, def.ItemTTL)),
	}}
}

func (c *Cache) lruFor(key string) (*expirable.LRU[string, any], Category) {
	rest := strings.TrimPrefix(key, keyRoot)
	cat, _, _ := strings.Cut(rest, ":")
	if l, ok := c.lrus[Category(cat)]; ok {
		return l, Category(cat)
	}
	return c.lrus[CategoryList], CategoryList
}

// Get returns the cached value for key.
func (c *Cache) Get(key string) (any, bool) {
	l, cat := c.lruFor(key)
	v, ok := l.Get(key)
	if ok {
		metrics.CacheHitsTotal.WithLabelValues(string(cat)).Inc()
	} else {
		metrics.CacheMissesTotal.WithLabelValues(string(cat)).Inc()
	}
	return v, ok
}

// Set stores v under key with the key's category TTL.
func (c *Cache) Set(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, _ := c.lruFor(key)
	l.Add(key, v)
}

func (c *Cache) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *Cache) setIfCurrent(key string, v any, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	l, _ := c.lruFor(key)
	l.Add(key, v)
	return true
}

// InvalidatePrefix removes every live key starting with prefix and returns the count.
func (c *Cache) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	n := 0
	for _, l := range c.lrus {
		for _, k := range l.Keys() {
			if strings.HasPrefix(k, prefix) && l.Remove(k) {
				n++
			}
		}
	}
	metrics.CacheInvalidationsTotal.Add(float64(n))
	return n
}

// InvalidateType drops list, search and item entries of t.
func (c *Cache) InvalidateType(t model.ItemType) int {
	n := 0
	for _, p := range TypePrefixes(t) {
		n += c.InvalidatePrefix(p)
	}
	return n
}

// Purge empties every category.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	for _, l := range c.lrus {
		l.Purge()
	}
}

// Len counts live entries across categories.
func (c *Cache) Len() int {
	n := 0
	for _, l := range c.lrus {
		n += l.Len()
	}
	return n
}

// GetOrLoad returns the cached T for key or computes, stores and returns it.
// Load errors are not cached, and neither is a result whose load overlapped
// an invalidation.
func GetOrLoad[T any](c *Cache, key string, load func() (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}
	gen := c.generation()
	v, err := load()
	if err != nil {
		return v, err
	}
	c.setIfCurrent(key, v, gen)
	return v, nil
}

// TypePrefixes returns the key prefixes covering every entry of t.
func TypePrefixes(t model.ItemType) []string {
	return []string{
		Prefix(CategoryList, t),
		Prefix(CategorySearch, t),
		Prefix(CategoryItem, t),
	}
}

// Prefix is "compendium:{category}:{type}:".
func Prefix(cat Category, t model.ItemType) string {
	return keyRoot + string(cat) + ":" + string(t) + ":"
}

// ListKey serializes the normalized options with defaults stripped, so
// equivalent requests share a key.
func ListKey(t model.ItemType, opts model.ListOptions) string {
	opts = opts.Normalize()
	parts := map[string]any{}
	if s := strings.TrimSpace(opts.Search); s != "" {
		parts["search"] = strings.ToLower(s)
	}
	if opts.SortBy != model.SortName {
		parts["sortBy"] = opts.SortBy
	}
	if opts.SortOrder != "asc" {
		parts["sortOrder"] = opts.SortOrder
	}
	if opts.Limit != model.DefaultLimit {
		parts["limit"] = opts.Limit
	}
	if opts.Offset != 0 {
		parts["offset"] = opts.Offset
	}
	if !opts.Filters.Empty() {
		parts["filterLogic"] = opts.FilterLogic
		addInts(parts, "spellLevel", opts.Filters.SpellLevel)
		addStrings(parts, "spellSchool", opts.Filters.SpellSchool)
		addStrings(parts, "creatureType", opts.Filters.CreatureType)
		addStrings(parts, "creatureSize", opts.Filters.CreatureSize)
		addStrings(parts, "challengeRating", opts.Filters.ChallengeRating)
		addStrings(parts, "itemRarity", opts.Filters.ItemRarity)
	}
	// encoding/json sorts map keys.
	raw, _ := json.Marshal(parts)
	return Prefix(CategoryList, t) + string(raw)
}

// SearchKey identifies one search request.
func SearchKey(t model.ItemType, query string, limit int) string {
	return Prefix(CategorySearch, t) + strconv.Itoa(limit) + ":" + strings.ToLower(strings.TrimSpace(query))
}

// ItemKey identifies one item lookup by internal or external id.
func ItemKey(t model.ItemType, id string) string {
	return Prefix(CategoryItem, t) + id
}

func addInts(parts map[string]any, key string, vals []int) {
	if len(vals) == 0 {
		return
	}
	s := append([]int(nil), vals...)
	sort.Ints(s)
	parts[key] = s
}

func addStrings(parts map[string]any, key string, vals []string) {
	var s []string
	for _, v := range vals {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			s = append(s, v)
		}
	}
	if len(s) == 0 {
		return
	}
	sort.Strings(s)
	parts[key] = s
}
