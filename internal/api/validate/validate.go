// Package validate parses and checks request input before it reaches the
// compendium service.
package validate

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/model"
)

const (
	// MaxNameLen bounds item names accepted by the write path.
	MaxNameLen = 200
	// MaxQueryLen bounds search strings.
	MaxQueryLen = 200
)

var sortKeys = map[string]bool{
	model.SortName: true, model.SortSource: true, model.SortCreatedAt: true,
	model.SortSpellLevel: true, model.SortSpellSchool: true, model.SortChallengeRating: true,
	model.SortCreatureSize: true, model.SortCreatureType: true,
}

// ItemType parses a path segment into a canonical type.
func ItemType(v string) (model.ItemType, error) {
	return model.ParseItemType(v)
}

// ID parses a positive internal item id.
func ID(v string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: id must be a positive integer", model.ErrValidation)
	}
	return id, nil
}

// Query checks a search string.
func Query(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%w: q is required", model.ErrValidation)
	}
	if len(v) > MaxQueryLen {
		return "", fmt.Errorf("%w: q exceeds %d characters", model.ErrValidation, MaxQueryLen)
	}
	return v, nil
}

// Item checks the writable fields of an item.
func Item(name string, details model.Details) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name is required", model.ErrValidation)
	}
	if len(name) > MaxNameLen {
		return fmt.Errorf("%w: name exceeds %d characters", model.ErrValidation, MaxNameLen)
	}
	if details == nil {
		return nil
	}
	if _, ok := details["id"]; ok {
		return fmt.Errorf("%w: details must not carry an id", model.ErrValidation)
	}
	return nil
}

// ListOptions reads list parameters from q. Filter values may repeat or be
// comma separated.
func ListOptions(q url.Values) (model.ListOptions, error) {
	opts := model.ListOptions{
		Search:      strings.TrimSpace(q.Get("search")),
		SortBy:      strings.TrimSpace(q.Get("sortBy")),
		SortOrder:   strings.ToLower(strings.TrimSpace(q.Get("sortOrder"))),
		FilterLogic: strings.ToLower(strings.TrimSpace(q.Get("filterLogic"))),
	}
	if opts.FilterLogic == "" {
		opts.FilterLogic = strings.ToLower(strings.TrimSpace(q.Get("logic")))
	}
	if opts.SortBy != "" && !sortKeys[opts.SortBy] {
		return opts, fmt.Errorf("%w: unknown sortBy %q", model.ErrValidation, opts.SortBy)
	}
	if opts.SortOrder != "" && opts.SortOrder != "asc" && opts.SortOrder != "desc" {
		return opts, fmt.Errorf("%w: sortOrder must be asc or desc", model.ErrValidation)
	}
	if opts.FilterLogic != "" && opts.FilterLogic != "and" && opts.FilterLogic != "or" {
		return opts, fmt.Errorf("%w: filterLogic must be and or or", model.ErrValidation)
	}

	var err error
	if opts.Limit, err = intParam(q, "limit"); err != nil {
		return opts, err
	}
	if opts.Offset, err = intParam(q, "offset"); err != nil {
		return opts, err
	}

	for _, v := range list(q, "spellLevel") {
		lvl, err := strconv.Atoi(v)
		if err != nil || lvl < 0 || lvl > 9 {
			return opts, fmt.Errorf("%w: spellLevel must be 0-9", model.ErrValidation)
		}
		opts.Filters.SpellLevel = append(opts.Filters.SpellLevel, lvl)
	}
	opts.Filters.SpellSchool = list(q, "spellSchool")
	opts.Filters.CreatureType = list(q, "creatureType")
	opts.Filters.CreatureSize = list(q, "creatureSize")
	opts.Filters.ChallengeRating = list(q, "challengeRating")
	opts.Filters.ItemRarity = list(q, "itemRarity")
	for _, cr := range opts.Filters.ChallengeRating {
		if _, ok := model.ParseFraction(cr); !ok {
			return opts, fmt.Errorf("%w: invalid challengeRating %q", model.ErrValidation, cr)
		}
	}
	return opts, nil
}

func intParam(q url.Values, key string) (int, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", model.ErrValidation, key)
	}
	return n, nil
}

func list(q url.Values, key string) []string {
	var out []string
	for _, raw := range q[key] {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}
