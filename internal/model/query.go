package model

import "strings"

// Sort keys accepted by list queries.
const (
	SortName            = "name"
	SortSource          = "source"
	SortCreatedAt       = "created_at"
	SortSpellLevel      = "spellLevel"
	SortSpellSchool     = "spellSchool"
	SortChallengeRating = "challengeRating"
	SortCreatureSize    = "creatureSize"
	SortCreatureType    = "creatureType"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Filters is the typed filter bag. Within a field values are OR'ed; FilterLogic
// decides how non-empty fields combine (AND unless "or" is given).
type Filters struct {
	SpellLevel      []int    `json:"spellLevel,omitempty"`
	SpellSchool     []string `json:"spellSchool,omitempty"`
	CreatureType    []string `json:"creatureType,omitempty"`
	CreatureSize    []string `json:"creatureSize,omitempty"`
	ChallengeRating []string `json:"challengeRating,omitempty"`
	ItemRarity      []string `json:"itemRarity,omitempty"`
}

// Empty reports whether no filter is set.
func (f Filters) Empty() bool {
	return len(f.SpellLevel) == 0 && len(f.SpellSchool) == 0 && len(f.CreatureType) == 0 &&
		len(f.CreatureSize) == 0 && len(f.ChallengeRating) == 0 && len(f.ItemRarity) == 0
}

// ListOptions describes one paginated read.
type ListOptions struct {
	Search      string  `json:"search,omitempty"`
	SortBy      string  `json:"sortBy,omitempty"`
	SortOrder   string  `json:"sortOrder,omitempty"`
	FilterLogic string  `json:"filterLogic,omitempty"`
	Limit       int     `json:"limit,omitempty"`
	Offset      int     `json:"offset,omitempty"`
	Filters     Filters `json:"filters,omitempty"`
}

// Normalize fills defaults and clamps paging values.
func (o ListOptions) Normalize() ListOptions {
	if o.SortBy == "" {
		o.SortBy = SortName
	}
	o.SortOrder = strings.ToLower(o.SortOrder)
	o.FilterLogic = strings.ToLower(o.FilterLogic)
	if o.SortOrder != "desc" {
		o.SortOrder = "asc"
	}
	if o.FilterLogic != "or" {
		o.FilterLogic = "and"
	}
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Limit > MaxLimit {
		o.Limit = MaxLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// Page is the paginated read result.
type Page struct {
	Items       []NormalizedItem `json:"items"`
	Total       int              `json:"total"`
	Limit       int              `json:"limit"`
	Offset      int              `json:"offset"`
	HasMore     bool             `json:"hasMore"`
	HasPrevious bool             `json:"hasPrevious"`
	TotalPages  int              `json:"totalPages"`
	CurrentPage int              `json:"currentPage"`
}

// NewPage computes the derived paging fields for items within total.
func NewPage(items []NormalizedItem, total, limit, offset int) Page {
	if items == nil {
		items = []NormalizedItem{}
	}
	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}
	currentPage := 1
	if limit > 0 {
		currentPage = offset/limit + 1
	}
	return Page{
		Items:       items,
		Total:       total,
		Limit:       limit,
		Offset:      offset,
		HasMore:     currentPage < totalPages,
		HasPrevious: offset > 0,
		TotalPages:  totalPages,
		CurrentPage: currentPage,
	}
}
