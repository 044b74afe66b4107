// Package catalog holds the per-type mapping from an item's details payload to
// its promoted sort/filter columns, its summary line and its searchable text.
// Adapters, the canonical store and the search index all go through this
// table, so a promoted column can always be re-derived from details.
package catalog

import (
	"fmt"
	"strings"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/model"
)

// Field names a searchable key in details. Nested fields are arrays of
// {name, desc} objects whose desc text is collected.
type Field struct {
	Key    string
	Nested bool
}

// Entry is the extraction rule set for one item type.
type Entry struct {
	Type       model.ItemType
	Promote    func(model.Details) model.Promoted
	Summary    func(model.Details) string
	Searchable []Field
}

// commonSearchable applies to every type.
var commonSearchable = []Field{
	{Key: "desc"},
	{Key: "description"},
	{Key: "higher_level"},
	{Key: "material"},
	{Key: "actions", Nested: true},
	{Key: "special_abilities", Nested: true},
	{Key: "reactions", Nested: true},
	{Key: "legendary_actions", Nested: true},
	{Key: "lair_actions", Nested: true},
	{Key: "traits", Nested: true},
	{Key: "features", Nested: true},
	{Key: "benefits", Nested: true},
}

var table = map[model.ItemType]Entry{
	model.TypeSpell: {
		Type:       model.TypeSpell,
		Promote:    promoteSpell,
		Summary:    summarizeSpell,
		Searchable: []Field{{Key: "classes"}, {Key: "school"}},
	},
	model.TypeCreature: {
		Type:       model.TypeCreature,
		Promote:    promoteCreature,
		Summary:    summarizeCreature,
		Searchable: []Field{{Key: "type"}, {Key: "subtype"}},
	},
	model.TypeItem: {
		Type:       model.TypeItem,
		Promote:    promoteItem,
		Summary:    summarizeItem,
		Searchable: []Field{{Key: "category"}},
	},
	model.TypeFeat: {
		Type:       model.TypeFeat,
		Promote:    noPromotion,
		Summary:    summarizeFeat,
		Searchable: []Field{{Key: "prerequisite"}},
	},
	model.TypeBackground: {
		Type:       model.TypeBackground,
		Promote:    noPromotion,
		Summary:    summarizeBackground,
		Searchable: []Field{{Key: "feature"}, {Key: "feature_desc"}, {Key: "skill_proficiencies"}},
	},
	model.TypeSpecies: {
		Type:       model.TypeSpecies,
		Promote:    noPromotion,
		Summary:    summarizeSpecies,
		Searchable: []Field{{Key: "ability_bonuses"}},
	},
	model.TypeClass: {
		Type:       model.TypeClass,
		Promote:    noPromotion,
		Summary:    summarizeClass,
		Searchable: []Field{{Key: "primary_ability"}, {Key: "saving_throws"}},
	},
}

// Lookup returns the entry for t.
func Lookup(t model.ItemType) (Entry, bool) {
	e, ok := table[t]
	return e, ok
}

// Derive recomputes the promoted columns, summary and content of it from its details.
func Derive(it *model.NormalizedItem) error {
	e, ok := Lookup(it.Type)
	if !ok {
		return fmt.Errorf("%w: %q", model.ErrUnsupportedType, it.Type)
	}
	if it.Details == nil {
		it.Details = model.Details{}
	}
	it.Promoted = e.Promote(it.Details)
	it.Summary = e.Summary(it.Details)
	it.Content = ExtractContent(it.Type, it.Details)
	return nil
}

// ExtractContent concatenates the free-text fields of d: the shared field list
// first, then the type-specific extras.
func ExtractContent(t model.ItemType, d model.Details) string {
	fields := commonSearchable
	if e, ok := Lookup(t); ok {
		fields = append(append([]Field(nil), commonSearchable...), e.Searchable...)
	}

	var parts []string
	for _, f := range fields {
		if f.Nested {
			for _, obj := range d.Objects(f.Key) {
				parts = append(parts, obj.Strings("desc")...)
			}
			continue
		}
		parts = append(parts, d.Strings(f.Key)...)
	}
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}
