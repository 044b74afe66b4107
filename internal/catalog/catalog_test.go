package catalog

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/model"
)

func TestEveryTypeHasEntry(t *testing.T) {
	for _, typ := range model.AllTypes {
		e, ok := Lookup(typ)
		require.True(t, ok, "missing entry for %s", typ)
		assert.Equal(t, typ, e.Type)
		assert.NotNil(t, e.Promote)
		assert.NotNil(t, e.Summary)
	}
	_, ok := Lookup("vehicle")
	assert.False(t, ok)
}

func TestSummaries(t *testing.T) {
	cases := []struct {
		typ     model.ItemType
		details model.Details
		want    string
	}{
		{model.TypeSpell, model.Details{"level": 0.0, "school": "evocation"}, "Cantrip Evocation"},
		{model.TypeSpell, model.Details{"level": 3.0, "school": map[string]any{"name": "Necromancy"}}, "Level 3 Necromancy"},
		{model.TypeCreature, model.Details{"size": "large", "type": "dragon", "challenge_rating": 0.5}, "Large Dragon, CR 1/2"},
		{model.TypeCreature, model.Details{"size": "Tiny", "type": "beast", "challenge_rating": "1/8"}, "Tiny Beast, CR 1/8"},
		{model.TypeItem, model.Details{"category": "Wondrous item", "rarity": "Very Rare", "requires_attunement": "yes"}, "Wondrous item, very rare (requires attunement)"},
		{model.TypeItem, model.Details{"category": "weapon"}, "Weapon"},
		{model.TypeFeat, model.Details{"prerequisite": "Strength 13 or higher"}, "Prerequisite: Strength 13 or higher"},
		{model.TypeFeat, model.Details{}, "Feat"},
		{model.TypeBackground, model.Details{"feature": "Shelter of the Faithful"}, "Feature: Shelter of the Faithful"},
		{model.TypeBackground, nil, "Background"},
		{model.TypeSpecies, model.Details{"size": "medium", "speed": 30.0}, "Medium | Speed 30 ft."},
		{model.TypeSpecies, model.Details{"size": "small", "speed": map[string]any{"walk": 25.0}}, "Small | Speed 25 ft."},
		{model.TypeClass, model.Details{"hit_die": 12.0}, "Hit Die: d12"},
		{model.TypeClass, model.Details{}, "Class"},
	}
	for _, c := range cases {
		e, _ := Lookup(c.typ)
		assert.Equal(t, c.want, e.Summary(c.details), "%s %v", c.typ, c.details)
	}
}

func TestDerive_PromotedColumns(t *testing.T) {
	it := model.NormalizedItem{
		Type: model.TypeCreature,
		Details: model.Details{
			"size":             "huge",
			"type":             "giant",
			"challenge_rating": 0.25,
			"desc":             "A very large being.",
			"actions": []any{
				map[string]any{"name": "Club", "desc": "Melee weapon attack."},
				"not-an-object",
			},
		},
	}
	require.NoError(t, Derive(&it))
	require.NotNil(t, it.ChallengeRating)
	assert.Equal(t, "1/4", *it.ChallengeRating)
	assert.InDelta(t, 0.25, *it.ChallengeValue, 1e-9)
	assert.Equal(t, "Huge", *it.CreatureSize)
	assert.Equal(t, "Giant", *it.CreatureType)
	assert.Nil(t, it.SpellLevel)
	assert.Equal(t, "Huge Giant, CR 1/4", it.Summary)
	assert.Contains(t, it.Content, "A very large being.")
	assert.Contains(t, it.Content, "Melee weapon attack.")
}

func TestDerive_UnsupportedType(t *testing.T) {
	it := model.NormalizedItem{Type: "vehicle"}
	assert.ErrorIs(t, Derive(&it), model.ErrUnsupportedType)
}

// Promoted columns must be recomputable from details after a JSON round trip,
// which is how they come back out of the store.
func TestPromotedSurvivesDetailsRoundTrip(t *testing.T) {
	items := []model.NormalizedItem{
		{Type: model.TypeSpell, Details: model.Details{"level": 9, "school": "Conjuration"}},
		{Type: model.TypeCreature, Details: model.Details{"size": "Medium", "type": "humanoid", "challenge_rating": "2"}},
		{Type: model.TypeItem, Details: model.Details{"category": "Armor", "rarity": "Uncommon"}},
	}
	for _, it := range items {
		require.NoError(t, Derive(&it))

		raw, err := json.Marshal(it.Details)
		require.NoError(t, err)
		var back model.Details
		require.NoError(t, json.Unmarshal(raw, &back))

		again := model.NormalizedItem{Type: it.Type, Details: back}
		require.NoError(t, Derive(&again))
		assert.Equal(t, it.Promoted, again.Promoted, "type %s", it.Type)
		assert.Equal(t, it.Summary, again.Summary)
	}
}

func TestExtractContent_StringArraysAndExtras(t *testing.T) {
	d := model.Details{
		"desc":         []any{"First paragraph.", "Second  paragraph."},
		"higher_level": "More dice.",
		"classes":      []any{"Wizard", "Sorcerer"},
	}
	got := ExtractContent(model.TypeSpell, d)
	assert.Equal(t, "First paragraph. Second paragraph. More dice. Wizard Sorcerer", got)

	// classes is a spell-only extra.
	assert.NotContains(t, ExtractContent(model.TypeFeat, d), "Wizard")
}

func TestPlainText(t *testing.T) {
	cases := map[string]string{
		"":                                   "",
		"**Bold** and _italic_":              "Bold and italic",
		"See [the rules](http://x.test/a).":  "See the rules.",
		"Line one\nline two":                 "Line one line two",
		"# Heading\n\nBody text.":            "Heading Body text.",
		"- one\n- two":                       "one two",
		"Inline <b>html</b> tags":            "Inline html tags",
		"<div>block html</div>":              "block html",
		"Use `code` here":                    "Use code here",
		"Visit <https://open5e.com> please.": "Visit https://open5e.com please.",
	}
	for in, want := range cases {
		assert.Equal(t, want, PlainText(in), "input %q", in)
	}
}

func TestTitleCase(t *testing.T) {
	assert.Equal(t, "Swarm Of Tiny Beasts", TitleCase("swarm of TINY beasts"))
	assert.Equal(t, "", TitleCase("  "))
}
