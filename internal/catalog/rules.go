package catalog

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/model"
)

func noPromotion(model.Details) model.Promoted { return model.Promoted{} }

func promoteSpell(d model.Details) model.Promoted {
	var p model.Promoted
	if lvl, ok := d.Int("level"); ok && lvl >= 0 && lvl <= 9 {
		p.SpellLevel = &lvl
	}
	if school := nameOf(d, "school"); school != "" {
		s := TitleCase(school)
		p.SpellSchool = &s
	}
	return p
}

func summarizeSpell(d model.Details) string {
	school := TitleCase(nameOf(d, "school"))
	lvl, ok := d.Int("level")
	var head string
	switch {
	case !ok:
		head = "Spell"
	case lvl == 0:
		head = "Cantrip"
	default:
		head = fmt.Sprintf("Level %d", lvl)
	}
	return strings.TrimSpace(head + " " + school)
}

func promoteCreature(d model.Details) model.Promoted {
	var p model.Promoted
	if cr, val, ok := ChallengeRating(d); ok {
		p.ChallengeRating = &cr
		p.ChallengeValue = &val
	}
	if size := nameOf(d, "size"); size != "" {
		s := TitleCase(size)
		p.CreatureSize = &s
	}
	if typ := nameOf(d, "type"); typ != "" {
		s := TitleCase(typ)
		p.CreatureType = &s
	}
	return p
}

// summarizeCreature renders "{Size} {Type}, CR {cr}".
func summarizeCreature(d model.Details) string {
	head := strings.TrimSpace(TitleCase(nameOf(d, "size")) + " " + TitleCase(nameOf(d, "type")))
	if cr, _, ok := ChallengeRating(d); ok {
		if head == "" {
			return "CR " + cr
		}
		return head + ", CR " + cr
	}
	if head == "" {
		return "Creature"
	}
	return head
}

// ChallengeRating normalizes the challenge_rating field into its display text
// ("1/8", "1/2", "5") and numeric value.
func ChallengeRating(d model.Details) (string, float64, bool) {
	v, ok := d.Float("challenge_rating")
	if !ok {
		return "", 0, false
	}
	switch {
	case math.Abs(v-0.125) < 1e-9:
		return "1/8", v, true
	case math.Abs(v-0.25) < 1e-9:
		return "1/4", v, true
	case math.Abs(v-0.5) < 1e-9:
		return "1/2", v, true
	}
	return strconv.FormatFloat(v, 'f', -1, 64), v, true
}

func promoteItem(d model.Details) model.Promoted {
	var p model.Promoted
	if r := nameOf(d, "rarity"); r != "" {
		s := strings.ToLower(r)
		p.ItemRarity = &s
	}
	if c := nameOf(d, "category"); c != "" {
		s := strings.ToLower(c)
		p.ItemCategory = &s
	}
	return p
}

// summarizeItem renders "{Category}, {rarity}" with an attunement suffix.
func summarizeItem(d model.Details) string {
	category := capitalize(strings.ToLower(nameOf(d, "category")))
	rarity := strings.ToLower(nameOf(d, "rarity"))
	var out string
	switch {
	case category != "" && rarity != "":
		out = category + ", " + rarity
	case category != "":
		out = category
	case rarity != "":
		out = capitalize(rarity)
	default:
		out = "Item"
	}
	if d.Bool("requires_attunement") {
		out += " (requires attunement)"
	}
	return out
}

func summarizeFeat(d model.Details) string {
	if p := strings.TrimSpace(d.String("prerequisite")); p != "" {
		return "Prerequisite: " + p
	}
	return "Feat"
}

func summarizeBackground(d model.Details) string {
	if f := nameOf(d, "feature"); f != "" {
		return "Feature: " + f
	}
	return "Background"
}

// summarizeSpecies renders "{Size} | Speed {n} ft.".
func summarizeSpecies(d model.Details) string {
	size := TitleCase(nameOf(d, "size"))
	speed, ok := d.Int("speed")
	if !ok {
		speed, ok = d.Object("speed").Int("walk")
	}
	switch {
	case size != "" && ok:
		return fmt.Sprintf("%s | Speed %d ft.", size, speed)
	case ok:
		return fmt.Sprintf("Speed %d ft.", speed)
	case size != "":
		return size
	}
	return "Species"
}

func summarizeClass(d model.Details) string {
	if hd, ok := d.Int("hit_die"); ok && hd > 0 {
		return fmt.Sprintf("Hit Die: d%d", hd)
	}
	return "Class"
}

// nameOf reads key as a string, or as the name of a {name} object.
func nameOf(d model.Details, key string) string {
	if s := strings.TrimSpace(d.String(key)); s != "" {
		return s
	}
	return strings.TrimSpace(d.Object(key).String("name"))
}

// TitleCase upper-cases the first letter of every word.
func TitleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = capitalize(w)
	}
	return strings.Join(words, " ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
