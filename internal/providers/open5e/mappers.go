package open5e

import (
	"strconv"
	"strings"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/model"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/providers"
)

type mapper func(raw model.Details) model.Details

var mappers = map[model.ItemType]mapper{
	model.TypeSpell:      mapSpell,
	model.TypeCreature:   mapCreature,
	model.TypeItem:       mapItem,
	model.TypeFeat:       mapFeat,
	model.TypeBackground: mapBackground,
	model.TypeSpecies:    mapSpecies,
	model.TypeClass:      mapClass,
}

func mapSpell(r model.Details) model.Details {
	d := model.Details{}
	if lvl, ok := r.Int("level"); ok {
		d["level"] = lvl
	} else if lvl, ok := r.Int("level_int"); ok {
		d["level"] = lvl
	}
	providers.Set(d, "school", providers.NameOf(r, "school"))
	providers.Set(d, "casting_time", r.String("casting_time"))
	rng := r.String("range_text")
	if rng == "" {
		rng = r.String("range")
	}
	providers.Set(d, "range", rng)
	providers.Set(d, "duration", r.String("duration"))
	providers.Set(d, "components", components(r))
	d["concentration"] = r.Bool("concentration") || r.Bool("requires_concentration")
	d["ritual"] = r.Bool("ritual") || r.Bool("can_be_cast_as_ritual")
	providers.Set(d, "desc", providers.Text(r, "desc"))
	providers.Set(d, "higher_level", providers.Text(r, "higher_level"))
	material := r.String("material_specified")
	if s, ok := r["material"].(string); ok && material == "" {
		material = s
	}
	providers.Set(d, "material", material)
	providers.Set(d, "classes", providers.Names(r, "classes"))
	return d
}

// components accepts both the v2 verbal/somatic/material flags and a
// "V, S, M" string.
func components(r model.Details) []string {
	if s := r.String("components"); s != "" {
		var out []string
		for _, c := range strings.Split(s, ",") {
			if c = strings.TrimSpace(c); c != "" {
				out = append(out, c)
			}
		}
		return out
	}
	if list := r.Strings("components"); len(list) > 0 {
		return list
	}
	var out []string
	if r.Bool("verbal") {
		out = append(out, "V")
	}
	if r.Bool("somatic") {
		out = append(out, "S")
	}
	if m, _ := r["material"].(bool); m {
		out = append(out, "M")
	}
	return out
}

func mapCreature(r model.Details) model.Details {
	d := model.Details{}
	providers.Set(d, "size", providers.NameOf(r, "size"))
	providers.Set(d, "type", providers.NameOf(r, "type"))
	sub := r.String("subtype")
	if sub == "" {
		sub = r.String("subcategory")
	}
	providers.Set(d, "subtype", sub)
	providers.Set(d, "alignment", r.String("alignment"))
	switch {
	case r.Has("challenge_rating_decimal"):
		if v, ok := r.Float("challenge_rating_decimal"); ok {
			d["challenge_rating"] = v
		}
	case r.Has("challenge_rating_text"):
		providers.Set(d, "challenge_rating", r.String("challenge_rating_text"))
	case r.Has("challenge_rating"):
		d["challenge_rating"] = r["challenge_rating"]
	}
	if ac, ok := r.Int("armor_class"); ok {
		d["armor_class"] = ac
	}
	if hp, ok := r.Int("hit_points"); ok {
		d["hit_points"] = hp
	}
	providers.Set(d, "desc", providers.Text(r, "desc"))

	actions := providers.Entries(r, "actions")
	var legendary, reactions []any
	// v2 nests every action kind in one list tagged by action_type.
	if len(actions) > 0 {
		var plain []any
		for i, o := range r.Objects("actions") {
			switch strings.ToUpper(o.String("action_type")) {
			case "LEGENDARY_ACTION":
				legendary = append(legendary, actions[i])
			case "REACTION":
				reactions = append(reactions, actions[i])
			default:
				plain = append(plain, actions[i])
			}
		}
		actions = plain
	}
	providers.Set(d, "actions", actions)
	providers.Set(d, "reactions", append(reactions, providers.Entries(r, "reactions")...))
	providers.Set(d, "legendary_actions", append(legendary, providers.Entries(r, "legendary_actions")...))
	special := providers.Entries(r, "special_abilities")
	if len(special) == 0 {
		special = providers.Entries(r, "traits")
	}
	providers.Set(d, "special_abilities", special)
	return d
}

func mapItem(r model.Details) model.Details {
	d := model.Details{}
	category := providers.NameOf(r, "category")
	if category == "" {
		category = r.String("type")
	}
	providers.Set(d, "category", category)
	providers.Set(d, "rarity", providers.NameOf(r, "rarity"))
	d["requires_attunement"] = r.Bool("requires_attunement")
	providers.Set(d, "desc", providers.Text(r, "desc"))
	return d
}

func mapFeat(r model.Details) model.Details {
	d := model.Details{}
	prereq := r.String("prerequisite")
	if prereq == "" {
		prereq = strings.Join(r.Strings("prerequisites"), ", ")
	}
	providers.Set(d, "prerequisite", prereq)
	desc := providers.Text(r, "desc")
	if desc == "" {
		desc = providers.Text(r, "description")
	}
	providers.Set(d, "desc", desc)
	providers.Set(d, "benefits", providers.Entries(r, "benefits"))
	return d
}

func mapBackground(r model.Details) model.Details {
	d := model.Details{}
	providers.Set(d, "desc", providers.Text(r, "desc"))

	feature := providers.NameOf(r, "feature")
	featureDesc := providers.Text(r, "feature_desc")
	var skills []string
	for _, b := range r.Objects("benefits") {
		switch strings.ToLower(b.String("type")) {
		case "feature":
			if feature == "" {
				feature = strings.TrimSpace(b.String("name"))
				featureDesc = providers.Text(b, "desc")
			}
		case "skill_proficiency":
			skills = append(skills, providers.Text(b, "desc"))
		}
	}
	if len(skills) == 0 {
		if s := r.String("skill_proficiencies"); s != "" {
			skills = []string{s}
		}
	}
	providers.Set(d, "feature", feature)
	providers.Set(d, "feature_desc", featureDesc)
	providers.Set(d, "skill_proficiencies", skills)
	return d
}

func mapSpecies(r model.Details) model.Details {
	d := model.Details{}
	providers.Set(d, "desc", providers.Text(r, "desc"))
	providers.Set(d, "size", providers.NameOf(r, "size"))
	if speed, ok := r.Int("speed"); ok {
		d["speed"] = speed
	} else if walk, ok := r.Object("speed").Int("walk"); ok {
		d["speed"] = walk
	}
	providers.Set(d, "ability_bonuses", r.String("asi_desc"))
	providers.Set(d, "traits", providers.Entries(r, "traits"))
	return d
}

func mapClass(r model.Details) model.Details {
	d := model.Details{}
	if hd, ok := r.Int("hit_die"); ok {
		d["hit_die"] = hd
	} else if s := strings.TrimPrefix(strings.ToLower(r.String("hit_dice")), "1"); strings.HasPrefix(s, "d") {
		if hd, err := strconv.Atoi(s[1:]); err == nil {
			d["hit_die"] = hd
		}
	}
	providers.Set(d, "primary_ability", providers.Names(r, "primary_abilities"))
	providers.Set(d, "saving_throws", providers.Names(r, "saving_throws"))
	providers.Set(d, "features", providers.Entries(r, "features"))
	providers.Set(d, "desc", providers.Text(r, "desc"))
	return d
}
