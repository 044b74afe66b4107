package srd

import (
	"strings"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/model"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/providers"
)

type typeQuery struct {
	field  string
	query  string
	mapper func(model.Details) model.Details
}

func listQuery(field, selection string) string {
	return "query List($limit: Int!, $skip: Int!) { " + field + "(limit: $limit, skip: $skip) { " + selection + " } }"
}

var queries = map[model.ItemType]typeQuery{
	model.TypeSpell: {
		field: "spells",
		query: listQuery("spells", "index name level desc higher_level range components material ritual duration "+
			"concentration casting_time school { name } classes { name }"),
		mapper: mapSpell,
	},
	model.TypeCreature: {
		field: "monsters",
		query: listQuery("monsters", "index name size type subtype alignment challenge_rating hit_points "+
			"armor_class { value } desc special_abilities { name desc } actions { name desc } "+
			"legendary_actions { name desc } reactions { name desc }"),
		mapper: mapCreature,
	},
	model.TypeItem: {
		field:  "magicItems",
		query:  listQuery("magicItems", "index name desc equipment_category { name } rarity { name }"),
		mapper: mapItem,
	},
	model.TypeFeat: {
		field:  "feats",
		query:  listQuery("feats", "index name desc"),
		mapper: mapFeat,
	},
	model.TypeBackground: {
		field:  "backgrounds",
		query:  listQuery("backgrounds", "index name feature { name desc } starting_proficiencies { name }"),
		mapper: mapBackground,
	},
	model.TypeSpecies: {
		field:  "races",
		query:  listQuery("races", "index name size speed size_description alignment traits { name desc }"),
		mapper: mapSpecies,
	},
	model.TypeClass: {
		field:  "classes",
		query:  listQuery("classes", "index name hit_die saving_throws { name }"),
		mapper: mapClass,
	},
}

func mapSpell(r model.Details) model.Details {
	d := model.Details{}
	if lvl, ok := r.Int("level"); ok {
		d["level"] = lvl
	}
	providers.Set(d, "school", providers.NameOf(r, "school"))
	providers.Copy(d, r, "casting_time", "range", "duration", "components")
	d["concentration"] = r.Bool("concentration")
	d["ritual"] = r.Bool("ritual")
	providers.Set(d, "desc", providers.Text(r, "desc"))
	providers.Set(d, "higher_level", providers.Text(r, "higher_level"))
	providers.Set(d, "material", r.String("material"))
	providers.Set(d, "classes", providers.Names(r, "classes"))
	return d
}

func mapCreature(r model.Details) model.Details {
	d := model.Details{}
	providers.Copy(d, r, "size", "type", "subtype", "alignment", "challenge_rating", "hit_points")
	if ac := r.Objects("armor_class"); len(ac) > 0 {
		if v, ok := ac[0].Int("value"); ok {
			d["armor_class"] = v
		}
	} else if v, ok := r.Int("armor_class"); ok {
		d["armor_class"] = v
	}
	providers.Set(d, "desc", providers.Text(r, "desc"))
	providers.Set(d, "special_abilities", providers.Entries(r, "special_abilities"))
	providers.Set(d, "actions", providers.Entries(r, "actions"))
	providers.Set(d, "legendary_actions", providers.Entries(r, "legendary_actions"))
	providers.Set(d, "reactions", providers.Entries(r, "reactions"))
	return d
}

// mapItem reads attunement from the first description line, which the SRD
// writes as "Wondrous item, rare (requires attunement)".
func mapItem(r model.Details) model.Details {
	d := model.Details{}
	providers.Set(d, "category", providers.NameOf(r, "equipment_category"))
	providers.Set(d, "rarity", providers.NameOf(r, "rarity"))
	lines := r.Strings("desc")
	attune := len(lines) > 0 && strings.Contains(strings.ToLower(lines[0]), "requires attunement")
	d["requires_attunement"] = attune
	if len(lines) > 1 {
		lines = lines[1:]
	}
	providers.Set(d, "desc", providers.Text(model.Details{"desc": toAny(lines)}, "desc"))
	return d
}

func mapFeat(r model.Details) model.Details {
	d := model.Details{}
	providers.Set(d, "desc", providers.Text(r, "desc"))
	return d
}

func mapBackground(r model.Details) model.Details {
	d := model.Details{}
	feature := r.Object("feature")
	providers.Set(d, "feature", strings.TrimSpace(feature.String("name")))
	providers.Set(d, "feature_desc", providers.Text(feature, "desc"))
	providers.Set(d, "skill_proficiencies", providers.Names(r, "starting_proficiencies"))
	return d
}

func mapSpecies(r model.Details) model.Details {
	d := model.Details{}
	providers.Copy(d, r, "size", "speed")
	providers.Set(d, "desc", providers.Text(r, "size_description"))
	providers.Set(d, "traits", providers.Entries(r, "traits"))
	return d
}

func mapClass(r model.Details) model.Details {
	d := model.Details{}
	providers.Copy(d, r, "hit_die")
	providers.Set(d, "saving_throws", providers.Names(r, "saving_throws"))
	return d
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
