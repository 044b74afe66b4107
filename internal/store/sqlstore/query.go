package sqlstore

import (
	"strings"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/catalog"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/model"
)

const sizeRank = `CASE lower(creature_size)
	WHEN 'tiny' THEN 0 WHEN 'small' THEN 1 WHEN 'medium' THEN 2
	WHEN 'large' THEN 3 WHEN 'huge' THEN 4 WHEN 'gargantuan' THEN 5 END`

var sortColumns = map[string]string{
	model.SortName:            "lower(name)",
	model.SortSource:          "source",
	model.SortCreatedAt:       "created_at",
	model.SortSpellLevel:      "spell_level",
	model.SortSpellSchool:     "lower(spell_school)",
	model.SortChallengeRating: "challenge_value",
	model.SortCreatureSize:    sizeRank,
	model.SortCreatureType:    "lower(creature_type)",
}

// orderBy sorts NULLs last in both directions and breaks ties by name then id.
func orderBy(opts model.ListOptions) string {
	expr, ok := sortColumns[opts.SortBy]
	if !ok {
		expr = sortColumns[model.SortName]
	}
	dir := "ASC"
	if opts.SortOrder == "desc" {
		dir = "DESC"
	}
	out := "(" + expr + ") IS NULL, " + expr + " " + dir
	if expr != sortColumns[model.SortName] {
		out += ", lower(name) ASC"
	}
	return out + ", id ASC"
}

func listWhere(t model.ItemType, opts model.ListOptions) (string, []any) {
	clauses := []string{"type = ?"}
	args := []any{string(t)}

	if s := strings.ToLower(strings.TrimSpace(opts.Search)); s != "" {
		p := "%" + escapeLike(s) + "%"
		clauses = append(clauses, `(lower(name) LIKE ? ESCAPE '\' OR lower(summary) LIKE ? ESCAPE '\')`)
		args = append(args, p, p)
	}

	var groups []string
	f := opts.Filters
	if len(f.SpellLevel) > 0 {
		groups = append(groups, "spell_level IN ("+placeholders(len(f.SpellLevel))+")")
		for _, l := range f.SpellLevel {
			args = append(args, l)
		}
	}
	addLower := func(col string, vals []string) {
		vals = lowerAll(vals)
		if len(vals) == 0 {
			return
		}
		groups = append(groups, "lower("+col+") IN ("+placeholders(len(vals))+")")
		for _, v := range vals {
			args = append(args, v)
		}
	}
	addLower("spell_school", f.SpellSchool)
	addLower("creature_type", f.CreatureType)
	addLower("creature_size", f.CreatureSize)
	if crs := normalizeRatings(f.ChallengeRating); len(crs) > 0 {
		groups = append(groups, "challenge_rating IN ("+placeholders(len(crs))+")")
		for _, v := range crs {
			args = append(args, v)
		}
	}
	addLower("item_rarity", f.ItemRarity)

	if len(groups) > 0 {
		joiner := " AND "
		if opts.FilterLogic == "or" {
			joiner = " OR "
		}
		clauses = append(clauses, "("+strings.Join(groups, joiner)+")")
	}
	return strings.Join(clauses, " AND "), args
}

// normalizeRatings maps "0.25", "1/4" and "0.250" onto the stored "1/4" form.
func normalizeRatings(vals []string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if cr, _, ok := catalog.ChallengeRating(model.Details{"challenge_rating": v}); ok {
			out = append(out, cr)
		}
	}
	return out
}

func lowerAll(vals []string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
