package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/model"
)

const itemColumns = `id, type, source, external_id, name, summary, details, content,
	spell_level, spell_school, challenge_rating, challenge_value, creature_size, creature_type,
	item_rarity, item_category, edition, source_book, data_version, created_at, updated_at`

// writeColumns excludes id and created_at bookkeeping so inserts and updates share argument order.
const writeColumns = `type, source, external_id, name, summary, details, content,
	spell_level, spell_school, challenge_rating, challenge_value, creature_size, creature_type,
	item_rarity, item_category, edition, source_book, data_version, created_at, updated_at`

const writePlaceholders = `?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (model.NormalizedItem, error) {
	var it model.NormalizedItem
	var typ, details string
	var spellLevel sql.NullInt64
	var school, cr, size, ctype, rarity, category sql.NullString
	var crValue sql.NullFloat64
	var created, updated int64
	err := row.Scan(&it.ID, &typ, &it.Source, &it.ExternalID, &it.Name, &it.Summary, &details, &it.Content,
		&spellLevel, &school, &cr, &crValue, &size, &ctype, &rarity, &category,
		&it.Edition, &it.SourceBook, &it.DataVersion, &created, &updated)
	if err != nil {
		return it, err
	}
	it.Type = model.ItemType(typ)
	if details != "" {
		if err := json.Unmarshal([]byte(details), &it.Details); err != nil {
			return it, fmt.Errorf("decode details of item %d: %w", it.ID, err)
		}
	}
	if it.Details == nil {
		it.Details = model.Details{}
	}
	if spellLevel.Valid {
		v := int(spellLevel.Int64)
		it.SpellLevel = &v
	}
	if crValue.Valid {
		v := crValue.Float64
		it.ChallengeValue = &v
	}
	it.SpellSchool = nullString(school)
	it.ChallengeRating = nullString(cr)
	it.CreatureSize = nullString(size)
	it.CreatureType = nullString(ctype)
	it.ItemRarity = nullString(rarity)
	it.ItemCategory = nullString(category)
	it.CreatedAt = fromMillis(created)
	it.UpdatedAt = fromMillis(updated)
	return it, nil
}

func collectItems(rows *sql.Rows) ([]model.NormalizedItem, error) {
	defer func() { _ = rows.Close() }()
	var out []model.NormalizedItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// writeArgs returns the values for writeColumns.
func writeArgs(it model.NormalizedItem) ([]any, error) {
	details := it.Details
	if details == nil {
		details = model.Details{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("encode details: %w", err)
	}
	return []any{
		string(it.Type), it.Source, it.ExternalID, it.Name, it.Summary, string(raw), it.Content,
		deref(it.SpellLevel), deref(it.SpellSchool), deref(it.ChallengeRating), deref(it.ChallengeValue),
		deref(it.CreatureSize), deref(it.CreatureType), deref(it.ItemRarity), deref(it.ItemCategory),
		it.Edition, it.SourceBook, it.DataVersion, millis(it.CreatedAt), millis(it.UpdatedAt),
	}, nil
}
