package model

import (
	"fmt"
	"strings"
	"time"
)

// ItemType is the closed set of compendium content kinds.
type ItemType string

const (
	TypeSpell      ItemType = "spell"
	TypeCreature   ItemType = "creature"
	TypeItem       ItemType = "item"
	TypeFeat       ItemType = "feat"
	TypeBackground ItemType = "background"
	TypeSpecies    ItemType = "species"
	TypeClass      ItemType = "class"
)

// AllTypes lists every ItemType in sync order.
var AllTypes = []ItemType{
	TypeSpell, TypeCreature, TypeItem, TypeFeat, TypeBackground, TypeSpecies, TypeClass,
}

// typeAliases maps upstream spellings (plural, legacy names) onto the canonical type.
var typeAliases = map[string]ItemType{
	"spell": TypeSpell, "spells": TypeSpell,
	"creature": TypeCreature, "creatures": TypeCreature, "monster": TypeCreature, "monsters": TypeCreature,
	"item": TypeItem, "items": TypeItem, "magicitem": TypeItem, "magicitems": TypeItem, "magic-items": TypeItem,
	"feat": TypeFeat, "feats": TypeFeat,
	"background": TypeBackground, "backgrounds": TypeBackground,
	"species": TypeSpecies, "race": TypeSpecies, "races": TypeSpecies,
	"class": TypeClass, "classes": TypeClass,
}

// ParseItemType normalizes s into an ItemType.
func ParseItemType(s string) (ItemType, error) {
	t, ok := typeAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, s)
	}
	return t, nil
}

func (t ItemType) String() string { return string(t) }

// Valid reports whether t is one of the canonical types.
func (t ItemType) Valid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Promoted holds scalar columns duplicated from Details for indexed sort and filter.
// Every field must be derivable from Details.
type Promoted struct {
	SpellLevel      *int     `json:"spellLevel,omitempty"`
	SpellSchool     *string  `json:"spellSchool,omitempty"`
	ChallengeRating *string  `json:"challengeRating,omitempty"`
	ChallengeValue  *float64 `json:"challengeValue,omitempty"`
	CreatureSize    *string  `json:"creatureSize,omitempty"`
	CreatureType    *string  `json:"creatureType,omitempty"`
	ItemRarity      *string  `json:"itemRarity,omitempty"`
	ItemCategory    *string  `json:"itemCategory,omitempty"`
}

// Provenance scopes re-imports to the upstream release that produced an item.
type Provenance struct {
	Edition     string `json:"edition,omitempty"`
	SourceBook  string `json:"sourceBook,omitempty"`
	DataVersion string `json:"dataVersion,omitempty"`
}

// SourceLocal marks items authored through the write API rather than synced
// from a provider. Syncs never purge it.
const SourceLocal = "local"

// MutationIDHeader carries a client mutation id on write requests. A create
// without an explicit externalId uses it, so a replayed create lands on the
// same row.
const MutationIDHeader = "X-Mutation-Id"

// NormalizedItem is the canonical record keyed by (Type, Source, ExternalID).
type NormalizedItem struct {
	ID         int64    `json:"id"`
	Type       ItemType `json:"type"`
	Source     string   `json:"source"`
	ExternalID string   `json:"externalId"`
	Name       string   `json:"name"`
	Summary    string   `json:"summary"`
	Details    Details  `json:"details"`
	Content    string   `json:"content,omitempty"`
	Promoted
	Provenance
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Key returns the identity tuple as a single string.
func (it NormalizedItem) Key() string {
	return string(it.Type) + ":" + it.Source + ":" + it.ExternalID
}

// SyncType distinguishes full from incremental provider runs.
type SyncType string

const (
	SyncFull        SyncType = "full"
	SyncIncremental SyncType = "incremental"
)

// SyncMetadata is the per-provider record written after each sync attempt completes.
type SyncMetadata struct {
	ProviderID   string    `json:"providerId"`
	LastSyncAt   time.Time `json:"lastSyncAt"`
	LastSyncType SyncType  `json:"lastSyncType"`
	ItemsSynced  int       `json:"itemsSynced"`
	LastError    string    `json:"lastError,omitempty"`
}
