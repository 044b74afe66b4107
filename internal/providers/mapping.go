package providers

import (
	"strings"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/catalog"
	perrors "github.com/Mystery2099/dnd-pwa-sub000/internal/errors"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/model"
)

// Build assembles a canonical item and derives its summary, promoted columns
// and content from details. Records without identity or name are rejected.
func Build(source string, t model.ItemType, externalID, name string, details model.Details, prov model.Provenance) (model.NormalizedItem, error) {
	externalID = strings.TrimSpace(externalID)
	name = strings.TrimSpace(name)
	if externalID == "" {
		return model.NormalizedItem{}, &perrors.ValidationError{Provider: source, Type: string(t), Key: name, Reason: "missing identity"}
	}
	if name == "" {
		return model.NormalizedItem{}, &perrors.ValidationError{Provider: source, Type: string(t), Key: externalID, Reason: "missing name"}
	}

	it := model.NormalizedItem{
		Type:       t,
		Source:     source,
		ExternalID: externalID,
		Name:       name,
		Details:    details,
		Provenance: prov,
	}
	if err := catalog.Derive(&it); err != nil {
		return model.NormalizedItem{}, err
	}
	return it, nil
}

// Text returns the value at key as plain text. Lists of paragraphs are joined
// with blank lines.
func Text(d model.Details, key string) string {
	parts := d.Strings(key)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := catalog.PlainText(p); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, "\n\n")
}

// NameOf returns key as a string, or the name of a {name} object at key.
func NameOf(d model.Details, key string) string {
	if s := strings.TrimSpace(d.String(key)); s != "" {
		return s
	}
	return strings.TrimSpace(d.Object(key).String("name"))
}

// Names returns the list at key as names: strings pass through, objects
// contribute their name.
func Names(d model.Details, key string) []string {
	if s := d.Strings(key); len(s) > 0 {
		return s
	}
	var out []string
	for _, o := range d.Objects(key) {
		if n := strings.TrimSpace(o.String("name")); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Entries normalizes a list of action-like objects to [{name, desc}] with plain-text desc.
func Entries(d model.Details, key string) []any {
	objs := d.Objects(key)
	if len(objs) == 0 {
		return nil
	}
	out := make([]any, 0, len(objs))
	for _, o := range objs {
		out = append(out, map[string]any{
			"name": strings.TrimSpace(o.String("name")),
			"desc": Text(o, "desc"),
		})
	}
	return out
}

// Set stores v under key unless v is empty.
func Set(d model.Details, key string, v any) {
	switch x := v.(type) {
	case nil:
		return
	case string:
		if x == "" {
			return
		}
	case []string:
		if len(x) == 0 {
			return
		}
	case []any:
		if len(x) == 0 {
			return
		}
	}
	d[key] = v
}

// Copy moves the listed keys from src to dst unchanged when present.
func Copy(dst, src model.Details, keys ...string) {
	for _, k := range keys {
		if src.Has(k) {
			dst[k] = src[k]
		}
	}
}
