package providers

import (
	"bytes"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	perrors "github.com/Mystery2099/dnd-pwa-sub000/internal/errors"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/model"
)

// Validator checks raw records against per-type JSON schemas. Types without a
// schema file pass unchecked.
type Validator struct {
	provider string
	schemas  map[model.ItemType]*jsonschema.Schema
}

// NewValidator compiles every "<type>.json" file found in dir of fsys.
func NewValidator(provider string, fsys fs.FS, dir string) (*Validator, error) {
	v := &Validator{provider: provider, schemas: make(map[model.ItemType]*jsonschema.Schema)}

	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read schema dir: %w", err)
	}

	c := jsonschema.NewCompiler()
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		t, err := model.ParseItemType(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", e.Name(), err)
		}
		raw, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", e.Name(), err)
		}
		loc := "https://compendium.local/schemas/" + provider + "/" + e.Name()
		if err := c.AddResource(loc, doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", e.Name(), err)
		}
		sch, err := c.Compile(loc)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", e.Name(), err)
		}
		v.schemas[t] = sch
	}
	return v, nil
}

// Validate returns a ValidationError when raw does not satisfy the schema for t.
func (v *Validator) Validate(t model.ItemType, key string, raw RawRecord) error {
	if v == nil {
		return nil
	}
	sch, ok := v.schemas[t]
	if !ok {
		return nil
	}
	if err := sch.Validate(map[string]any(raw)); err != nil {
		return &perrors.ValidationError{Provider: v.provider, Type: string(t), Key: key, Reason: flatten(err)}
	}
	return nil
}

func flatten(err error) string {
	s := strings.Join(strings.Fields(err.Error()), " ")
	return perrors.Truncate(s)
}
