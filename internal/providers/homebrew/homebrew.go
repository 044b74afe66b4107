// Package homebrew serves locally authored content from a directory of JSON
// files. For each type it reads "<dir>/<name>.json" (an array) and every
// "<dir>/<name>/*.json" file (an object or an array), where name is the
// plural listed in fileNames. Each file is delivered as one page.
package homebrew

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/model"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/providers"
)

// ID is the provider id and the source value of its items.
const ID = "homebrew"

//go:embed schemas/*.json
var schemaFS embed.FS

var fileNames = map[model.ItemType]string{
	model.TypeSpell:      "spells",
	model.TypeCreature:   "creatures",
	model.TypeItem:       "magicitems",
	model.TypeFeat:       "feats",
	model.TypeBackground: "backgrounds",
	model.TypeSpecies:    "species",
	model.TypeClass:      "classes",
}

// reserved keys describe the record itself and are not copied into details.
var reserved = map[string]bool{"key": true, "name": true, "document": true, "url": true}

// Provider implements providers.Provider over a directory.
type Provider struct {
	dir       string
	validator *providers.Validator
	log       zerolog.Logger
}

func New(dir string, log zerolog.Logger) (*Provider, error) {
	v, err := providers.NewValidator(ID, schemaFS, "schemas")
	if err != nil {
		return nil, err
	}
	return &Provider{dir: dir, validator: v, log: log.With().Str("provider", ID).Logger()}, nil
}

func (p *Provider) ID() string   { return ID }
func (p *Provider) Name() string { return "Homebrew" }
func (p *Provider) Dir() string  { return p.dir }

func (p *Provider) SupportedTypes() []model.ItemType {
	return append([]model.ItemType(nil), model.AllTypes...)
}

// FetchAll reads every file for t. A missing directory yields no records; an
// unreadable or malformed file fails the fetch.
func (p *Provider) FetchAll(ctx context.Context, t model.ItemType, fn providers.PageFunc) error {
	base, ok := fileNames[t]
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrUnsupportedType, t)
	}

	files, err := p.files(base)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := readPage(f)
		if err != nil {
			return err
		}
		p.log.Debug().Str("file", f).Int("records", len(page)).Msg("Loaded homebrew file")
		if err := fn(page); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) files(base string) ([]string, error) {
	var out []string
	single := filepath.Join(p.dir, base+".json")
	if st, err := os.Stat(single); err == nil && !st.IsDir() {
		out = append(out, single)
	}

	sub := filepath.Join(p.dir, base)
	entries, err := os.ReadDir(sub)
	switch {
	case os.IsNotExist(err):
		return out, nil
	case err != nil:
		return nil, fmt.Errorf("read homebrew dir %s: %w", sub, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, n := range names {
		out = append(out, filepath.Join(sub, n))
	}
	return out, nil
}

func readPage(path string) ([]providers.RawRecord, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	if raw[0] == '{' {
		var one providers.RawRecord
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return []providers.RawRecord{one}, nil
	}
	var many []providers.RawRecord
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return many, nil
}

// Transform keeps the authored fields as details. Identity is key, else a
// slug of the name, so re-reading the same file yields the same ids.
func (p *Provider) Transform(raw providers.RawRecord, t model.ItemType) (model.NormalizedItem, error) {
	d := model.Details(raw)
	name := strings.TrimSpace(d.String("name"))
	key := strings.TrimSpace(d.String("key"))
	if key == "" && name != "" {
		key = "homebrew_" + providers.Slug(name)
	}
	if err := p.validator.Validate(t, key, raw); err != nil {
		return model.NormalizedItem{}, err
	}

	details := model.Details{}
	for k, v := range d {
		if !reserved[k] {
			details[k] = v
		}
	}
	if d.Has("desc") {
		providers.Set(details, "desc", providers.Text(d, "desc"))
	}

	doc := d.Object("document")
	prov := model.Provenance{
		Edition:     "5e-2014",
		SourceBook:  "Homebrew",
		DataVersion: "local",
	}
	if s := providers.NameOf(doc, "name"); s != "" {
		prov.SourceBook = s
	}
	if gs := doc.Object("gamesystem").String("key"); gs != "" {
		prov.Edition = gs
	}
	if k := doc.String("key"); k != "" {
		prov.DataVersion = k
	}
	return providers.Build(ID, t, key, name, details, prov)
}

// HealthCheck succeeds when the directory is readable or absent.
func (p *Provider) HealthCheck(ctx context.Context) error {
	st, err := os.Stat(p.dir)
	switch {
	case os.IsNotExist(err):
		return nil
	case err != nil:
		return err
	case !st.IsDir():
		return fmt.Errorf("homebrew path %s is not a directory", p.dir)
	}
	_, err = os.ReadDir(p.dir)
	return err
}
