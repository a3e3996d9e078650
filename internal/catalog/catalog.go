// Package catalog loads the static location and quest tables. A Catalog is
// built once during startup and is read-only afterwards.
package catalog

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/Unwrenchable/atomicfizzcaps-live/internal/domain"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const (
	locationsFile = "locations.json"
	questsFile    = "quests.json"
	schemaBase    = "https://atomicfizz.local/schemas/"
)

// Catalog is the immutable set of locations and quests
type Catalog struct {
	locations map[string]domain.Location
	ordered   []domain.Location
	quests    []domain.Quest
}

// Load reads locations.json and quests.json from dir. A missing quests file
// yields an empty quest list; a missing locations file is an error.
func Load(dir string) (*Catalog, error) {
	locData, err := os.ReadFile(filepath.Join(dir, locationsFile))
	if err != nil {
		return nil, fmt.Errorf("reading locations: %w", err)
	}

	questData, err := os.ReadFile(filepath.Join(dir, questsFile))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading quests: %w", err)
		}
		questData = []byte("[]")
	}

	return Parse(locData, questData)
}

// Parse validates and decodes raw location and quest documents
func Parse(locData, questData []byte) (*Catalog, error) {
	if err := validate("locations.schema.json", locData); err != nil {
		return nil, fmt.Errorf("validating locations: %w", err)
	}
	if err := validate("quests.schema.json", questData); err != nil {
		return nil, fmt.Errorf("validating quests: %w", err)
	}

	var locations []domain.Location
	if err := json.Unmarshal(locData, &locations); err != nil {
		return nil, fmt.Errorf("parsing locations: %w", err)
	}
	var quests []domain.Quest
	if err := json.Unmarshal(questData, &quests); err != nil {
		return nil, fmt.Errorf("parsing quests: %w", err)
	}

	return New(locations, quests)
}

// New builds a catalog from already decoded tables
func New(locations []domain.Location, quests []domain.Quest) (*Catalog, error) {
	c := &Catalog{
		locations: make(map[string]domain.Location, len(locations)),
		ordered:   make([]domain.Location, 0, len(locations)),
		quests:    append([]domain.Quest(nil), quests...),
	}

	for _, loc := range locations {
		if loc.ID == "" {
			return nil, fmt.Errorf("location with empty id")
		}
		if _, dup := c.locations[loc.ID]; dup {
			return nil, fmt.Errorf("duplicate location %q", loc.ID)
		}
		tier, err := domain.ParseTier(string(loc.Rarity))
		if err != nil {
			return nil, fmt.Errorf("location %q: %w", loc.ID, err)
		}
		loc.Rarity = tier
		if loc.Level < 1 {
			loc.Level = 1
		}
		c.locations[loc.ID] = loc
		c.ordered = append(c.ordered, loc)
	}

	seen := make(map[string]struct{}, len(quests))
	for _, q := range quests {
		if _, dup := seen[q.ID]; dup {
			return nil, fmt.Errorf("duplicate quest %q", q.ID)
		}
		seen[q.ID] = struct{}{}
		for _, obj := range q.Objectives {
			if _, ok := c.locations[obj]; !ok {
				return nil, fmt.Errorf("quest %q references unknown location %q", q.ID, obj)
			}
		}
	}

	sort.SliceStable(c.ordered, func(i, j int) bool {
		return c.ordered[i].ID < c.ordered[j].ID
	})
	return c, nil
}

// Location returns the location with the given id
func (c *Catalog) Location(id string) (domain.Location, bool) {
	loc, ok := c.locations[id]
	return loc, ok
}

// Locations returns every location ordered by id
func (c *Catalog) Locations() []domain.Location {
	return append([]domain.Location(nil), c.ordered...)
}

// Quests returns every quest definition
func (c *Catalog) Quests() []domain.Quest {
	return append([]domain.Quest(nil), c.quests...)
}

func validate(schemaName string, doc []byte) error {
	raw, err := schemaFS.ReadFile("schemas/" + schemaName)
	if err != nil {
		return fmt.Errorf("reading schema: %w", err)
	}

	url := schemaBase + schemaName
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("adding schema: %w", err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("compiling schema: %w", err)
	}

	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return fmt.Errorf("decoding document: %w", err)
	}
	return schema.Validate(v)
}
