package catalog

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/domain"
)

//Problem is a specific barrier type within a category
type Problem struct {
	ID    string `json:"id" yaml:"id"`
	Label string `json:"label" yaml:"label"`
	Glyph string `json:"glyph" yaml:"glyph"`
}

//Category is a disability classification with its own colour, glyph and problem list
type Category struct {
	Key      string    `json:"key" yaml:"key"`
	Title    string    `json:"title" yaml:"title"`
	Color    string    `json:"color" yaml:"color"`
	Glyph    string    `json:"glyph" yaml:"glyph"`
	Problems []Problem `json:"problems" yaml:"problems"`
}

//Catalog is an immutable, ordered lookup table of categories. Accessors hand out copies.
type Catalog struct {
	categories []Category
	index      map[string]int
}

type document struct {
	Categories []Category `yaml:"categories"`
}

//New validates the categories and returns a catalog that preserves their order
func New(categories ...Category) (*Catalog, error) {
	if len(categories) == 0 {
		return nil, errors.New("catalog needs at least one category")
	}

	c := &Catalog{index: map[string]int{}}

	for _, cat := range categories {
		if cat.Key == "" {
			return nil, errors.New("category without key")
		}
		if _, exists := c.index[cat.Key]; exists {
			return nil, fmt.Errorf("duplicate category %s", cat.Key)
		}
		if len(cat.Problems) == 0 {
			return nil, fmt.Errorf("category %s has no problems", cat.Key)
		}

		seen := map[string]bool{}
		for _, p := range cat.Problems {
			if p.ID == "" || p.Label == "" {
				return nil, fmt.Errorf("category %s has a problem without id or label", cat.Key)
			}
			if seen[p.ID] {
				return nil, fmt.Errorf("category %s has duplicate problem %s", cat.Key, p.ID)
			}
			seen[p.ID] = true
		}

		c.index[cat.Key] = len(c.categories)
		c.categories = append(c.categories, copyCategory(cat))
	}

	return c, nil
}

//Load reads a YAML document with a top level categories list
func Load(r io.Reader) (*Catalog, error) {
	doc := document{}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	return New(doc.Categories...)
}

//Write serialises the catalog in the format understood by Load
func (c *Catalog) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(document{Categories: c.Categories()})
}

//Categories returns all categories in catalog order
func (c *Catalog) Categories() []Category {
	result := make([]Category, 0, len(c.categories))
	for _, cat := range c.categories {
		result = append(result, copyCategory(cat))
	}
	return result
}

//Keys returns the category keys in catalog order
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.categories))
	for _, cat := range c.categories {
		keys = append(keys, cat.Key)
	}
	return keys
}

//Category looks up a category by key
func (c *Catalog) Category(key string) (Category, bool) {
	idx, ok := c.index[key]
	if !ok {
		return Category{}, false
	}
	return copyCategory(c.categories[idx]), true
}

//First returns the first category of the catalog
func (c *Catalog) First() Category {
	return copyCategory(c.categories[0])
}

//FirstProblem returns the first listed problem of a category
func (c *Catalog) FirstProblem(key string) (Problem, bool) {
	idx, ok := c.index[key]
	if !ok {
		return Problem{}, false
	}
	return c.categories[idx].Problems[0], true
}

//Problem looks up a problem by id within a category
func (c *Catalog) Problem(key, id string) (Problem, bool) {
	idx, ok := c.index[key]
	if !ok {
		return Problem{}, false
	}
	for _, p := range c.categories[idx].Problems {
		if p.ID == id {
			return p, true
		}
	}
	return Problem{}, false
}

//ProblemByLabel looks up a problem by its label, ignoring case
func (c *Catalog) ProblemByLabel(key, label string) (Problem, bool) {
	idx, ok := c.index[key]
	if !ok {
		return Problem{}, false
	}
	for _, p := range c.categories[idx].Problems {
		if strings.EqualFold(p.Label, label) {
			return p, true
		}
	}
	return Problem{}, false
}

//Resolve finds the category and problem referred to by either a problem id or a label
func (c *Catalog) Resolve(key, problemID, label string) (Category, Problem, error) {
	cat, ok := c.Category(key)
	if !ok {
		return Category{}, Problem{}, fmt.Errorf("%w: unknown category %q", domain.ErrInvalidPin, key)
	}

	var p Problem
	if problemID != "" {
		p, ok = c.Problem(key, problemID)
	} else {
		p, ok = c.ProblemByLabel(key, label)
	}

	if !ok {
		return Category{}, Problem{}, fmt.Errorf("%w: problem %q does not belong to category %q",
			domain.ErrInvalidPin, problemID+label, key)
	}

	return cat, p, nil
}

//Contains returns true if the pin's category, problem and glyph all belong to the catalog
func (c *Catalog) Contains(pin domain.Pin) bool {
	p, ok := c.ProblemByLabel(pin.Category, pin.ProblemLabel)
	return ok && p.Glyph == pin.Glyph
}

func copyCategory(cat Category) Category {
	cat.Problems = append([]Problem(nil), cat.Problems...)
	return cat
}
