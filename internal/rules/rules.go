// Package rules holds catalog configuration that is data rather than code:
// product families with their variant-forming axes, brand alias seeds and
// channel requirement seeds.
package rules

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ETAnderson/catalogsync/internal/domain"
	"github.com/ETAnderson/catalogsync/internal/textnorm"
)

//go:embed defaults.yaml
var defaultRules []byte

type Axis struct {
	Key     string   `yaml:"key"`
	Aliases []string `yaml:"aliases"`
}

type Family struct {
	Key      string   `yaml:"key"`
	Keywords []string `yaml:"keywords"`
	Axes     []Axis   `yaml:"axes"`
	// SizeAxes names the two axes a "160x200" token in the product name fills.
	SizeAxes []string `yaml:"size_axes"`
}

type BrandSeed struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

type RequirementSeed struct {
	Channel               string   `yaml:"channel"`
	Family                string   `yaml:"family"`
	RequiredAttributes    []string `yaml:"required_attributes"`
	RecommendedAttributes []string `yaml:"recommended_attributes"`
	MinImages             int      `yaml:"min_images"`
	RequireBarcode        bool     `yaml:"require_barcode"`
	RequireDescription    bool     `yaml:"require_description"`
	MinDescriptionLength  int      `yaml:"min_description_length"`
	RequireBrand          bool     `yaml:"require_brand"`
	RequirePrice          bool     `yaml:"require_price"`
}

type Catalog struct {
	Families     []Family          `yaml:"families"`
	Brands       []BrandSeed       `yaml:"brands"`
	Requirements []RequirementSeed `yaml:"requirements"`

	byKey map[string]Family
}

// Default returns the embedded rule set.
func Default() Catalog {
	c, err := Parse(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("embedded rules invalid: %v", err))
	}
	return c
}

// Load reads rules from path, or returns the embedded defaults when path is empty.
func Load(path string) (Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read rules file: %w", err)
	}
	return Parse(b)
}

func Parse(b []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse rules: %w", err)
	}

	c.byKey = make(map[string]Family, len(c.Families))
	for _, f := range c.Families {
		if f.Key == "" {
			return Catalog{}, fmt.Errorf("family without key")
		}
		if _, dup := c.byKey[f.Key]; dup {
			return Catalog{}, fmt.Errorf("duplicate family %q", f.Key)
		}
		c.byKey[f.Key] = f
	}
	for i, r := range c.Requirements {
		if r.Channel == "" {
			return Catalog{}, fmt.Errorf("requirement %d: channel is required", i)
		}
	}
	return c, nil
}

func (c Catalog) Family(key string) (Family, bool) {
	f, ok := c.byKey[key]
	return f, ok
}

// DetectFamily picks the first family whose keyword occurs in the category
// path, then in the product name. Unknown products get an empty family.
func (c Catalog) DetectFamily(categoryPath []string, name string) string {
	haystacks := []string{
		" " + textnorm.Key(strings.Join(categoryPath, " ")) + " ",
		" " + textnorm.Key(name) + " ",
	}
	for _, h := range haystacks {
		for _, f := range c.Families {
			for _, kw := range f.Keywords {
				k := textnorm.Key(kw)
				if k != "" && strings.Contains(h, " "+k+" ") {
					return f.Key
				}
			}
		}
	}
	return ""
}

// AxisKey maps an attribute name onto the family axis it names, if any.
func (f Family) AxisKey(attr string) (string, bool) {
	k := textnorm.Key(attr)
	for _, a := range f.Axes {
		if textnorm.Key(a.Key) == k {
			return a.Key, true
		}
		for _, al := range a.Aliases {
			if textnorm.Key(al) == k {
				return a.Key, true
			}
		}
	}
	return "", false
}

func (f Family) AxisKeys() []string {
	out := make([]string, 0, len(f.Axes))
	for _, a := range f.Axes {
		out = append(out, a.Key)
	}
	return out
}

func (r RequirementSeed) Requirement() domain.ChannelRequirement {
	family := r.Family
	if family == "" {
		family = domain.WildcardFamily
	}
	return domain.ChannelRequirement{
		Channel:               r.Channel,
		Family:                family,
		RequiredAttributes:    r.RequiredAttributes,
		RecommendedAttributes: r.RecommendedAttributes,
		MinImages:             r.MinImages,
		RequireBarcode:        r.RequireBarcode,
		RequireDescription:    r.RequireDescription,
		MinDescriptionLength:  r.MinDescriptionLength,
		RequireBrand:          r.RequireBrand,
		RequirePrice:          r.RequirePrice,
	}
}
