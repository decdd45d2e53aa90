// Package variants holds the message variant catalogue and picks the variant
// to send for a given set of targeting attributes.
package variants

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"outreach-policy-engine/pkg/models"
)

//go:embed default_catalogue.yaml
var defaultCatalogue []byte

var (
	ErrEmptyCatalogue   = errors.New("variant catalogue is empty")
	ErrInvalidCatalogue = errors.New("invalid variant catalogue")
)

// Variant is one templated wording/tone option for an outreach message
type Variant struct {
	ID              string             `yaml:"id" json:"id"`
	Name            string             `yaml:"name" json:"name"`
	Tone            string             `yaml:"tone" json:"tone"`
	Approach        string             `yaml:"approach" json:"approach"`
	TargetSeniority []models.Seniority `yaml:"target_seniority" json:"target_seniority,omitempty"`
	Triggers        []string           `yaml:"triggers" json:"triggers,omitempty"`
	Effectiveness   float64            `yaml:"effectiveness" json:"effectiveness"`
	Default         bool               `yaml:"default" json:"default,omitempty"`
	Template        string             `yaml:"template" json:"template"`
}

// Universal reports whether the variant targets every seniority
func (v Variant) Universal() bool {
	return len(v.TargetSeniority) == 0
}

func (v Variant) targets(s models.Seniority) bool {
	if v.Universal() {
		return true
	}
	for _, target := range v.TargetSeniority {
		if target == s {
			return true
		}
	}
	return false
}

func (v Variant) hasTrigger(trigger string) bool {
	for _, t := range v.Triggers {
		if strings.EqualFold(t, trigger) {
			return true
		}
	}
	return false
}

// Catalogue is an ordered set of variants. Declaration order breaks ties.
type Catalogue struct {
	Variants []Variant `yaml:"variants" json:"variants"`
}

// Targeting is what the selector knows about the recipient
type Targeting struct {
	Seniority models.Seniority
	Trigger   string
}

// Default returns the embedded production catalogue
func Default() Catalogue {
	c, err := Load(strings.NewReader(string(defaultCatalogue)))
	if err != nil {
		panic(fmt.Sprintf("variants: embedded catalogue is invalid: %v", err))
	}
	return c
}

// LoadFile reads a YAML catalogue from path
func LoadFile(path string) (Catalogue, error) {
	f, err := os.Open(path)
	if err != nil {
		return Catalogue{}, fmt.Errorf("failed to open variant catalogue: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// Load decodes and validates a YAML catalogue
func Load(r io.Reader) (Catalogue, error) {
	var c Catalogue
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return Catalogue{}, fmt.Errorf("failed to decode variant catalogue: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Catalogue{}, err
	}
	return c, nil
}

// Validate requires unique non-empty IDs, known seniorities and at most one default
func (c Catalogue) Validate() error {
	if len(c.Variants) == 0 {
		return ErrEmptyCatalogue
	}

	seen := make(map[string]bool, len(c.Variants))
	defaults := 0
	for i, v := range c.Variants {
		if v.ID == "" {
			return fmt.Errorf("%w: variant %d has no id", ErrInvalidCatalogue, i)
		}
		if seen[v.ID] {
			return fmt.Errorf("%w: duplicate variant id %q", ErrInvalidCatalogue, v.ID)
		}
		seen[v.ID] = true

		for _, s := range v.TargetSeniority {
			if !s.Valid() {
				return fmt.Errorf("%w: variant %q targets unknown seniority %q", ErrInvalidCatalogue, v.ID, s)
			}
		}
		if v.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("%w: %d variants marked default", ErrInvalidCatalogue, defaults)
	}

	return nil
}

// Lookup returns the variant with the given id
func (c Catalogue) Lookup(id string) (Variant, bool) {
	for _, v := range c.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}

// WithScores returns a copy whose effectiveness is replaced for every id in scores
func (c Catalogue) WithScores(scores map[string]float64) Catalogue {
	out := Catalogue{Variants: make([]Variant, len(c.Variants))}
	copy(out.Variants, c.Variants)
	for i := range out.Variants {
		if score, ok := scores[out.Variants[i].ID]; ok {
			out.Variants[i].Effectiveness = score
		}
	}
	return out
}

// Select picks the best variant for targeting.
//
// Variants whose target seniority is empty or contains the recipient's
// seniority are candidates. Variants that declare triggers are candidates
// only for one of those triggers, and are preferred over generic variants
// when they match. The highest effectiveness wins and declaration order
// breaks ties. With no candidate the universal default is returned, so
// Select only fails on an empty catalogue.
func Select(targeting Targeting, c Catalogue) (Variant, error) {
	if len(c.Variants) == 0 {
		return Variant{}, ErrEmptyCatalogue
	}

	seniority := targeting.Seniority
	if seniority == "" {
		seniority = models.SeniorityUnknown
	}

	var candidates, triggered []Variant
	for _, v := range c.Variants {
		if !v.targets(seniority) {
			continue
		}
		switch {
		case len(v.Triggers) == 0:
			candidates = append(candidates, v)
		case targeting.Trigger != "" && v.hasTrigger(targeting.Trigger):
			triggered = append(triggered, v)
		}
	}
	if len(triggered) > 0 {
		candidates = triggered
	}

	if len(candidates) == 0 {
		return c.fallback(), nil
	}

	best := candidates[0]
	for _, v := range candidates[1:] {
		if v.Effectiveness > best.Effectiveness {
			best = v
		}
	}
	return best, nil
}

func (c Catalogue) fallback() Variant {
	for _, v := range c.Variants {
		if v.Default {
			return v
		}
	}
	for _, v := range c.Variants {
		if v.Universal() {
			return v
		}
	}
	return c.Variants[0]
}
