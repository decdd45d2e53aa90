// Package patterns holds the versioned lookup tables used to classify replies
// and detect seniority. Tables are data: operators extend them by loading a
// new YAML document, never by changing code.
package patterns

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"outreach-policy-engine/pkg/models"
)

//go:embed default_patterns.yaml
var defaultTable []byte

// ErrInvalidTable is wrapped by every table validation failure
var ErrInvalidTable = errors.New("invalid pattern table")

// Table is the serialized form of a pattern store
type Table struct {
	Version   string          `yaml:"version"`
	Refusals  []string        `yaml:"refusals"`
	Deferrals []DeferralRule  `yaml:"deferrals"`
	Sentiment SentimentTable  `yaml:"sentiment"`
	Seniority []SeniorityRule `yaml:"seniority"`
}

type DeferralRule struct {
	Phrase     string `yaml:"phrase"`
	OffsetDays int    `yaml:"offset_days"`
}

type SentimentTable struct {
	Positive []string `yaml:"positive"`
	Negative []string `yaml:"negative"`
}

type SeniorityRule struct {
	Phrase    string           `yaml:"phrase"`
	Seniority models.Seniority `yaml:"seniority"`
}

// Store is an immutable, read-only view over a Table keyed by normalized phrase.
// It is safe for concurrent use.
type Store struct {
	version   string
	refusals  map[string]struct{}
	deferrals map[string]int
	positive  map[string]struct{}
	negative  map[string]struct{}
	seniority map[string]models.Seniority

	// match order: longest phrase first, then lexical
	refusalOrder   []string
	deferralOrder  []string
	positiveOrder  []string
	negativeOrder  []string
	seniorityOrder []string
}

// Default returns the store built from the embedded seed table
func Default() *Store {
	s, err := Load(strings.NewReader(string(defaultTable)))
	if err != nil {
		panic(fmt.Sprintf("patterns: embedded seed table is invalid: %v", err))
	}
	return s
}

// LoadFile reads a YAML table from path
func LoadFile(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pattern table: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// Load decodes a YAML table from r
func Load(r io.Reader) (*Store, error) {
	var table Table
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&table); err != nil {
		return nil, fmt.Errorf("failed to decode pattern table: %w", err)
	}
	return New(table)
}

// New validates table and builds a store from it
func New(table Table) (*Store, error) {
	if strings.TrimSpace(table.Version) == "" {
		return nil, fmt.Errorf("%w: missing version", ErrInvalidTable)
	}

	s := &Store{
		version:   table.Version,
		refusals:  make(map[string]struct{}, len(table.Refusals)),
		deferrals: make(map[string]int, len(table.Deferrals)),
		positive:  make(map[string]struct{}, len(table.Sentiment.Positive)),
		negative:  make(map[string]struct{}, len(table.Sentiment.Negative)),
		seniority: make(map[string]models.Seniority, len(table.Seniority)),
	}

	for i, phrase := range table.Refusals {
		key := strings.Join(Tokens(phrase), " ")
		if key == "" {
			return nil, fmt.Errorf("%w: refusal %d is empty", ErrInvalidTable, i)
		}
		s.refusals[key] = struct{}{}
	}

	for i, rule := range table.Deferrals {
		key := strings.Join(Tokens(rule.Phrase), " ")
		if key == "" {
			return nil, fmt.Errorf("%w: deferral %d is empty", ErrInvalidTable, i)
		}
		if rule.OffsetDays <= 0 {
			return nil, fmt.Errorf("%w: deferral %q needs a positive offset_days", ErrInvalidTable, rule.Phrase)
		}
		s.deferrals[key] = rule.OffsetDays
	}

	for _, list := range []struct {
		name   string
		values []string
		into   map[string]struct{}
	}{
		{"positive", table.Sentiment.Positive, s.positive},
		{"negative", table.Sentiment.Negative, s.negative},
	} {
		for i, phrase := range list.values {
			key := strings.Join(Tokens(phrase), " ")
			if key == "" {
				return nil, fmt.Errorf("%w: %s sentiment entry %d is empty", ErrInvalidTable, list.name, i)
			}
			list.into[key] = struct{}{}
		}
	}

	for i, rule := range table.Seniority {
		key := strings.Join(Tokens(rule.Phrase), " ")
		if key == "" {
			return nil, fmt.Errorf("%w: seniority rule %d is empty", ErrInvalidTable, i)
		}
		if !rule.Seniority.Known() {
			return nil, fmt.Errorf("%w: seniority rule %q maps to %q", ErrInvalidTable, rule.Phrase, rule.Seniority)
		}
		s.seniority[key] = rule.Seniority
	}

	s.refusalOrder = matchOrder(s.refusals)
	s.deferralOrder = matchOrder(s.deferrals)
	s.positiveOrder = matchOrder(s.positive)
	s.negativeOrder = matchOrder(s.negative)
	s.seniorityOrder = matchOrder(s.seniority)

	return s, nil
}

// Version identifies the table the store was built from
func (s *Store) Version() string {
	return s.version
}

// MatchRefusal returns the refusal phrase found in tokens. Phrases match on
// word boundaries, so punctuation between words never hides a refusal.
func (s *Store) MatchRefusal(tokens []string) (string, bool) {
	padded := pad(tokens)
	for _, phrase := range s.refusalOrder {
		if strings.Contains(padded, " "+phrase+" ") {
			return phrase, true
		}
	}
	return "", false
}

// MatchDeferral returns the deferral phrase found in tokens and its offset
func (s *Store) MatchDeferral(tokens []string) (string, int, bool) {
	padded := pad(tokens)
	for _, phrase := range s.deferralOrder {
		if strings.Contains(padded, " "+phrase+" ") {
			return phrase, s.deferrals[phrase], true
		}
	}
	return "", 0, false
}

// Sentiment scores tokens by lexical polarity. Each lexicon entry counts
// once. The returned phrase is the first entry of the winning polarity.
func (s *Store) Sentiment(tokens []string) (int, string) {
	padded := pad(tokens)

	var score int
	var firstPositive, firstNegative string
	for _, phrase := range s.positiveOrder {
		if strings.Contains(padded, " "+phrase+" ") {
			score++
			if firstPositive == "" {
				firstPositive = phrase
			}
		}
	}
	for _, phrase := range s.negativeOrder {
		if strings.Contains(padded, " "+phrase+" ") {
			score--
			if firstNegative == "" {
				firstNegative = phrase
			}
		}
	}

	switch {
	case score > 0:
		return score, firstPositive
	case score < 0:
		return score, firstNegative
	}
	return 0, ""
}

// DetectSeniority maps a job title (or any free text) to a seniority level.
// The most senior match wins.
func (s *Store) DetectSeniority(title string) models.Seniority {
	padded := pad(Tokens(title))

	best := models.SeniorityUnknown
	for _, phrase := range s.seniorityOrder {
		if !strings.Contains(padded, " "+phrase+" ") {
			continue
		}
		if level := s.seniority[phrase]; rank(level) > rank(best) {
			best = level
		}
	}
	return best
}

func rank(s models.Seniority) int {
	switch s {
	case models.SeniorityExecutive:
		return 3
	case models.SenioritySenior:
		return 2
	case models.SeniorityIndividualContributor:
		return 1
	}
	return 0
}

// Normalize lowercases text, folds typographic quotes and collapses whitespace
func Normalize(text string) string {
	text = strings.Map(func(r rune) rune {
		switch r {
		case '‘', '’', 'ʼ':
			return '\''
		case '“', '”':
			return '"'
		}
		return unicode.ToLower(r)
	}, text)
	return strings.Join(strings.Fields(text), " ")
}

// Tokens splits normalized text into words made of letters, digits and apostrophes
func Tokens(text string) []string {
	return strings.FieldsFunc(Normalize(text), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'')
	})
}

func pad(tokens []string) string {
	return " " + strings.Join(tokens, " ") + " "
}

func matchOrder[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}
