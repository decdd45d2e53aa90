package redteam

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"outreach-policy-engine/pkg/classifier"
	"outreach-policy-engine/pkg/config"
	"outreach-policy-engine/pkg/constants"
	"outreach-policy-engine/pkg/eligibility"
	"outreach-policy-engine/pkg/models"
	"outreach-policy-engine/pkg/outreach"
	"outreach-policy-engine/pkg/patterns"
	"outreach-policy-engine/pkg/variants"
)

//go:embed default_personas.yaml
var defaultPersonas []byte

type Persona struct {
	ID        string           `yaml:"id" json:"id"`
	Name      string           `yaml:"name" json:"name"`
	Seniority models.Seniority `yaml:"seniority" json:"seniority"`
	Skeptical bool             `yaml:"skeptical" json:"skeptical"`
	Busy      bool             `yaml:"busy" json:"busy"`
}

// RuleMatch is the condition of a reply rule. Empty lists and nil flags match anything.
type RuleMatch struct {
	Seniority []models.Seniority `yaml:"seniority"`
	Skeptical *bool              `yaml:"skeptical"`
	Busy      *bool              `yaml:"busy"`
	Tone      []string           `yaml:"tone"`
	Approach  []string           `yaml:"approach"`
}

type ReplyRule struct {
	Name  string    `yaml:"name"`
	When  RuleMatch `yaml:"when"`
	Reply string    `yaml:"reply"`
}

// PersonaTable holds the synthetic personas and the rules that decide how
// each one answers a given variant. The first matching rule wins.
type PersonaTable struct {
	Version  string      `yaml:"version"`
	Personas []Persona   `yaml:"personas"`
	Rules    []ReplyRule `yaml:"rules"`
}

// DefaultPersonas returns the embedded persona table
func DefaultPersonas() PersonaTable {
	table, err := LoadPersonas(bytes.NewReader(defaultPersonas))
	if err != nil {
		panic(fmt.Sprintf("embedded persona table is invalid: %v", err))
	}
	return table
}

func LoadPersonaFile(path string) (PersonaTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return PersonaTable{}, fmt.Errorf("failed to open persona file: %w", err)
	}
	defer f.Close()

	return LoadPersonas(f)
}

func LoadPersonas(r io.Reader) (PersonaTable, error) {
	var table PersonaTable
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&table); err != nil {
		return PersonaTable{}, fmt.Errorf("%w: persona table: %v", ErrInvalidScenario, err)
	}
	if err := table.Validate(); err != nil {
		return PersonaTable{}, err
	}
	return table, nil
}

func (t PersonaTable) Validate() error {
	if len(t.Personas) == 0 {
		return fmt.Errorf("%w: persona table has no personas", ErrInvalidScenario)
	}
	ids := make(map[string]bool, len(t.Personas))
	for i, p := range t.Personas {
		if p.ID == "" {
			return fmt.Errorf("%w: persona %d has no id", ErrInvalidScenario, i)
		}
		if ids[p.ID] {
			return fmt.Errorf("%w: duplicate persona id %q", ErrInvalidScenario, p.ID)
		}
		if !p.Seniority.Valid() {
			return fmt.Errorf("%w: persona %q has unknown seniority %q", ErrInvalidScenario, p.ID, p.Seniority)
		}
		ids[p.ID] = true
	}
	for i, r := range t.Rules {
		if r.Name == "" {
			return fmt.Errorf("%w: rule %d has no name", ErrInvalidScenario, i)
		}
		for _, s := range r.When.Seniority {
			if !s.Valid() {
				return fmt.Errorf("%w: rule %q has unknown seniority %q", ErrInvalidScenario, r.Name, s)
			}
		}
	}
	return nil
}

func (m RuleMatch) matches(p Persona, v variants.Variant) bool {
	if m.Skeptical != nil && *m.Skeptical != p.Skeptical {
		return false
	}
	if m.Busy != nil && *m.Busy != p.Busy {
		return false
	}
	if len(m.Seniority) > 0 && !containsSeniority(m.Seniority, p.Seniority) {
		return false
	}
	if len(m.Tone) > 0 && !containsString(m.Tone, v.Tone) {
		return false
	}
	if len(m.Approach) > 0 && !containsString(m.Approach, v.Approach) {
		return false
	}
	return true
}

// ReplyFor returns the synthetic reply of persona p to variant v and the rule
// that produced it. An empty reply means the persona does not answer.
func (t PersonaTable) ReplyFor(p Persona, v variants.Variant) (string, string) {
	for _, rule := range t.Rules {
		if rule.When.matches(p, v) {
			return rule.Reply, rule.Name
		}
	}
	return "", ""
}

// Weights combine the response rate and positive rate into one effectiveness score
type Weights struct {
	ResponseRate float64 `json:"response_rate"`
	PositiveRate float64 `json:"positive_rate"`
}

func DefaultWeights() Weights {
	return Weights{
		ResponseRate: constants.DefaultResponseRateWeight,
		PositiveRate: constants.DefaultPositiveRateWeight,
	}
}

func WeightsFromConfig(cfg *config.Config) Weights {
	return Weights{
		ResponseRate: cfg.ResponseRateWeight,
		PositiveRate: cfg.PositiveRateWeight,
	}
}

type SimulationInput struct {
	Catalogue variants.Catalogue
	Personas  PersonaTable
	Patterns  *patterns.Store
	Policy    eligibility.PolicyConstants
	Weights   Weights
	Now       time.Time
}

// VariantStats aggregates every persona's reaction to one variant
type VariantStats struct {
	VariantID    string                            `json:"variant_id"`
	Sent         int                               `json:"sent"`
	Responses    int                               `json:"responses"`
	Sentiment    map[models.ClassificationKind]int `json:"sentiment"`
	Refusals     int                               `json:"refusals"`
	Deferrals    int                               `json:"deferrals"`
	Unclassified int                               `json:"unclassified"`

	// FollowUpBlocked counts personas the evaluator would still deny once
	// the rate limit has passed, i.e. refusals and deferrals that stick.
	FollowUpBlocked int `json:"follow_up_blocked"`

	ResponseRate  float64 `json:"response_rate"`
	PositiveRate  float64 `json:"positive_rate"`
	Effectiveness float64 `json:"effectiveness"`
}

type SimulationReport struct {
	PatternVersion string         `json:"pattern_version"`
	PersonaVersion string         `json:"persona_version"`
	Ranking        []VariantStats `json:"ranking"`
}

// Scores returns the effectiveness of every variant, suitable for Catalogue.WithScores
func (r SimulationReport) Scores() map[string]float64 {
	scores := make(map[string]float64, len(r.Ranking))
	for _, s := range r.Ranking {
		scores[s.VariantID] = s.Effectiveness
	}
	return scores
}

// Simulate sends every variant to every persona, runs the synthetic replies
// through the classifier and evaluator and ranks the variants by
// effectiveness. Ties keep catalogue order. The result depends only on the
// input.
func Simulate(in SimulationInput) (SimulationReport, error) {
	if len(in.Catalogue.Variants) == 0 {
		return SimulationReport{}, variants.ErrEmptyCatalogue
	}
	if err := in.Personas.Validate(); err != nil {
		return SimulationReport{}, err
	}
	if in.Patterns == nil {
		return SimulationReport{}, fmt.Errorf("%w: simulation has no pattern store", ErrInvalidScenario)
	}
	if err := in.Policy.Validate(); err != nil {
		return SimulationReport{}, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	if in.Now.IsZero() {
		return SimulationReport{}, fmt.Errorf("%w: simulation has no reference time", ErrInvalidScenario)
	}

	ranking := make([]VariantStats, 0, len(in.Catalogue.Variants))
	for _, v := range in.Catalogue.Variants {
		stats := VariantStats{
			VariantID: v.ID,
			Sentiment: map[models.ClassificationKind]int{},
		}

		for _, p := range in.Personas.Personas {
			stats.Sent++

			state := models.NewContactState("persona_"+p.ID, in.Now.Add(-30*day))
			state.DetectedSeniority = p.Seniority
			state.OutreachHistory = append(state.OutreachHistory, models.OutreachAttempt{VariantID: v.ID, SentAt: in.Now})

			reply, _ := in.Personas.ReplyFor(p, v)
			if reply == "" {
				continue
			}

			receivedAt := in.Now.Add(time.Hour)
			c := classifier.Classify(reply, in.Patterns, receivedAt)
			outreach.ApplyReply(state, reply, receivedAt, c)

			stats.Responses++
			stats.Sentiment[c.Kind]++
			switch c.Kind {
			case models.KindRefusal:
				stats.Refusals++
			case models.KindDeferral:
				stats.Deferrals++
			case models.KindUnclassified:
				stats.Unclassified++
			}

			decision, err := eligibility.Evaluate(state, in.Now.Add(in.Policy.RateLimitInterval), in.Policy)
			if err != nil {
				return SimulationReport{}, fmt.Errorf("persona %s on variant %s: %w", p.ID, v.ID, err)
			}
			if !decision.Allowed {
				stats.FollowUpBlocked++
			}
		}

		if stats.Sent > 0 {
			stats.ResponseRate = float64(stats.Responses) / float64(stats.Sent)
			stats.PositiveRate = float64(stats.Sentiment[models.KindPositive]) / float64(stats.Sent)
		}
		stats.Effectiveness = in.Weights.ResponseRate*stats.ResponseRate + in.Weights.PositiveRate*stats.PositiveRate
		ranking = append(ranking, stats)
	}

	sort.SliceStable(ranking, func(i, j int) bool {
		return ranking[i].Effectiveness > ranking[j].Effectiveness
	})

	return SimulationReport{
		PatternVersion: in.Patterns.Version(),
		PersonaVersion: in.Personas.Version,
		Ranking:        ranking,
	}, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
