package redteam

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"outreach-policy-engine/pkg/models"
	"outreach-policy-engine/pkg/momentum"
	"outreach-policy-engine/pkg/variants"
)

// scenarioFile is the YAML form of a scenario catalogue. Times are given
// relative to the run's reference time so files stay valid forever.
type scenarioFile struct {
	Scenarios []scenarioSpec `yaml:"scenarios"`
}

type scenarioSpec struct {
	Name        string       `yaml:"name"`
	Category    string       `yaml:"category"`
	Description string       `yaml:"description"`
	Risk        Risk         `yaml:"risk"`
	State       *stateSpec   `yaml:"state"`
	Reply       string       `yaml:"reply"`
	Signals     *signalsSpec `yaml:"signals"`
	Expect      expectSpec   `yaml:"expect"`
}

type stateSpec struct {
	JoinedHoursAgo     int              `yaml:"joined_hours_ago"`
	JoinedDaysAgo      int              `yaml:"joined_days_ago"`
	LastContactDaysAgo *int             `yaml:"last_contact_days_ago"`
	DeferredDays       *int             `yaml:"deferred_days"`
	Refused            bool             `yaml:"refused"`
	Escalated          bool             `yaml:"escalated"`
	Converted          bool             `yaml:"converted"`
	Seniority          models.Seniority `yaml:"seniority"`
}

type signalsSpec struct {
	Questions  int  `yaml:"questions"`
	SpanDays   int  `yaml:"span_days"`
	Conversion bool `yaml:"conversion"`
}

type expectSpec struct {
	Allowed        *bool                     `yaml:"allowed"`
	Reason         models.DenialReason       `yaml:"reason"`
	Classification models.ClassificationKind `yaml:"classification"`
	Variant        string                    `yaml:"variant"`
	Escalate       *bool                     `yaml:"escalate"`
	Recommendation string                    `yaml:"recommendation"`
}

// LoadScenarioFile reads a YAML scenario catalogue from path
func LoadScenarioFile(path string, now time.Time) ([]Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open scenario file: %w", err)
	}
	defer f.Close()

	return LoadScenarios(f, now)
}

// LoadScenarios compiles a YAML scenario catalogue into scenarios evaluated at now
func LoadScenarios(r io.Reader, now time.Time) ([]Scenario, error) {
	var file scenarioFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}

	scenarios := make([]Scenario, 0, len(file.Scenarios))
	for i, spec := range file.Scenarios {
		sc, err := spec.compile(now)
		if err != nil {
			return nil, fmt.Errorf("%w: scenario %d (%q): %v", ErrInvalidScenario, i, spec.Name, err)
		}
		scenarios = append(scenarios, sc)
	}
	return scenarios, nil
}

func (spec scenarioSpec) compile(now time.Time) (Scenario, error) {
	e := spec.Expect
	if e.Allowed == nil && e.Classification == "" && e.Variant == "" && e.Escalate == nil {
		return Scenario{}, fmt.Errorf("expect names no outcome")
	}
	if e.Reason != "" && (e.Allowed == nil || *e.Allowed) {
		return Scenario{}, fmt.Errorf("reason requires allowed: false")
	}
	if (e.Variant != "" || e.Escalate != nil || e.Allowed != nil) && spec.State == nil {
		return Scenario{}, fmt.Errorf("state is required for decision, variant or escalation checks")
	}
	if e.Escalate != nil && spec.Signals == nil {
		return Scenario{}, fmt.Errorf("escalate requires signals")
	}

	sc := Scenario{
		Name:        spec.Name,
		Category:    spec.Category,
		Description: spec.Description,
		Reply:       spec.Reply,
		Now:         now,
		ActualRisk:  spec.Risk,
	}

	if s := spec.State; s != nil {
		userID := "yaml_" + spec.Name
		joined := now.Add(-time.Duration(s.JoinedDaysAgo)*day - time.Duration(s.JoinedHoursAgo)*time.Hour)
		state := member(userID, joined)
		if s.LastContactDaysAgo != nil {
			contacted(state, "scenario", now.Add(-time.Duration(*s.LastContactDaysAgo)*day))
		}
		if s.DeferredDays != nil {
			until := now.Add(time.Duration(*s.DeferredDays) * day)
			state.DeferredUntil = &until
		}
		state.Refused = s.Refused
		state.Escalated = s.Escalated
		state.Converted = s.Converted
		if s.Seniority != "" {
			state.DetectedSeniority = s.Seniority
		}
		sc.State = state

		if g := spec.Signals; g != nil {
			sc.Signals = questions(userID, g.Questions, now.Add(-time.Duration(g.SpanDays)*day), now)
			if g.Conversion {
				sc.Signals = append(sc.Signals, models.ActivityEvent{
					ID: userID + "-conv", UserID: userID, Kind: models.ActivityConversion, At: now,
				})
			}
		}
	}

	sc.Test = expectTest(e)
	return sc, nil
}

// expectTest builds the generic predicate for a declarative scenario: apply
// the reply if there is one, then compare each declared expectation.
func expectTest(e expectSpec) TestFunc {
	return func(env Env, sc Scenario) Verdict {
		var issues []string

		if sc.Reply != "" || e.Classification != "" {
			c := applyReply(env, sc)
			if e.Classification != "" && c.Kind != e.Classification {
				issues = append(issues, fmt.Sprintf("reply classified as %s, want %s", c.Kind, e.Classification))
			}
		}

		if e.Escalate != nil {
			result := momentum.Scan([]*models.ContactState{sc.State},
				map[string][]models.ActivityEvent{sc.State.UserID: sc.Signals}, sc.Now, env.Momentum)
			if got := len(result.Actions) == 1; got != *e.Escalate {
				issues = append(issues, fmt.Sprintf("escalated=%t, want %t", got, *e.Escalate))
			}
		}

		if e.Allowed != nil {
			issues = append(issues, checkDecision(env, sc.State, sc.Now, *e.Allowed, e.Reason)...)
		}

		if e.Variant != "" {
			v, err := variants.Select(variants.Targeting{Seniority: sc.State.DetectedSeniority}, env.Catalogue)
			switch {
			case err != nil:
				issues = append(issues, err.Error())
			case v.ID != e.Variant:
				issues = append(issues, fmt.Sprintf("selected variant %s, want %s", v.ID, e.Variant))
			}
		}

		return verdict(issues, e.Recommendation)
	}
}
