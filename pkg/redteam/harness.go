// Package redteam exercises the policy components against adversarial and
// persona-driven scenarios before a policy change ships. It never touches a
// live store: every scenario runs on its own copy of the state it supplies.
package redteam

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"outreach-policy-engine/pkg/eligibility"
	"outreach-policy-engine/pkg/models"
	"outreach-policy-engine/pkg/momentum"
	"outreach-policy-engine/pkg/patterns"
	"outreach-policy-engine/pkg/variants"
)

var ErrInvalidScenario = errors.New("invalid scenario")

// Risk is the severity a failing scenario inherits
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

func (r Risk) Valid() bool {
	return r == RiskLow || r == RiskMedium || r == RiskHigh
}

func (r Risk) severity() int {
	switch r {
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	case RiskLow:
		return 1
	}
	return 0
}

// Env is the set of components a scenario may exercise
type Env struct {
	Patterns  *patterns.Store
	Catalogue variants.Catalogue
	Policy    eligibility.PolicyConstants
	Momentum  momentum.Config
}

// DefaultEnv uses the embedded tables and default policy values
func DefaultEnv() Env {
	return Env{
		Patterns:  patterns.Default(),
		Catalogue: variants.Default(),
		Policy:    eligibility.DefaultPolicy(),
		Momentum:  momentum.DefaultConfig(),
	}
}

// Verdict is what a scenario test reports back
type Verdict struct {
	Passed          bool
	Issues          []string
	Recommendations []string
}

func pass() Verdict {
	return Verdict{Passed: true}
}

func fail(issue, recommendation string) Verdict {
	v := Verdict{Issues: []string{issue}}
	if recommendation != "" {
		v.Recommendations = []string{recommendation}
	}
	return v
}

// TestFunc checks one scenario. It receives its own copy of the scenario.
type TestFunc func(env Env, sc Scenario) Verdict

type Scenario struct {
	Name        string
	Category    string
	Description string

	// State is the partial contact state the scenario starts from. It may be
	// nil for scenarios that only exercise the classifier or selector.
	State   *models.ContactState
	Reply   string
	Signals []models.ActivityEvent
	Now     time.Time

	ActualRisk Risk
	Test       TestFunc
}

func (sc Scenario) clone() Scenario {
	out := sc
	out.State = sc.State.Clone()
	out.Signals = append([]models.ActivityEvent(nil), sc.Signals...)
	return out
}

type Result struct {
	Scenario        string   `json:"scenario"`
	Category        string   `json:"category"`
	Risk            Risk     `json:"risk"`
	Passed          bool     `json:"passed"`
	Issues          []string `json:"issues,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

type Report struct {
	Total           int      `json:"total"`
	Passed          int      `json:"passed"`
	Failed          int      `json:"failed"`
	CriticalIssues  []string `json:"critical_issues"`
	Recommendations []string `json:"recommendations"`
	Results         []Result `json:"results"`
}

// Run executes every scenario and aggregates the report. Malformed scenarios
// are rejected before anything runs. Only failed high-risk scenarios produce
// critical issues; recommendations are deduplicated in first-seen order and
// results are ordered failures first, most severe first.
func Run(env Env, scenarios []Scenario) (Report, error) {
	if err := validate(env, scenarios); err != nil {
		return Report{}, err
	}

	report := Report{
		CriticalIssues:  []string{},
		Recommendations: []string{},
		Results:         make([]Result, 0, len(scenarios)),
	}
	seen := make(map[string]bool)

	for _, sc := range scenarios {
		verdict := runOne(env, sc)

		result := Result{
			Scenario:        sc.Name,
			Category:        sc.Category,
			Risk:            sc.ActualRisk,
			Passed:          verdict.Passed,
			Issues:          verdict.Issues,
			Recommendations: verdict.Recommendations,
		}
		report.Results = append(report.Results, result)
		report.Total++

		if verdict.Passed {
			report.Passed++
		} else {
			report.Failed++
			if sc.ActualRisk == RiskHigh {
				if len(verdict.Issues) == 0 {
					report.CriticalIssues = append(report.CriticalIssues, sc.Name+": failed")
				}
				for _, issue := range verdict.Issues {
					report.CriticalIssues = append(report.CriticalIssues, sc.Name+": "+issue)
				}
			}
		}

		for _, rec := range verdict.Recommendations {
			if !seen[rec] {
				seen[rec] = true
				report.Recommendations = append(report.Recommendations, rec)
			}
		}
	}

	sort.SliceStable(report.Results, func(i, j int) bool {
		a, b := report.Results[i], report.Results[j]
		if a.Passed != b.Passed {
			return !a.Passed
		}
		return a.Risk.severity() > b.Risk.severity()
	})

	return report, nil
}

func runOne(env Env, sc Scenario) (verdict Verdict) {
	defer func() {
		if r := recover(); r != nil {
			verdict = Verdict{Issues: []string{fmt.Sprintf("scenario test panicked: %v", r)}}
		}
	}()
	return sc.Test(env, sc.clone())
}

func validate(env Env, scenarios []Scenario) error {
	if env.Patterns == nil {
		return fmt.Errorf("%w: environment has no pattern store", ErrInvalidScenario)
	}
	if err := env.Policy.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}

	names := make(map[string]bool, len(scenarios))
	for i, sc := range scenarios {
		switch {
		case sc.Name == "":
			return fmt.Errorf("%w: scenario %d has no name", ErrInvalidScenario, i)
		case names[sc.Name]:
			return fmt.Errorf("%w: duplicate scenario name %q", ErrInvalidScenario, sc.Name)
		case sc.Test == nil:
			return fmt.Errorf("%w: scenario %q has no test", ErrInvalidScenario, sc.Name)
		case !sc.ActualRisk.Valid():
			return fmt.Errorf("%w: scenario %q has unknown risk %q", ErrInvalidScenario, sc.Name, sc.ActualRisk)
		case sc.Now.IsZero():
			return fmt.Errorf("%w: scenario %q has no reference time", ErrInvalidScenario, sc.Name)
		}
		if sc.State != nil {
			if err := sc.State.Validate(); err != nil {
				return fmt.Errorf("%w: scenario %q: %v", ErrInvalidScenario, sc.Name, err)
			}
		}
		names[sc.Name] = true
	}
	return nil
}
