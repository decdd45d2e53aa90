package redteam

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-policy-engine/pkg/models"
)

func TestRun_DefaultCatalogue(t *testing.T) {
	scenarios := DefaultScenarios(ReferenceTime)

	report, err := Run(DefaultEnv(), scenarios)
	require.NoError(t, err)

	assert.Equal(t, len(scenarios), report.Total)
	assert.Equal(t, report.Total, report.Passed+report.Failed)
	assert.Empty(t, report.CriticalIssues)

	// only the documented extension points fail
	var failed []string
	for _, r := range report.Results {
		if !r.Passed {
			failed = append(failed, r.Scenario)
		}
	}
	assert.ElementsMatch(t, []string{"competitor_employee", "churned_member_return"}, failed)
	assert.Len(t, report.Recommendations, 2)

	// failures are listed first
	assert.False(t, report.Results[0].Passed)
	assert.False(t, report.Results[1].Passed)
}

func TestRun_LaxPolicyRaisesCriticalIssue(t *testing.T) {
	env := DefaultEnv()
	env.Policy.RateLimitInterval = 24 * time.Hour

	report, err := Run(env, DefaultScenarios(ReferenceTime))
	require.NoError(t, err)

	require.Len(t, report.CriticalIssues, 1)
	assert.True(t, strings.HasPrefix(report.CriticalIssues[0], "spam_prevention: "))
	assert.Equal(t, "spam_prevention", report.Results[0].Scenario)
	assert.Equal(t, RiskHigh, report.Results[0].Risk)
}

func TestRun_Aggregation(t *testing.T) {
	now := ReferenceTime
	scenarios := []Scenario{
		{Name: "low_pass", ActualRisk: RiskLow, Now: now, Test: func(Env, Scenario) Verdict { return pass() }},
		{Name: "medium_fail", ActualRisk: RiskMedium, Now: now, Test: func(Env, Scenario) Verdict {
			return fail("copy is too long", "Shorten the intro")
		}},
		{Name: "high_fail", ActualRisk: RiskHigh, Now: now, Test: func(Env, Scenario) Verdict {
			return Verdict{Issues: []string{"refused user contacted", "no audit trail"}, Recommendations: []string{"Shorten the intro", "Add audit logging"}}
		}},
		{Name: "high_fail_silent", ActualRisk: RiskHigh, Now: now, Test: func(Env, Scenario) Verdict { return Verdict{} }},
	}

	report, err := Run(DefaultEnv(), scenarios)
	require.NoError(t, err)

	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 1, report.Passed)
	assert.Equal(t, 3, report.Failed)
	assert.Equal(t, []string{
		"high_fail: refused user contacted",
		"high_fail: no audit trail",
		"high_fail_silent: failed",
	}, report.CriticalIssues)
	assert.Equal(t, []string{"Shorten the intro", "Add audit logging"}, report.Recommendations)

	order := make([]string, len(report.Results))
	for i, r := range report.Results {
		order[i] = r.Scenario
	}
	assert.Equal(t, []string{"high_fail", "high_fail_silent", "medium_fail", "low_pass"}, order)
}

func TestRun_RejectsInvalidScenarios(t *testing.T) {
	ok := func(Env, Scenario) Verdict { return pass() }
	valid := Scenario{Name: "valid", ActualRisk: RiskLow, Now: ReferenceTime, Test: ok}

	tests := []struct {
		name      string
		scenarios []Scenario
	}{
		{"missing name", []Scenario{{ActualRisk: RiskLow, Now: ReferenceTime, Test: ok}}},
		{"duplicate name", []Scenario{valid, valid}},
		{"missing test", []Scenario{{Name: "x", ActualRisk: RiskLow, Now: ReferenceTime}}},
		{"unknown risk", []Scenario{{Name: "x", ActualRisk: "catastrophic", Now: ReferenceTime, Test: ok}}},
		{"missing time", []Scenario{{Name: "x", ActualRisk: RiskLow, Test: ok}}},
		{"invalid state", []Scenario{{Name: "x", ActualRisk: RiskLow, Now: ReferenceTime, Test: ok,
			State: models.NewContactState("", ReferenceTime)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(DefaultEnv(), tt.scenarios)
			assert.ErrorIs(t, err, ErrInvalidScenario)
		})
	}
}

func TestRun_PanickingTestFails(t *testing.T) {
	report, err := Run(DefaultEnv(), []Scenario{{
		Name:       "nil_state_access",
		ActualRisk: RiskHigh,
		Now:        ReferenceTime,
		Test: func(env Env, sc Scenario) Verdict {
			_ = sc.State.UserID
			return pass()
		},
	}})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.CriticalIssues, 1)
	assert.Contains(t, report.CriticalIssues[0], "panicked")
}

func TestRun_ScenarioStateIsNotShared(t *testing.T) {
	state := models.NewContactState("user_1", ReferenceTime.Add(-30*day))

	_, err := Run(DefaultEnv(), []Scenario{{
		Name:       "mutates",
		ActualRisk: RiskLow,
		State:      state,
		Now:        ReferenceTime,
		Test: func(env Env, sc Scenario) Verdict {
			sc.State.Refused = true
			return pass()
		},
	}})
	require.NoError(t, err)
	assert.False(t, state.Refused)
}

func TestRun_Deterministic(t *testing.T) {
	first, err := Run(DefaultEnv(), DefaultScenarios(ReferenceTime))
	require.NoError(t, err)
	second, err := Run(DefaultEnv(), DefaultScenarios(ReferenceTime))
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("reports differ between runs (-first +second):\n%s", diff)
	}
}
