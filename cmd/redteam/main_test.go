package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-policy-engine/pkg/config"
	"outreach-policy-engine/pkg/redteam"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRun_DefaultCatalogueHasNoCriticalIssues(t *testing.T) {
	out, err := execute(t, "run", "--json")
	require.NoError(t, err)

	var report redteam.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Empty(t, report.CriticalIssues)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, report.Total, report.Passed+report.Failed)
}

func TestRun_LaxRateLimitFails(t *testing.T) {
	t.Setenv("RATE_LIMIT_DAYS", "1")

	out, err := execute(t, "run")
	require.ErrorIs(t, err, errCriticalIssues)
	assert.Contains(t, out, "Critical issues:")
	assert.Contains(t, out, "spam_prevention")
}

func TestRun_AppendsScenarioFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extra.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scenarios:
  - name: wrong_expectation
    category: spam_prevention
    risk: high
    state:
      joined_days_ago: 30
      last_contact_days_ago: 3
    expect:
      allowed: true
`), 0o600))

	out, err := execute(t, "run", "--json", "--file", path)
	require.ErrorIs(t, err, errCriticalIssues)

	var report redteam.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.NotEmpty(t, report.CriticalIssues)
	assert.Equal(t, "wrong_expectation", report.Results[0].Scenario)
}

func TestRun_BadInput(t *testing.T) {
	_, err := execute(t, "run", "--now", "yesterday")
	assert.Error(t, err)

	_, err = execute(t, "run", "--file", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRun_RejectsInvalidConfig(t *testing.T) {
	t.Setenv("MOMENTUM_WINDOW_DAYS", "7")

	_, err := execute(t, "run")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = execute(t, "simulate")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestSimulate_RanksVariants(t *testing.T) {
	out, err := execute(t, "simulate", "--json")
	require.NoError(t, err)

	var report redteam.SimulationReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.NotEmpty(t, report.Ranking)
	assert.Equal(t, "senior_peer", report.Ranking[0].VariantID)

	text, err := execute(t, "simulate")
	require.NoError(t, err)
	assert.Contains(t, text, "RANK")
	assert.Contains(t, text, "senior_peer")
}
