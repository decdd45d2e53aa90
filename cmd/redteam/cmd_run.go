package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"outreach-policy-engine/pkg/config"
	"outreach-policy-engine/pkg/redteam"
)

func newRunCmd() *cobra.Command {
	var files []string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scenario catalogue and report critical issues",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScenarios(cmd, files)
		},
	}
	cmd.Flags().StringArrayVar(&files, "file", nil, "Scenario YAML appended to the built-in catalogue (repeatable)")
	return cmd
}

func runScenarios(cmd *cobra.Command, files []string) error {
	cfg := config.Load()
	env, err := loadEnv(cmd, cfg)
	if err != nil {
		return err
	}
	now, err := clock(cmd)
	if err != nil {
		return err
	}

	scenarios := redteam.DefaultScenarios(now)
	for _, path := range files {
		extra, err := redteam.LoadScenarioFile(path, now)
		if err != nil {
			return err
		}
		scenarios = append(scenarios, extra...)
	}

	report, err := redteam.Run(env, scenarios)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput(cmd) {
		if err := writeJSON(out, report); err != nil {
			return err
		}
	} else {
		printReport(out, report)
	}

	if len(report.CriticalIssues) > 0 {
		return errCriticalIssues
	}
	return nil
}

func printReport(out io.Writer, report redteam.Report) {
	fmt.Fprintf(out, "Scenarios: %d  passed: %d  failed: %d\n", report.Total, report.Passed, report.Failed)

	if len(report.CriticalIssues) > 0 {
		fmt.Fprintf(out, "\nCritical issues:\n")
		for _, issue := range report.CriticalIssues {
			fmt.Fprintf(out, "  ! %s\n", issue)
		}
	}

	fmt.Fprintf(out, "\nResults:\n")
	for _, r := range report.Results {
		status := "PASS"
		if !r.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(out, "  %s  %-6s %-32s %s\n", status, r.Risk, r.Scenario, r.Category)
		for _, issue := range r.Issues {
			fmt.Fprintf(out, "        - %s\n", issue)
		}
	}

	if len(report.Recommendations) > 0 {
		fmt.Fprintf(out, "\nRecommendations:\n")
		for _, rec := range report.Recommendations {
			fmt.Fprintf(out, "  * %s\n", rec)
		}
	}
}
