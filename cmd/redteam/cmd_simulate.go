package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"outreach-policy-engine/pkg/config"
	"outreach-policy-engine/pkg/redteam"
)

func newSimulateCmd() *cobra.Command {
	var personasFile string

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Rank message variants by simulated persona response",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSimulation(cmd, personasFile)
		},
	}
	cmd.Flags().StringVar(&personasFile, "personas", "", "Persona table YAML (defaults to the embedded table)")
	return cmd
}

func runSimulation(cmd *cobra.Command, personasFile string) error {
	cfg := config.Load()
	env, err := loadEnv(cmd, cfg)
	if err != nil {
		return err
	}
	now, err := clock(cmd)
	if err != nil {
		return err
	}

	personas := redteam.DefaultPersonas()
	if personasFile != "" {
		personas, err = redteam.LoadPersonaFile(personasFile)
		if err != nil {
			return err
		}
	}

	report, err := redteam.Simulate(redteam.SimulationInput{
		Catalogue: env.Catalogue,
		Personas:  personas,
		Patterns:  env.Patterns,
		Policy:    env.Policy,
		Weights:   redteam.WeightsFromConfig(cfg),
		Now:       now,
	})
	if err != nil {
		return err
	}

	if jsonOutput(cmd) {
		return writeJSON(cmd.OutOrStdout(), report)
	}
	return printRanking(cmd.OutOrStdout(), report)
}

func printRanking(out io.Writer, report redteam.SimulationReport) error {
	fmt.Fprintf(out, "patterns %s, personas %s\n\n", report.PatternVersion, report.PersonaVersion)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tVARIANT\tSENT\tRESPONSE\tPOSITIVE\tBLOCKED\tSCORE")
	for i, s := range report.Ranking {
		fmt.Fprintf(w, "%d\t%s\t%d\t%.3f\t%.3f\t%d\t%.4f\n",
			i+1, s.VariantID, s.Sent, s.ResponseRate, s.PositiveRate, s.FollowUpBlocked, s.Effectiveness)
	}
	return w.Flush()
}
