package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"outreach-policy-engine/pkg/config"
	"outreach-policy-engine/pkg/eligibility"
	"outreach-policy-engine/pkg/momentum"
	"outreach-policy-engine/pkg/patterns"
	"outreach-policy-engine/pkg/redteam"
	"outreach-policy-engine/pkg/variants"
)

// loadEnv builds the component environment from flags, falling back to the
// service configuration so a run sees the policy values a deploy would.
func loadEnv(cmd *cobra.Command, cfg *config.Config) (redteam.Env, error) {
	if err := cfg.Validate(); err != nil {
		return redteam.Env{}, err
	}

	env := redteam.Env{
		Patterns:  patterns.Default(),
		Catalogue: variants.Default(),
		Policy:    eligibility.PolicyFromConfig(cfg),
		Momentum:  momentum.FromConfig(cfg),
	}

	patternsFile := flagOr(cmd, "patterns", cfg.PatternsFile)
	if patternsFile != "" {
		pats, err := patterns.LoadFile(patternsFile)
		if err != nil {
			return env, fmt.Errorf("load patterns: %w", err)
		}
		env.Patterns = pats
	}

	catalogueFile := flagOr(cmd, "catalogue", cfg.CatalogueFile)
	if catalogueFile != "" {
		catalogue, err := variants.LoadFile(catalogueFile)
		if err != nil {
			return env, fmt.Errorf("load catalogue: %w", err)
		}
		env.Catalogue = catalogue
	}
	return env, nil
}

func flagOr(cmd *cobra.Command, name, fallback string) string {
	if v, _ := cmd.Flags().GetString(name); v != "" {
		return v
	}
	return fallback
}

func clock(cmd *cobra.Command) (time.Time, error) {
	raw, _ := cmd.Flags().GetString("now")
	if raw == "" {
		return redteam.ReferenceTime, nil
	}
	now, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse --now: %w", err)
	}
	return now.UTC(), nil
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
