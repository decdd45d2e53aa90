package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

// errCriticalIssues makes the process exit non-zero so CI can block a policy change
var errCriticalIssues = errors.New("red-team run reported critical issues")

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "redteam",
		Short: "Exercise the outreach policy against adversarial scenarios and personas",
		Long: "redteam runs the built-in and operator-supplied scenario catalogue against the\n" +
			"eligibility, classification, selection and momentum components, and ranks\n" +
			"message variants by simulated persona response.",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		Version: version,
	}

	pf := root.PersistentFlags()
	pf.String("patterns", "", "Pattern table YAML (defaults to PATTERNS_FILE or the embedded table)")
	pf.String("catalogue", "", "Variant catalogue YAML (defaults to CATALOGUE_FILE or the embedded catalogue)")
	pf.String("now", "", "RFC3339 clock to run at (defaults to the fixed reference time)")
	pf.Bool("json", false, "Print the report as JSON")

	root.AddCommand(newRunCmd())
	root.AddCommand(newSimulateCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
