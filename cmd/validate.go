package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"firestige.xyz/strix/internal/config"
	"firestige.xyz/strix/internal/report"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate a strix configuration file without running an analysis.

The file is loaded the same way the analyze command loads it, including
environment variable overrides, and every configured report sink is
constructed once to surface option errors early.

Examples:
  strix validate -f strix.yaml
  strix validate -f /etc/strix/config.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		runValidate()
	},
}

var validateFile string

func init() {
	validateCmd.Flags().StringVarP(&validateFile, "file", "f", "",
		"configuration file to validate (required)")
	validateCmd.MarkFlagRequired("file")
}

func runValidate() {
	cfg, err := config.Load(validateFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
		os.Exit(1)
	}

	// Sink options are decoded by the sink factory, so a dry build is the
	// only way to catch unknown option keys or bad option values.
	sinks, err := report.BuildSinks(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
		os.Exit(1)
	}
	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
		s.Close()
	}

	rng, _ := cfg.Analysis.Range()
	fmt.Printf("VALID: %d sink(s): %s, frame range %s, log level %s\n",
		len(sinks), strings.Join(names, ", "), rng, cfg.Log.Level)
}
