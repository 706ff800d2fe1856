// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/strix/internal/config"
	"firestige.xyz/strix/internal/log"
)

var (
	// Global flags
	configFile string
	logLevel   string
	logFile    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "strix",
	Short: "Strix - DDS topic resolution and topology reconstruction from RTPS captures",
	Long: `Strix reconstructs DDS topic traffic and topology from RTPS packet captures.

It drives tshark over a capture file, replays discovery announcements to bind
endpoint GUIDs to topics, attributes frame bytes to per-topic submessage
statistics, correlates reliability traffic into repair classifications, and
rebuilds the writer/reader graph per topic.

Features:
  - Topic resolution: SPDP/SEDP announcements bound to endpoint GUIDs
  - Traffic statistics: per-topic, per-submessage-combination counts and bytes
  - Reliability analysis: repair and durable repair detection per session
  - Topology: writer -> reader graph with routing service labeling
  - Report sinks: console, JSON/YAML snapshot, Graphviz dot, Kafka`,
	Version: appVersion,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (empty = built-in defaults)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"override the configured log level (debug/info/warn/error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "",
		"also write logs to this file (rotation per config)")

	// Add subcommands
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(topicsCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads the global configuration and initializes logging.
func loadConfig() (*config.GlobalConfig, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFile != "" {
		cfg.Log.File.Enabled = true
		cfg.Log.File.Path = logFile
	}
	if logLevel != "" || logFile != "" {
		if err := cfg.ValidateAndApplyDefaults(); err != nil {
			return nil, err
		}
	}
	if err := log.Init(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
