package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"firestige.xyz/strix/internal/report"
)

var topicsPcap string

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "List the topics present in a capture",
	Long: `Print the capture entity counts and every topic resolvable from the
capture's discovery data plus inline topic names carried on user frames.

Examples:
  strix topics --pcap capture.pcapng`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runTopics(); err != nil {
			exitWithError("topics failed", err)
		}
	},
}

func init() {
	topicsCmd.Flags().StringVar(&topicsPcap, "pcap", "",
		"capture file to analyze (required)")
	topicsCmd.MarkFlagRequired("pcap")
}

func runTopics() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	res, runErr := runPass(cfg, topicsPcap)
	if res == nil {
		return runErr
	}

	sink := report.NewConsoleSink(report.ConsoleOptions{Sections: []string{"summary", "topics"}})
	if err := sink.Write(context.Background(), res); err != nil {
		return err
	}
	return ignoreCancel(runErr)
}
