package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"firestige.xyz/strix/internal/report"
)

var (
	graphPcap   string
	graphTopic  string
	graphFormat string
	graphOutput string
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Render the writer/reader topology of a capture",
	Long: `Render the reconstructed writer/reader topology as Graphviz dot or
JSON. An edge appears only when both endpoints resolve to the same topic
through discovery and the reader answered with an ACKNACK or GAP.

Examples:
  strix graph --pcap capture.pcapng
  strix graph --pcap capture.pcapng --topic Square
  strix graph --pcap capture.pcapng --format json -o topology.json`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runGraph(); err != nil {
			exitWithError("graph failed", err)
		}
	},
}

func init() {
	graphCmd.Flags().StringVar(&graphPcap, "pcap", "",
		"capture file to analyze (required)")
	graphCmd.MarkFlagRequired("pcap")
	graphCmd.Flags().StringVar(&graphTopic, "topic", "",
		"restrict the graph to one topic")
	graphCmd.Flags().StringVar(&graphFormat, "format", "dot",
		"output format: dot or json")
	graphCmd.Flags().StringVarP(&graphOutput, "output", "o", "",
		"write the graph to this file instead of stdout")
}

func runGraph() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sink, err := report.NewGraphSink(report.GraphOptions{
		Path:   graphOutput,
		Format: graphFormat,
		Topic:  graphTopic,
	})
	if err != nil {
		return err
	}

	res, runErr := runPass(cfg, graphPcap)
	if res == nil {
		return runErr
	}

	if err := sink.Write(context.Background(), res); err != nil {
		return err
	}
	return ignoreCancel(runErr)
}
