package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/strix/internal/dissect"
)

const appVersion = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show strix and tshark versions",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("strix %s\n", appVersion)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		banner, err := dissect.Runner{}.Version(ctx)
		if err != nil {
			fmt.Printf("tshark: unavailable (%v)\n", err)
			return
		}
		fmt.Printf("tshark: %s\n", banner)
	},
}
