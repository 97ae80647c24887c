package cmd

import (
	"fmt"
	"os"

	"readecho/server"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "readecho",
	Short: "ReadEcho is the audio pre-generation service for leveled reading.",
	Run: func(cmd *cobra.Command, args []string) {
		// Bare invocation runs the single-binary deployment: HTTP server
		// plus in-process workers.
		server.Start(true)
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
