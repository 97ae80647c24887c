package cmd

import (
	"readecho/server"

	"github.com/spf13/cobra"
)

var serverWithWorkers bool

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the HTTP and websocket API server",
	Long:  `Run the ReadEcho API server: chunk audio lookup, pre-generation control, and websocket playback sessions.`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start(serverWithWorkers)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().BoolVar(&serverWithWorkers, "with-workers", false, "run the pre-generation worker pool in-process")
}
