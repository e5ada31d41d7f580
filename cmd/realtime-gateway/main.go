package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version metadata populated via -ldflags at build time
var (
	version = "dev"
	commit  = ""
	date    = ""
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "realtime-gateway",
		Short: "Shared realtime channel gateway",
		Long: `realtime-gateway keeps one upstream realtime subscription per topic and
fans change events out to every connected websocket client.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "realtime-gateway %s", version)
			if commit != "" {
				fmt.Fprintf(out, " (commit %s)", commit)
			}
			if date != "" {
				fmt.Fprintf(out, " built %s", date)
			}
			fmt.Fprintln(out)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
