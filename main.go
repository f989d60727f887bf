package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "leadpilot",
		Short:         "Find leads on Reddit and answer direct messages with an AI assistant",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().String("config", "", "Path to configuration file (default: user config dir, if present)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newPollCmd())
	cmd.AddCommand(newTakeoverCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newLeadCmd())
	cmd.AddCommand(newNotesCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "leadpilot v%s\n", version)
		},
	}
}
