package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "trackerctl",
		Short: "Operator tooling for the Argus location tracker",
		Long: `trackerctl manages the tracker's Kafka topic and database schema, mints
development tokens, and sends test location reports. Settings are read from the
same environment variables (and .env file) as the server.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newTopicsCmd(),
		newMigrateCmd(),
		newTokenCmd(),
		newPublishCmd(),
		newVersionCmd(),
	)
	return rootCmd
}
