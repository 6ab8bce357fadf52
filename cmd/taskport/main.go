package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	// Credentials commonly live in a local .env during development.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:     "taskport",
		Short:   "Taskport - import work items from external project trackers",
		Version: Version,
	}

	rootCmd.AddCommand(providersCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
