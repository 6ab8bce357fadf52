package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jyang234/taskport/internal/auth"
	"github.com/jyang234/taskport/internal/config"
	"github.com/jyang234/taskport/internal/provider"
	"github.com/jyang234/taskport/internal/registry"
)

// credentialFor reads the provider credential from the environment
// (TASKPORT_<PROVIDER>_CREDENTIAL), optionally overridden by a flag value.
func credentialFor(providerID, flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("TASKPORT_" + strings.ToUpper(providerID) + "_CREDENTIAL")
}

// buildAdapter constructs the adapter for a provider from config plus CLI
// overrides.
func buildAdapter(cfg *config.Config, providerID, baseURL, csvFile string) (provider.Adapter, error) {
	if baseURL == "" {
		baseURL = cfg.BaseURL(providerID)
	}
	if csvFile == "" {
		csvFile = cfg.CSVFile()
	}
	return provider.New(providerID, provider.Options{
		BaseURL:  baseURL,
		CSVPath:  csvFile,
		PageSize: cfg.Import.PageSize,
	})
}

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a provider credential without importing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			providerID, _ := cmd.Flags().GetString("provider")
			baseURL, _ := cmd.Flags().GetString("base-url")
			csvFile, _ := cmd.Flags().GetString("file")
			credFlag, _ := cmd.Flags().GetString("credential")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			desc, err := registry.Describe(providerID)
			if err != nil {
				return err
			}
			adapter, err := buildAdapter(cfg, providerID, baseURL, csvFile)
			if err != nil {
				return err
			}

			credential := credentialFor(providerID, credFlag)
			validated, err := auth.NewValidator().Validate(cmd.Context(), desc, adapter, credential)
			if err != nil {
				return fmt.Errorf("credential check failed: %w", err)
			}

			fmt.Printf("%s: credential %s accepted (account: %s)\n",
				desc.DisplayName, validated.Masked(), validated.AccountID)
			return nil
		},
	}

	cmd.Flags().StringP("provider", "p", "", "Provider id (jira, asana, trello, monday, linear, csv)")
	cmd.Flags().String("base-url", "", "Override the provider base URL")
	cmd.Flags().String("file", "", "Input file for the csv provider")
	cmd.Flags().String("credential", "", "Credential (defaults to TASKPORT_<PROVIDER>_CREDENTIAL)")
	cmd.MarkFlagRequired("provider")
	return cmd
}
