package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jyang234/taskport/internal/auth"
	"github.com/jyang234/taskport/internal/config"
	"github.com/jyang234/taskport/internal/importer"
	"github.com/jyang234/taskport/internal/mapping"
	"github.com/jyang234/taskport/internal/provider"
	"github.com/jyang234/taskport/internal/storage"
	"github.com/jyang234/taskport/internal/wizard"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an import end to end",
		RunE: func(cmd *cobra.Command, args []string) error {
			providerID, _ := cmd.Flags().GetString("provider")
			baseURL, _ := cmd.Flags().GetString("base-url")
			csvFile, _ := cmd.Flags().GetString("file")
			credFlag, _ := cmd.Flags().GetString("credential")
			mappingFile, _ := cmd.Flags().GetString("mapping")
			dbPath, _ := cmd.Flags().GetString("db")
			concurrency, _ := cmd.Flags().GetInt("concurrency")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dbPath == "" {
				dbPath = cfg.Store.Path
			}

			store, err := storage.NewTaskStore(dbPath)
			if err != nil {
				return fmt.Errorf("failed to open task store: %w", err)
			}
			defer store.Close()

			executor := importer.NewExecutor()
			executor.FetchAhead = cfg.Import.FetchAhead
			executor.MaxAttempts = cfg.Import.MaxAttempts
			executor.BackoffBase = cfg.Import.BackoffBase
			executor.BackoffCap = cfg.Import.BackoffCap
			if concurrency > 0 {
				executor.FetchAhead = concurrency
			}

			ctrl := wizard.New(wizard.Deps{
				Validator: auth.NewValidator(),
				Executor:  executor,
				Sink:      &storage.Sink{Store: store},
				Adapters: func(id string) (provider.Adapter, error) {
					return buildAdapter(cfg, id, baseURL, csvFile)
				},
				OnProgress: printProgress,
			})

			// Walk the wizard the way the UI would: pick a source, validate
			// the credential, settle the mapping, then start the import.
			ctx := cmd.Context()
			if err := ctrl.SelectSource(providerID); err != nil {
				return err
			}
			if err := ctrl.Next(ctx); err != nil {
				return err
			}
			if err := ctrl.SetCredential(credentialFor(providerID, credFlag)); err != nil {
				return err
			}
			if err := ctrl.Next(ctx); err != nil {
				return fmt.Errorf("credential check failed: %w", err)
			}
			if mappingFile != "" {
				rules, err := mapping.LoadFile(mappingFile)
				if err != nil {
					return err
				}
				if err := ctrl.SetRules(rules); err != nil {
					return err
				}
			}
			if err := ctrl.Next(ctx); err != nil {
				return fmt.Errorf("mapping is incomplete: %w", err)
			}

			job := ctrl.Job()
			if err := job.Wait(ctx); err != nil {
				ctrl.CancelImport()
				return err
			}

			return printSummary(job.Snapshot())
		},
	}

	cmd.Flags().StringP("provider", "p", "", "Provider id (jira, asana, trello, monday, linear, csv)")
	cmd.Flags().String("base-url", "", "Override the provider base URL")
	cmd.Flags().String("file", "", "Input file for the csv provider")
	cmd.Flags().String("credential", "", "Credential (defaults to TASKPORT_<PROVIDER>_CREDENTIAL)")
	cmd.Flags().StringP("mapping", "m", "", "Mapping rules YAML file (defaults to the provider's mapping)")
	cmd.Flags().String("db", "", "Task database path (defaults to config)")
	cmd.Flags().IntP("concurrency", "c", 0, "Pages fetched ahead of the commit point (defaults to config)")
	cmd.MarkFlagRequired("provider")
	return cmd
}

// printProgress reports progress to stderr: every error as it happens, plus a
// periodic counter so large imports show life without flooding the terminal.
func printProgress(processed int, total *int, latest *importer.ItemError) {
	if latest != nil {
		fmt.Fprintf(os.Stderr, "skip %s: %s\n", latest.ItemID, latest.Reason)
		return
	}
	if processed%25 != 0 {
		return
	}
	if total != nil {
		fmt.Fprintf(os.Stderr, "progress: %d/%d\n", processed, *total)
	} else {
		fmt.Fprintf(os.Stderr, "progress: %d\n", processed)
	}
}

func printSummary(s importer.Snapshot) error {
	fmt.Printf("\nImport %s: %s\n", s.ID, s.Status)
	fmt.Printf("Processed: %d", s.Processed)
	if s.Total != nil {
		fmt.Printf(" of %d", *s.Total)
	}
	fmt.Printf("\nCommitted: %d\nSkipped:   %d\n", s.Processed-len(s.Errors), len(s.Errors))
	if len(s.Errors) > 0 {
		fmt.Printf("First error: %s (%s)\n", s.Errors[0].Reason, s.Errors[0].ItemID)
	}
	if s.Failure != "" {
		fmt.Printf("Failure: %s\n", s.Failure)
	}

	if s.Status == importer.StatusFailed {
		return fmt.Errorf("import failed")
	}
	return nil
}
