package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jyang234/taskport/internal/auth"
	"github.com/jyang234/taskport/internal/config"
	"github.com/jyang234/taskport/internal/importer"
	"github.com/jyang234/taskport/internal/provider"
	"github.com/jyang234/taskport/internal/storage"
	"github.com/jyang234/taskport/internal/web"
	"github.com/jyang234/taskport/internal/wizard"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the wizard HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Serve.Addr
			}

			store, err := storage.NewTaskStore(cfg.Store.Path)
			if err != nil {
				return fmt.Errorf("failed to open task store: %w", err)
			}
			defer store.Close()

			executor := importer.NewExecutor()
			executor.FetchAhead = cfg.Import.FetchAhead
			executor.MaxAttempts = cfg.Import.MaxAttempts
			executor.BackoffBase = cfg.Import.BackoffBase
			executor.BackoffCap = cfg.Import.BackoffCap

			sessions := wizard.NewSessions(wizard.Deps{
				Validator: auth.NewValidator(),
				Executor:  executor,
				Sink:      &storage.Sink{Store: store},
				Adapters: func(id string) (provider.Adapter, error) {
					return provider.New(id, provider.Options{
						BaseURL:  cfg.BaseURL(id),
						CSVPath:  cfg.CSVFile(),
						PageSize: cfg.Import.PageSize,
					})
				},
			})

			fmt.Printf("taskport API listening on %s\n", addr)
			return web.NewServer(sessions).Run(addr)
		},
	}

	cmd.Flags().String("addr", "", "Listen address (defaults to config)")
	return cmd
}
