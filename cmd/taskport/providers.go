package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jyang234/taskport/internal/registry"
)

func providersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List supported import providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			providers := registry.List()

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(providers)
			}

			for _, p := range providers {
				fmt.Printf("%-8s %-12s auth=%-7s %s\n",
					p.ID, p.DisplayName, p.AuthMethod, strings.Join(p.Capabilities, ","))
			}
			return nil
		},
	}

	cmd.Flags().BoolP("json", "j", false, "Output as JSON")
	return cmd
}
