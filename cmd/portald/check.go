package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

func checkCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run a single earthquake check and print the result as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			comps, err := buildComponents(cfg)
			if err != nil {
				return err
			}
			result, err := comps.job.Run(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
}
