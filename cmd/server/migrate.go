package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mindgrate/backend/internal/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := loadBase(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		applied, err := repository.Migrate(cmd.Context(), a.pool)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "database is up to date")
			return nil
		}
		for _, name := range applied {
			fmt.Fprintln(cmd.OutOrStdout(), "applied", name)
		}
		return nil
	},
}
