package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fperellaholfeld/Episode-Information-Completion/internal/config"
)

func newMigrateCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database tables if they do not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			migrating := *cfg
			migrating.Database.AutoMigrate = true

			pool, _, err := openDatabase(cmd.Context(), &migrating)
			if err != nil {
				return err
			}
			pool.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}
