package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/fperellaholfeld/Episode-Information-Completion/internal/config"
	"github.com/fperellaholfeld/Episode-Information-Completion/internal/logging"
)

func newRootCommand() *cobra.Command {
	var envFile string
	cfg := &config.Config{}

	rootCmd := &cobra.Command{
		Use:           "server",
		Short:         "Enrich uploaded episode CSVs from the Rick and Morty catalog",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Overload lets the .env file win over the inherited environment.
			if err := godotenv.Overload(envFile); err != nil {
				slog.Debug("no .env file loaded, using environment variables", "file", envFile)
			}

			loaded, err := config.Load()
			if err != nil {
				return err
			}
			logging.Setup(loaded.Logging.Level, loaded.Logging.Format)
			slog.Debug("configuration loaded", "config", loaded.String())
			*cfg = *loaded
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file to load before reading configuration")

	rootCmd.AddCommand(newServeCommand(cfg))
	rootCmd.AddCommand(newProcessCommand(cfg))
	rootCmd.AddCommand(newMigrateCommand(cfg))

	return rootCmd
}
