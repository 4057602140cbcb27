// Package main provides the entry point for the assessment admin CLI tool.
package main

import (
	"context"
	"fmt"
	"os"

	"assessapp/cmd/adm/commands"
	"assessapp/internal/config"
	"assessapp/internal/observability"
	"assessapp/internal/version"

	"github.com/spf13/cobra"
)

func main() {
	// Look for the config next to the binary when ASSESS_CONFIG_FILE is unset
	if os.Getenv(config.ConfigFileEnv) == "" {
		for _, path := range []string{"config.yaml", "../config.yaml", "../../config.yaml"} {
			if _, err := os.Stat(path); err == nil {
				_ = os.Setenv(config.ConfigFileEnv, path)
				break
			}
		}
	}

	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// The CLI talks to no collector and only reports errors
	cfg.OpenTelemetry.EnableTracing = false
	cfg.OpenTelemetry.EnableMetrics = false
	cfg.OpenTelemetry.EnableLogging = false
	providers, err := observability.SetupObservability(&cfg.OpenTelemetry, "assess-admin", "error")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize observability: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = providers.Shutdown(context.Background()) }()

	rt := commands.NewRuntime(cfg, providers.Logger)
	var sqliteDSN string
	defer rt.Close()

	rootCmd := &cobra.Command{
		Use:     "adm",
		Short:   "Assessment platform administration tool",
		Version: version.String(),
		Long: `Assessment platform administration tool

Commands for schema migrations, user management, gamification upkeep
and offline score calculation.`,
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			rt.UseSQLite(sqliteDSN)
		},
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				fmt.Printf("Error showing help: %v\n", err)
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&sqliteDSN, "sqlite", "", "use a local SQLite file instead of the configured database")

	rootCmd.AddCommand(commands.MigrateCommand(rt))
	rootCmd.AddCommand(commands.DatabaseCommands(rt))
	rootCmd.AddCommand(commands.UserCommands(rt))
	rootCmd.AddCommand(commands.GamificationCommands(rt)...)
	rootCmd.AddCommand(commands.ScoreCommand())

	if err := rootCmd.Execute(); err != nil {
		rt.Close()
		os.Exit(1)
	}
}
