// Package commands provides CLI commands for the admin tool
package commands

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	contextutils "assessapp/internal/utils"

	"github.com/spf13/cobra"
)

// MigrateCommand applies pending schema migrations without starting the server
func MigrateCommand(rt *Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if rt.SQLite() {
				// OpenSQLite creates the schema with AutoMigrate
				if _, err := rt.Store(ctx); err != nil {
					return err
				}
				fmt.Printf("SQLite schema ready at %s\n", rt.sqliteDSN)
				return nil
			}

			db, err := rt.manager.OpenSQL(ctx, rt.cfg.Database)
			if err != nil {
				return contextutils.WrapError(err, "failed to connect to database")
			}
			defer func() { _ = db.Close() }()

			fmt.Printf("Migrating %s\n", maskDatabaseURL(rt.cfg.Database.URL))
			if err := rt.manager.RunMigrations(ctx, db); err != nil {
				return err
			}
			fmt.Println("Migrations applied")
			return nil
		},
	}
}

// DatabaseCommands returns the database inspection commands
func DatabaseCommands(rt *Runtime) *cobra.Command {
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Database inspection commands",
	}
	dbCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		Long:  `Show user, attempt and answer counts as seen by the live dashboard.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := rt.Store(ctx)
			if err != nil {
				return contextutils.WrapError(err, "failed to connect to database")
			}
			db, err := rt.DB(ctx)
			if err != nil {
				return err
			}

			counts, err := store.GetDashboardCounts(ctx, time.Now())
			if err != nil {
				return contextutils.WrapError(err, "failed to load counts")
			}

			fmt.Println("Database Statistics")
			fmt.Println("===================")
			if rt.SQLite() {
				fmt.Printf("SQLite:            %s\n", rt.sqliteDSN)
			} else {
				fmt.Printf("URL:               %s\n", maskDatabaseURL(rt.cfg.Database.URL))
			}
			fmt.Printf("Connection:        %s\n", getDatabaseInfo(ctx, db))
			fmt.Printf("Users:             %d\n", counts.TotalUsers)
			fmt.Printf("Active attempts:   %d\n", counts.ActiveAttempts)
			fmt.Printf("Answers last hour: %d\n", counts.AnswersLastHour)
			fmt.Printf("Completed today:   %d\n", counts.CompletedToday)
			return nil
		},
	})
	dbCmd.AddCommand(resetCmd(rt))
	return dbCmd
}

func resetCmd(rt *Runtime) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop and recreate the schema",
		Long: `Roll back every migration and apply them again. This PERMANENTLY deletes
all users, tests, attempts, answers and learning progress. The configured
admin account is recreated afterwards.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if rt.SQLite() {
				return contextutils.WrapError(contextutils.ErrInvalidInput, "reset works on PostgreSQL only; delete the SQLite file instead")
			}

			fmt.Printf("Database: %s\n", maskDatabaseURL(rt.cfg.Database.URL))
			if !yes && !confirmReset(cmd.InOrStdin(), cmd.OutOrStdout()) {
				fmt.Println("Reset cancelled.")
				return nil
			}

			db, err := rt.manager.OpenSQL(ctx, rt.cfg.Database)
			if err != nil {
				return contextutils.WrapError(err, "failed to connect to database")
			}
			if err := rt.manager.ResetSchema(ctx, db); err != nil {
				_ = db.Close()
				return err
			}
			_ = db.Close()
			fmt.Println("Schema recreated")

			if rt.cfg.Server.AdminUsername == "" || rt.cfg.Server.AdminPassword == "" {
				fmt.Println("No admin credentials configured; skipping admin account")
				return nil
			}
			users, err := rt.Users(ctx)
			if err != nil {
				return err
			}
			if err := users.EnsureAdminUser(ctx, rt.cfg.Server.AdminUsername, rt.cfg.Server.AdminPassword); err != nil {
				return contextutils.WrapError(err, "failed to recreate admin user")
			}
			fmt.Printf("Admin user %s recreated\n", rt.cfg.Server.AdminUsername)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	return cmd
}

// confirmReset asks until the operator answers yes or no. EOF counts as no.
func confirmReset(in io.Reader, out io.Writer) bool {
	reader := bufio.NewReader(in)
	for {
		fmt.Fprint(out, "Type 'yes' to delete all data: ")
		response, err := reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		switch {
		case response == "yes":
			return true
		case response == "no" || response == "" || err != nil:
			return false
		default:
			fmt.Fprintln(out, "Please type 'yes' to confirm or 'no' to cancel.")
		}
	}
}
