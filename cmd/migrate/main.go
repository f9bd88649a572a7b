package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/oauth2core/internal/config"
	"github.com/example/oauth2core/internal/logging"
	"github.com/example/oauth2core/internal/storage"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the PostgreSQL schema of the token service",
		SilenceUsage: true,
	}

	var upSteps, downSteps int
	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd.Context(), func(m *storage.Migrator) error {
				if upSteps > 0 {
					return m.Steps(upSteps)
				}
				return m.Up()
			}, "Migrations applied successfully")
		},
	}
	up.Flags().IntVar(&upSteps, "steps", 0, "number of migrations to apply (0 = all)")

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd.Context(), func(m *storage.Migrator) error {
				if downSteps > 0 {
					return m.Steps(-downSteps)
				}
				return m.Down()
			}, "Migrations rolled back successfully")
		},
	}
	down.Flags().IntVar(&downSteps, "steps", 0, "number of migrations to roll back (0 = all)")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the applied migration version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd.Context(), func(m *storage.Migrator) error {
				v, dirty, err := m.Version()
				if err != nil {
					return err
				}
				if dirty {
					return fmt.Errorf("database is in a dirty state (version %d)", v)
				}
				fmt.Printf("Current migration version: %d\n", v)
				return nil
			}, "")
		},
	}

	force := &cobra.Command{
		Use:   "force VERSION",
		Short: "Set the migration version without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil || v < 1 {
				return fmt.Errorf("invalid version %q", args[0])
			}
			return withMigrator(cmd.Context(), func(m *storage.Migrator) error {
				return m.Force(v)
			}, fmt.Sprintf("Forced database to version %d", v))
		},
	}

	root.AddCommand(up, down, version, force)
	return root
}

func withMigrator(ctx context.Context, fn func(*storage.Migrator) error, done string) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logging.Init(cfg.LogLevel, "console")
	if cfg.DBAdapter != "postgres" {
		return fmt.Errorf("migrations only work with PostgreSQL, current adapter: %s", cfg.DBAdapter)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	m, err := storage.NewMigrator(connectCtx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := fn(m); err != nil {
		return err
	}
	if done != "" {
		fmt.Println(done)
	}
	return nil
}
