package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/storefront/internal/app"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

const migrateTimeout = 30 * time.Second

// migrator — часть postgres.Store, нужная командам migrate.
type migrator interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (postgres.MigrationState, error)
	Close() error
}

var openMigrator = func(ctx context.Context, dsn string) (migrator, error) {
	return postgres.Open(ctx, dsn)
}

func newMigrateCmd(cfg app.Config) *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect PostgreSQL schema migrations",
	}
	cmd.PersistentFlags().StringVar(&dsn, "dsn", cfg.PostgresDSN, "PostgreSQL DSN (default from OMS_POSTGRES_DSN)")

	var upSteps int
	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, dsn, func(ctx context.Context, m migrator) error {
				if err := m.MigrateUp(ctx, upSteps); err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				return printMigrationState(ctx, cmd.OutOrStdout(), m, "migrate up ok")
			})
		},
	}
	up.Flags().IntVar(&upSteps, "steps", 0, "number of migrations to apply (0 = all)")

	var downSteps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, dsn, func(ctx context.Context, m migrator) error {
				if err := m.MigrateDown(ctx, downSteps); err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				return printMigrationState(ctx, cmd.OutOrStdout(), m, "migrate down ok")
			})
		},
	}
	down.Flags().IntVar(&downSteps, "steps", 1, "number of migrations to roll back")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show current schema version and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, dsn, func(ctx context.Context, m migrator) error {
				return printMigrationState(ctx, cmd.OutOrStdout(), m, "migration status")
			})
		},
	}

	cmd.AddCommand(up, down, status)
	return cmd
}

func withMigrator(cmd *cobra.Command, dsn string, fn func(context.Context, migrator) error) error {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return errors.New("postgres dsn is required (--dsn or OMS_POSTGRES_DSN)")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), migrateTimeout)
	defer cancel()

	m, err := openMigrator(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer func() { _ = m.Close() }()
	return fn(ctx, m)
}

func printMigrationState(ctx context.Context, out io.Writer, m migrator, prefix string) error {
	state, err := m.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	_, err = fmt.Fprintf(out, "%s: version=%d applied=%d pending=%d\n", prefix, state.Version, state.Applied, len(state.Pending))
	for _, name := range state.Pending {
		_, _ = fmt.Fprintf(out, "  pending %s\n", name)
	}
	return err
}
