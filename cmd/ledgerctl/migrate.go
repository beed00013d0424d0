package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/migrate"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/store/pg"
)

func migrateCmd(e *env) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations and seeds",
	}
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall deadline")

	run := func(fn func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := e.config()
			if err != nil {
				return err
			}
			log, err := e.logger()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required for migrations")
			}
			st, err := pg.Open(cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer st.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return fn(ctx, cmd, migrate.NewManager(st.DB(), pg.Migrations(), pg.Seeds(), migrate.WithLogger(log)))
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: run(func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
			return m.Up(ctx)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Revert the latest migration",
		RunE: run(func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
			return m.Down(ctx)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Load the demo seed data once",
		RunE: run(func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
			return m.Seed(ctx)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		RunE: run(func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
			entries, err := m.Status(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, entry := range entries {
				state := "pending"
				switch {
				case entry.Modified:
					state = "modified"
				case entry.Applied:
					state = "applied"
				}
				fmt.Fprintf(out, "%-9s %-8s %s\n", entry.Kind, state, entry.Name)
			}
			return nil
		}),
	})
	return cmd
}
