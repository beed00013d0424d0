package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/app"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/sweep"
)

func sweepCmd(e *env) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a daily sweep once",
	}
	cmd.PersistentFlags().StringVar(&date, "date", "", "business date YYYY-MM-DD (default today)")

	run := func(pick func(a *app.App) func(context.Context, time.Time) (sweep.Report, error)) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			at := time.Now()
			if date != "" {
				d, err := time.Parse(time.DateOnly, date)
				if err != nil {
					return fmt.Errorf("--date: %w", err)
				}
				at = d.Add(12 * time.Hour)
			}
			cfg, err := e.config()
			if err != nil {
				return err
			}
			log, err := e.logger()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			a, err := app.New(cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			report, err := pick(a)(cmd.Context(), at)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if report.Failed > 0 {
				return fmt.Errorf("%s: %d entities failed", report.Sweep, report.Failed)
			}
			return nil
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "daily-returns",
		Short: "Accrue the daily FCI return on every active investment",
		RunE: run(func(a *app.App) func(context.Context, time.Time) (sweep.Report, error) {
			return a.Investment.ProcessDailyReturnsOn
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "overdue-installments",
		Short: "Penalise installments past their due date",
		RunE: run(func(a *app.App) func(context.Context, time.Time) (sweep.Report, error) {
			return a.Financing.ProcessOverdueInstallmentsOn
		}),
	})
	return cmd
}
