package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/financing"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/investment"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/money"
)

func simulateCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Preview investment growth or a financing schedule",
	}

	var (
		invAmount string
		months    int
	)
	inv := &cobra.Command{
		Use:   "investment",
		Short: "Project the value of an FCI deposit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := e.config()
			if err != nil {
				return err
			}
			amount, err := money.Parse(invAmount)
			if err != nil {
				return err
			}
			p, err := investment.Simulate(amount, months, cfg.Investment().AnnualRate)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}
	inv.Flags().StringVar(&invAmount, "amount", "", "deposit amount")
	inv.Flags().IntVar(&months, "months", 12, "horizon in months")
	_ = inv.MarkFlagRequired("amount")

	var (
		finAmount    string
		installments int
	)
	fin := &cobra.Command{
		Use:   "financing",
		Short: "Show the installment plan of a financing created today",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := e.config()
			if err != nil {
				return err
			}
			amount, err := money.Parse(finAmount)
			if err != nil {
				return err
			}
			plan, err := financing.Simulate(amount, installments, time.Now(), cfg.Location())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), plan)
		},
	}
	fin.Flags().StringVar(&finAmount, "amount", "", "financed amount")
	fin.Flags().IntVar(&installments, "installments", 12, "number of installments")
	_ = fin.MarkFlagRequired("amount")

	cmd.AddCommand(inv, fin)
	return cmd
}
