package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/app"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/auth"
)

func tokenCmd(e *env) *cobra.Command {
	var (
		user  string
		roles []string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development JWT signed with AUTH_SECRET",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := e.config()
			if err != nil {
				return err
			}
			signer, err := auth.NewSigner(cfg.AuthSecret, "")
			if err != nil {
				return fmt.Errorf("AUTH_SECRET: %w", err)
			}
			token, expires, err := signer.GenerateToken(user, roles, ttl)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"token":      token,
				"expires_at": expires,
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "subject of the token")
	cmd.Flags().StringSliceVar(&roles, "role", []string{auth.RoleUser}, "roles, repeatable")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func accountCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage wallet accounts",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create <user-id>",
		Short: "Provision the account of a KYC-approved user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := e.config()
			if err != nil {
				return err
			}
			log, err := e.logger()
			if err != nil {
				return err
			}
			a, err := app.New(cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			acc, created, err := a.Wallet.CreateAccount(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"created": created,
				"account": acc,
			})
		},
	})
	return cmd
}
