package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fulfillment-backend-trusted/internal/security"
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage operator bearer tokens",
	}
	cmd.AddCommand(tokenIssueCmd())
	return cmd
}

func tokenIssueCmd() *cobra.Command {
	var (
		operator string
		roles    []string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Mint an operator token for the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if ttl == 0 {
				ttl = time.Duration(cfg.JWT.OperatorTokenHours) * time.Hour
			}

			token, err := security.NewTokenManager(cfg.JWT.Secret, ttl).GenerateOperatorToken(operator, roles)
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "operator identifier")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "roles to embed")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default from jwt.operator_token_hours)")
	cmd.MarkFlagRequired("operator")
	return cmd
}
