package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"fulfillment-backend-trusted/internal/service"
)

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Verify wallet and platform ledgers",
	}
	cmd.AddCommand(ledgerVerifyCmd())
	return cmd
}

func ledgerVerifyCmd() *cobra.Command {
	var all, platform bool
	cmd := &cobra.Command{
		Use:   "verify [account-id]",
		Short: "Replay a ledger from zero and compare it with the cached balance",
		Example: `  fulfillctl ledger verify 42
  fulfillctl ledger verify --all
  fulfillctl ledger verify --platform`,
		Args: func(cmd *cobra.Command, args []string) error {
			if all || platform {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			switch {
			case all:
				summary, err := e.services.Audit.AuditWallets(ctx)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(out, summary)
				}
				fmt.Fprintf(out, "Audited %d accounts, %d violations\n", summary.Accounts, summary.Violations)
				for i := range summary.Invalid {
					printReport(out, &summary.Invalid[i])
				}
				if !summary.Clean() {
					return fmt.Errorf("%d accounts failed verification", len(summary.Invalid))
				}
				return nil
			case platform:
				report, err := e.services.Audit.AuditPlatform(ctx)
				if err != nil {
					return err
				}
				return finishReport(out, report)
			default:
				accountID, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid account id %q", args[0])
				}
				report, err := e.services.Audit.AccountIntegrity(ctx, accountID)
				if err != nil {
					return err
				}
				return finishReport(out, report)
			}
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "verify every wallet account")
	cmd.Flags().BoolVar(&platform, "platform", false, "verify the platform capital ledger")
	cmd.MarkFlagsMutuallyExclusive("all", "platform")
	return cmd
}

func finishReport(out io.Writer, report *service.IntegrityReport) error {
	if jsonOutput {
		if err := printJSON(out, report); err != nil {
			return err
		}
	} else {
		printReport(out, report)
	}
	if !report.Valid() {
		return fmt.Errorf("ledger verification failed")
	}
	return nil
}

func printReport(out io.Writer, r *service.IntegrityReport) {
	state := "OK"
	if !r.Valid() {
		state = "INVALID"
	}
	fmt.Fprintf(out, "%s %s account=%d entries=%d recomputed=%d cached=%d drift=%d\n",
		state, r.Scope, r.AccountID, r.Entries, r.Recomputed, r.Cached, r.Drift())
	for _, v := range r.Violations {
		fmt.Fprintf(out, "  #%d entry %d: %s (expected %d, got %d)\n", v.Position, v.EntryID, v.Kind, v.Expected, v.Actual)
	}
}
