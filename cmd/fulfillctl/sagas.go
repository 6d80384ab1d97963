package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"fulfillment-backend-trusted/internal/domain"
)

func sagasCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sagas",
		Short: "Inspect and resolve allocation sagas",
	}
	cmd.AddCommand(sagasListCmd(), sagasShowCmd(), sagasResolveCmd(), sagasCompensateCmd(), sagasResumeCmd())
	return cmd
}

func sagasListCmd() *cobra.Command {
	var (
		statuses []string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sagas, by default those needing an operator",
		Example: `  fulfillctl sagas list
  fulfillctl sagas list --status processing,failed --limit 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := make([]domain.SagaStatus, 0, len(statuses))
			for _, s := range statuses {
				st, ok := domain.ParseSagaStatus(strings.TrimSpace(s))
				if !ok {
					return fmt.Errorf("unknown saga status %q", s)
				}
				filter = append(filter, st)
			}

			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			sagas, err := e.services.Operator.List(cmd.Context(), filter, limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), sagas)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SAGA\tPAYMENT\tSTATUS\tSTEPS\tUPDATED\tREASON")
			for _, s := range sagas {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%d/%d\t%s\t%s\n",
					s.ID, s.PaymentID, s.Status, s.StepsCompleted, s.StepsTotal,
					s.UpdatedAt.Format("2006-01-02 15:04:05"), s.FailureReason)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s",
		[]string{string(domain.SagaStatusCompensationFailed), string(domain.SagaStatusRequiresManualResolution)},
		"statuses to include")
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "maximum results")
	return cmd
}

func sagasShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <saga-id>",
		Short: "Show a saga with its persisted step metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			saga, err := e.services.Operator.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), saga)
		},
	}
}

func sagasResolveCmd() *cobra.Command {
	var operator, note string
	cmd := &cobra.Command{
		Use:   "resolve <saga-id>",
		Short: "Record a manual resolution. Never moves money.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			saga, err := e.services.Operator.Resolve(cmd.Context(), args[0], operator, note)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saga %s resolved by %s (status %s)\n", saga.ID, operator, saga.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "operator identifier")
	cmd.Flags().StringVar(&note, "note", "", "what was done to reconcile the saga")
	cmd.MarkFlagRequired("operator")
	cmd.MarkFlagRequired("note")
	return cmd
}

func sagasCompensateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compensate <saga-id>",
		Short: "Undo a flagged saga's completed steps from its persisted metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			saga, err := e.services.Operator.Compensate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saga %s is now %s\n", saga.ID, saga.Status)
			return nil
		},
	}
}

func sagasResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <saga-id>",
		Short: "Run a saga that stopped before finishing; recorded steps are skipped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			saga, err := e.services.Operator.Resume(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saga %s is now %s (%d/%d steps)\n", saga.ID, saga.Status, saga.StepsCompleted, saga.StepsTotal)
			return nil
		},
	}
}
