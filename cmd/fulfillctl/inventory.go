package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fulfillment-backend-trusted/internal/domain"
)

func inventoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Manage the inventory lots that allocations draw from",
	}
	cmd.AddCommand(inventoryAddLotCmd())
	return cmd
}

func inventoryAddLotCmd() *cobra.Command {
	var (
		label string
		value int64
	)
	cmd := &cobra.Command{
		Use:     "add-lot",
		Short:   "Add a lot; allocations draw from the oldest lot first",
		Example: `  fulfillctl inventory add-lot --label "2026-Q4 tranche" --value 5000000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			lot := &domain.InventoryLot{Label: label, TotalValue: value}
			if err := e.storage.Inventory.AddLot(cmd.Context(), lot); err != nil {
				return fmt.Errorf("failed to add lot: %w", err)
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), lot)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Lot %d added with value %d\n", lot.ID, lot.TotalValue)
			return nil
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "lot label")
	cmd.Flags().Int64Var(&value, "value", 0, "lot value in minor units")
	cmd.MarkFlagRequired("label")
	cmd.MarkFlagRequired("value")
	return cmd
}
