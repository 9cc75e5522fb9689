package cmd

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/flashlender/borrower"
	"github.com/michaelpento.lv/flashlender/simulator"
)

var (
	lenderName string
	mode       string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate ASSET AMOUNT",
	Short: "Run a flash loan against a lender",
	Long: `Run a flash loan and report the lender's facility and the borrower's
balance before and after. Modes:
  repay    repay principal and fee
  steal    keep the loan
  reenter  borrow twice the amount again from inside the callback
  reject   return a wrong acknowledgement`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := parseAmount(args[1])
		if err != nil {
			return err
		}
		action, err := borrower.ParseAction(mode)
		if err != nil {
			return err
		}
		sim, err := loadSimulator()
		if err != nil {
			return err
		}

		res, err := sim.SimulateFlashLoan(cmd.Context(), lenderName, args[0], amount, action)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %s %s from %s: ", res.Mode, res.Amount, res.Asset, res.Lender)
		if res.Success {
			fmt.Fprintf(out, "settled, fee %s\n", res.Fee)
		} else {
			fmt.Fprintf(out, "reverted: %v\n", res.Error)
		}

		table := tablewriter.NewWriter(out)
		table.SetHeader([]string{"Account", "Before", "After"})
		table.Append([]string{"facility", res.FacilityBefore.String(), res.FacilityAfter.String()})
		table.Append([]string{"borrower", res.ReceiverBefore.String(), res.ReceiverAfter.String()})
		table.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&lenderName, "lender", simulator.ManagerName, "lender to borrow from; the manager routes to the cheapest")
	simulateCmd.Flags().StringVar(&mode, "mode", "repay", "borrower behaviour: repay, steal, reenter or reject")
}
