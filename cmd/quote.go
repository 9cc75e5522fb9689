package cmd

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/flashlender/flashloan"
)

var quoteCmd = &cobra.Command{
	Use:   "quote ASSET AMOUNT",
	Short: "Show every lender's supply and fee for a loan",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := parseAmount(args[1])
		if err != nil {
			return err
		}
		sim, err := loadSimulator()
		if err != nil {
			return err
		}

		quotes, err := sim.Quotes(args[0], amount)
		if err != nil {
			return err
		}

		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.SetHeader([]string{"Lender", "Max Flash Loan", "Fee", "Status"})
		for _, q := range quotes {
			fee, status := "-", "ok"
			switch {
			case q.Err != nil:
				status = flashloan.Cause(q.Err)
			case q.MaxFlashLoan.Cmp(amount) < 0:
				fee = q.Fee.String()
				status = flashloan.Cause(flashloan.ErrInsufficientSupply)
			default:
				fee = q.Fee.String()
			}
			table.Append([]string{q.Lender, q.MaxFlashLoan.String(), fee, status})
		}
		table.Render()

		lender, fee, err := sim.Quote(args[0], amount)
		if err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "no route: %v\n", err)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "best: %s (fee %s)\n", lender, fee)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(quoteCmd)
}
