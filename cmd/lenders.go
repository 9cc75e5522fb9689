package cmd

import (
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var lendersCmd = &cobra.Command{
	Use:   "lenders",
	Short: "List the configured flash lenders",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sim, err := loadSimulator()
		if err != nil {
			return err
		}

		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.SetHeader([]string{"Lender", "Kind", "Address", "Assets"})
		for _, info := range sim.Lenders() {
			table.Append([]string{info.Name, info.Kind.String(), info.Address.Hex(), strings.Join(info.Assets, ", ")})
		}
		table.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(lendersCmd)
}
