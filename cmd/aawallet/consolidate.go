package main

import (
	"github.com/spf13/cobra"
)

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Sweep every secondary account into the primary account",
	Long:  "Scans native and token balances of every non-primary account, keeps the configured gas reserve and transfers the rest to the primary account one account at a time",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		return runWithApp(cmd, func(a *app) error {
			if dryRun {
				plan, err := a.consolidation.Plan(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), plan)
			}

			if _, _, err := a.consolidation.Run(cmd.Context()); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), a.consolidation.Progress())
		})
	},
}

func init() {
	rootCmd.AddCommand(consolidateCmd)
	consolidateCmd.Flags().Bool("dry-run", false, "Only scan and print the plan")
}
