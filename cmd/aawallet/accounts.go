package main

import (
	"github.com/spf13/cobra"

	"github.com/blndgs/aawallet/registry"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage derived smart accounts",
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts of the configured signer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		return runWithApp(cmd, func(a *app) error {
			accounts := a.registry.VisibleAccounts()
			if all {
				accounts = a.registry.Accounts()
			}
			active, err := a.registry.ActiveAccount()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), struct {
				Accounts []registry.Account `json:"accounts"`
				ActiveID string             `json:"activeId"`
			}{accounts, active.ID})
		})
	},
}

var accountsCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Derive and register the next account",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		return runWithApp(cmd, func(a *app) error {
			acct, err := a.registry.CreateAccount(cmd.Context(), name)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), acct)
		})
	},
}

var accountsRenameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Rename an account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(a *app) error {
			acct, err := a.registry.RenameAccount(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), acct)
		})
	},
}

var accountsHideCmd = &cobra.Command{
	Use:   "hide <id>",
	Short: "Hide an account; the primary account cannot be hidden",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(a *app) error {
			acct, err := a.registry.HideAccount(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), acct)
		})
	},
}

var accountsUnhideCmd = &cobra.Command{
	Use:   "unhide <id>",
	Short: "Show a hidden account again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(a *app) error {
			acct, err := a.registry.UnhideAccount(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), acct)
		})
	},
}

var accountsSwitchCmd = &cobra.Command{
	Use:   "switch <id>",
	Short: "Make an account the active one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(a *app) error {
			if _, err := a.registry.SwitchAccount(cmd.Context(), args[0]); err != nil {
				return err
			}
			acct, err := a.registry.Account(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), acct)
		})
	},
}

func init() {
	rootCmd.AddCommand(accountsCmd)
	accountsCmd.AddCommand(accountsListCmd, accountsCreateCmd, accountsRenameCmd,
		accountsHideCmd, accountsUnhideCmd, accountsSwitchCmd)

	accountsListCmd.Flags().BoolP("all", "a", false, "Include hidden accounts")
}

func runWithApp(cmd *cobra.Command, fn func(*app) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return withApp(cmd.Context(), cfg, fn)
}
