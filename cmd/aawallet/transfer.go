package main

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/blndgs/aawallet/submitter"
	"github.com/blndgs/aawallet/units"
	"github.com/blndgs/aawallet/wallet"
)

var transferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Send native currency or an ERC-20 token from an account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		tokenFlag, _ := cmd.Flags().GetString("token")
		toFlag, _ := cmd.Flags().GetString("to")
		amountFlag, _ := cmd.Flags().GetString("amount")

		to, err := parseAddress(toFlag)
		if err != nil {
			return err
		}

		return runWithApp(cmd, func(a *app) error {
			token, err := a.token(cmd.Context(), tokenFlag)
			if err != nil {
				return err
			}
			amount, err := units.ParseAmount(amountFlag, token.Decimals)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", amountFlag, err)
			}
			w, _, err := a.wallet(cmd.Context(), from)
			if err != nil {
				return err
			}
			result, err := w.Transfer(cmd.Context(), token.Address, to, amount)
			return report(cmd, result, err)
		})
	},
}

var multisendCmd = &cobra.Command{
	Use:   "multisend",
	Short: "Pay several recipients of one ERC-20 token in a single operation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		tokenFlag, _ := cmd.Flags().GetString("token")
		legs, _ := cmd.Flags().GetStringSlice("to")

		return runWithApp(cmd, func(a *app) error {
			token, err := a.token(cmd.Context(), tokenFlag)
			if err != nil {
				return err
			}
			recipients := make([]wallet.Recipient, 0, len(legs))
			for _, leg := range legs {
				r, err := parseRecipient(leg, token.Decimals)
				if err != nil {
					return err
				}
				recipients = append(recipients, r)
			}
			w, _, err := a.wallet(cmd.Context(), from)
			if err != nil {
				return err
			}
			result, err := w.MultiSend(cmd.Context(), token.Address, recipients)
			return report(cmd, result, err)
		})
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Set an ERC-20 allowance for a spender",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		tokenFlag, _ := cmd.Flags().GetString("token")
		spenderFlag, _ := cmd.Flags().GetString("spender")
		amountFlag, _ := cmd.Flags().GetString("amount")

		spender, err := parseAddress(spenderFlag)
		if err != nil {
			return err
		}

		return runWithApp(cmd, func(a *app) error {
			token, err := a.token(cmd.Context(), tokenFlag)
			if err != nil {
				return err
			}
			amount, err := units.ParseAmount(amountFlag, token.Decimals)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", amountFlag, err)
			}
			w, _, err := a.wallet(cmd.Context(), from)
			if err != nil {
				return err
			}
			result, err := w.Approve(cmd.Context(), token.Address, spender, amount)
			return report(cmd, result, err)
		})
	},
}

func init() {
	rootCmd.AddCommand(transferCmd, multisendCmd, approveCmd)

	for _, cmd := range []*cobra.Command{transferCmd, multisendCmd, approveCmd} {
		cmd.Flags().String("from", "", "Account id to send from (active account when empty)")
		cmd.Flags().StringP("token", "t", "", "Token symbol or address (native currency when empty)")
	}

	transferCmd.Flags().String("to", "", "Recipient address")
	transferCmd.Flags().StringP("amount", "a", "", "Amount in token units, e.g. 1.5")
	transferCmd.MarkFlagRequired("to")
	transferCmd.MarkFlagRequired("amount")

	multisendCmd.Flags().StringSlice("to", nil, "Recipient as address:amount, repeatable")
	multisendCmd.MarkFlagRequired("to")

	approveCmd.Flags().String("spender", "", "Spender address")
	approveCmd.Flags().StringP("amount", "a", "", "Allowance in token units")
	approveCmd.MarkFlagRequired("spender")
	approveCmd.MarkFlagRequired("amount")
}

func parseAddress(value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("invalid address %q", value)
	}
	return common.HexToAddress(value), nil
}

// parseRecipient parses "0xabc...:1.25".
func parseRecipient(value string, decimals uint8) (wallet.Recipient, error) {
	address, amount, ok := strings.Cut(value, ":")
	if !ok {
		return wallet.Recipient{}, fmt.Errorf("recipient %q must be address:amount", value)
	}
	to, err := parseAddress(address)
	if err != nil {
		return wallet.Recipient{}, err
	}
	wei, err := units.ParseAmount(amount, decimals)
	if err != nil {
		return wallet.Recipient{}, fmt.Errorf("recipient %v: %w", to.Hex(), err)
	}
	return wallet.Recipient{To: to, Amount: wei}, nil
}

type operationReport struct {
	UserOpHash string `json:"userOpHash,omitempty"`
	TxHash     string `json:"txHash,omitempty"`
	Accepted   bool   `json:"accepted"`
	Error      string `json:"error,omitempty"`
}

// report prints the outcome. An operation that reached the bundler is
// printed even when it was not confirmed.
func report(cmd *cobra.Command, result *submitter.Result, err error) error {
	if result == nil {
		return err
	}
	out := operationReport{
		UserOpHash: result.UserOpHash.Hex(),
		Accepted:   result.Accepted,
	}
	if result.TxHash != (common.Hash{}) {
		out.TxHash = result.TxHash.Hex()
	}
	if err != nil {
		out.Error = err.Error()
	}
	if perr := printJSON(cmd.OutOrStdout(), out); perr != nil {
		return perr
	}
	return err
}
