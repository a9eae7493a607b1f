// Package consolidation sweeps balances from secondary smart accounts into
// the primary account.
package consolidation

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/blndgs/aawallet/registry"
	"github.com/blndgs/aawallet/units"
)

var logger = logrus.StandardLogger().WithField("module", "consolidation")

// NativeSymbol is the symbol used for native currency transfers.
const NativeSymbol = "ETH"

// Token is an ERC-20 token known to the wallet.
type Token struct {
	Symbol   string         `json:"symbol" yaml:"symbol"`
	Address  common.Address `json:"address" yaml:"address"`
	Decimals uint8          `json:"decimals" yaml:"decimals"`
}

// TokenBalance is the balance of one token held by an account.
type TokenBalance struct {
	Token   Token    `json:"token"`
	Balance *big.Int `json:"balance"`
}

// Amount returns the balance in token units.
func (b TokenBalance) Amount() decimal.Decimal {
	return units.ToDecimal(b.Balance, b.Token.Decimals)
}

// AccountTokenBalances is the scanned state of one source account.
type AccountTokenBalances struct {
	Account registry.Account `json:"account"`
	// Native is the full native balance.
	Native *big.Int `json:"native"`
	// NativeTransfer is the native amount above the reserve, zero when the
	// balance does not exceed it.
	NativeTransfer *big.Int       `json:"nativeTransfer"`
	Tokens         []TokenBalance `json:"tokens"`
}

// TokenTransfers returns the tokens with a non-zero balance.
func (a AccountTokenBalances) TokenTransfers() []TokenBalance {
	var out []TokenBalance
	for _, tb := range a.Tokens {
		if tb.Balance != nil && tb.Balance.Sign() > 0 {
			out = append(out, tb)
		}
	}
	return out
}

// HasNativeTransfer reports whether native currency is moved.
func (a AccountTokenBalances) HasNativeTransfer() bool {
	return a.NativeTransfer != nil && a.NativeTransfer.Sign() > 0
}

// TransferCount is the number of transfers planned for the account.
func (a AccountTokenBalances) TransferCount() int {
	n := len(a.TokenTransfers())
	if a.HasNativeTransfer() {
		n++
	}
	return n
}

// Plan is the read-only result of a scan. It is stale as soon as balances
// change and must be re-scanned before reuse.
type Plan struct {
	FromAccounts   []AccountTokenBalances `json:"fromAccounts"`
	ToAccount      registry.Account       `json:"toAccount"`
	TotalTransfers int                    `json:"totalTransfers"`
	// EstimatedGas is reserve * TotalTransfers in ether, an upper bound.
	EstimatedGas decimal.Decimal `json:"estimatedGas"`
	CanExecute   bool            `json:"canExecute"`
	Warnings     []string        `json:"warnings"`
	ScannedAt    time.Time       `json:"scannedAt"`
}
