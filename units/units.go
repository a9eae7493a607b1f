// Package units converts between on-chain integer amounts and decimal
// display amounts.
package units

import (
	"errors"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// EtherDecimals is the number of decimals of the native currency.
const EtherDecimals uint8 = 18

var (
	ErrNilAmount      = errors.New("amount cannot be nil")
	ErrNonPositive    = errors.New("amount cannot be a zero or negative amount")
	ErrTooManyDecimal = errors.New("amount has more decimal places than the token supports")
)

// ToDecimal converts an integer amount in the smallest unit to a decimal.
func ToDecimal(amount *big.Int, decimals uint8) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -int32(decimals))
}

// ToEther converts wei to ether.
func ToEther(wei *big.Int) decimal.Decimal {
	return ToDecimal(wei, EtherDecimals)
}

// FromDecimal converts a positive decimal amount to the smallest unit.
func FromDecimal(amount decimal.Decimal, decimals uint8) (*big.Int, error) {
	if amount.Sign() <= 0 {
		return nil, ErrNonPositive
	}

	scaled := amount.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, ErrTooManyDecimal
	}

	return scaled.BigInt(), nil
}

// ParseAmount parses a human readable amount such as "1.5" into the
// smallest unit of a token with the given decimals.
func ParseAmount(s string, decimals uint8) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrNilAmount
	}

	amount, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}

	return FromDecimal(amount, decimals)
}

// ParseEther parses an ether amount into wei.
func ParseEther(s string) (*big.Int, error) {
	return ParseAmount(s, EtherDecimals)
}

// Format renders an integer amount with the token's decimals, trimming
// trailing zeros.
func Format(amount *big.Int, decimals uint8) string {
	return ToDecimal(amount, decimals).String()
}
