package account

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

type accountError string

func (e accountError) Error() string {
	return string(e)
}

// Define error constants
const (
	ErrZeroSigner        accountError = "signer address is the zero address"
	ErrInvalidChainID    accountError = "chain id must be a positive 256-bit integer"
	ErrSaltOutOfRange    accountError = "salt must be within [0, 0xFFFFFFFF]"
	ErrNoRevert          accountError = "getSenderAddress call did not revert"
	ErrUnexpectedRevert  accountError = "getSenderAddress reverted without SenderAddressResult"
	ErrMissingRevertData accountError = "getSenderAddress failed without revert data"
	ErrZeroSender        accountError = "SenderAddressResult carried the zero address"
)

// DerivationError reports an input that cannot produce a valid salt or
// address. It aborts account creation.
type DerivationError struct {
	Field string
	Value any
	Err   error
}

func (e *DerivationError) Error() string {
	return fmt.Sprintf("derivation failed for %s=%v: %v", e.Field, e.Value, e.Err)
}

func (e *DerivationError) Unwrap() error {
	return e.Err
}

// AddressResolutionError reports that the counterfactual address of an
// (owner, salt) pair could not be determined.
type AddressResolutionError struct {
	Owner   common.Address
	Salt    uint32
	Factory common.Address
	Err     error
}

func (e *AddressResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve account address for owner %s salt %d (factory %s): %v",
		e.Owner.Hex(), e.Salt, e.Factory.Hex(), e.Err)
}

func (e *AddressResolutionError) Unwrap() error {
	return e.Err
}
