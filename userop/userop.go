// Package userop defines the ERC-4337 (EntryPoint v0.6) UserOperation wire
// object together with the helpers needed to hash, inspect and validate it
// before it is handed to a bundler.
package userop

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// UserOperation represents an EIP-4337 style transaction for a smart contract account.
type UserOperation struct {
	Sender               common.Address
	Nonce                *big.Int
	InitCode             []byte
	CallData             []byte
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	PaymasterAndData     []byte
	Signature            []byte
}

type userOperationError string

func (e userOperationError) Error() string {
	return string(e)
}

// Define error constants
const (
	ErrNilOperation         userOperationError = "nil UserOperation"
	ErrMissingField         userOperationError = "UserOperation field is not set"
	ErrMissingInitCode      userOperationError = "nonce is zero but initCode is empty"
	ErrUnexpectedInitCode   userOperationError = "nonce is non-zero but initCode is set"
	ErrPlaceholderSignature userOperationError = "signature is still the gas estimation placeholder"
)

// DummySignature is a well-formed but meaningless ECDSA signature. Bundlers
// need a signature of realistic length to size verification gas, so it is
// attached while the operation is estimated and replaced before submission.
var DummySignature = common.FromHex("0xfffffffffffffffffffffffffffffff0000000000000000000000000000000007aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1c")

const addressLength = common.AddressLength

// GetFactory returns the address portion of InitCode if applicable, otherwise it returns the zero address.
func (op *UserOperation) GetFactory() common.Address {
	if len(op.InitCode) < addressLength {
		return common.Address{}
	}

	return common.BytesToAddress(op.InitCode[:addressLength])
}

// GetPaymaster returns the address portion of PaymasterAndData if applicable, otherwise it returns the zero address.
func (op *UserOperation) GetPaymaster() common.Address {
	if len(op.PaymasterAndData) < addressLength {
		return common.Address{}
	}

	return common.BytesToAddress(op.PaymasterAndData[:addressLength])
}

// IsSponsored reports whether a paymaster pays for this operation.
func (op *UserOperation) IsSponsored() bool {
	return op.GetPaymaster() != (common.Address{})
}

// GetMaxGasAvailable returns the max amount of gas that can be consumed by this UserOperation.
func (op *UserOperation) GetMaxGasAvailable() *big.Int {
	// Verification gas is charged up to three times when a paymaster is present:
	// account validation, paymaster validation and postOp.
	mul := big.NewInt(1)
	if op.IsSponsored() {
		mul = big.NewInt(3)
	}

	verification := new(big.Int).Mul(bigOrZero(op.VerificationGasLimit), mul)
	rest := new(big.Int).Add(bigOrZero(op.PreVerificationGas), bigOrZero(op.CallGasLimit))

	return verification.Add(verification, rest)
}

// GetMaxPrefund returns the max amount of wei required to pay for gas fees by either the sender or
// paymaster.
func (op *UserOperation) GetMaxPrefund() *big.Int {
	return new(big.Int).Mul(op.GetMaxGasAvailable(), bigOrZero(op.MaxFeePerGas))
}

// GetDynamicGasPrice returns the effective gas price paid by the UserOperation given a basefee.
func (op *UserOperation) GetDynamicGasPrice(basefee *big.Int) *big.Int {
	if basefee == nil {
		basefee = new(big.Int)
	}

	gp := new(big.Int).Add(basefee, bigOrZero(op.MaxPriorityFeePerGas))
	if gp.Cmp(bigOrZero(op.MaxFeePerGas)) == 1 {
		return new(big.Int).Set(op.MaxFeePerGas)
	}
	return gp
}

// HasSignature reports whether a signature other than the estimation
// placeholder is attached.
func (op *UserOperation) HasSignature() bool {
	return len(op.Signature) > 0 && !bytes.Equal(op.Signature, DummySignature)
}

// CheckComplete verifies that every field has left its placeholder value and
// that the nonce and initCode agree. It is the last gate before submission.
func (op *UserOperation) CheckComplete() error {
	if op == nil {
		return ErrNilOperation
	}

	if op.Sender == (common.Address{}) {
		return fmt.Errorf("%w: sender", ErrMissingField)
	}

	required := []struct {
		name  string
		value *big.Int
	}{
		{"nonce", op.Nonce},
		{"callGasLimit", op.CallGasLimit},
		{"verificationGasLimit", op.VerificationGasLimit},
		{"preVerificationGas", op.PreVerificationGas},
		{"maxFeePerGas", op.MaxFeePerGas},
		{"maxPriorityFeePerGas", op.MaxPriorityFeePerGas},
	}
	for _, field := range required {
		if field.value == nil {
			return fmt.Errorf("%w: %s", ErrMissingField, field.name)
		}
	}

	for _, field := range required[1:] {
		if field.value.Sign() <= 0 && field.name != "maxPriorityFeePerGas" {
			return fmt.Errorf("%w: %s", ErrMissingField, field.name)
		}
	}

	if len(op.CallData) == 0 {
		return fmt.Errorf("%w: callData", ErrMissingField)
	}

	if op.Nonce.Sign() == 0 && len(op.InitCode) == 0 {
		return ErrMissingInitCode
	}
	if op.Nonce.Sign() > 0 && len(op.InitCode) != 0 {
		return ErrUnexpectedInitCode
	}

	if len(op.Signature) == 0 {
		return fmt.Errorf("%w: signature", ErrMissingField)
	}
	if bytes.Equal(op.Signature, DummySignature) {
		return ErrPlaceholderSignature
	}

	return nil
}

// Copy returns a deep copy of the operation.
func (op *UserOperation) Copy() *UserOperation {
	if op == nil {
		return nil
	}

	return &UserOperation{
		Sender:               op.Sender,
		Nonce:                copyBig(op.Nonce),
		InitCode:             common.CopyBytes(op.InitCode),
		CallData:             common.CopyBytes(op.CallData),
		CallGasLimit:         copyBig(op.CallGasLimit),
		VerificationGasLimit: copyBig(op.VerificationGasLimit),
		PreVerificationGas:   copyBig(op.PreVerificationGas),
		MaxFeePerGas:         copyBig(op.MaxFeePerGas),
		MaxPriorityFeePerGas: copyBig(op.MaxPriorityFeePerGas),
		PaymasterAndData:     common.CopyBytes(op.PaymasterAndData),
		Signature:            common.CopyBytes(op.Signature),
	}
}

var (
	address, _ = abi.NewType("address", "", nil)
	uint256, _ = abi.NewType("uint256", "", nil)
	bytes32, _ = abi.NewType("bytes32", "", nil)

	packedArgs = abi.Arguments{
		{Name: "sender", Type: address},
		{Name: "nonce", Type: uint256},
		{Name: "hashInitCode", Type: bytes32},
		{Name: "hashCallData", Type: bytes32},
		{Name: "callGasLimit", Type: uint256},
		{Name: "verificationGasLimit", Type: uint256},
		{Name: "preVerificationGas", Type: uint256},
		{Name: "maxFeePerGas", Type: uint256},
		{Name: "maxPriorityFeePerGas", Type: uint256},
		{Name: "hashPaymasterAndData", Type: bytes32},
	}

	hashArgs = abi.Arguments{
		{Name: "userOpHash", Type: bytes32},
		{Name: "entryPoint", Type: address},
		{Name: "chainId", Type: uint256},
	}
)

// Pack returns the ABI encoding of every field except the signature, with
// the dynamic fields replaced by their keccak256 hashes.
func (op *UserOperation) Pack() []byte {
	packed, err := packedArgs.Pack(
		op.Sender,
		bigOrZero(op.Nonce),
		[32]byte(crypto.Keccak256Hash(op.InitCode)),
		[32]byte(crypto.Keccak256Hash(op.CallData)),
		bigOrZero(op.CallGasLimit),
		bigOrZero(op.VerificationGasLimit),
		bigOrZero(op.PreVerificationGas),
		bigOrZero(op.MaxFeePerGas),
		bigOrZero(op.MaxPriorityFeePerGas),
		[32]byte(crypto.Keccak256Hash(op.PaymasterAndData)),
	)
	if err != nil {
		// static argument list, only reachable through a programming error
		panic(fmt.Sprintf("userop: pack: %v", err))
	}

	return packed
}

// GetUserOpHash returns the hash of the userOp + entryPoint address + chainID.
// This is the value the account owner signs.
func (op *UserOperation) GetUserOpHash(entryPoint common.Address, chainID *big.Int) common.Hash {
	encoded, err := hashArgs.Pack(
		[32]byte(crypto.Keccak256Hash(op.Pack())),
		entryPoint,
		bigOrZero(chainID),
	)
	if err != nil {
		panic(fmt.Sprintf("userop: hash: %v", err))
	}

	return crypto.Keccak256Hash(encoded)
}

func bigOrZero(b *big.Int) *big.Int {
	if b == nil {
		return new(big.Int)
	}
	return b
}

func copyBig(b *big.Int) *big.Int {
	if b == nil {
		return nil
	}
	return new(big.Int).Set(b)
}
