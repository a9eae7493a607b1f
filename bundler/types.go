package bundler

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// GasEstimate is the result of eth_estimateUserOperationGas.
type GasEstimate struct {
	PreVerificationGas   *Quantity `json:"preVerificationGas"`
	VerificationGasLimit *Quantity `json:"verificationGasLimit"`
	CallGasLimit         *Quantity `json:"callGasLimit"`
}

// Sponsorship is the result of pm_sponsorUserOperation. The paymaster
// signature covers the gas limits, so a builder rejects a response that
// omits any of them.
type Sponsorship struct {
	PaymasterAndData     hexutil.Bytes `json:"paymasterAndData"`
	PreVerificationGas   *Quantity     `json:"preVerificationGas,omitempty"`
	VerificationGasLimit *Quantity     `json:"verificationGasLimit,omitempty"`
	CallGasLimit         *Quantity     `json:"callGasLimit,omitempty"`
}

// TransactionReceipt is the subset of the bundle transaction receipt
// embedded in a user operation receipt.
type TransactionReceipt struct {
	TransactionHash common.Hash `json:"transactionHash"`
	BlockHash       common.Hash `json:"blockHash"`
	BlockNumber     *Quantity   `json:"blockNumber"`
	GasUsed         *Quantity   `json:"gasUsed"`
	Status          *Quantity   `json:"status"`
}

// Receipt is the result of eth_getUserOperationReceipt.
type Receipt struct {
	UserOpHash    common.Hash        `json:"userOpHash"`
	EntryPoint    common.Address     `json:"entryPoint"`
	Sender        common.Address     `json:"sender"`
	Nonce         *Quantity          `json:"nonce"`
	Paymaster     common.Address     `json:"paymaster"`
	ActualGasCost *Quantity          `json:"actualGasCost"`
	ActualGasUsed *Quantity          `json:"actualGasUsed"`
	Success       bool               `json:"success"`
	Reason        string             `json:"reason,omitempty"`
	Receipt       TransactionReceipt `json:"receipt"`
}

// TxHash returns the hash of the bundle transaction that included the operation.
func (r *Receipt) TxHash() common.Hash {
	return r.Receipt.TransactionHash
}

// GasCost returns the actual gas cost paid for the operation in wei.
func (r *Receipt) GasCost() *big.Int {
	if r.ActualGasCost == nil {
		return new(big.Int)
	}
	return r.ActualGasCost.Big()
}
