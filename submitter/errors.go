package submitter

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrReceiptTimeout is returned when no receipt shows up before the
	// configured timeout. The operation may still be included later.
	ErrReceiptTimeout = errors.New("timed out waiting for user operation receipt")
	// ErrReceiptMissing is returned when the confirming status query finds
	// no receipt for an operation that was already seen as included.
	ErrReceiptMissing = errors.New("user operation receipt not found")
	// ErrExecutionReverted is returned when the operation was included but
	// its call reverted.
	ErrExecutionReverted = errors.New("user operation execution reverted")
)

// SubmissionError is returned when the bundler refused the operation.
type SubmissionError struct {
	Sender common.Address
	Err    error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("failed to submit user operation from %v: %v", e.Sender.Hex(), e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// ConfirmationError is reported in Result.Err when an accepted submission
// could not be confirmed as successful.
type ConfirmationError struct {
	UserOpHash common.Hash
	Err        error
}

func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("user operation %v not confirmed: %v", e.UserOpHash.Hex(), e.Err)
}

func (e *ConfirmationError) Unwrap() error {
	return e.Err
}
