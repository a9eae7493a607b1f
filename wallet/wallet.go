// Package wallet sends funds from the active smart account.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/blndgs/aawallet/contracts"
	"github.com/blndgs/aawallet/submitter"
	"github.com/blndgs/aawallet/userop"
)

var logger = logrus.StandardLogger().WithField("module", "wallet")

var (
	ErrZeroRecipient = errors.New("recipient is the zero address")
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrNoRecipients  = errors.New("no recipients")
	ErrNativeBatch   = errors.New("native currency cannot be sent to several recipients in one operation")
	ErrNativeApprove = errors.New("native currency has no allowance")
	ErrNoOperation   = errors.New("no user operation builder")
	ErrNoSubmitter   = errors.New("no user operation submitter")
)

// NativeToken is the token address used for the chain's native currency.
var NativeToken = common.Address{}

// OperationBuilder builds signed user operations for one account.
type OperationBuilder interface {
	Build(ctx context.Context, target common.Address, value *big.Int, callData []byte) (*userop.UserOperation, error)
	BuildBatch(ctx context.Context, targets []common.Address, callDatas [][]byte) (*userop.UserOperation, error)
}

// Submitter submits and confirms user operations.
type Submitter interface {
	Submit(ctx context.Context, op *userop.UserOperation) (*submitter.Result, error)
}

// Recipient is one leg of a multi-send.
type Recipient struct {
	To     common.Address `json:"to"`
	Amount *big.Int       `json:"amount"`
}

// Wallet sends operations from a single smart account.
type Wallet struct {
	builder   OperationBuilder
	submitter Submitter
}

func New(b OperationBuilder, s Submitter) *Wallet {
	return &Wallet{builder: b, submitter: s}
}

// Transfer sends amount of token to to. Use NativeToken for the native
// currency.
func (w *Wallet) Transfer(ctx context.Context, token, to common.Address, amount *big.Int) (*submitter.Result, error) {
	if err := validateRecipient(Recipient{To: to, Amount: amount}); err != nil {
		return nil, err
	}

	log := logger.WithFields(logrus.Fields{
		"token":  token.Hex(),
		"to":     to.Hex(),
		"amount": amount.String(),
	})

	if token == NativeToken {
		return w.send(ctx, log, func(ctx context.Context) (*userop.UserOperation, error) {
			return w.builder.Build(ctx, to, amount, nil)
		})
	}

	callData, err := contracts.TransferCallData(to, amount)
	if err != nil {
		return nil, err
	}
	return w.send(ctx, log, func(ctx context.Context) (*userop.UserOperation, error) {
		return w.builder.Build(ctx, token, new(big.Int), callData)
	})
}

// MultiSend pays every recipient in a single batched operation. Token
// transfers are batched through executeBatch, which carries no value, so a
// native multi-send is limited to one recipient.
func (w *Wallet) MultiSend(ctx context.Context, token common.Address, recipients []Recipient) (*submitter.Result, error) {
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}
	for i, r := range recipients {
		if err := validateRecipient(r); err != nil {
			return nil, fmt.Errorf("recipient %d: %w", i, err)
		}
	}

	if token == NativeToken {
		if len(recipients) > 1 {
			return nil, ErrNativeBatch
		}
		return w.Transfer(ctx, token, recipients[0].To, recipients[0].Amount)
	}

	targets := make([]common.Address, len(recipients))
	callDatas := make([][]byte, len(recipients))
	total := new(big.Int)
	for i, r := range recipients {
		data, err := contracts.TransferCallData(r.To, r.Amount)
		if err != nil {
			return nil, err
		}
		targets[i] = token
		callDatas[i] = data
		total.Add(total, r.Amount)
	}

	log := logger.WithFields(logrus.Fields{
		"token":      token.Hex(),
		"recipients": len(recipients),
		"total":      total.String(),
	})
	return w.send(ctx, log, func(ctx context.Context) (*userop.UserOperation, error) {
		return w.builder.BuildBatch(ctx, targets, callDatas)
	})
}

// Approve sets the ERC-20 allowance of spender.
func (w *Wallet) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (*submitter.Result, error) {
	if token == NativeToken {
		return nil, ErrNativeApprove
	}
	if spender == (common.Address{}) {
		return nil, ErrZeroRecipient
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}

	callData, err := contracts.ApproveCallData(spender, amount)
	if err != nil {
		return nil, err
	}

	log := logger.WithFields(logrus.Fields{
		"token":   token.Hex(),
		"spender": spender.Hex(),
		"amount":  amount.String(),
	})
	return w.send(ctx, log, func(ctx context.Context) (*userop.UserOperation, error) {
		return w.builder.Build(ctx, token, new(big.Int), callData)
	})
}

// send builds and submits one operation. A result that was accepted by the
// bundler but not confirmed is returned together with its confirmation
// error.
func (w *Wallet) send(ctx context.Context, log *logrus.Entry, build func(context.Context) (*userop.UserOperation, error)) (*submitter.Result, error) {
	if w.builder == nil {
		return nil, ErrNoOperation
	}
	if w.submitter == nil {
		return nil, ErrNoSubmitter
	}

	op, err := build(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to build user operation")
		return nil, err
	}

	result, err := w.submitter.Submit(ctx, op)
	if err != nil {
		return nil, err
	}
	if !result.Accepted {
		if result.Err == nil {
			result.Err = &submitter.ConfirmationError{UserOpHash: result.UserOpHash, Err: submitter.ErrReceiptMissing}
		}
		return result, result.Err
	}

	log.WithField("txHash", result.TxHash.Hex()).Info("transfer confirmed")
	return result, nil
}

func validateRecipient(r Recipient) error {
	if r.To == (common.Address{}) {
		return ErrZeroRecipient
	}
	if r.Amount == nil || r.Amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
