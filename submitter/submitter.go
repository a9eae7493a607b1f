// Package submitter hands signed operations to the bundler and waits for
// their inclusion.
package submitter

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/blndgs/aawallet/bundler"
	"github.com/blndgs/aawallet/userop"
)

var logger = logrus.StandardLogger().WithField("module", "submitter")

// Bundler is the subset of the bundler client used for submission.
type Bundler interface {
	SendUserOperation(ctx context.Context, op *userop.UserOperation) (common.Hash, error)
	GetUserOperationReceipt(ctx context.Context, hash common.Hash) (*bundler.Receipt, error)
}

// Config controls receipt polling.
type Config struct {
	ReceiptTimeout  time.Duration
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	BackoffFactor   float64
}

// DefaultConfig polls every second at first, backing off by 1.5x up to
// five seconds, for at most one minute.
func DefaultConfig() Config {
	return Config{
		ReceiptTimeout:  time.Minute,
		PollInterval:    time.Second,
		MaxPollInterval: 5 * time.Second,
		BackoffFactor:   1.5,
	}
}

func (c *Config) normalize() {
	defaults := DefaultConfig()
	if c.ReceiptTimeout <= 0 {
		c.ReceiptTimeout = defaults.ReceiptTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.MaxPollInterval < c.PollInterval {
		c.MaxPollInterval = c.PollInterval
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = defaults.BackoffFactor
	}
}

// Result is the outcome of an accepted submission.
type Result struct {
	UserOpHash common.Hash
	TxHash     common.Hash
	Accepted   bool
	Receipt    *bundler.Receipt
	Err        error
}

// Submitter sends operations and confirms them.
type Submitter struct {
	bundler Bundler
	config  Config
}

func New(b Bundler, config Config) *Submitter {
	config.normalize()
	return &Submitter{
		bundler: b,
		config:  config,
	}
}

// Submit sends op and waits for it to be included. A refused submission is
// returned as a *SubmissionError. Once the bundler accepted the operation
// the error is nil and failures are reported through Result.Accepted and
// Result.Err as a *ConfirmationError.
func (s *Submitter) Submit(ctx context.Context, op *userop.UserOperation) (*Result, error) {
	if op == nil {
		return nil, &SubmissionError{Err: userop.ErrNilOperation}
	}
	if err := op.CheckComplete(); err != nil {
		return nil, &SubmissionError{Sender: op.Sender, Err: err}
	}

	hash, err := s.bundler.SendUserOperation(ctx, op)
	if err != nil {
		logger.WithError(err).WithField("sender", op.Sender.Hex()).Warn("bundler rejected user operation")
		return nil, &SubmissionError{Sender: op.Sender, Err: err}
	}

	log := logger.WithFields(logrus.Fields{
		"sender":     op.Sender.Hex(),
		"userOpHash": hash.Hex(),
	})
	log.Info("user operation submitted")

	result := &Result{UserOpHash: hash}

	if _, err := s.waitForReceipt(ctx, hash); err != nil {
		log.WithError(err).Warn("user operation not confirmed")
		result.Err = &ConfirmationError{UserOpHash: hash, Err: err}
		return result, nil
	}

	receipt, err := s.bundler.GetUserOperationReceipt(ctx, hash)
	if err == nil && receipt == nil {
		err = ErrReceiptMissing
	}
	if err != nil {
		log.WithError(err).Warn("user operation status query failed")
		result.Err = &ConfirmationError{UserOpHash: hash, Err: err}
		return result, nil
	}

	result.Receipt = receipt
	result.TxHash = receipt.TxHash()
	result.Accepted = receipt.Success
	if !receipt.Success {
		reverted := ErrExecutionReverted
		if receipt.Reason != "" {
			reverted = fmt.Errorf("%w: %s", ErrExecutionReverted, receipt.Reason)
		}
		result.Err = &ConfirmationError{UserOpHash: hash, Err: reverted}
		log.WithField("txHash", result.TxHash.Hex()).Warn("user operation reverted")
		return result, nil
	}

	log.WithField("txHash", result.TxHash.Hex()).Info("user operation confirmed")
	return result, nil
}

// waitForReceipt polls with exponential backoff until a receipt appears.
// Poll errors are treated as transient.
func (s *Submitter) waitForReceipt(ctx context.Context, hash common.Hash) (*bundler.Receipt, error) {
	deadline := time.Now().Add(s.config.ReceiptTimeout)
	interval := s.config.PollInterval
	attempt := 0

	for {
		attempt++

		receipt, err := s.bundler.GetUserOperationReceipt(ctx, hash)
		if err != nil {
			logger.WithError(err).WithField("attempt", attempt).Debug("receipt poll failed")
		} else if receipt != nil {
			return receipt, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w after %d attempts", ErrReceiptTimeout, attempt)
		}
		wait := interval
		if wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		interval = time.Duration(float64(interval) * s.config.BackoffFactor)
		if interval > s.config.MaxPollInterval {
			interval = s.config.MaxPollInterval
		}
	}
}
