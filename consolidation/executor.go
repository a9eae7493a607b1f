package consolidation

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/blndgs/aawallet/contracts"
	"github.com/blndgs/aawallet/metrics"
	"github.com/blndgs/aawallet/registry"
	"github.com/blndgs/aawallet/signer"
	"github.com/blndgs/aawallet/submitter"
	"github.com/blndgs/aawallet/userop"
)

// ReasonInstanceUnavailable is recorded for every transfer of an account
// whose builder could not be obtained.
const ReasonInstanceUnavailable = "account instance not available"

var (
	ErrAlreadyRunning       = errors.New("consolidation already running")
	ErrNilPlan              = errors.New("consolidation plan is nil")
	ErrNothingToConsolidate = errors.New("consolidation plan has no transfers")
	ErrNoSigner             = errors.New("no signer configured")
	ErrNoSubmitter          = errors.New("no submitter configured")
	ErrNoInstanceSource     = errors.New("no account instance source configured")
)

// OperationBuilder builds a single-call user operation for one sender.
type OperationBuilder interface {
	Build(ctx context.Context, target common.Address, value *big.Int, callData []byte) (*userop.UserOperation, error)
}

// OperationSubmitter submits and confirms user operations.
type OperationSubmitter interface {
	Submit(ctx context.Context, op *userop.UserOperation) (*submitter.Result, error)
}

// InstanceSource returns the builder for a source account.
type InstanceSource func(ctx context.Context, acct registry.Account) (OperationBuilder, error)

// Observer receives a snapshot after every ledger change.
type Observer func(*Progress)

// ExecutorConfig wires an Executor.
type ExecutorConfig struct {
	Signer    signer.Signer
	Submitter OperationSubmitter
	Instances InstanceSource
	Observer  Observer
	Metrics   *metrics.Consolidation
}

// Summary counts the terminal transfers of a run.
type Summary struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Executor runs consolidation plans one account and one transfer at a time.
type Executor struct {
	signer    signer.Signer
	submitter OperationSubmitter
	instances InstanceSource
	observer  Observer
	metrics   *metrics.Consolidation

	mu       sync.Mutex
	running  bool
	progress *Progress
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	return &Executor{
		signer:    cfg.Signer,
		submitter: cfg.Submitter,
		instances: cfg.Instances,
		observer:  cfg.Observer,
		metrics:   cfg.Metrics,
	}
}

// Running reports whether a run is in progress.
func (e *Executor) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Progress returns a snapshot of the ledger, nil before the first run.
func (e *Executor) Progress() *Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progress.clone()
}

// Clear drops the ledger of a finished run. On-chain transfers are not
// affected.
func (e *Executor) Clear() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrAlreadyRunning
	}
	e.progress = nil
	return nil
}

// Execute runs plan and blocks until every transfer is completed or failed.
// Errors are only returned for preconditions, before any ledger entry is
// created. Individual transfer failures are recorded in the ledger.
func (e *Executor) Execute(ctx context.Context, plan *Plan) (Summary, error) {
	if err := e.start(plan); err != nil {
		return Summary{}, err
	}
	return e.run(ctx, plan), nil
}

// Start checks the preconditions and seeds the ledger like Execute, then
// runs the plan in the background. The channel receives the summary once
// the run settles.
func (e *Executor) Start(ctx context.Context, plan *Plan) (<-chan Summary, error) {
	if err := e.start(plan); err != nil {
		return nil, err
	}
	done := make(chan Summary, 1)
	go func() {
		done <- e.run(ctx, plan)
	}()
	return done, nil
}

func (e *Executor) run(ctx context.Context, plan *Plan) Summary {
	e.notify()

	to := plan.ToAccount.Address
	log := logger.WithFields(logrus.Fields{
		"owner": e.signer.Address().Hex(),
		"to":    to.Hex(),
	})
	log.WithField("transfers", plan.TotalTransfers).Info("consolidation started")

	ai := 0
	for _, ab := range plan.FromAccounts {
		if ab.TransferCount() == 0 {
			continue
		}
		e.runAccount(ctx, ai, ab, to)
		ai++
	}

	summary := e.finish()
	outcome := "completed"
	switch {
	case summary.Completed == 0:
		outcome = "failed"
	case summary.Failed > 0:
		outcome = "partial"
	}
	if e.metrics != nil {
		e.metrics.ObserveRun(outcome)
	}
	log.WithFields(logrus.Fields{
		"completed": summary.Completed,
		"failed":    summary.Failed,
	}).Info("consolidation finished")
	e.notify()
	return summary
}

func (e *Executor) start(plan *Plan) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.running:
		return ErrAlreadyRunning
	case e.signer == nil:
		return ErrNoSigner
	case e.submitter == nil:
		return ErrNoSubmitter
	case e.instances == nil:
		return ErrNoInstanceSource
	case plan == nil:
		return ErrNilPlan
	case plan.TotalTransfers == 0:
		return ErrNothingToConsolidate
	}

	e.running = true
	e.progress = seedProgress(plan)
	return nil
}

func (e *Executor) finish() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now().UTC()
	e.progress.FinishedAt = &now
	e.running = false
	return Summary{Completed: e.progress.Completed, Failed: e.progress.Failed}
}

func (e *Executor) runAccount(ctx context.Context, ai int, ab AccountTokenBalances, to common.Address) {
	log := logger.WithField("account", ab.Account.Address.Hex())

	instance, err := e.instances(ctx, ab.Account)
	if err == nil && instance == nil {
		err = registry.ErrInstanceUnavailable
	}
	if err != nil {
		log.WithError(err).Warn("skipping account without builder instance")
		for ti := range e.transfers(ai) {
			e.update(ai, ti, StatusFailed, "", ReasonInstanceUnavailable)
		}
		return
	}

	ti := 0
	for _, tb := range ab.TokenTransfers() {
		e.update(ai, ti, StatusProcessing, "", "")
		callData, err := contracts.TransferCallData(to, tb.Balance)
		if err != nil {
			e.update(ai, ti, StatusFailed, "", err.Error())
			ti++
			continue
		}
		e.transfer(ctx, log.WithField("token", tb.Token.Symbol), ai, ti, instance, tb.Token.Address, new(big.Int), callData)
		ti++
	}

	if ab.HasNativeTransfer() {
		e.update(ai, ti, StatusProcessing, "", "")
		e.transfer(ctx, log.WithField("token", NativeSymbol), ai, ti, instance, to, ab.NativeTransfer, nil)
	}
}

func (e *Executor) transfer(ctx context.Context, log *logrus.Entry, ai, ti int, instance OperationBuilder,
	target common.Address, value *big.Int, callData []byte) {
	op, err := instance.Build(ctx, target, value, callData)
	if err != nil {
		log.WithError(err).Warn("transfer build failed")
		e.update(ai, ti, StatusFailed, "", err.Error())
		return
	}

	result, err := e.submitter.Submit(ctx, op)
	if err == nil && result == nil {
		err = submitter.ErrReceiptMissing
	}
	if err != nil {
		log.WithError(err).Warn("transfer submission failed")
		e.update(ai, ti, StatusFailed, "", err.Error())
		return
	}

	txHash := ""
	if result.TxHash != (common.Hash{}) {
		txHash = result.TxHash.Hex()
	}
	if !result.Accepted {
		reason := "user operation not confirmed"
		if result.Err != nil {
			reason = result.Err.Error()
		}
		log.WithField("userOpHash", result.UserOpHash.Hex()).Warn("transfer not confirmed")
		e.update(ai, ti, StatusFailed, txHash, reason)
		return
	}

	log.WithField("txHash", txHash).Info("transfer completed")
	e.update(ai, ti, StatusCompleted, txHash, "")
}

func (e *Executor) transfers(ai int) []TransferRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]TransferRecord(nil), e.progress.Accounts[ai].Transfers...)
}

// update moves one record forward. Backward or repeated terminal
// transitions are ignored.
func (e *Executor) update(ai, ti int, status Status, txHash, reason string) {
	e.mu.Lock()
	rec := &e.progress.Accounts[ai].Transfers[ti]
	if status.rank() <= rec.Status.rank() {
		e.mu.Unlock()
		return
	}
	rec.Status = status
	if txHash != "" {
		rec.TxHash = txHash
	}
	if reason != "" {
		rec.Error = reason
	}
	switch status {
	case StatusCompleted:
		e.progress.Completed++
	case StatusFailed:
		e.progress.Failed++
	}
	kind := rec.Kind
	e.mu.Unlock()

	if status.Terminal() && e.metrics != nil {
		e.metrics.ObserveTransfer(string(kind), string(status))
	}
	e.notify()
}

func (e *Executor) notify() {
	if e.observer == nil {
		return
	}
	if snapshot := e.Progress(); snapshot != nil {
		e.observer(snapshot)
	}
}
