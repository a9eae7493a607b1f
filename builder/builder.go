// Package builder assembles signed UserOperations through an ordered
// middleware pipeline.
package builder

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/blndgs/aawallet/bundler"
	"github.com/blndgs/aawallet/chain"
	"github.com/blndgs/aawallet/contracts"
	"github.com/blndgs/aawallet/signer"
	"github.com/blndgs/aawallet/userop"
)

var logger = logrus.StandardLogger().WithField("module", "builder")

// Provider is the node side of the pipeline.
type Provider interface {
	EntryPointNonce(ctx context.Context, entryPoint, sender common.Address, key *big.Int) (*big.Int, error)
	FeeData(ctx context.Context) (*chain.FeeData, error)
}

// GasEstimator is the bundler side of the pipeline.
type GasEstimator interface {
	EstimateUserOperationGas(ctx context.Context, op *userop.UserOperation) (*bundler.GasEstimate, error)
}

// Sponsor is the paymaster side of the pipeline.
type Sponsor interface {
	SponsorUserOperation(ctx context.Context, op *userop.UserOperation) (*bundler.Sponsorship, error)
}

// Context is the read-only environment shared by every middleware.
type Context struct {
	Signer     signer.Signer
	Provider   Provider
	Bundler    GasEstimator
	Paymaster  Sponsor
	EntryPoint common.Address
	ChainID    *big.Int
}

func (c *Context) validate() error {
	switch {
	case c.Signer == nil:
		return ErrNoSigner
	case c.Provider == nil:
		return ErrNoProvider
	case c.Bundler == nil:
		return ErrNoBundler
	case c.ChainID == nil || c.ChainID.Sign() <= 0:
		return ErrNoChainID
	}
	return nil
}

// Middleware is one pipeline stage. It mutates op in place.
type Middleware struct {
	Stage Stage
	Run   func(ctx context.Context, b *Builder, op *userop.UserOperation) error
}

// Builder builds operations for one smart account.
type Builder struct {
	env         *Context
	sender      common.Address
	initCode    []byte
	sponsored   bool
	gas         GasConfig
	middlewares []Middleware
}

// Option customises a Builder.
type Option func(*Builder)

// WithSponsorship requests paymaster sponsorship for every operation.
func WithSponsorship(enabled bool) Option {
	return func(b *Builder) {
		b.sponsored = enabled
	}
}

// WithGasConfig sets the gas override preference.
func WithGasConfig(cfg GasConfig) Option {
	return func(b *Builder) {
		b.gas = cfg
	}
}

// New returns a builder for the account at sender. initCode deploys the
// account and is attached while the account nonce is zero.
func New(env *Context, sender common.Address, initCode []byte, opts ...Option) (*Builder, error) {
	if env == nil {
		return nil, ErrNoSigner
	}
	if err := env.validate(); err != nil {
		return nil, err
	}
	if sender == (common.Address{}) {
		return nil, ErrNoSender
	}

	b := &Builder{
		env:      env,
		sender:   sender,
		initCode: common.CopyBytes(initCode),
		gas:      DefaultGasConfig(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.sponsored && env.Paymaster == nil {
		return nil, ErrNoPaymaster
	}

	b.middlewares = []Middleware{
		{Stage: StageDefaults, Run: setDefaults},
		{Stage: StageNonce, Run: resolveNonce},
		{Stage: StageGasPrice, Run: setGasPrice},
		{Stage: StageGasLimits, Run: setGasLimits},
		{Stage: StageGasOverrides, Run: applyGasOverrides},
		{Stage: StageSignature, Run: sign},
	}

	return b, nil
}

// Sender returns the smart account address.
func (b *Builder) Sender() common.Address {
	return b.sender
}

// InitCode returns a copy of the account deployment code.
func (b *Builder) InitCode() []byte {
	return common.CopyBytes(b.initCode)
}

// Sponsored reports whether operations are sponsored by a paymaster.
func (b *Builder) Sponsored() bool {
	return b.sponsored
}

// Build returns a signed operation executing a single call from the account.
func (b *Builder) Build(ctx context.Context, target common.Address, value *big.Int, callData []byte) (*userop.UserOperation, error) {
	data, err := contracts.ExecuteCallData(target, value, callData)
	if err != nil {
		return nil, &BuildError{Stage: StageCallData, Err: err}
	}
	return b.run(ctx, data)
}

// BuildBatch returns a signed operation executing every call in order.
func (b *Builder) BuildBatch(ctx context.Context, targets []common.Address, callDatas [][]byte) (*userop.UserOperation, error) {
	data, err := contracts.ExecuteBatchCallData(targets, callDatas)
	if err != nil {
		return nil, &BuildError{Stage: StageCallData, Err: err}
	}
	return b.run(ctx, data)
}

func (b *Builder) run(ctx context.Context, callData []byte) (*userop.UserOperation, error) {
	op := &userop.UserOperation{CallData: callData}

	for _, mw := range b.middlewares {
		if err := ctx.Err(); err != nil {
			return nil, &BuildError{Stage: mw.Stage, Err: err}
		}
		if err := mw.Run(ctx, b, op); err != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"stage":  mw.Stage,
				"sender": b.sender.Hex(),
			}).Warn("user operation build failed")
			return nil, &BuildError{Stage: mw.Stage, Err: err}
		}
	}

	if err := op.CheckComplete(); err != nil {
		return nil, &BuildError{Stage: StageValidate, Err: err}
	}

	logger.WithFields(logrus.Fields{
		"sender":    op.Sender.Hex(),
		"nonce":     op.Nonce.String(),
		"sponsored": op.IsSponsored(),
	}).Debug("user operation built")

	return op, nil
}

func setDefaults(_ context.Context, b *Builder, op *userop.UserOperation) error {
	op.Sender = b.sender
	op.Nonce = new(big.Int)
	op.InitCode = nil
	op.CallGasLimit = new(big.Int)
	op.VerificationGasLimit = new(big.Int)
	op.PreVerificationGas = new(big.Int)
	op.MaxFeePerGas = new(big.Int)
	op.MaxPriorityFeePerGas = new(big.Int)
	op.PaymasterAndData = []byte{}
	op.Signature = common.CopyBytes(userop.DummySignature)
	return nil
}

func resolveNonce(ctx context.Context, b *Builder, op *userop.UserOperation) error {
	nonce, err := b.env.Provider.EntryPointNonce(ctx, b.env.EntryPoint, b.sender, new(big.Int))
	if err != nil {
		return err
	}
	op.Nonce = nonce

	if nonce.Sign() == 0 {
		if len(b.initCode) == 0 {
			return ErrNoInitCode
		}
		op.InitCode = common.CopyBytes(b.initCode)
	} else {
		op.InitCode = []byte{}
	}
	return nil
}

func setGasPrice(ctx context.Context, b *Builder, op *userop.UserOperation) error {
	fees, err := b.env.Provider.FeeData(ctx)
	if err != nil {
		return err
	}
	op.MaxFeePerGas = new(big.Int).Set(fees.MaxFeePerGas)
	op.MaxPriorityFeePerGas = new(big.Int).Set(fees.MaxPriorityFeePerGas)
	return nil
}

func setGasLimits(ctx context.Context, b *Builder, op *userop.UserOperation) error {
	if b.sponsored {
		sponsorship, err := b.env.Paymaster.SponsorUserOperation(ctx, op)
		if err != nil {
			return err
		}
		if sponsorship.CallGasLimit == nil || sponsorship.VerificationGasLimit == nil || sponsorship.PreVerificationGas == nil {
			return ErrIncompleteSponsorship
		}
		op.PaymasterAndData = common.CopyBytes(sponsorship.PaymasterAndData)
		op.CallGasLimit = sponsorship.CallGasLimit.Big()
		op.VerificationGasLimit = sponsorship.VerificationGasLimit.Big()
		op.PreVerificationGas = sponsorship.PreVerificationGas.Big()
		return nil
	}

	estimate, err := b.env.Bundler.EstimateUserOperationGas(ctx, op)
	if err != nil {
		return err
	}
	op.CallGasLimit = estimate.CallGasLimit.Big()
	op.VerificationGasLimit = estimate.VerificationGasLimit.Big()
	op.PreVerificationGas = estimate.PreVerificationGas.Big()
	return nil
}

// applyGasOverrides never fails; rejected overrides are logged by the gas
// config and the pipeline values stand. Sponsored operations are left
// untouched since the paymaster signature covers every gas field.
func applyGasOverrides(_ context.Context, b *Builder, op *userop.UserOperation) error {
	if op.IsSponsored() {
		if b.gas.Mode == GasModeManual {
			logger.WithField("sender", b.sender.Hex()).Info("gas overrides skipped for sponsored operation")
		}
		return nil
	}

	b.gas.Apply(op)
	return nil
}

func sign(ctx context.Context, b *Builder, op *userop.UserOperation) error {
	hash := op.GetUserOpHash(b.env.EntryPoint, b.env.ChainID)
	signature, err := b.env.Signer.SignMessage(ctx, hash.Bytes())
	if err != nil {
		return err
	}
	op.Signature = signature
	return nil
}
