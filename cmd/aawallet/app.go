package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/blndgs/aawallet/account"
	"github.com/blndgs/aawallet/builder"
	"github.com/blndgs/aawallet/bundler"
	"github.com/blndgs/aawallet/chain"
	"github.com/blndgs/aawallet/config"
	"github.com/blndgs/aawallet/consolidation"
	"github.com/blndgs/aawallet/metrics"
	"github.com/blndgs/aawallet/registry"
	"github.com/blndgs/aawallet/signer"
	"github.com/blndgs/aawallet/storage"
	"github.com/blndgs/aawallet/submitter"
	"github.com/blndgs/aawallet/wallet"
)

// app holds every wired collaborator of one CLI invocation.
type app struct {
	cfg           *config.Config
	chain         *chain.Client
	bundler       *bundler.Client
	paymaster     *bundler.PaymasterClient
	store         storage.Store
	signer        *signer.KeySigner
	registry      *registry.Registry
	submitter     *submitter.Submitter
	consolidation *consolidation.Service
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if cfg.Signer.PrivateKey == "" {
		return nil, fmt.Errorf("missing signer key: set %s_SIGNER_PRIVATEKEY", config.EnvPrefix)
	}
	a.signer, err = signer.NewKeySignerFromHex(cfg.Signer.PrivateKey)
	if err != nil {
		return nil, err
	}

	a.chain = chain.NewClient(cfg.Chain.RPCURL, cfg.Chain.Headers, cfg.Chain.ReadsPerSecond, cfg.Chain.ReadBurst)
	if err = a.chain.Initialize(ctx); err != nil {
		return nil, err
	}
	chainID, err := a.chain.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	if chainID.Cmp(cfg.ChainID()) != 0 {
		return nil, fmt.Errorf("rpc reports chain %v but config expects %v", chainID, cfg.ChainID())
	}

	a.bundler, err = bundler.Dial(ctx, cfg.Bundler.URL, cfg.EntryPoint())
	if err != nil {
		return nil, err
	}

	env := &builder.Context{
		Signer:     a.signer,
		Provider:   a.chain,
		Bundler:    a.bundler,
		EntryPoint: cfg.EntryPoint(),
		ChainID:    cfg.ChainID(),
	}
	if cfg.Paymaster.Enabled {
		a.paymaster, err = bundler.DialPaymaster(ctx, cfg.Paymaster.URL, cfg.EntryPoint(), cfg.Paymaster.Context)
		if err != nil {
			return nil, err
		}
		env.Paymaster = a.paymaster
	}

	a.store, err = storage.Open(ctx, cfg.StorageConfig())
	if err != nil {
		return nil, err
	}

	resolver := account.NewResolver(a.chain, cfg.EntryPoint(), cfg.Resolver.CacheSizeMB*1024*1024)
	a.registry = registry.New(registry.Config{
		Store:    a.store,
		Resolver: resolver,
		Factory:  cfg.Factory(),
		ChainID:  cfg.ChainID(),
		Instances: registry.NewBuilderFactory(env, cfg.Factory(),
			builder.WithSponsorship(cfg.Paymaster.Enabled),
			builder.WithGasConfig(cfg.BuilderGasConfig()),
		),
	})
	auth := registry.AuthContext{Owner: a.signer.Address(), AuthMethod: cfg.Auth.Method}
	if err = a.registry.Load(ctx, auth); err != nil {
		return nil, err
	}

	a.submitter = submitter.New(a.bundler, cfg.SubmitterConfig())

	plannerCfg, err := cfg.PlannerConfig()
	if err != nil {
		return nil, err
	}
	executor := consolidation.NewExecutor(consolidation.ExecutorConfig{
		Signer:    a.signer,
		Submitter: a.submitter,
		Instances: a.instanceSource,
		Observer:  logProgress,
		Metrics:   metrics.NewConsolidation(),
	})
	a.consolidation = consolidation.NewService(a.registry, cfg.TokenList(), consolidation.NewPlanner(a.chain, plannerCfg), executor)

	logrus.WithFields(logrus.Fields{
		"owner":     a.signer.Address().Hex(),
		"chainId":   chainID.String(),
		"sponsored": cfg.Paymaster.Enabled,
	}).Info("wallet ready")
	return a, nil
}

// instanceSource adapts the registry to the executor. A nil builder must
// not be returned as a non-nil interface.
func (a *app) instanceSource(ctx context.Context, acct registry.Account) (consolidation.OperationBuilder, error) {
	b, err := a.registry.Instance(ctx, acct.ID)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// wallet returns a wallet for the account with id, the active one when id
// is empty.
func (a *app) wallet(ctx context.Context, id string) (*wallet.Wallet, registry.Account, error) {
	if id == "" {
		active, err := a.registry.ActiveAccount()
		if err != nil {
			return nil, registry.Account{}, err
		}
		id = active.ID
	}
	acct, err := a.registry.Account(id)
	if err != nil {
		return nil, registry.Account{}, err
	}
	b, err := a.registry.Instance(ctx, id)
	if err != nil {
		return nil, registry.Account{}, err
	}
	return wallet.New(b, a.submitter), acct, nil
}

// token resolves a symbol or address. An empty value or the native symbol
// selects the native currency.
func (a *app) token(ctx context.Context, value string) (consolidation.Token, error) {
	if value == "" || value == consolidation.NativeSymbol {
		return consolidation.Token{Symbol: consolidation.NativeSymbol, Address: wallet.NativeToken, Decimals: 18}, nil
	}
	if t, ok := a.cfg.Token(value); ok {
		return t, nil
	}
	if !common.IsHexAddress(value) {
		return consolidation.Token{}, fmt.Errorf("unknown token %q", value)
	}
	address := common.HexToAddress(value)
	decimals, err := a.chain.TokenDecimals(ctx, address)
	if err != nil {
		return consolidation.Token{}, fmt.Errorf("failed to read decimals of %v: %w", address.Hex(), err)
	}
	return consolidation.Token{Symbol: address.Hex(), Address: address, Decimals: decimals}, nil
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logrus.WithError(err).Warn("failed to close account store")
		}
	}
	if a.paymaster != nil {
		a.paymaster.Close()
	}
	if a.bundler != nil {
		a.bundler.Close()
	}
	if a.chain != nil {
		a.chain.Close()
	}
}

func logProgress(p *consolidation.Progress) {
	for _, acct := range p.Accounts {
		for _, t := range acct.Transfers {
			if !t.Status.Terminal() {
				continue
			}
			logrus.WithFields(logrus.Fields{
				"account": acct.Account.Name,
				"symbol":  t.Symbol,
				"status":  t.Status,
				"txHash":  t.TxHash,
				"error":   t.Error,
			}).Debug("consolidation transfer settled")
		}
	}
}

// withApp loads the config, wires the app and runs fn.
func withApp(ctx context.Context, cfg *config.Config, fn func(*app) error) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
