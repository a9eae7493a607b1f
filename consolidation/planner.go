package consolidation

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/blndgs/aawallet/registry"
	"github.com/blndgs/aawallet/units"
)

// DefaultReserve is kept back in every source account to pay for its own
// transfers: 0.001 ETH.
var DefaultReserve = big.NewInt(1_000_000_000_000_000)

const defaultScanConcurrency = 8

var ErrNoPrimary = errors.New("no primary account to consolidate into")

// BalanceReader reads on-chain balances.
type BalanceReader interface {
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

// PlannerConfig configures a Planner.
type PlannerConfig struct {
	// Reserve is the native amount left in each source account.
	Reserve *big.Int
	// Concurrency bounds the number of balance reads in flight.
	Concurrency int
}

// Planner scans source accounts and produces a Plan.
type Planner struct {
	reader      BalanceReader
	reserve     *big.Int
	concurrency int
}

func NewPlanner(reader BalanceReader, cfg PlannerConfig) *Planner {
	p := &Planner{
		reader:      reader,
		reserve:     DefaultReserve,
		concurrency: defaultScanConcurrency,
	}
	if cfg.Reserve != nil && cfg.Reserve.Sign() >= 0 {
		p.reserve = new(big.Int).Set(cfg.Reserve)
	}
	if cfg.Concurrency > 0 {
		p.concurrency = cfg.Concurrency
	}
	return p
}

// Reserve returns the configured native reserve in wei.
func (p *Planner) Reserve() *big.Int {
	return new(big.Int).Set(p.reserve)
}

// Scan reads the balances of every account except the first, which is the
// consolidation target. Failed reads are logged and counted as zero.
func (p *Planner) Scan(ctx context.Context, accounts []registry.Account, tokens []Token) (*Plan, error) {
	if len(accounts) == 0 {
		return nil, ErrNoPrimary
	}

	sources := accounts[1:]
	balances := make([]AccountTokenBalances, len(sources))
	for i, acct := range sources {
		balances[i] = AccountTokenBalances{
			Account:        acct,
			Native:         new(big.Int),
			NativeTransfer: new(big.Int),
			Tokens:         make([]TokenBalance, len(tokens)),
		}
		for j, token := range tokens {
			balances[i].Tokens[j] = TokenBalance{Token: token, Balance: new(big.Int)}
		}
	}

	// Each goroutine writes to its own slot so no locking is needed.
	nativeFailed := make([]bool, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i := range sources {
		address := sources[i].Address
		g.Go(func() error {
			balance, err := p.reader.BalanceAt(gctx, address)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.WithError(err).WithField("account", address.Hex()).Warn("native balance read failed")
				nativeFailed[i] = true
				return nil
			}
			if balance != nil {
				balances[i].Native = balance
			}
			return nil
		})
		for j := range tokens {
			token := tokens[j]
			g.Go(func() error {
				balance, err := p.reader.TokenBalance(gctx, token.Address, address)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					logger.WithError(err).WithFields(logrus.Fields{
						"account": address.Hex(),
						"token":   token.Symbol,
					}).Warn("token balance read failed")
					return nil
				}
				if balance != nil && balance.Sign() > 0 {
					balances[i].Tokens[j].Balance = balance
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	plan := &Plan{
		FromAccounts: balances,
		ToAccount:    accounts[0],
		Warnings:     []string{},
		ScannedAt:    time.Now().UTC(),
	}
	for i := range plan.FromAccounts {
		ab := &plan.FromAccounts[i]
		switch {
		case nativeFailed[i]:
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("%s: native balance unavailable, skipping %s", ab.Account.Name, NativeSymbol))
		case ab.Native.Cmp(p.reserve) > 0:
			ab.NativeTransfer = new(big.Int).Sub(ab.Native, p.reserve)
		case ab.Native.Sign() > 0:
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("%s: %s %s does not exceed the %s %s gas reserve",
				ab.Account.Name, units.Format(ab.Native, units.EtherDecimals), NativeSymbol,
				units.Format(p.reserve, units.EtherDecimals), NativeSymbol))
		}
		plan.TotalTransfers += ab.TransferCount()
	}

	plan.CanExecute = plan.TotalTransfers > 0
	plan.EstimatedGas = units.ToEther(new(big.Int).Mul(p.reserve, big.NewInt(int64(plan.TotalTransfers))))

	logger.WithFields(logrus.Fields{
		"sources":   len(sources),
		"tokens":    len(tokens),
		"transfers": plan.TotalTransfers,
		"warnings":  len(plan.Warnings),
	}).Info("consolidation scan finished")
	return plan, nil
}
