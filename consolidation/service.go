package consolidation

import (
	"context"

	"github.com/blndgs/aawallet/registry"
)

// AccountLister returns accounts in creation order, primary first.
type AccountLister interface {
	Accounts() []registry.Account
}

// Service scans the registry's accounts and runs the resulting plan.
type Service struct {
	accounts AccountLister
	tokens   []Token
	planner  *Planner
	executor *Executor
}

func NewService(accounts AccountLister, tokens []Token, planner *Planner, executor *Executor) *Service {
	return &Service{
		accounts: accounts,
		tokens:   tokens,
		planner:  planner,
		executor: executor,
	}
}

// Plan scans all accounts, hidden ones included, against the configured
// tokens.
func (s *Service) Plan(ctx context.Context) (*Plan, error) {
	return s.planner.Scan(ctx, s.accounts.Accounts(), s.tokens)
}

// Run scans and executes synchronously.
func (s *Service) Run(ctx context.Context) (*Plan, Summary, error) {
	if s.executor.Running() {
		return nil, Summary{}, ErrAlreadyRunning
	}
	plan, err := s.Plan(ctx)
	if err != nil {
		return nil, Summary{}, err
	}
	summary, err := s.executor.Execute(ctx, plan)
	return plan, summary, err
}

// Start scans and executes in the background. ctx must outlive the run.
func (s *Service) Start(ctx context.Context) (*Plan, error) {
	if s.executor.Running() {
		return nil, ErrAlreadyRunning
	}
	plan, err := s.Plan(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.executor.Start(ctx, plan); err != nil {
		return plan, err
	}
	return plan, nil
}

func (s *Service) Progress() *Progress {
	return s.executor.Progress()
}

func (s *Service) Running() bool {
	return s.executor.Running()
}

func (s *Service) Clear() error {
	return s.executor.Clear()
}
