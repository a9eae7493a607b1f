// Package registry keeps the list of smart accounts derived from the
// logged in signer, persists it, and hands out a builder per account.
package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/blndgs/aawallet/account"
	"github.com/blndgs/aawallet/builder"
	"github.com/blndgs/aawallet/contracts"
	"github.com/blndgs/aawallet/storage"
)

var logger = logrus.StandardLogger().WithField("module", "registry")

// AddressResolver computes counterfactual account addresses.
type AddressResolver interface {
	Resolve(ctx context.Context, owner common.Address, salt uint32, factory common.Address) (common.Address, error)
}

// InstanceFactory constructs the builder of an account.
type InstanceFactory func(ctx context.Context, owner common.Address, acct Account) (*builder.Builder, error)

// NewBuilderFactory returns an InstanceFactory deploying accounts through
// factory and building with env.
func NewBuilderFactory(env *builder.Context, factory common.Address, opts ...builder.Option) InstanceFactory {
	return func(_ context.Context, owner common.Address, acct Account) (*builder.Builder, error) {
		initCode, err := contracts.CreateAccountInitCode(factory, owner, acct.Salt)
		if err != nil {
			return nil, err
		}
		return builder.New(env, acct.Address, initCode, opts...)
	}
}

// Config wires the registry collaborators.
type Config struct {
	Store     storage.Store
	Resolver  AddressResolver
	Factory   common.Address
	ChainID   *big.Int
	Instances InstanceFactory
}

// Registry is safe for concurrent use. Accounts are kept in creation order;
// an account's position is its derivation index and index 0 is the primary
// account.
type Registry struct {
	store     storage.Store
	resolver  AddressResolver
	factory   common.Address
	chainID   *big.Int
	instances InstanceFactory
	now       func() time.Time

	mu       sync.RWMutex
	auth     *AuthContext
	accounts []Account
	builders []*builder.Builder
	activeID string
	creating bool
}

func New(cfg Config) *Registry {
	return &Registry{
		store:     cfg.Store,
		resolver:  cfg.Resolver,
		factory:   cfg.Factory,
		chainID:   cfg.ChainID,
		instances: cfg.Instances,
		now:       time.Now,
	}
}

// Initialized reports whether a signer is logged in.
func (r *Registry) Initialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.auth != nil
}

// Auth returns the current auth context.
func (r *Registry) Auth() (AuthContext, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.auth == nil {
		return AuthContext{}, false
	}
	return *r.auth, true
}

// Load activates the registry for auth, restoring its persisted accounts.
// On first use the primary account (index 0, salt 0) is created.
func (r *Registry) Load(ctx context.Context, auth AuthContext) error {
	if auth.Owner == (common.Address{}) {
		return account.ErrZeroSigner
	}

	log := logger.WithFields(logrus.Fields{"owner": auth.Owner.Hex(), "auth": auth.method()})

	rec, err := r.read(ctx, auth)
	if errors.Is(err, storage.ErrNotFound) {
		primary, err := r.newAccount(ctx, auth.Owner, 0, "")
		if err != nil {
			return err
		}
		rec = &record{Version: recordVersion, ActiveID: primary.ID, Accounts: []Account{primary}}
		if err := r.write(ctx, auth, rec.Accounts, rec.ActiveID); err != nil {
			return err
		}
		log.WithField("address", primary.Address.Hex()).Info("primary account created")
	} else if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.auth = &auth
	r.accounts = rec.Accounts
	r.builders = make([]*builder.Builder, len(rec.Accounts))
	r.activeID = rec.ActiveID
	if idx := r.indexOf(r.activeID); idx < 0 || r.accounts[idx].Hidden {
		r.activeID = r.accounts[0].ID
	}

	log.WithField("accounts", len(r.accounts)).Debug("account registry loaded")
	return nil
}

// Reset drops all in-memory state. With a non-nil auth the registry is
// loaded again for it, otherwise it stays uninitialized.
func (r *Registry) Reset(ctx context.Context, auth *AuthContext) error {
	r.mu.Lock()
	r.auth = nil
	r.accounts = nil
	r.builders = nil
	r.activeID = ""
	r.mu.Unlock()

	if auth == nil {
		return nil
	}
	return r.Load(ctx, *auth)
}

// CreateAccount derives the next account, resolves its address and makes it
// active. An address already in the registry is reused instead of added.
func (r *Registry) CreateAccount(ctx context.Context, name string) (Account, error) {
	r.mu.Lock()
	if r.auth == nil {
		r.mu.Unlock()
		return Account{}, ErrNotInitialized
	}
	if r.creating {
		r.mu.Unlock()
		return Account{}, ErrCreationInProgress
	}
	r.creating = true
	auth := *r.auth
	index := len(r.accounts)
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.creating = false
		r.mu.Unlock()
	}()

	acct, err := r.newAccount(ctx, auth.Owner, index, strings.TrimSpace(name))
	if err != nil {
		return Account{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.auth == nil || *r.auth != auth {
		return Account{}, ErrNotInitialized
	}

	log := logger.WithFields(logrus.Fields{"address": acct.Address.Hex(), "index": index})

	if existing := r.indexOfAddress(acct.Address); existing >= 0 {
		accounts := r.cloneAccounts()
		accounts[existing].Hidden = false
		if err := r.commit(ctx, accounts, accounts[existing].ID); err != nil {
			return Account{}, err
		}
		log.Warn("derived address already registered, reusing existing account")
		return accounts[existing], nil
	}

	accounts := append(r.cloneAccounts(), acct)
	if err := r.commit(ctx, accounts, acct.ID); err != nil {
		return Account{}, err
	}

	log.Info("account created")
	return acct, nil
}

func (r *Registry) newAccount(ctx context.Context, owner common.Address, index int, name string) (Account, error) {
	salt, err := account.DeriveSalt(owner, uint64(index), r.chainID)
	if err != nil {
		return Account{}, err
	}

	address, err := r.resolver.Resolve(ctx, owner, salt, r.factory)
	if err != nil {
		return Account{}, err
	}

	if name == "" {
		name = defaultName(index)
	}

	return Account{
		ID:        uuid.NewString(),
		Name:      name,
		Address:   address,
		Salt:      salt,
		CreatedAt: r.now().UTC(),
	}, nil
}

// RenameAccount changes the display name of an account.
func (r *Registry) RenameAccount(ctx context.Context, id, name string) (Account, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Account{}, ErrEmptyName
	}

	return r.mutate(ctx, id, func(accounts []Account, idx int, activeID string) (string, error) {
		accounts[idx].Name = name
		return activeID, nil
	})
}

// HideAccount hides an account from the visible list. The primary account
// can never be hidden and at least one account always stays visible.
// Hiding the active account activates the primary account.
func (r *Registry) HideAccount(ctx context.Context, id string) (Account, error) {
	return r.mutate(ctx, id, func(accounts []Account, idx int, activeID string) (string, error) {
		if idx == 0 {
			return "", ErrCannotHidePrimary
		}
		if accounts[idx].Hidden {
			return activeID, nil
		}
		if countVisible(accounts) <= 1 {
			return "", ErrLastVisibleAccount
		}

		accounts[idx].Hidden = true
		if activeID == accounts[idx].ID {
			activeID = accounts[0].ID
		}
		return activeID, nil
	})
}

// UnhideAccount makes a hidden account visible again.
func (r *Registry) UnhideAccount(ctx context.Context, id string) (Account, error) {
	return r.mutate(ctx, id, func(accounts []Account, idx int, activeID string) (string, error) {
		accounts[idx].Hidden = false
		return activeID, nil
	})
}

// SwitchAccount activates a visible account and returns its builder,
// constructing it from the persisted salt when needed.
func (r *Registry) SwitchAccount(ctx context.Context, id string) (*builder.Builder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.auth == nil {
		return nil, ErrNotInitialized
	}
	idx := r.indexOf(id)
	if idx < 0 {
		return nil, ErrAccountNotFound
	}
	if r.accounts[idx].Hidden {
		return nil, ErrAccountHidden
	}

	b, err := r.instanceLocked(ctx, idx)
	if err != nil {
		return nil, err
	}

	if r.activeID != id {
		if err := r.commit(ctx, r.accounts, id); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Instance returns the builder of the account with id.
func (r *Registry) Instance(ctx context.Context, id string) (*builder.Builder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.auth == nil {
		return nil, ErrNotInitialized
	}
	idx := r.indexOf(id)
	if idx < 0 {
		return nil, ErrAccountNotFound
	}
	return r.instanceLocked(ctx, idx)
}

// InstanceByAddress returns the builder of the account at address.
func (r *Registry) InstanceByAddress(ctx context.Context, address common.Address) (*builder.Builder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.auth == nil {
		return nil, ErrNotInitialized
	}
	idx := r.indexOfAddress(address)
	if idx < 0 {
		return nil, ErrAccountNotFound
	}
	return r.instanceLocked(ctx, idx)
}

func (r *Registry) instanceLocked(ctx context.Context, idx int) (*builder.Builder, error) {
	if b := r.builders[idx]; b != nil {
		return b, nil
	}
	if r.instances == nil {
		return nil, ErrInstanceUnavailable
	}

	b, err := r.instances(ctx, r.auth.Owner, r.accounts[idx])
	if err != nil {
		logger.WithError(err).WithField("address", r.accounts[idx].Address.Hex()).Warn("could not construct account instance")
		return nil, fmt.Errorf("%w: %v", ErrInstanceUnavailable, err)
	}
	r.builders[idx] = b
	return b, nil
}

// Accounts returns every account, hidden ones included, in index order.
func (r *Registry) Accounts() []Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cloneAccounts()
}

// VisibleAccounts returns the accounts that are not hidden.
func (r *Registry) VisibleAccounts() []Account {
	r.mu.RLock()
	defer r.mu.RUnlock()

	visible := make([]Account, 0, len(r.accounts))
	for _, acct := range r.accounts {
		if !acct.Hidden {
			visible = append(visible, acct)
		}
	}
	return visible
}

// ActiveAccount returns the active account.
func (r *Registry) ActiveAccount() (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.auth == nil {
		return Account{}, ErrNotInitialized
	}
	idx := r.indexOf(r.activeID)
	if idx < 0 {
		return r.accounts[0], nil
	}
	return r.accounts[idx], nil
}

// Primary returns the index 0 account.
func (r *Registry) Primary() (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.auth == nil || len(r.accounts) == 0 {
		return Account{}, ErrNotInitialized
	}
	return r.accounts[0], nil
}

// Account returns the account with id.
func (r *Registry) Account(id string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx := r.indexOf(id)
	if idx < 0 {
		return Account{}, ErrAccountNotFound
	}
	return r.accounts[idx], nil
}

// mutate applies fn to a copy of the account list and commits it.
func (r *Registry) mutate(ctx context.Context, id string, fn func(accounts []Account, idx int, activeID string) (string, error)) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.auth == nil {
		return Account{}, ErrNotInitialized
	}
	idx := r.indexOf(id)
	if idx < 0 {
		return Account{}, ErrAccountNotFound
	}

	accounts := r.cloneAccounts()
	activeID, err := fn(accounts, idx, r.activeID)
	if err != nil {
		return Account{}, err
	}
	if err := r.commit(ctx, accounts, activeID); err != nil {
		return Account{}, err
	}
	return accounts[idx], nil
}

// commit persists the new state and then swaps it in. The builder side
// table grows with the account list.
func (r *Registry) commit(ctx context.Context, accounts []Account, activeID string) error {
	if err := r.write(ctx, *r.auth, accounts, activeID); err != nil {
		return err
	}

	for len(r.builders) < len(accounts) {
		r.builders = append(r.builders, nil)
	}
	r.accounts = accounts
	r.activeID = activeID
	return nil
}

func (r *Registry) read(ctx context.Context, auth AuthContext) (*record, error) {
	data, err := r.store.Get(ctx, auth.StorageKey())
	if err != nil {
		return nil, err
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if err := rec.validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *Registry) write(ctx context.Context, auth AuthContext, accounts []Account, activeID string) error {
	data, err := json.Marshal(record{Version: recordVersion, ActiveID: activeID, Accounts: accounts})
	if err != nil {
		return err
	}
	if err := r.store.Set(ctx, auth.StorageKey(), data); err != nil {
		return fmt.Errorf("failed to persist accounts: %w", err)
	}
	return nil
}

func (r *Registry) cloneAccounts() []Account {
	out := make([]Account, len(r.accounts))
	copy(out, r.accounts)
	return out
}

func (r *Registry) indexOf(id string) int {
	for i := range r.accounts {
		if r.accounts[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *Registry) indexOfAddress(address common.Address) int {
	for i := range r.accounts {
		if r.accounts[i].Address == address {
			return i
		}
	}
	return -1
}

func countVisible(accounts []Account) int {
	n := 0
	for _, acct := range accounts {
		if !acct.Hidden {
			n++
		}
	}
	return n
}
