package registry

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/blndgs/aawallet/account"
	"github.com/blndgs/aawallet/builder"
	"github.com/blndgs/aawallet/bundler"
	"github.com/blndgs/aawallet/chain"
	"github.com/blndgs/aawallet/contracts"
	"github.com/blndgs/aawallet/signer"
	"github.com/blndgs/aawallet/storage"
	"github.com/blndgs/aawallet/userop"
)

var (
	owner   = common.HexToAddress("0xAAAaAAAaaAaAAaAaaAAAaaAAaAAAAaaAAaaaaAaA")
	factory = common.HexToAddress("0x9406Cc6185a346906296840746125a0E44976454")
	chainID = big.NewInt(137)
)

type fakeResolver struct {
	mu        sync.Mutex
	overrides map[uint32]common.Address
	err       error
	block     chan struct{}
	started   chan struct{}
}

func (f *fakeResolver) Resolve(_ context.Context, o common.Address, salt uint32, _ common.Address) (common.Address, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return common.Address{}, f.err
	}
	if addr, ok := f.overrides[salt]; ok {
		return addr, nil
	}
	return addressFor(o, salt), nil
}

func addressFor(o common.Address, salt uint32) common.Address {
	return common.BytesToAddress(crypto.Keccak256(o.Bytes(), big.NewInt(int64(salt)).Bytes()))
}

type failingStore struct {
	storage.Store
	failSet bool
}

func (s *failingStore) Set(ctx context.Context, key string, value []byte) error {
	if s.failSet {
		return errors.New("disk full")
	}
	return s.Store.Set(ctx, key, value)
}

type instanceCounter struct {
	calls int
	err   error
}

func (c *instanceCounter) factory(_ context.Context, _ common.Address, acct Account) (*builder.Builder, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &builder.Builder{}, nil
}

func newRegistry(t *testing.T, store storage.Store, resolver *fakeResolver, instances InstanceFactory) *Registry {
	t.Helper()
	if store == nil {
		store = storage.NewMemoryStore()
	}
	if resolver == nil {
		resolver = &fakeResolver{}
	}
	r := New(Config{
		Store:     store,
		Resolver:  resolver,
		Factory:   factory,
		ChainID:   chainID,
		Instances: instances,
	})
	r.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return r
}

func loaded(t *testing.T, store storage.Store, resolver *fakeResolver, instances InstanceFactory) *Registry {
	t.Helper()
	r := newRegistry(t, store, resolver, instances)
	require.NoError(t, r.Load(context.Background(), AuthContext{Owner: owner}))
	return r
}

func TestAuthContext_StorageKey(t *testing.T) {
	require.Equal(t,
		"aawallet:accounts:0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa:privateKey",
		AuthContext{Owner: owner}.StorageKey())
	require.Equal(t,
		"aawallet:accounts:0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa:passkey",
		AuthContext{Owner: owner, AuthMethod: "passkey"}.StorageKey())
}

func TestRegistry_Uninitialized(t *testing.T) {
	r := newRegistry(t, nil, nil, nil)
	ctx := context.Background()

	require.False(t, r.Initialized())

	_, err := r.CreateAccount(ctx, "x")
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = r.HideAccount(ctx, "x")
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = r.SwitchAccount(ctx, "x")
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = r.ActiveAccount()
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = r.Primary()
	require.ErrorIs(t, err, ErrNotInitialized)

	require.ErrorIs(t, r.Load(ctx, AuthContext{}), account.ErrZeroSigner)
}

func TestRegistry_LoadCreatesPrimary(t *testing.T) {
	store := storage.NewMemoryStore()
	r := loaded(t, store, nil, nil)

	require.True(t, r.Initialized())
	accounts := r.Accounts()
	require.Len(t, accounts, 1)

	primary := accounts[0]
	require.Equal(t, uint32(0), primary.Salt)
	require.Equal(t, "Account 1", primary.Name)
	require.Equal(t, addressFor(owner, 0), primary.Address)
	require.False(t, primary.Hidden)
	require.NotEmpty(t, primary.ID)

	active, err := r.ActiveAccount()
	require.NoError(t, err)
	require.Equal(t, primary.ID, active.ID)

	data, err := store.Get(context.Background(), AuthContext{Owner: owner}.StorageKey())
	require.NoError(t, err)
	var rec record
	require.NoError(t, json.Unmarshal(data, &rec))
	require.Equal(t, []Account{primary}, rec.Accounts)
	require.Equal(t, primary.ID, rec.ActiveID)
}

func TestRegistry_CreateAccount(t *testing.T) {
	store := storage.NewMemoryStore()
	r := loaded(t, store, nil, nil)
	ctx := context.Background()

	first, err := r.CreateAccount(ctx, "  Savings ")
	require.NoError(t, err)
	second, err := r.CreateAccount(ctx, "")
	require.NoError(t, err)

	salt1, err := account.DeriveSalt(owner, 1, chainID)
	require.NoError(t, err)
	salt2, err := account.DeriveSalt(owner, 2, chainID)
	require.NoError(t, err)

	require.Equal(t, "Savings", first.Name)
	require.Equal(t, salt1, first.Salt)
	require.Equal(t, addressFor(owner, salt1), first.Address)
	require.Equal(t, "Account 3", second.Name)
	require.Equal(t, salt2, second.Salt)

	active, err := r.ActiveAccount()
	require.NoError(t, err)
	require.Equal(t, second.ID, active.ID, "a new account becomes active")

	// addresses are unique
	seen := map[common.Address]bool{}
	for _, acct := range r.Accounts() {
		require.False(t, seen[acct.Address])
		seen[acct.Address] = true
	}

	// a fresh registry over the same store restores everything
	reloaded := loaded(t, store, nil, nil)
	require.Equal(t, r.Accounts(), reloaded.Accounts())
	reloadedActive, err := reloaded.ActiveAccount()
	require.NoError(t, err)
	require.Equal(t, second.ID, reloadedActive.ID)
}

func TestRegistry_CreateAccountDeduplicates(t *testing.T) {
	salt1, err := account.DeriveSalt(owner, 1, chainID)
	require.NoError(t, err)
	salt2, err := account.DeriveSalt(owner, 2, chainID)
	require.NoError(t, err)

	resolver := &fakeResolver{overrides: map[uint32]common.Address{salt2: addressFor(owner, salt1)}}
	r := loaded(t, nil, resolver, nil)
	ctx := context.Background()

	first, err := r.CreateAccount(ctx, "first")
	require.NoError(t, err)
	_, err = r.HideAccount(ctx, first.ID)
	require.NoError(t, err)

	again, err := r.CreateAccount(ctx, "duplicate")
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)
	require.Equal(t, "first", again.Name)
	require.False(t, again.Hidden)
	require.Len(t, r.Accounts(), 2)

	active, err := r.ActiveAccount()
	require.NoError(t, err)
	require.Equal(t, first.ID, active.ID)
}

func TestRegistry_CreateAccountInFlight(t *testing.T) {
	r := loaded(t, nil, nil, nil)

	resolver := &fakeResolver{block: make(chan struct{}), started: make(chan struct{}, 1)}
	r.resolver = resolver

	done := make(chan error, 1)
	go func() {
		_, err := r.CreateAccount(context.Background(), "slow")
		done <- err
	}()
	<-resolver.started

	_, err := r.CreateAccount(context.Background(), "second")
	require.ErrorIs(t, err, ErrCreationInProgress)

	close(resolver.block)
	require.NoError(t, <-done)
	require.Len(t, r.Accounts(), 2)

	// the flag is released after completion
	resolver.started = nil
	_, err = r.CreateAccount(context.Background(), "third")
	require.NoError(t, err)
}

func TestRegistry_CreateAccountResolveFailure(t *testing.T) {
	r := loaded(t, nil, nil, nil)
	r.resolver = &fakeResolver{err: &account.AddressResolutionError{Owner: owner, Err: account.ErrNoRevert}}

	_, err := r.CreateAccount(context.Background(), "x")
	var resolutionErr *account.AddressResolutionError
	require.ErrorAs(t, err, &resolutionErr)
	require.Len(t, r.Accounts(), 1)

	// in-flight flag released after failure
	r.resolver = &fakeResolver{}
	_, err = r.CreateAccount(context.Background(), "x")
	require.NoError(t, err)
}

func TestRegistry_HideAccount(t *testing.T) {
	r := loaded(t, nil, nil, nil)
	ctx := context.Background()

	primary, err := r.Primary()
	require.NoError(t, err)
	second, err := r.CreateAccount(ctx, "second")
	require.NoError(t, err)

	_, err = r.HideAccount(ctx, primary.ID)
	require.ErrorIs(t, err, ErrCannotHidePrimary)

	_, err = r.HideAccount(ctx, "nope")
	require.ErrorIs(t, err, ErrAccountNotFound)

	hidden, err := r.HideAccount(ctx, second.ID)
	require.NoError(t, err)
	require.True(t, hidden.Hidden)

	active, err := r.ActiveAccount()
	require.NoError(t, err)
	require.Equal(t, primary.ID, active.ID, "hiding the active account activates the primary")

	require.Len(t, r.VisibleAccounts(), 1)
	require.Len(t, r.Accounts(), 2, "accounts are never deleted")

	_, err = r.HideAccount(ctx, second.ID)
	require.NoError(t, err, "hiding twice is a no-op")

	_, err = r.SwitchAccount(ctx, second.ID)
	require.ErrorIs(t, err, ErrAccountHidden)

	unhidden, err := r.UnhideAccount(ctx, second.ID)
	require.NoError(t, err)
	require.False(t, unhidden.Hidden)
	require.Len(t, r.VisibleAccounts(), 2)
}

func TestRegistry_HideLastVisible(t *testing.T) {
	store := storage.NewMemoryStore()
	auth := AuthContext{Owner: owner}

	// a record written by an older client with the primary hidden
	rec := record{
		Version:  recordVersion,
		ActiveID: "b",
		Accounts: []Account{
			{ID: "a", Name: "Account 1", Address: addressFor(owner, 0), Salt: 0, Hidden: true},
			{ID: "b", Name: "Account 2", Address: addressFor(owner, 7), Salt: 7},
		},
	}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), auth.StorageKey(), data))

	r := newRegistry(t, store, nil, nil)
	require.NoError(t, r.Load(context.Background(), auth))

	_, err = r.HideAccount(context.Background(), "b")
	require.ErrorIs(t, err, ErrLastVisibleAccount)
	require.Len(t, r.VisibleAccounts(), 1)
}

func TestRegistry_RenameAccount(t *testing.T) {
	r := loaded(t, nil, nil, nil)
	primary, err := r.Primary()
	require.NoError(t, err)

	_, err = r.RenameAccount(context.Background(), primary.ID, "   ")
	require.ErrorIs(t, err, ErrEmptyName)

	renamed, err := r.RenameAccount(context.Background(), primary.ID, "Main")
	require.NoError(t, err)
	require.Equal(t, "Main", renamed.Name)

	got, err := r.Account(primary.ID)
	require.NoError(t, err)
	require.Equal(t, "Main", got.Name)
}

func TestRegistry_SwitchAccountBuildsInstanceLazily(t *testing.T) {
	counter := &instanceCounter{}
	r := loaded(t, nil, nil, counter.factory)
	ctx := context.Background()

	second, err := r.CreateAccount(ctx, "second")
	require.NoError(t, err)
	require.Zero(t, counter.calls)

	primary, err := r.Primary()
	require.NoError(t, err)

	b1, err := r.SwitchAccount(ctx, primary.ID)
	require.NoError(t, err)
	require.NotNil(t, b1)
	require.Equal(t, 1, counter.calls)

	active, err := r.ActiveAccount()
	require.NoError(t, err)
	require.Equal(t, primary.ID, active.ID)

	b2, err := r.SwitchAccount(ctx, primary.ID)
	require.NoError(t, err)
	require.Same(t, b1, b2)
	require.Equal(t, 1, counter.calls)

	b3, err := r.InstanceByAddress(ctx, second.Address)
	require.NoError(t, err)
	require.NotSame(t, b1, b3)
	require.Equal(t, 2, counter.calls)

	_, err = r.InstanceByAddress(ctx, common.HexToAddress("0x01"))
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestRegistry_InstanceUnavailable(t *testing.T) {
	counter := &instanceCounter{err: errors.New("bundler unreachable")}
	r := loaded(t, nil, nil, counter.factory)
	primary, err := r.Primary()
	require.NoError(t, err)

	_, err = r.Instance(context.Background(), primary.ID)
	require.ErrorIs(t, err, ErrInstanceUnavailable)

	noFactory := loaded(t, nil, nil, nil)
	own, err := noFactory.Primary()
	require.NoError(t, err)
	_, err = noFactory.Instance(context.Background(), own.ID)
	require.ErrorIs(t, err, ErrInstanceUnavailable)
}

func TestRegistry_PersistFailureKeepsState(t *testing.T) {
	store := &failingStore{Store: storage.NewMemoryStore()}
	r := loaded(t, store, nil, nil)

	store.failSet = true
	_, err := r.CreateAccount(context.Background(), "x")
	require.Error(t, err)
	require.Len(t, r.Accounts(), 1)
}

func TestRegistry_Reset(t *testing.T) {
	store := storage.NewMemoryStore()
	r := loaded(t, store, nil, nil)
	_, err := r.CreateAccount(context.Background(), "second")
	require.NoError(t, err)

	require.NoError(t, r.Reset(context.Background(), nil))
	require.False(t, r.Initialized())
	require.Empty(t, r.Accounts())

	other := AuthContext{Owner: common.HexToAddress("0xBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBb"), AuthMethod: "passkey"}
	require.NoError(t, r.Reset(context.Background(), &other))
	require.Len(t, r.Accounts(), 1)
	auth, ok := r.Auth()
	require.True(t, ok)
	require.Equal(t, other, auth)

	require.NoError(t, r.Reset(context.Background(), &AuthContext{Owner: owner}))
	require.Len(t, r.Accounts(), 2)
}

func TestRegistry_CorruptRecord(t *testing.T) {
	store := storage.NewMemoryStore()
	auth := AuthContext{Owner: owner}
	require.NoError(t, store.Set(context.Background(), auth.StorageKey(), []byte("{not json")))

	r := newRegistry(t, store, nil, nil)
	require.ErrorIs(t, r.Load(context.Background(), auth), ErrCorruptRecord)
	require.False(t, r.Initialized())
}

func TestRegistry_RecordInvariants(t *testing.T) {
	primary := Account{ID: "p", Name: "Account 1", Address: addressFor(owner, 0)}
	second := Account{ID: "s", Name: "Account 2", Address: addressFor(owner, 1), Salt: 1}

	tests := []struct {
		name     string
		accounts []Account
		wantErr  error
	}{
		{name: "valid", accounts: []Account{primary, second}},
		{name: "hidden secondary", accounts: []Account{primary, {ID: "s", Address: second.Address, Salt: 1, Hidden: true}}},
		{name: "empty", accounts: nil, wantErr: ErrCorruptRecord},
		{name: "primary salt", accounts: []Account{second}, wantErr: ErrCorruptRecord},
		{name: "hidden primary", accounts: []Account{{ID: "p", Address: primary.Address, Hidden: true}}, wantErr: ErrCorruptRecord},
		{name: "duplicate address", accounts: []Account{primary, {ID: "s", Address: primary.Address, Salt: 1}}, wantErr: ErrCorruptRecord},
		{name: "duplicate id", accounts: []Account{primary, {ID: "p", Address: second.Address, Salt: 1}}, wantErr: ErrCorruptRecord},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemoryStore()
			auth := AuthContext{Owner: owner}
			data, err := json.Marshal(record{Version: recordVersion, ActiveID: "p", Accounts: tt.accounts})
			require.NoError(t, err)
			require.NoError(t, store.Set(context.Background(), auth.StorageKey(), data))

			r := newRegistry(t, store, nil, nil)
			err = r.Load(context.Background(), auth)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				require.False(t, r.Initialized())
				return
			}
			require.NoError(t, err)
			require.NotEmpty(t, r.VisibleAccounts())
			p, err := r.Primary()
			require.NoError(t, err)
			require.False(t, p.Hidden)
		})
	}
}

type stubProvider struct{}

func (stubProvider) EntryPointNonce(context.Context, common.Address, common.Address, *big.Int) (*big.Int, error) {
	return new(big.Int), nil
}

func (stubProvider) FeeData(context.Context) (*chain.FeeData, error) {
	return &chain.FeeData{MaxFeePerGas: big.NewInt(1), MaxPriorityFeePerGas: big.NewInt(1)}, nil
}

type stubEstimator struct{}

func (stubEstimator) EstimateUserOperationGas(context.Context, *userop.UserOperation) (*bundler.GasEstimate, error) {
	return nil, errors.New("not used")
}

func TestNewBuilderFactory(t *testing.T) {
	s, err := signer.NewKeySignerFromHex("b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291")
	require.NoError(t, err)

	acct := Account{Address: addressFor(s.Address(), 3), Salt: 3}

	incomplete := NewBuilderFactory(&builder.Context{ChainID: chainID}, factory)
	_, err = incomplete(context.Background(), s.Address(), acct)
	require.ErrorIs(t, err, builder.ErrNoSigner)

	env := &builder.Context{
		Signer:   s,
		Provider: stubProvider{},
		Bundler:  stubEstimator{},
		ChainID:  chainID,
	}
	b, err := NewBuilderFactory(env, factory)(context.Background(), s.Address(), acct)
	require.NoError(t, err)
	require.Equal(t, acct.Address, b.Sender())

	expected, err := contracts.CreateAccountInitCode(factory, s.Address(), 3)
	require.NoError(t, err)
	require.Equal(t, expected, b.InitCode())
}
