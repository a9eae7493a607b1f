package account

import (
	"bytes"
	"context"
	"errors"
	"math/big"

	"github.com/coocood/freecache"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"

	"github.com/blndgs/aawallet/contracts"
)

var logger = logrus.StandardLogger().WithField("module", "account")

// ContractCaller performs read-only contract calls.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Resolver computes counterfactual account addresses through the
// EntryPoint's getSenderAddress simulation.
type Resolver struct {
	caller     ContractCaller
	entryPoint common.Address
	cache      *freecache.Cache
}

// NewResolver creates a resolver. cacheSize is the size of the resolved
// address cache in bytes; freecache enforces a minimum of 512KB.
func NewResolver(caller ContractCaller, entryPoint common.Address, cacheSize int) *Resolver {
	return &Resolver{
		caller:     caller,
		entryPoint: entryPoint,
		cache:      freecache.NewCache(cacheSize),
	}
}

// EntryPoint returns the entry point the resolver simulates against.
func (r *Resolver) EntryPoint() common.Address {
	return r.entryPoint
}

// Resolve returns the address the factory deploys for (owner, salt).
//
// getSenderAddress always reverts: on success the revert payload is the
// custom error SenderAddressResult(address). Any other outcome, including a
// call that does not revert at all, is an AddressResolutionError.
func (r *Resolver) Resolve(ctx context.Context, owner common.Address, salt uint32, factory common.Address) (common.Address, error) {
	if owner == (common.Address{}) {
		return common.Address{}, &DerivationError{Field: "owner", Value: owner.Hex(), Err: ErrZeroSigner}
	}

	key := r.cacheKey(owner, salt, factory)
	if cached, err := r.cache.Get(key); err == nil && len(cached) == common.AddressLength {
		return common.BytesToAddress(cached), nil
	}

	initCode, err := contracts.CreateAccountInitCode(factory, owner, salt)
	if err != nil {
		return common.Address{}, &DerivationError{Field: "initCode", Value: salt, Err: err}
	}

	callData, err := contracts.EntryPoint.Pack("getSenderAddress", initCode)
	if err != nil {
		return common.Address{}, &DerivationError{Field: "initCode", Value: salt, Err: err}
	}

	entryPoint := r.entryPoint
	_, callErr := r.caller.CallContract(ctx, ethereum.CallMsg{
		To:   &entryPoint,
		Data: callData,
	}, nil)

	sender, err := senderFromRevert(callErr)
	if err != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"owner":   owner.Hex(),
			"salt":    salt,
			"factory": factory.Hex(),
		}).Warn("address resolution failed")
		return common.Address{}, &AddressResolutionError{Owner: owner, Salt: salt, Factory: factory, Err: err}
	}

	if err := r.cache.Set(key, sender.Bytes(), 0); err != nil {
		logger.WithError(err).Debug("could not cache resolved address")
	}

	return sender, nil
}

func (r *Resolver) cacheKey(owner common.Address, salt uint32, factory common.Address) []byte {
	key := make([]byte, 0, 3*common.AddressLength+4)
	key = append(key, r.entryPoint.Bytes()...)
	key = append(key, factory.Bytes()...)
	key = append(key, owner.Bytes()...)
	return append(key, byte(salt>>24), byte(salt>>16), byte(salt>>8), byte(salt))
}

// senderFromRevert extracts the address from a SenderAddressResult revert.
func senderFromRevert(callErr error) (common.Address, error) {
	if callErr == nil {
		return common.Address{}, ErrNoRevert
	}

	data, ok := revertData(callErr)
	if !ok {
		return common.Address{}, errors.Join(ErrMissingRevertData, callErr)
	}

	senderResult := contracts.EntryPoint.Errors["SenderAddressResult"]
	if len(data) < 4 || !bytes.Equal(data[:4], senderResult.ID.Bytes()[:4]) {
		return common.Address{}, errors.Join(ErrUnexpectedRevert, callErr)
	}

	args, err := senderResult.Inputs.Unpack(data[4:])
	if err != nil || len(args) != 1 {
		return common.Address{}, errors.Join(ErrUnexpectedRevert, err)
	}

	sender, ok := args[0].(common.Address)
	if !ok {
		return common.Address{}, ErrUnexpectedRevert
	}
	if sender == (common.Address{}) {
		return common.Address{}, ErrZeroSender
	}

	return sender, nil
}

// revertData returns the raw revert payload carried by a JSON-RPC error.
func revertData(err error) ([]byte, bool) {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return nil, false
	}

	switch data := dataErr.ErrorData().(type) {
	case string:
		decoded, decodeErr := hexutil.Decode(data)
		if decodeErr != nil {
			return nil, false
		}
		return decoded, true
	case []byte:
		return data, true
	default:
		return nil, false
	}
}
