package account

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"

	"github.com/blndgs/aawallet/contracts"
)

var (
	mockEntryPoint = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	mockFactory    = common.HexToAddress("0x9406Cc6185a346906296840746125a0E44976454")
	mockSender     = common.HexToAddress("0x3068c2408c01bECde4BcCB9f246b56651BE1d12D")
)

// revertError mimics the JSON-RPC error returned for a reverted eth_call.
type revertError struct {
	data interface{}
}

func (e *revertError) Error() string          { return "execution reverted" }
func (e *revertError) ErrorCode() int         { return 3 }
func (e *revertError) ErrorData() interface{} { return e.data }

type fakeCaller struct {
	calls int
	msgs  []ethereum.CallMsg
	ret   []byte
	err   error
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls++
	f.msgs = append(f.msgs, msg)
	return f.ret, f.err
}

func senderResultData(addr common.Address) string {
	selector := contracts.EntryPoint.Errors["SenderAddressResult"].ID.Bytes()[:4]
	return hexutil.Encode(append(common.CopyBytes(selector), common.LeftPadBytes(addr.Bytes(), 32)...))
}

func TestResolver_Resolve(t *testing.T) {
	caller := &fakeCaller{err: &revertError{data: senderResultData(mockSender)}}
	resolver := NewResolver(caller, mockEntryPoint, 1024*1024)

	addr, err := resolver.Resolve(context.Background(), mockSigner, 42, mockFactory)
	require.NoError(t, err)
	require.Equal(t, mockSender, addr)

	require.Len(t, caller.msgs, 1)
	require.Equal(t, mockEntryPoint, *caller.msgs[0].To)

	initCode, err := contracts.CreateAccountInitCode(mockFactory, mockSigner, 42)
	require.NoError(t, err)
	expectedData, err := contracts.EntryPoint.Pack("getSenderAddress", initCode)
	require.NoError(t, err)
	require.Equal(t, expectedData, caller.msgs[0].Data)
}

func TestResolver_Cache(t *testing.T) {
	caller := &fakeCaller{err: &revertError{data: senderResultData(mockSender)}}
	resolver := NewResolver(caller, mockEntryPoint, 1024*1024)

	for i := 0; i < 3; i++ {
		addr, err := resolver.Resolve(context.Background(), mockSigner, 1, mockFactory)
		require.NoError(t, err)
		require.Equal(t, mockSender, addr)
	}
	require.Equal(t, 1, caller.calls)

	// a different salt is a different cache entry
	_, err := resolver.Resolve(context.Background(), mockSigner, 2, mockFactory)
	require.NoError(t, err)
	require.Equal(t, 2, caller.calls)
}

func TestResolver_Failures(t *testing.T) {
	failedOp, err := contracts.EntryPoint.Errors["FailedOp"].Inputs.Pack(big.NewInt(0), "AA13 initCode failed or OOG")
	require.NoError(t, err)
	failedOpData := hexutil.Encode(append(contracts.EntryPoint.Errors["FailedOp"].ID.Bytes()[:4], failedOp...))

	testCases := []struct {
		name    string
		caller  *fakeCaller
		wantErr error
	}{
		{"call succeeds", &fakeCaller{ret: []byte{}}, ErrNoRevert},
		{"unrelated revert", &fakeCaller{err: &revertError{data: failedOpData}}, ErrUnexpectedRevert},
		{"short revert data", &fakeCaller{err: &revertError{data: "0x6ca7"}}, ErrUnexpectedRevert},
		{"malformed revert data", &fakeCaller{err: &revertError{data: "not hex"}}, ErrMissingRevertData},
		{"transport error", &fakeCaller{err: errors.New("connection refused")}, ErrMissingRevertData},
		{"zero address", &fakeCaller{err: &revertError{data: senderResultData(common.Address{})}}, ErrZeroSender},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resolver := NewResolver(tc.caller, mockEntryPoint, 1024*1024)
			_, err := resolver.Resolve(context.Background(), mockSigner, 1, mockFactory)
			require.ErrorIs(t, err, tc.wantErr)

			var resolutionErr *AddressResolutionError
			require.ErrorAs(t, err, &resolutionErr)
			require.Equal(t, mockSigner, resolutionErr.Owner)
		})
	}
}

func TestResolver_ZeroOwner(t *testing.T) {
	caller := &fakeCaller{}
	resolver := NewResolver(caller, mockEntryPoint, 1024*1024)

	_, err := resolver.Resolve(context.Background(), common.Address{}, 1, mockFactory)
	var derivationErr *DerivationError
	require.ErrorAs(t, err, &derivationErr)
	require.Zero(t, caller.calls)
}
