package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"

	"github.com/blndgs/aawallet/contracts"
)

var (
	tokenAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	ownerAddr = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	epAddr    = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
)

// fakeEth serves the eth_ namespace methods the client uses.
type fakeEth struct {
	baseFee  *big.Int
	tip      *big.Int
	gasPrice *big.Int
	balance  *big.Int
	failCall bool
}

func (f *fakeEth) ChainId() *hexutil.Big {
	return (*hexutil.Big)(big.NewInt(137))
}

func (f *fakeEth) GetBalance(_ common.Address, _ string) *hexutil.Big {
	return (*hexutil.Big)(f.balance)
}

func (f *fakeEth) GetBlockByNumber(_ string, _ bool) *types.Header {
	return &types.Header{
		Number:     big.NewInt(100),
		Difficulty: big.NewInt(0),
		GasLimit:   30_000_000,
		BaseFee:    f.baseFee,
	}
}

func (f *fakeEth) MaxPriorityFeePerGas() *hexutil.Big {
	return (*hexutil.Big)(f.tip)
}

func (f *fakeEth) GasPrice() *hexutil.Big {
	return (*hexutil.Big)(f.gasPrice)
}

func (f *fakeEth) Call(args map[string]interface{}, _ string) (hexutil.Bytes, error) {
	if f.failCall {
		return nil, errors.New("execution reverted")
	}

	input, _ := args["input"].(string)
	if input == "" {
		input, _ = args["data"].(string)
	}
	data, err := hexutil.Decode(input)
	if err != nil {
		return nil, err
	}

	switch {
	case hexutil.Encode(data[:4]) == hexutil.Encode(contracts.ERC20.Methods["balanceOf"].ID):
		return contracts.ERC20.Methods["balanceOf"].Outputs.Pack(big.NewInt(4200))
	case hexutil.Encode(data[:4]) == hexutil.Encode(contracts.ERC20.Methods["decimals"].ID):
		return contracts.ERC20.Methods["decimals"].Outputs.Pack(uint8(6))
	case hexutil.Encode(data[:4]) == hexutil.Encode(contracts.EntryPoint.Methods["getNonce"].ID):
		return contracts.EntryPoint.Methods["getNonce"].Outputs.Pack(big.NewInt(3))
	}

	return nil, errors.New("unknown selector")
}

func newTestClient(t *testing.T, eth *fakeEth) *Client {
	t.Helper()

	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", eth))
	t.Cleanup(server.Stop)

	c := NewClientWithRPC(rpc.DialInProc(server), 0, 0)
	t.Cleanup(c.Close)
	return c
}

func TestClient_NotInitialized(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", nil, 10, 1)
	_, err := c.BalanceAt(context.Background(), ownerAddr)
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestClient_Reads(t *testing.T) {
	c := newTestClient(t, &fakeEth{balance: big.NewInt(1e18)})
	ctx := context.Background()

	chainID, err := c.ChainID(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(137), chainID.Int64())

	balance, err := c.BalanceAt(ctx, ownerAddr)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1e18), balance)

	tokenBalance, err := c.TokenBalance(ctx, tokenAddr, ownerAddr)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(4200), tokenBalance)

	decimals, err := c.TokenDecimals(ctx, tokenAddr)
	require.NoError(t, err)
	require.Equal(t, uint8(6), decimals)

	nonce, err := c.EntryPointNonce(ctx, epAddr, ownerAddr, big.NewInt(0))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(3), nonce)
}

func TestClient_TokenBalanceError(t *testing.T) {
	c := newTestClient(t, &fakeEth{failCall: true})

	_, err := c.TokenBalance(context.Background(), tokenAddr, ownerAddr)
	require.Error(t, err)
	require.Contains(t, err.Error(), "balanceOf")
}

func TestClient_FeeData(t *testing.T) {
	tests := []struct {
		name       string
		eth        *fakeEth
		wantLegacy bool
		wantMax    *big.Int
		wantTip    *big.Int
	}{
		{
			name:    "eip1559",
			eth:     &fakeEth{baseFee: big.NewInt(100), tip: big.NewInt(7)},
			wantMax: big.NewInt(207),
			wantTip: big.NewInt(7),
		},
		{
			name:       "legacy",
			eth:        &fakeEth{gasPrice: big.NewInt(50)},
			wantLegacy: true,
			wantMax:    big.NewInt(50),
			wantTip:    big.NewInt(50),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.eth)

			fees, err := c.FeeData(context.Background())
			require.NoError(t, err)
			require.Equal(t, tt.wantLegacy, fees.IsLegacy())
			require.Equal(t, tt.wantMax, fees.MaxFeePerGas)
			require.Equal(t, tt.wantTip, fees.MaxPriorityFeePerGas)
		})
	}
}

func TestClient_RateLimitHonoursContext(t *testing.T) {
	c := newTestClient(t, &fakeEth{balance: big.NewInt(1)})
	c.limiter = newLimiter(0.001, 1)

	ctx := context.Background()
	_, err := c.BalanceAt(ctx, ownerAddr)
	require.NoError(t, err)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = c.BalanceAt(canceled, ownerAddr)
	require.Error(t, err)
}
