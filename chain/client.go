// Package chain wraps the node JSON-RPC endpoint with the reads the wallet
// core needs: contract calls, balances and fee data.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/blndgs/aawallet/contracts"
	"github.com/blndgs/aawallet/metrics"
)

var logger = logrus.StandardLogger().WithField("module", "chain")

// ErrNotInitialized is returned when a read is attempted before Initialize.
var ErrNotInitialized = errors.New("chain client not initialized")

// FeeData is the current network fee suggestion.
type FeeData struct {
	BaseFee              *big.Int
	MaxPriorityFeePerGas *big.Int
	MaxFeePerGas         *big.Int
	GasPrice             *big.Int
}

// IsLegacy reports whether the chain has no EIP-1559 base fee.
func (f *FeeData) IsLegacy() bool {
	return f.BaseFee == nil
}

// Client is a rate limited, instrumented node client.
type Client struct {
	endpoint  string
	headers   map[string]string
	rpcClient *rpc.Client
	ethClient *ethclient.Client
	limiter   *rate.Limiter
	metrics   *metrics.RPCClient
}

// NewClient prepares a client for endpoint. readsPerSecond <= 0 disables
// rate limiting.
func NewClient(endpoint string, headers map[string]string, readsPerSecond float64, burst int) *Client {
	return &Client{
		endpoint: endpoint,
		headers:  headers,
		limiter:  newLimiter(readsPerSecond, burst),
		metrics:  metrics.NewRPCClient("node"),
	}
}

// NewClientWithRPC wraps an already connected rpc client.
func NewClientWithRPC(rpcClient *rpc.Client, readsPerSecond float64, burst int) *Client {
	c := NewClient("", nil, readsPerSecond, burst)
	c.rpcClient = rpcClient
	c.ethClient = ethclient.NewClient(rpcClient)
	return c
}

func newLimiter(readsPerSecond float64, burst int) *rate.Limiter {
	if readsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(readsPerSecond), burst)
}

// Initialize dials the endpoint. Calling it on a connected client is a no-op.
func (c *Client) Initialize(ctx context.Context) error {
	if c.ethClient != nil {
		return nil
	}

	rpcClient, err := rpc.DialContext(ctx, c.endpoint)
	if err != nil {
		return fmt.Errorf("could not dial %v: %w", c.endpoint, err)
	}

	for hKey, hVal := range c.headers {
		rpcClient.SetHeader(hKey, hVal)
	}

	c.rpcClient = rpcClient
	c.ethClient = ethclient.NewClient(rpcClient)

	logger.WithField("endpoint", c.endpoint).Debug("node client initialized")
	return nil
}

// Close releases the underlying connection.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// RPC exposes the raw rpc client so the bundler can share a connection
// when both are served by the same endpoint.
func (c *Client) RPC() *rpc.Client {
	return c.rpcClient
}

func (c *Client) wait(ctx context.Context) error {
	if c.ethClient == nil {
		return ErrNotInitialized
	}
	return c.limiter.Wait(ctx)
}

// ChainID returns the chain id reported by the node.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	started := time.Now()
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	chainID, err := c.ethClient.ChainID(ctx)
	c.metrics.Observe("eth_chainId", err, started)
	return chainID, err
}

// CallContract executes a read-only eth_call. Reverts come back as errors
// implementing rpc.DataError.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	started := time.Now()
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.ethClient.CallContract(ctx, msg, blockNumber)
	c.metrics.Observe("eth_call", err, started)
	return out, err
}

// BalanceAt returns the latest native balance of account.
func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	started := time.Now()
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	balance, err := c.ethClient.BalanceAt(ctx, account, nil)
	c.metrics.Observe("eth_getBalance", err, started)
	return balance, err
}

// TokenBalance returns the ERC-20 balance of owner.
func (c *Client) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data, err := contracts.ERC20.Pack("balanceOf", owner)
	if err != nil {
		return nil, err
	}

	out, err := c.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf %v: %w", token, err)
	}

	values, err := contracts.ERC20.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("balanceOf %v: %w", token, err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf %v: unexpected result type %T", token, values[0])
	}

	return balance, nil
}

// TokenDecimals returns the decimals() of an ERC-20 token.
func (c *Client) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	data, err := contracts.ERC20.Pack("decimals")
	if err != nil {
		return 0, err
	}

	out, err := c.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("decimals %v: %w", token, err)
	}

	values, err := contracts.ERC20.Unpack("decimals", out)
	if err != nil {
		return 0, fmt.Errorf("decimals %v: %w", token, err)
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals %v: unexpected result type %T", token, values[0])
	}

	return decimals, nil
}

// EntryPointNonce returns EntryPoint.getNonce(sender, key).
func (c *Client) EntryPointNonce(ctx context.Context, entryPoint, sender common.Address, key *big.Int) (*big.Int, error) {
	data, err := contracts.EntryPoint.Pack("getNonce", sender, key)
	if err != nil {
		return nil, err
	}

	out, err := c.CallContract(ctx, ethereum.CallMsg{To: &entryPoint, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("getNonce %v: %w", sender, err)
	}

	values, err := contracts.EntryPoint.Unpack("getNonce", out)
	if err != nil {
		return nil, fmt.Errorf("getNonce %v: %w", sender, err)
	}
	nonce, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("getNonce %v: unexpected result type %T", sender, values[0])
	}

	return nonce, nil
}

// FeeData queries the latest base fee and priority fee. Chains without a
// base fee report the legacy gas price for both fee fields.
func (c *Client) FeeData(ctx context.Context) (*FeeData, error) {
	started := time.Now()
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	head, err := c.ethClient.HeaderByNumber(ctx, nil)
	c.metrics.Observe("eth_getBlockByNumber", err, started)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}

	if head.BaseFee == nil {
		started = time.Now()
		gasPrice, err := c.ethClient.SuggestGasPrice(ctx)
		c.metrics.Observe("eth_gasPrice", err, started)
		if err != nil {
			return nil, fmt.Errorf("gas price: %w", err)
		}

		return &FeeData{
			GasPrice:             gasPrice,
			MaxFeePerGas:         new(big.Int).Set(gasPrice),
			MaxPriorityFeePerGas: new(big.Int).Set(gasPrice),
		}, nil
	}

	started = time.Now()
	tip, err := c.ethClient.SuggestGasTipCap(ctx)
	c.metrics.Observe("eth_maxPriorityFeePerGas", err, started)
	if err != nil {
		return nil, fmt.Errorf("priority fee: %w", err)
	}

	maxFee := new(big.Int).Mul(head.BaseFee, big.NewInt(2))
	maxFee.Add(maxFee, tip)

	return &FeeData{
		BaseFee:              new(big.Int).Set(head.BaseFee),
		MaxPriorityFeePerGas: tip,
		MaxFeePerGas:         maxFee,
	}, nil
}
