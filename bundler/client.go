// Package bundler talks to the ERC-4337 bundler and paymaster JSON-RPC
// services.
package bundler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"

	"github.com/blndgs/aawallet/metrics"
	"github.com/blndgs/aawallet/userop"
)

var logger = logrus.StandardLogger().WithField("module", "bundler")

// ErrEntryPointNotSupported is returned when the bundler does not serve
// the configured entry point.
var ErrEntryPointNotSupported = errors.New("entry point not supported by bundler")

// Client is a bundler JSON-RPC client bound to one entry point.
type Client struct {
	rpcClient  *rpc.Client
	entryPoint common.Address
	metrics    *metrics.RPCClient
}

// Dial connects to a bundler endpoint.
func Dial(ctx context.Context, endpoint string, entryPoint common.Address) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("could not dial bundler %v: %w", endpoint, err)
	}
	return NewClient(rpcClient, entryPoint), nil
}

// NewClient wraps a connected rpc client.
func NewClient(rpcClient *rpc.Client, entryPoint common.Address) *Client {
	return &Client{
		rpcClient:  rpcClient,
		entryPoint: entryPoint,
		metrics:    metrics.NewRPCClient("bundler"),
	}
}

// EntryPoint returns the entry point the client submits to.
func (c *Client) EntryPoint() common.Address {
	return c.entryPoint
}

func (c *Client) Close() {
	c.rpcClient.Close()
}

func (c *Client) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	started := time.Now()
	err := c.rpcClient.CallContext(ctx, result, method, args...)
	c.metrics.Observe(method, err, started)
	if err != nil {
		logger.WithError(err).WithField("method", method).Debug("bundler call failed")
	}
	return err
}

// SendUserOperation submits a signed operation and returns its userOpHash.
func (c *Client) SendUserOperation(ctx context.Context, op *userop.UserOperation) (common.Hash, error) {
	var hash common.Hash
	if err := c.call(ctx, &hash, "eth_sendUserOperation", op, c.entryPoint); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

// EstimateUserOperationGas asks the bundler for gas limits of a draft
// operation carrying a placeholder signature.
func (c *Client) EstimateUserOperationGas(ctx context.Context, op *userop.UserOperation) (*GasEstimate, error) {
	var estimate GasEstimate
	if err := c.call(ctx, &estimate, "eth_estimateUserOperationGas", op, c.entryPoint); err != nil {
		return nil, err
	}
	if estimate.CallGasLimit == nil || estimate.VerificationGasLimit == nil || estimate.PreVerificationGas == nil {
		return nil, fmt.Errorf("incomplete gas estimate")
	}
	return &estimate, nil
}

// GetUserOperationReceipt returns nil without error while the operation is
// still pending.
func (c *Client) GetUserOperationReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	var receipt *Receipt
	if err := c.call(ctx, &receipt, "eth_getUserOperationReceipt", hash); err != nil {
		return nil, err
	}
	return receipt, nil
}

// SupportedEntryPoints lists the entry points the bundler accepts.
func (c *Client) SupportedEntryPoints(ctx context.Context) ([]common.Address, error) {
	var entryPoints []common.Address
	if err := c.call(ctx, &entryPoints, "eth_supportedEntryPoints"); err != nil {
		return nil, err
	}
	return entryPoints, nil
}

// CheckEntryPoint verifies the bundler serves the configured entry point.
func (c *Client) CheckEntryPoint(ctx context.Context) error {
	entryPoints, err := c.SupportedEntryPoints(ctx)
	if err != nil {
		return err
	}
	for _, ep := range entryPoints {
		if ep == c.entryPoint {
			return nil
		}
	}
	return fmt.Errorf("%w: %v", ErrEntryPointNotSupported, c.entryPoint.Hex())
}
