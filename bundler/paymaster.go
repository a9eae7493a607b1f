package bundler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/blndgs/aawallet/metrics"
	"github.com/blndgs/aawallet/userop"
)

// ErrEmptyPaymasterData is returned when a sponsorship response carries no
// paymasterAndData.
var ErrEmptyPaymasterData = errors.New("paymaster returned empty paymasterAndData")

// PaymasterClient requests sponsorship from a verifying paymaster service.
type PaymasterClient struct {
	rpcClient  *rpc.Client
	entryPoint common.Address
	context    map[string]interface{}
	metrics    *metrics.RPCClient
}

// DialPaymaster connects to a paymaster endpoint. sponsorContext is passed
// verbatim as the third pm_sponsorUserOperation parameter when non-empty.
func DialPaymaster(ctx context.Context, endpoint string, entryPoint common.Address, sponsorContext map[string]interface{}) (*PaymasterClient, error) {
	rpcClient, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("could not dial paymaster %v: %w", endpoint, err)
	}
	return NewPaymasterClient(rpcClient, entryPoint, sponsorContext), nil
}

func NewPaymasterClient(rpcClient *rpc.Client, entryPoint common.Address, sponsorContext map[string]interface{}) *PaymasterClient {
	return &PaymasterClient{
		rpcClient:  rpcClient,
		entryPoint: entryPoint,
		context:    sponsorContext,
		metrics:    metrics.NewRPCClient("paymaster"),
	}
}

func (p *PaymasterClient) Close() {
	p.rpcClient.Close()
}

// SponsorUserOperation returns paymasterAndData and the sponsor's gas limits.
func (p *PaymasterClient) SponsorUserOperation(ctx context.Context, op *userop.UserOperation) (*Sponsorship, error) {
	args := []interface{}{op, p.entryPoint}
	if len(p.context) > 0 {
		args = append(args, p.context)
	}

	var sponsorship Sponsorship
	started := time.Now()
	err := p.rpcClient.CallContext(ctx, &sponsorship, "pm_sponsorUserOperation", args...)
	p.metrics.Observe("pm_sponsorUserOperation", err, started)
	if err != nil {
		return nil, err
	}
	if len(sponsorship.PaymasterAndData) < common.AddressLength {
		return nil, ErrEmptyPaymasterData
	}

	return &sponsorship, nil
}
