package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRPCClient_Observe(t *testing.T) {
	m := NewRPCClient("bundler")

	before := testutil.ToFloat64(rpcRequestsTotal.WithLabelValues("bundler", "eth_sendUserOperation", "error"))
	m.Observe("eth_sendUserOperation", errors.New("boom"), time.Now())
	after := testutil.ToFloat64(rpcRequestsTotal.WithLabelValues("bundler", "eth_sendUserOperation", "error"))
	require.Equal(t, before+1, after)

	m.Observe("eth_sendUserOperation", nil, time.Now())
	require.Equal(t, float64(1), testutil.ToFloat64(rpcRequestsTotal.WithLabelValues("bundler", "eth_sendUserOperation", "success")))
}

func TestRPCClient_DefaultEndpoint(t *testing.T) {
	m := NewRPCClient("")
	m.Observe("eth_call", nil, time.Now())
	require.Equal(t, float64(1), testutil.ToFloat64(rpcRequestsTotal.WithLabelValues("unknown", "eth_call", "success")))
}

func TestConsolidation_Observe(t *testing.T) {
	m := NewConsolidation()
	m.ObserveTransfer("token", "completed")
	m.ObserveRun("partial")

	require.Equal(t, float64(1), testutil.ToFloat64(transfersTotal.WithLabelValues("token", "completed")))
	require.Equal(t, float64(1), testutil.ToFloat64(runsTotal.WithLabelValues("partial")))
}
