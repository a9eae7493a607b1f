// Package metrics exposes prometheus collectors for the remote calls the
// wallet makes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rpcRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aawallet",
		Subsystem: "rpc_client",
		Name:      "operations_total",
		Help:      "Count of JSON-RPC operations.",
	}, []string{"endpoint", "operation", "status"})
	rpcRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "aawallet",
		Subsystem: "rpc_client",
		Name:      "operation_duration_seconds",
		Help:      "Duration of JSON-RPC operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint", "operation", "status"})
)

// RPCClient tracks metrics for calls to one JSON-RPC endpoint kind
// (node, bundler or paymaster).
type RPCClient struct {
	endpoint string
}

// NewRPCClient constructs a metrics collector for RPC calls.
func NewRPCClient(endpoint string) *RPCClient {
	if endpoint == "" {
		endpoint = "unknown"
	}
	return &RPCClient{endpoint: endpoint}
}

// Observe records a single RPC call outcome and duration.
func (m RPCClient) Observe(operation string, err error, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}

	rpcRequestsTotal.WithLabelValues(m.endpoint, operation, status).Inc()
	rpcRequestDuration.WithLabelValues(m.endpoint, operation, status).Observe(time.Since(started).Seconds())
}
