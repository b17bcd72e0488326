package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RelayMetrics 定义中继业务指标
type RelayMetrics struct {
	RPCRequestsTotal       *prometheus.CounterVec
	PolicyRejectionsTotal  *prometheus.CounterVec
	NonceReservationsTotal *prometheus.CounterVec
	NonceRollbacksTotal    *prometheus.CounterVec
	NonceResyncsTotal      *prometheus.CounterVec
	BroadcastDuration      *prometheus.HistogramVec
	EventsPublishedTotal   *prometheus.CounterVec
	RateLimitedTotal       prometheus.Counter
}

func newRelayMetrics(f promauto.Factory) *RelayMetrics {
	return &RelayMetrics{
		RPCRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_rpc_requests_total",
			Help: "JSON-RPC requests by method and response code",
		}, []string{"method", "code"}),
		PolicyRejectionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_policy_rejections_total",
			Help: "Transactions rejected by the policy engine",
		}, []string{"reason"}),
		NonceReservationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_nonce_reservations_total",
			Help: "Nonce reservations by chain and source (store or chain)",
		}, []string{"chain", "source"}),
		NonceRollbacksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_nonce_rollbacks_total",
			Help: "Nonce reservations released after a failed broadcast",
		}, []string{"chain"}),
		NonceResyncsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_nonce_resyncs_total",
			Help: "Stored nonces cleared for chain resync after an ambiguous or conflicting broadcast",
		}, []string{"chain", "reason"}),
		BroadcastDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_broadcast_duration_seconds",
			Help:    "eth_sendRawTransaction latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"chain", "outcome"}),
		EventsPublishedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_events_published_total",
			Help: "Submitted-transaction events by outcome",
		}, []string{"outcome"}),
		RateLimitedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_rate_limited_total",
			Help: "Requests rejected by the per-key rate limiter",
		}),
	}
}
