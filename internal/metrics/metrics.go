// Package metrics defines the Prometheus collectors of the provider service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the provider collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ApprovalsPending prometheus.Gauge
	ApprovalOutcomes *prometheus.CounterVec
	TxFlowStats      *prometheus.CounterVec
	RPCCacheLookups  *prometheus.CounterVec
	BlockedOrigins   prometheus.Counter
}

// New registers the collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "provider_requests_total",
			Help: "Provider requests by method and outcome",
		}, []string{"method", "outcome"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "provider_request_duration_seconds",
			Help:    "Time from request arrival to result, including approval waits",
			Buckets: []float64{0.01, 0.05, 0.25, 1, 5, 30, 120, 600},
		}, []string{"method"}),
		ApprovalsPending: f.NewGauge(prometheus.GaugeOpts{
			Name: "provider_approvals_pending",
			Help: "Approvals currently queued",
		}),
		ApprovalOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "provider_approval_outcomes_total",
			Help: "Approval resolutions by component and outcome",
		}, []string{"component", "outcome"}),
		TxFlowStats: f.NewCounterVec(prometheus.CounterOpts{
			Name: "provider_tx_flow_total",
			Help: "Reported transaction flows by chain and stage",
		}, []string{"chain", "stage"}),
		RPCCacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "provider_rpc_cache_lookups_total",
			Help: "RPC cache lookups by result",
		}, []string{"result"}),
		BlockedOrigins: f.NewCounter(prometheus.CounterOpts{
			Name: "provider_blocked_origins_total",
			Help: "Origins blocked after repeated rejections",
		}),
	}
}

// ObserveRequest records one pipeline request
func (m *Metrics) ObserveRequest(method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, outcome).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// SetPendingApprovals sets the approval queue length
func (m *Metrics) SetPendingApprovals(n int) {
	if m == nil {
		return
	}
	m.ApprovalsPending.Set(float64(n))
}

// ApprovalOutcome records how an approval ended
func (m *Metrics) ApprovalOutcome(component, outcome string) {
	if m == nil {
		return
	}
	m.ApprovalOutcomes.WithLabelValues(component, outcome).Inc()
}

// TxFlowStage records one reported flow stage
func (m *Metrics) TxFlowStage(chain, stage string) {
	if m == nil {
		return
	}
	m.TxFlowStats.WithLabelValues(chain, stage).Inc()
}

// CacheLookup records an RPC cache hit or miss
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.RPCCacheLookups.WithLabelValues(result).Inc()
}

// OriginBlocked records a per-origin block
func (m *Metrics) OriginBlocked() {
	if m == nil {
		return
	}
	m.BlockedOrigins.Inc()
}
