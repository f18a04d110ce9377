package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRequest("eth_chainId", "ok", 10*time.Millisecond)
	m.ObserveRequest("eth_chainId", "ok", 10*time.Millisecond)
	m.SetPendingApprovals(3)
	m.ApprovalOutcome("SignTx", "rejected")
	m.TxFlowStage("ETH", "submitSuccess")
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)
	m.OriginBlocked()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("eth_chainId", "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ApprovalsPending))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ApprovalOutcomes.WithLabelValues("SignTx", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TxFlowStats.WithLabelValues("ETH", "submitSuccess")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RPCCacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BlockedOrigins))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("x", "ok", time.Second)
		m.SetPendingApprovals(1)
		m.ApprovalOutcome("c", "o")
		m.TxFlowStage("c", "s")
		m.CacheLookup(true)
		m.OriginBlocked()
	})
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
