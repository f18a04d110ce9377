// Package stats tracks per-flow signing telemetry and reports it once.
package stats

import (
	"context"
	"sync"

	"github.com/rabby-mobile/provider-core/internal/logger"
	"github.com/rabby-mobile/provider-core/internal/metrics"
)

// Data is the telemetry of one signing flow
type Data struct {
	Signed        bool   `json:"signed"`
	SignedSuccess bool   `json:"signedSuccess"`
	Submit        bool   `json:"submit"`
	SubmitSuccess bool   `json:"submitSuccess"`
	Chain         string `json:"chainId"`
	Category      string `json:"category"`
	Source        string `json:"source"`
	AccountType   string `json:"type"`
	PreExecOK     bool   `json:"preExecSuccess"`
}

// Reporter receives flushed flows
type Reporter interface {
	Report(ctx context.Context, data Data)
}

// Flow accumulates Data and flushes it exactly once
type Flow struct {
	mu       sync.Mutex
	data     Data
	reported bool
	reporter Reporter
}

// NewFlow starts a flow
func NewFlow(reporter Reporter, initial Data) *Flow {
	return &Flow{data: initial, reporter: reporter}
}

// Update mutates the pending data; ignored once reported
func (f *Flow) Update(fn func(d *Data)) {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reported {
		return
	}
	fn(&f.data)
}

// Snapshot returns a copy of the current data
func (f *Flow) Snapshot() Data {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data
}

// Report flushes the data. Later calls do nothing and return false.
func (f *Flow) Report(ctx context.Context) bool {
	if f == nil {
		return false
	}
	f.mu.Lock()
	if f.reported {
		f.mu.Unlock()
		return false
	}
	f.reported = true
	data := f.data
	f.mu.Unlock()

	if f.reporter != nil {
		f.reporter.Report(ctx, data)
	}
	return true
}

// Reported reports whether the flow was flushed
func (f *Flow) Reported() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reported
}

// MetricsReporter counts flushed stages in Prometheus and logs the flow
type MetricsReporter struct {
	Metrics *metrics.Metrics
}

func (r MetricsReporter) Report(ctx context.Context, d Data) {
	stages := []struct {
		name string
		on   bool
	}{
		{"signed", d.Signed},
		{"signedSuccess", d.SignedSuccess},
		{"submit", d.Submit},
		{"submitSuccess", d.SubmitSuccess},
	}
	for _, s := range stages {
		if s.on {
			r.Metrics.TxFlowStage(d.Chain, s.name)
		}
	}
	logger.Debug(ctx, "tx flow reported",
		"chain", d.Chain,
		"signed", d.Signed,
		"signed_success", d.SignedSuccess,
		"submit", d.Submit,
		"submit_success", d.SubmitSuccess,
	)
}
