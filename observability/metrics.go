package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics tracks contract read activity performed by the ledger client.
type LedgerMetrics struct {
	reads   *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

// WalletMetrics tracks signing handoffs to the external agent.
type WalletMetrics struct {
	signings *prometheus.CounterVec
}

// SnapshotMetrics tracks dashboard snapshot refreshes.
type SnapshotMetrics struct {
	refreshes *prometheus.CounterVec
	loans     prometheus.Gauge
}

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics

	walletMetricsOnce sync.Once
	walletRegistry    *WalletMetrics

	snapshotMetricsOnce sync.Once
	snapshotRegistry    *SnapshotMetrics
)

// Ledger returns the lazily-initialised ledger read metrics registry.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			reads: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "hodl",
				Subsystem: "ledger",
				Name:      "reads_total",
				Help:      "Total contract reads segmented by function and outcome.",
			}, []string{"function", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "hodl",
				Subsystem: "ledger",
				Name:      "read_duration_seconds",
				Help:      "Latency distribution for contract reads.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"function"}),
		}
		prometheus.MustRegister(ledgerRegistry.reads, ledgerRegistry.latency)
	})
	return ledgerRegistry
}

// ObserveRead records the outcome of a single contract read. Outcomes should
// be stable strings: "ok", "absent", "fallback", "error".
func (m *LedgerMetrics) ObserveRead(function, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if function == "" {
		function = "unknown"
	}
	m.reads.WithLabelValues(function, outcome).Inc()
	m.latency.WithLabelValues(function).Observe(duration.Seconds())
}

// Wallet returns the lazily-initialised signing metrics registry.
func Wallet() *WalletMetrics {
	walletMetricsOnce.Do(func() {
		walletRegistry = &WalletMetrics{
			signings: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "hodl",
				Subsystem: "wallet",
				Name:      "signings_total",
				Help:      "Signing handoffs segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
		}
		prometheus.MustRegister(walletRegistry.signings)
	})
	return walletRegistry
}

// RecordSigning counts one signing handoff. Outcomes: "approved", "rejected",
// "failed", "invalid".
func (m *WalletMetrics) RecordSigning(operation, outcome string) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	m.signings.WithLabelValues(operation, outcome).Inc()
}

// Snapshot returns the lazily-initialised snapshot metrics registry.
func Snapshot() *SnapshotMetrics {
	snapshotMetricsOnce.Do(func() {
		snapshotRegistry = &SnapshotMetrics{
			refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "hodl",
				Subsystem: "snapshot",
				Name:      "refreshes_total",
				Help:      "Snapshot refreshes segmented by outcome.",
			}, []string{"outcome"}),
			loans: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "hodl",
				Subsystem: "snapshot",
				Name:      "loans",
				Help:      "Number of loans in the most recent snapshot.",
			}),
		}
		prometheus.MustRegister(snapshotRegistry.refreshes, snapshotRegistry.loans)
	})
	return snapshotRegistry
}

// RecordRefresh counts a snapshot refresh and, on success, updates the loan
// gauge.
func (m *SnapshotMetrics) RecordRefresh(outcome string, loans int) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		m.loans.Set(float64(loans))
	}
}
