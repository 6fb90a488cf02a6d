// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "walletsync"

// engineMetrics are the counters the engine exports. A nil *engineMetrics
// records nothing.
type engineMetrics struct {
	syncPasses    *prometheus.CounterVec
	syncDuration  *prometheus.HistogramVec
	broadcasts    *prometheus.CounterVec
	groomed       prometheus.Counter
	invitations   *prometheus.CounterVec
	queueRejected *prometheus.CounterVec
	spendable     prometheus.Gauge
}

// newEngineMetrics creates the engine metrics and registers them with reg.
// It returns nil when reg is nil.
func newEngineMetrics(reg prometheus.Registerer) (*engineMetrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &engineMetrics{
		syncPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sync_passes_total",
			Help:      "Sync passes by type and result.",
		}, []string{"type", "result"}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of sync passes.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"type"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "broadcasts_total",
			Help:      "Broadcast attempts by result.",
		}, []string{"result"}),
		groomed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "groomed_transactions_total",
			Help:      "Broadcast transactions presumed failed.",
		}),
		invitations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "invitation_transitions_total",
			Help:      "Invitation status transitions by side and status.",
		}, []string{"side", "status"}),
		queueRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "scheduler_rejected_total",
			Help:      "Operations refused by the admission policy.",
		}, []string{"kind"}),
		spendable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "spendable_sats",
			Help:      "Spendable balance after the last pass.",
		}),
	}

	collectors := []prometheus.Collector{
		m.syncPasses, m.syncDuration, m.broadcasts, m.groomed,
		m.invitations, m.queueRejected, m.spendable,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *engineMetrics) observeSync(syncType SyncType, start time.Time,
	err error) {

	if m == nil {
		return
	}

	result := "ok"
	if err != nil {
		result = "failed"
	}

	m.syncPasses.WithLabelValues(syncType.String(), result).Inc()
	m.syncDuration.WithLabelValues(syncType.String()).Observe(
		time.Since(start).Seconds(),
	)
}

func (m *engineMetrics) observeBroadcast(err error) {
	if m == nil {
		return
	}

	result := "ok"
	switch {
	case err == nil:
	case IsTransportError(err):
		result = "unknown"
	default:
		result = "failed"
	}

	m.broadcasts.WithLabelValues(result).Inc()
}

func (m *engineMetrics) observeGroomed(n int) {
	if m == nil {
		return
	}

	m.groomed.Add(float64(n))
}

func (m *engineMetrics) observeInvitation(side, status string) {
	if m == nil {
		return
	}

	m.invitations.WithLabelValues(side, status).Inc()
}

func (m *engineMetrics) observeRejected(kind OperationKind) {
	if m == nil {
		return
	}

	m.queueRejected.WithLabelValues(kind.String()).Inc()
}

func (m *engineMetrics) setSpendable(sats int64) {
	if m == nil {
		return
	}

	m.spendable.Set(float64(sats))
}
