// Package telemetry exposes the reconciliation engine's operational signal:
// prometheus instruments plus an in-memory counter snapshot for the admin
// surface. The engine has no durable state, so these counters are the primary
// way operators see it working.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics captures matcher, sweeper, and router telemetry.
type EngineMetrics struct {
	events      *prometheus.CounterVec
	duplicates  prometheus.Counter
	unmatched   *prometheus.CounterVec
	malformed   prometheus.Counter
	expired     prometheus.Counter
	dropped     *prometheus.CounterVec
	settlements *prometheus.CounterVec
	settleFails prometheus.Counter
	deliveries  *prometheus.CounterVec
	sweepSize   prometheus.Histogram
	pending     prometheus.Gauge
	winHistory  prometheus.Gauge

	mu       sync.Mutex
	snapshot CounterSnapshot
}

// CounterSnapshot mirrors the engine counters for the admin HTTP surface.
type CounterSnapshot struct {
	Events       map[string]uint64 `json:"events"`
	Duplicates   uint64            `json:"duplicates"`
	Unmatched    map[string]uint64 `json:"unmatched"`
	Malformed    uint64            `json:"malformed"`
	Expired      uint64            `json:"expired"`
	Dropped      map[string]uint64 `json:"dropped"`
	Settlements  uint64            `json:"settlements"`
	SettleFails  uint64            `json:"settlement_failures"`
	Deliveries   uint64            `json:"deliveries"`
	DeliverFails uint64            `json:"delivery_failures"`
}

// NewEngineMetrics constructs instruments registered against the supplied
// registerer. A nil registerer falls back to the prometheus default.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &EngineMetrics{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{ //nolint:exhaustruct
				Namespace: "postauction",
				Subsystem: "matcher",
				Name:      "events_total",
				Help:      "Total intake events processed, by kind.",
			},
			[]string{"kind"},
		),
		duplicates: prometheus.NewCounter(
			prometheus.CounterOpts{ //nolint:exhaustruct
				Namespace: "postauction",
				Subsystem: "matcher",
				Name:      "duplicate_submissions_total",
				Help:      "Total auction submissions rejected as duplicates.",
			},
		),
		unmatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{ //nolint:exhaustruct
				Namespace: "postauction",
				Subsystem: "matcher",
				Name:      "unmatched_total",
				Help:      "Total events that found no live entry to match, by kind.",
			},
			[]string{"kind"},
		),
		malformed: prometheus.NewCounter(
			prometheus.CounterOpts{ //nolint:exhaustruct
				Namespace: "postauction",
				Subsystem: "matcher",
				Name:      "malformed_total",
				Help:      "Total malformed events converted into error outcomes.",
			},
		),
		expired: prometheus.NewCounter(
			prometheus.CounterOpts{ //nolint:exhaustruct
				Namespace: "postauction",
				Subsystem: "sweeper",
				Name:      "expired_total",
				Help:      "Total pending auctions resolved as implicit losses.",
			},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{ //nolint:exhaustruct
				Namespace: "postauction",
				Subsystem: "intake",
				Name:      "dropped_total",
				Help:      "Total events rejected at intake, by kind.",
			},
			[]string{"kind"},
		),
		settlements: prometheus.NewCounterVec(
			prometheus.CounterOpts{ //nolint:exhaustruct
				Namespace: "postauction",
				Subsystem: "router",
				Name:      "settlements_total",
				Help:      "Total billing settlements issued, by direction.",
			},
			[]string{"direction"},
		),
		settleFails: prometheus.NewCounter(
			prometheus.CounterOpts{ //nolint:exhaustruct
				Namespace: "postauction",
				Subsystem: "router",
				Name:      "settlement_failures_total",
				Help:      "Total billing settlement calls that failed.",
			},
		),
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{ //nolint:exhaustruct
				Namespace: "postauction",
				Subsystem: "router",
				Name:      "deliveries_total",
				Help:      "Total agent delivery attempts, by result.",
			},
			[]string{"result"},
		),
		sweepSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{ //nolint:exhaustruct
				Namespace: "postauction",
				Subsystem: "sweeper",
				Name:      "sweep_batch_size",
				Help:      "Histogram of expired entries returned per sweep.",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
		pending: prometheus.NewGauge(
			prometheus.GaugeOpts{ //nolint:exhaustruct
				Namespace: "postauction",
				Subsystem: "ledger",
				Name:      "pending_auctions",
				Help:      "Auctions currently awaiting an outcome.",
			},
		),
		winHistory: prometheus.NewGauge(
			prometheus.GaugeOpts{ //nolint:exhaustruct
				Namespace: "postauction",
				Subsystem: "history",
				Name:      "win_history_entries",
				Help:      "Matched wins retained for campaign-event attribution.",
			},
		),
	}
	m.snapshot = CounterSnapshot{
		Events:    make(map[string]uint64),
		Unmatched: make(map[string]uint64),
		Dropped:   make(map[string]uint64),
	}
	reg.MustRegister(
		m.events, m.duplicates, m.unmatched, m.malformed, m.expired,
		m.dropped, m.settlements, m.settleFails, m.deliveries,
		m.sweepSize, m.pending, m.winHistory,
	)
	return m
}

// ObserveEvent counts one processed intake event.
func (m *EngineMetrics) ObserveEvent(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
	m.mu.Lock()
	m.snapshot.Events[kind]++
	m.mu.Unlock()
}

// ObserveDuplicate counts one rejected duplicate submission.
func (m *EngineMetrics) ObserveDuplicate() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
	m.mu.Lock()
	m.snapshot.Duplicates++
	m.mu.Unlock()
}

// ObserveUnmatched counts one event that matched nothing.
func (m *EngineMetrics) ObserveUnmatched(kind string) {
	if m == nil {
		return
	}
	m.unmatched.WithLabelValues(kind).Inc()
	m.mu.Lock()
	m.snapshot.Unmatched[kind]++
	m.mu.Unlock()
}

// ObserveMalformed counts one malformed event.
func (m *EngineMetrics) ObserveMalformed() {
	if m == nil {
		return
	}
	m.malformed.Inc()
	m.mu.Lock()
	m.snapshot.Malformed++
	m.mu.Unlock()
}

// ObserveSweep records one sweep pass and its expired entry count.
func (m *EngineMetrics) ObserveSweep(expired int) {
	if m == nil {
		return
	}
	m.sweepSize.Observe(float64(expired))
	if expired <= 0 {
		return
	}
	m.expired.Add(float64(expired))
	m.mu.Lock()
	m.snapshot.Expired += uint64(expired)
	m.mu.Unlock()
}

// ObserveDropped counts one event rejected at intake.
func (m *EngineMetrics) ObserveDropped(kind string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(kind).Inc()
	m.mu.Lock()
	m.snapshot.Dropped[kind]++
	m.mu.Unlock()
}

// ObserveSettlement counts one billing settlement by direction.
func (m *EngineMetrics) ObserveSettlement(direction string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(direction).Inc()
	m.mu.Lock()
	m.snapshot.Settlements++
	m.mu.Unlock()
}

// ObserveSettlementFailure counts one failed billing call.
func (m *EngineMetrics) ObserveSettlementFailure() {
	if m == nil {
		return
	}
	m.settleFails.Inc()
	m.mu.Lock()
	m.snapshot.SettleFails++
	m.mu.Unlock()
}

// ObserveDelivery counts one agent delivery attempt.
func (m *EngineMetrics) ObserveDelivery(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.deliveries.WithLabelValues(result).Inc()
	m.mu.Lock()
	if ok {
		m.snapshot.Deliveries++
	} else {
		m.snapshot.DeliverFails++
	}
	m.mu.Unlock()
}

// SetPending exports the current ledger size.
func (m *EngineMetrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

// SetWinHistory exports the current win-history size.
func (m *EngineMetrics) SetWinHistory(n int) {
	if m == nil {
		return
	}
	m.winHistory.Set(float64(n))
}

// Snapshot copies the current counter state for reporting.
func (m *EngineMetrics) Snapshot() CounterSnapshot {
	if m == nil {
		return CounterSnapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.snapshot
	out.Events = copyCounts(m.snapshot.Events)
	out.Unmatched = copyCounts(m.snapshot.Unmatched)
	out.Dropped = copyCounts(m.snapshot.Dropped)
	return out
}

func copyCounts(src map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
