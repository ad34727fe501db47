// Package metrics exposes the scheduler's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label names.
const (
	LabelGameType = "game_type"
	LabelMode     = "mode"
	LabelSubject  = "subject"
	LabelEvent    = "event"
)

// Settlement modes recorded on SettlementsTotal.
const (
	ModeFair        = "fair"
	ModeProtected   = "protected"
	ModeFallback    = "fallback"
	ModeRepublished = "republished"
)

var (
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wheelhouse_settlements_total",
		Help: "Total settled periods by game type and selection mode",
	}, []string{LabelGameType, LabelMode})

	SettlementErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wheelhouse_settlement_errors_total",
		Help: "Total terminal settlement failures by game type",
	}, []string{LabelGameType})

	SettlementDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wheelhouse_settlement_duration_seconds",
		Help:    "Settlement latency from lock acquisition to commit",
		Buckets: prometheus.DefBuckets,
	}, []string{LabelGameType})

	LockContention = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wheelhouse_lock_contention_total",
		Help: "Settlement lock acquisitions lost to another instance",
	}, []string{LabelGameType})

	SnapshotWriteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wheelhouse_snapshot_write_errors_total",
		Help: "Failed period snapshot writes",
	}, []string{LabelGameType})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wheelhouse_events_published_total",
		Help: "Lifecycle events published by subject",
	}, []string{LabelSubject})

	BroadcastDedupHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wheelhouse_broadcast_dedup_hits_total",
		Help: "Broadcasts suppressed by the dedup ledger",
	}, []string{LabelEvent})

	ProofPoolSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wheelhouse_proof_pool_size",
		Help: "Pre-fetched proof candidates per duration",
	}, []string{"duration"})

	ProofSynthesized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wheelhouse_proof_synthesized_total",
		Help: "Fairness proofs synthesized because a pool bucket was empty",
	})

	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wheelhouse_rooms_active",
		Help: "Rooms this instance runs a lifecycle loop for",
	})
)
