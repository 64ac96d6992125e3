// Package metrics exposes the Prometheus collectors fightcore's pipeline
// components record against, plus generic observation hooks that any
// core/service.Descriptor-tagged component can bind to for free
// start/duration instrumentation.
package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	core "github.com/ringlogic/fightcore/internal/core/service"
)

var (
	// Registry holds every fightcore-specific Prometheus collector.
	Registry = prometheus.NewRegistry()

	framesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fightcore",
			Subsystem: "ingest",
			Name:      "frames_total",
			Help:      "Total number of frames accepted by the stream ingestor.",
		},
		[]string{"feed_id"},
	)

	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fightcore",
			Subsystem: "ingest",
			Name:      "frames_dropped_total",
			Help:      "Total number of frames dropped because the feed transport failed.",
		},
		[]string{"feed_id"},
	)

	routerLoadScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fightcore",
			Subsystem: "router",
			Name:      "worker_load_score",
			Help:      "Most recently computed load score for a worker (lower is less loaded).",
		},
		[]string{"worker_id"},
	)

	routerDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fightcore",
			Subsystem: "router",
			Name:      "decisions_total",
			Help:      "Total number of routing decisions made, by outcome.",
		},
		[]string{"outcome"},
	)

	workerHealthTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fightcore",
			Subsystem: "router",
			Name:      "worker_health_transitions_total",
			Help:      "Total number of worker health state transitions.",
		},
		[]string{"worker_id", "from", "to"},
	)

	dedupOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fightcore",
			Subsystem: "pipeline",
			Name:      "dedup_outcomes_total",
			Help:      "Total number of events classified as duplicate or admitted by the dedup gate.",
		},
		[]string{"outcome"},
	)

	scoringInvariantViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fightcore",
			Subsystem: "scoring",
			Name:      "invariant_violations_total",
			Help:      "Total number of scoring invariant violations (fatal; withheld verdicts).",
		},
		[]string{"bout_id"},
	)

	scoringDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fightcore",
			Subsystem: "scoring",
			Name:      "round_score_duration_seconds",
			Help:      "Duration of scoring a single round.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"status"},
	)

	auditChainLength = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fightcore",
			Subsystem: "audit",
			Name:      "chain_length",
			Help:      "Current length of a bout's audit hash chain.",
		},
		[]string{"bout_id"},
	)

	statsCacheOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fightcore",
			Subsystem: "stats",
			Name:      "cache_outcomes_total",
			Help:      "Total number of stats queries served from cache vs recomputed.",
		},
		[]string{"outcome"},
	)

	observationCollectors sync.Map
)

func init() {
	Registry.MustRegister(
		framesIngested,
		framesDropped,
		routerLoadScore,
		routerDecisions,
		workerHealthTransitions,
		dedupOutcomes,
		scoringInvariantViolations,
		scoringDuration,
		auditChainLength,
		statsCacheOutcomes,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordFrameIngested increments the per-feed frame counter.
func RecordFrameIngested(feedID string) {
	framesIngested.WithLabelValues(feedID).Inc()
}

// RecordFrameDropped increments the per-feed dropped-frame counter.
func RecordFrameDropped(feedID string) {
	framesDropped.WithLabelValues(feedID).Inc()
}

// RecordWorkerLoadScore sets the most recently computed load score for a worker.
func RecordWorkerLoadScore(workerID string, score float64) {
	routerLoadScore.WithLabelValues(workerID).Set(score)
}

// RecordRoutingDecision increments the routing outcome counter ("routed", "no-worker", "dropped").
func RecordRoutingDecision(outcome string) {
	routerDecisions.WithLabelValues(outcome).Inc()
}

// RecordWorkerHealthTransition increments the worker health transition counter.
func RecordWorkerHealthTransition(workerID, from, to string) {
	workerHealthTransitions.WithLabelValues(workerID, from, to).Inc()
}

// RecordDedupOutcome increments the dedup outcome counter ("duplicate", "confidence", "accepted").
func RecordDedupOutcome(outcome string) {
	dedupOutcomes.WithLabelValues(outcome).Inc()
}

// RecordScoringInvariantViolation increments the fatal scoring invariant counter for a bout.
func RecordScoringInvariantViolation(boutID string) {
	scoringInvariantViolations.WithLabelValues(boutID).Inc()
}

// RecordScoringDuration observes how long a round took to score.
func RecordScoringDuration(status string, duration time.Duration) {
	scoringDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// SetAuditChainLength sets the current audit chain length for a bout.
func SetAuditChainLength(boutID string, length int) {
	auditChainLength.WithLabelValues(boutID).Set(float64(length))
}

// RecordStatsCacheOutcome increments the stats cache outcome counter ("hit", "miss").
func RecordStatsCacheOutcome(outcome string) {
	statsCacheOutcomes.WithLabelValues(outcome).Inc()
}

type observationCollector struct {
	gauge *prometheus.GaugeVec
	hist  *prometheus.HistogramVec
}

// ObservationHooks creates core.ObservationHooks backed by Prometheus
// metrics, identified by namespace/subsystem/name. Hooks for the same
// triple share one pair of collectors across calls.
func ObservationHooks(namespace, subsystem, name string) core.ObservationHooks {
	key := namespace + ":" + subsystem + ":" + name
	var collector observationCollector
	if found, ok := observationCollectors.Load(key); ok {
		collector = found.(observationCollector)
	} else {
		collector = createObservationCollector(namespace, subsystem, name)
		observationCollectors.Store(key, collector)
	}
	return core.ObservationHooks{
		OnStart: func(ctx context.Context, meta map[string]string) {
			collector.gauge.WithLabelValues(metaLabel(meta)).Inc()
		},
		OnComplete: func(ctx context.Context, meta map[string]string, err error, duration time.Duration) {
			label := metaLabel(meta)
			collector.gauge.WithLabelValues(label).Dec()
			status := "success"
			if err != nil {
				status = "error"
			}
			collector.hist.WithLabelValues(label, status).Observe(duration.Seconds())
		},
	}
}

func createObservationCollector(namespace, subsystem, name string) observationCollector {
	gauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name + "_in_flight",
			Help:      "Current operations in flight for " + subsystem,
		},
		[]string{"resource"},
	)
	hist := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name + "_duration_seconds",
			Help:      "Duration of operations for " + subsystem,
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"resource", "status"},
	)
	Registry.MustRegister(gauge, hist)
	return observationCollector{gauge: gauge, hist: hist}
}

func metaLabel(meta map[string]string) string {
	if meta == nil {
		return "unknown"
	}
	for _, key := range []string{"feed_id", "worker_id", "bout_id", "stream_id"} {
		if id, ok := meta[key]; ok && id != "" {
			return id
		}
	}
	return "unknown"
}

// HarmonizerComputeHooks captures the harmonizer's single-threaded compute loop iterations.
func HarmonizerComputeHooks() core.ObservationHooks {
	return ObservationHooks("fightcore", "harmonizer", "compute")
}

// SmootherWindowHooks captures temporal smoother window evaluations.
func SmootherWindowHooks() core.ObservationHooks {
	return ObservationHooks("fightcore", "smoother", "window")
}

// FusionWindowHooks captures multi-camera fusion window evaluations.
func FusionWindowHooks() core.ObservationHooks {
	return ObservationHooks("fightcore", "fusion", "window")
}
