package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Per-component counters and histograms for the readiness pipeline.

var (
	// Slot clock
	SlotPollsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mintready",
		Subsystem: "slotclock",
		Name:      "polls_total",
		Help:      "Total slot poll attempts",
	})

	SlotPollErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mintready",
		Subsystem: "slotclock",
		Name:      "poll_errors_total",
		Help:      "Total failed slot polls (swallowed, retried next tick)",
	})

	SlotAdvancesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mintready",
		Subsystem: "slotclock",
		Name:      "advances_total",
		Help:      "Total slot-advanced events emitted",
	})

	// Pipeline
	EventsProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mintready",
		Subsystem: "pipeline",
		Name:      "events_processed_total",
		Help:      "Total ledger events consumed from the feed",
	})

	EventErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mintready",
		Subsystem: "pipeline",
		Name:      "event_errors_total",
		Help:      "Total ledger events that failed processing and were skipped",
	})

	// Evidence aggregator
	SamplesAddedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mintready",
		Subsystem: "evidence",
		Name:      "samples_added_total",
		Help:      "Total evidence samples accepted by the aggregator",
	})

	SamplesDedupedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mintready",
		Subsystem: "evidence",
		Name:      "samples_deduped_total",
		Help:      "Total evidence samples dropped as duplicate signatures",
	})

	SamplesPrunedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mintready",
		Subsystem: "evidence",
		Name:      "samples_pruned_total",
		Help:      "Total evidence samples pruned past the retention window",
	})

	// Readiness probes
	ProbeAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mintready",
		Subsystem: "readiness",
		Name:      "probe_attempts_total",
		Help:      "Total probe attempts, including retries",
	}, []string{"probe"})

	ProbeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mintready",
		Subsystem: "readiness",
		Name:      "probe_errors_total",
		Help:      "Total probe failures after retry exhaustion",
	}, []string{"probe"})

	ProbeCacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mintready",
		Subsystem: "readiness",
		Name:      "probe_cache_hits_total",
		Help:      "Total probe results served from cache",
	}, []string{"probe"})

	ProbeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mintready",
		Subsystem: "readiness",
		Name:      "probe_duration_seconds",
		Help:      "Probe round-trip duration",
		Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"probe"})

	// Readiness outcomes
	TriggersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mintready",
		Subsystem: "readiness",
		Name:      "triggers_total",
		Help:      "Total one-shot readiness triggers fired",
	})

	PendingStatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mintready",
		Subsystem: "readiness",
		Name:      "pending_states_total",
		Help:      "Total non-terminal state updates emitted",
	})

	FinalReprobeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mintready",
		Subsystem: "readiness",
		Name:      "final_reprobe_duration_seconds",
		Help:      "Final reprobe wall time before a trigger decision",
		Buckets:   []float64{0.005, 0.01, 0.015, 0.02, 0.03, 0.05, 0.1, 0.25},
	})

	StatesEvictedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mintready",
		Subsystem: "readiness",
		Name:      "states_evicted_total",
		Help:      "Total idle asset states evicted by the TTL sweep",
	})

	RecoveredPanicsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mintready",
		Subsystem: "readiness",
		Name:      "recovered_panics_total",
		Help:      "Total panics recovered during per-asset processing",
	})

	// RPC endpoint pool
	PoolFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mintready",
		Subsystem: "rpcpool",
		Name:      "failures_total",
		Help:      "Total failures reported against an endpoint",
	}, []string{"endpoint"})

	PoolExclusionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mintready",
		Subsystem: "rpcpool",
		Name:      "exclusions_total",
		Help:      "Total times an endpoint was temporarily excluded",
	}, []string{"endpoint"})

	// Quote probe
	QuoteRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mintready",
		Subsystem: "quote",
		Name:      "requests_total",
		Help:      "Total price-routing quote requests",
	})

	QuoteErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mintready",
		Subsystem: "quote",
		Name:      "errors_total",
		Help:      "Total failed quote requests",
	})
)
