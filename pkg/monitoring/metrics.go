package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheLookupsTotal counts cache lookups by cache name and result.
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_cache_lookups_total",
			Help: "Total cache lookups by cache and result (hit/miss/expired)",
		},
		[]string{"cache", "result"},
	)

	// FallbacksTotal counts failsafe resolutions by level.
	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_fallbacks_total",
			Help: "Total failsafe resolutions by fallback level",
		},
		[]string{"level"},
	)

	// TriStoreWritesTotal counts tri-store write outcomes per target store.
	TriStoreWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_tristore_writes_total",
			Help: "Tri-store write outcomes by store and status (ok/failed/skipped)",
		},
		[]string{"store", "status"},
	)

	// ToolCallsTotal counts tool invocations by tool and source.
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_tool_calls_total",
			Help: "Tool invocations by tool and source (cache/live/error)",
		},
		[]string{"tool", "source"},
	)

	// TurnDuration measures end-to-end conversation turn duration.
	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assistant_turn_duration_seconds",
			Help:    "Conversation turn duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"fallback_level"},
	)

	// IntentSwitchesTotal counts tool-driven intent reclassifications.
	IntentSwitchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_intent_switches_total",
			Help: "Intent reclassifications by trigger (tool_usage/query)",
		},
		[]string{"trigger"},
	)
)
