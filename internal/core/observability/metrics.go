package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var registry = prometheus.NewRegistry()

// Registry holds every pipeline metric; serve it next to metrics.Provider.
func Registry() *prometheus.Registry { return registry }

var (
	factory = promauto.With(registry)

	cmrPages = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cmr_pages_total",
			Help: "CMR search pages by outcome.",
		},
		[]string{"outcome"},
	)

	cmrSearchDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cmr_search_duration_seconds",
			Help:    "Duration of a complete paginated CMR search.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
	)

	searchCacheResults = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_cache_results_total",
			Help: "Search cache lookups by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	cacheOpDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_op_duration_seconds",
			Help:    "Duration of remote cache operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "outcome"},
	)

	engineCommands = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_commands_total",
			Help: "External geometry/raster commands by tool and outcome.",
		},
		[]string{"tool", "outcome"},
	)

	engineCommandDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_command_duration_seconds",
			Help:    "Duration of external geometry/raster commands.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"tool"},
	)

	stageDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lake_stage_duration_seconds",
			Help:    "Duration of lake extraction stages.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"stage"},
	)

	yearsExtracted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lake_years_extracted_total",
			Help: "Per-year extractions by outcome.",
		},
		[]string{"outcome"},
	)

	downloads = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "downloads_total",
			Help: "Tile downloads by outcome.",
		},
		[]string{"outcome"},
	)
)

// outcome labels
const (
	OutcomeHits   = "hits"
	OutcomeEmpty  = "empty"
	OutcomeBadReq = "bad_request"
	OutcomeFailed = "failed"
	OutcomeOK     = "ok"
	OutcomeHit    = "hit"
	OutcomeMiss   = "miss"
	OutcomeCached = "cached"
)

func ObserveCMRPage(outcome string) {
	cmrPages.WithLabelValues(outcome).Inc()
}

func ObserveCMRSearch(durationSeconds float64) {
	cmrSearchDuration.Observe(durationSeconds)
}

func ObserveSearchCache(tier, outcome string) {
	searchCacheResults.WithLabelValues(tier, outcome).Inc()
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeFailed
	}
	cacheOpDuration.WithLabelValues(op, outcome).Observe(durationSeconds)
}

func ObserveEngineCommand(tool string, err error, durationSeconds float64) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeFailed
	}
	engineCommands.WithLabelValues(tool, outcome).Inc()
	engineCommandDuration.WithLabelValues(tool).Observe(durationSeconds)
}

func ObserveStage(stage string, durationSeconds float64) {
	stageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

func ObserveYearExtracted(err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeFailed
	}
	yearsExtracted.WithLabelValues(outcome).Inc()
}

func ObserveDownload(outcome string) {
	downloads.WithLabelValues(outcome).Inc()
}
