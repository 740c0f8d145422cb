package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "optimizer_"

	resultSuccess = "success"
	resultError   = "error"
	resultEmpty   = "empty"
)

var (
	registerOnce sync.Once

	pipelineTotal   *prometheus.CounterVec
	pipelineLatency *prometheus.HistogramVec

	marketFetchTotal   *prometheus.CounterVec
	marketFetchLatency *prometheus.HistogramVec
	marketFallbacks    *prometheus.CounterVec

	cyclesFound prometheus.Counter

	csvUploadTotal *prometheus.CounterVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec

	prefetchTotal *prometheus.CounterVec
)

// Init registers metrics and, when db is set, DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		pipelineTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "pipeline_runs_total",
				Help: "Total view pipeline runs by view and result",
			},
			[]string{"view", "result"},
		)
		pipelineLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "pipeline_latency_seconds",
				Help:    "View pipeline latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"view"},
		)

		marketFetchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "market_fetch_total",
				Help: "Total market data fetches by source and result",
			},
			[]string{"source", "result"},
		)
		marketFetchLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "market_fetch_latency_seconds",
				Help:    "Market data fetch latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		)
		marketFallbacks = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "market_fallback_total",
				Help: "Total synthetic data fallbacks by reason",
			},
			[]string{"reason"},
		)

		cyclesFound = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "cycles_found_total",
				Help: "Total arbitrage cycles produced by the optimizer",
			},
		)

		csvUploadTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "csv_upload_total",
				Help: "Total CSV uploads by result",
			},
			[]string{"result"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "export_total",
				Help: "Total report exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "export_latency_seconds",
				Help:    "Report export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prefetchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "prefetch_total",
				Help: "Total scheduled prefetch runs by result",
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			pipelineTotal,
			pipelineLatency,
			marketFetchTotal,
			marketFetchLatency,
			marketFallbacks,
			cyclesFound,
			csvUploadTotal,
			exportTotal,
			exportLatency,
			prefetchTotal,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObservePipeline records a view pipeline run.
func ObservePipeline(view, result string, duration time.Duration) {
	if view == "" {
		view = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if pipelineTotal != nil {
		pipelineTotal.WithLabelValues(view, result).Inc()
	}
	if pipelineLatency != nil {
		pipelineLatency.WithLabelValues(view).Observe(duration.Seconds())
	}
}

// ObserveMarketFetch records a fetch against a market data source.
func ObserveMarketFetch(source, result string, duration time.Duration) {
	if source == "" {
		source = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if marketFetchTotal != nil {
		marketFetchTotal.WithLabelValues(source, result).Inc()
	}
	if marketFetchLatency != nil {
		marketFetchLatency.WithLabelValues(source).Observe(duration.Seconds())
	}
}

// IncMarketFallback counts a switch to synthetic data.
func IncMarketFallback(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if marketFallbacks != nil {
		marketFallbacks.WithLabelValues(reason).Inc()
	}
}

// AddCyclesFound adds optimizer output to the cycle counter.
func AddCyclesFound(count int) {
	if count <= 0 {
		return
	}
	if cyclesFound != nil {
		cyclesFound.Add(float64(count))
	}
}

// IncCSVUpload counts an uploaded CSV by result.
func IncCSVUpload(result string) {
	if result == "" {
		result = resultSuccess
	}
	if csvUploadTotal != nil {
		csvUploadTotal.WithLabelValues(result).Inc()
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// IncPrefetch counts a scheduled prefetch run.
func IncPrefetch(result string) {
	if result == "" {
		result = resultSuccess
	}
	if prefetchTotal != nil {
		prefetchTotal.WithLabelValues(result).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
	ResultEmpty   = resultEmpty
)
