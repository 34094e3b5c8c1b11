package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// batch pipeline.
type Metrics struct {
	FetchRequests *prometheus.CounterVec // labels: source={noaa,eia}, outcome={success,error,empty}
	FetchRetries  *prometheus.CounterVec // labels: source
	FetchRows     *prometheus.CounterVec // labels: source
	CitiesFailed  *prometheus.CounterVec // labels: source

	StageDuration    *prometheus.HistogramVec // labels: stage={fetch,merge,quality,anomaly}
	MergedRows       prometheus.Gauge
	AnomaliesFlagged prometheus.Gauge
	PipelineRunning  prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.FetchRequests,
		m.FetchRetries,
		m.FetchRows,
		m.CitiesFailed,
		m.StageDuration,
		m.MergedRows,
		m.AnomaliesFlagged,
		m.PipelineRunning,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weather_energy",
			Name:      "fetch_requests_total",
			Help:      "Per-city fetch results by source and outcome.",
		}, []string{"source", "outcome"}),
		FetchRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weather_energy",
			Name:      "fetch_retries_total",
			Help:      "Retried fetch attempts by source.",
		}, []string{"source"}),
		FetchRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weather_energy",
			Name:      "fetch_rows_total",
			Help:      "Raw observation rows fetched by source.",
		}, []string{"source"}),
		CitiesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weather_energy",
			Name:      "cities_failed_total",
			Help:      "Cities that contributed no rows for a source.",
		}, []string{"source"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "weather_energy",
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of each pipeline stage.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"stage"}),
		MergedRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "weather_energy",
			Name:      "merged_rows",
			Help:      "Rows in the merged dataset after the last merge stage.",
		}),
		AnomaliesFlagged: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "weather_energy",
			Name:      "anomalies_flagged",
			Help:      "Rows flagged by the last anomaly-detection stage.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "weather_energy",
			Name:      "pipeline_running",
			Help:      "1 while a pipeline run is executing, 0 otherwise.",
		}),
	}
}
