// Package metrics provides Prometheus metrics for the interpretation engine.
// It covers model prediction calls, analysis runs, progress subscribers and
// result persistence, exposed through the CLI's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	// Model metrics
	PredictCalls    prometheus.Counter   // Predict calls issued to the model
	PredictFailures prometheus.Counter   // Predict calls that returned an error
	PredictedRows   prometheus.Counter   // Rows passed to successful Predict calls
	PredictLatency  prometheus.Histogram // Predict call latency in seconds

	// Analysis metrics, labelled by analysis name
	AnalysisDuration *prometheus.HistogramVec
	AnalysisFailures *prometheus.CounterVec
	AnalysisUnits    *prometheus.CounterVec
	ActiveAnalyses   prometheus.Gauge

	// Output metrics
	ProgressClients prometheus.Gauge   // Connected websocket progress subscribers
	RunsStored      prometheus.Counter // Runs persisted to the result store
}

// New creates and registers all metrics with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics registered with registerer. Tests pass a
// fresh prometheus.NewRegistry().
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		PredictCalls: factory.NewCounter(prometheus.CounterOpts{
			Name: "model_predict_calls_total",
			Help: "Total number of model predict calls",
		}),
		PredictFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "model_predict_failures_total",
			Help: "Total number of failed model predict calls",
		}),
		PredictedRows: factory.NewCounter(prometheus.CounterOpts{
			Name: "model_predicted_rows_total",
			Help: "Total number of rows scored by the model",
		}),
		PredictLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "model_predict_latency_seconds",
			Help:    "Model predict call latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
		}),
		AnalysisDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "analysis_duration_seconds",
			Help:    "Wall-clock duration of an analysis in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 12),
		}, []string{"analysis"}),
		AnalysisFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "analysis_failures_total",
			Help: "Total number of analyses that returned an error",
		}, []string{"analysis"}),
		AnalysisUnits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "analysis_units_total",
			Help: "Total number of completed units of work (features, grid chunks, pairs)",
		}, []string{"analysis"}),
		ActiveAnalyses: factory.NewGauge(prometheus.GaugeOpts{
			Name: "analyses_active",
			Help: "Number of analyses currently running",
		}),
		ProgressClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "progress_clients",
			Help: "Number of connected progress subscribers",
		}),
		RunsStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "runs_stored_total",
			Help: "Total number of analysis runs persisted",
		}),
	}
}
