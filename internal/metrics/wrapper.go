package metrics

import "github.com/prometheus/client_golang/prometheus"

// Interfaces for metrics to avoid circular imports
type MetricsCounter interface {
	Inc()
}

type MetricsGauge interface {
	Set(float64)
	Add(float64)
	Inc()
	Dec()
}

// MetricsWrapper adapts Metrics to the narrow interfaces the model, interpret
// and progress packages declare.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) PredictCallsInc() { w.m.PredictCalls.Inc() }

func (w *MetricsWrapper) PredictFailuresInc() { w.m.PredictFailures.Inc() }

func (w *MetricsWrapper) PredictedRowsAdd(n float64) { w.m.PredictedRows.Add(n) }

func (w *MetricsWrapper) PredictLatencyObserve(seconds float64) {
	w.m.PredictLatency.Observe(seconds)
}

func (w *MetricsWrapper) AnalysisDurationObserve(analysis string, seconds float64) {
	w.m.AnalysisDuration.WithLabelValues(analysis).Observe(seconds)
}

func (w *MetricsWrapper) AnalysisFailuresInc(analysis string) {
	w.m.AnalysisFailures.WithLabelValues(analysis).Inc()
}

func (w *MetricsWrapper) AnalysisUnitsInc(analysis string) {
	w.m.AnalysisUnits.WithLabelValues(analysis).Inc()
}

func (w *MetricsWrapper) ActiveAnalyses() MetricsGauge {
	return &GaugeWrapper{w.m.ActiveAnalyses}
}

func (w *MetricsWrapper) ProgressClients() MetricsGauge {
	return &GaugeWrapper{w.m.ProgressClients}
}

func (w *MetricsWrapper) RunsStored() MetricsCounter {
	return &CounterWrapper{w.m.RunsStored}
}

type CounterWrapper struct {
	c prometheus.Counter
}

func (cw *CounterWrapper) Inc() {
	cw.c.Inc()
}

type GaugeWrapper struct {
	g prometheus.Gauge
}

func (gw *GaugeWrapper) Set(v float64) { gw.g.Set(v) }
func (gw *GaugeWrapper) Add(v float64) { gw.g.Add(v) }
func (gw *GaugeWrapper) Inc()          { gw.g.Inc() }
func (gw *GaugeWrapper) Dec()          { gw.g.Dec() }
