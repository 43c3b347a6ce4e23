package model

import (
	"context"
	"time"

	"mlinterp/internal/dataset"
)

// MetricsInterface receives per-call model telemetry.
type MetricsInterface interface {
	PredictCallsInc()
	PredictFailuresInc()
	PredictedRowsAdd(n float64)
	PredictLatencyObserve(seconds float64)
}

type instrumented struct {
	next    Model
	metrics MetricsInterface
}

// Instrumented wraps m so every Predict call is reported to metrics.
func Instrumented(m Model, metrics MetricsInterface) Model {
	if metrics == nil {
		return m
	}
	return &instrumented{next: m, metrics: metrics}
}

func (i *instrumented) Predict(ctx context.Context, rows *dataset.Dataset) ([]float64, error) {
	start := time.Now()
	pred, err := i.next.Predict(ctx, rows)
	i.metrics.PredictCallsInc()
	i.metrics.PredictLatencyObserve(time.Since(start).Seconds())
	if err != nil {
		i.metrics.PredictFailuresInc()
		return nil, err
	}
	i.metrics.PredictedRowsAdd(float64(rows.Rows()))
	return pred, nil
}
