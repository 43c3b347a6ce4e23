// Package model defines the prediction capability the interpretation engine
// explains, together with adapters that bring concrete models to it.
//
// The engine never trains or inspects a model. It only calls Predict on
// datasets it constructs and treats the call as synchronous and free of side
// effects.
package model

import (
	"context"
	"fmt"

	"mlinterp/internal/dataset"
)

// Model predicts one numeric output per dataset row.
type Model interface {
	Predict(ctx context.Context, rows *dataset.Dataset) ([]float64, error)
}

// Func adapts an ordinary function to Model.
type Func func(ctx context.Context, rows *dataset.Dataset) ([]float64, error)

// Predict calls f.
func (f Func) Predict(ctx context.Context, rows *dataset.Dataset) ([]float64, error) {
	return f(ctx, rows)
}

// RowFunc adapts a per-row scoring function to Model.
type RowFunc func(row dataset.Row) float64

// Predict evaluates f on every row.
func (f RowFunc) Predict(ctx context.Context, rows *dataset.Dataset) ([]float64, error) {
	out := make([]float64, rows.Rows())
	for i := range out {
		out[i] = f(rows.Row(i))
	}
	return out, nil
}

// Checked calls m and verifies that one prediction is returned per row.
func Checked(ctx context.Context, m Model, rows *dataset.Dataset) ([]float64, error) {
	if m == nil {
		return nil, fmt.Errorf("model is nil")
	}
	pred, err := m.Predict(ctx, rows)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	if len(pred) != rows.Rows() {
		return nil, fmt.Errorf("predict: got %d predictions for %d rows", len(pred), rows.Rows())
	}
	return pred, nil
}
