// Package loss provides the loss functions used to score model predictions
// against a true response.
package loss

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"mlinterp/internal/dataset"
)

// ErrUnsupportedResponse is returned when a loss is undefined for the kind of
// the response column.
var ErrUnsupportedResponse = errors.New("loss undefined for response kind")

// Func scores predictions against a response. Lower is better.
type Func interface {
	Name() string
	// Supports reports whether the loss is defined for responses of kind k.
	Supports(k dataset.Kind) bool
	Eval(truth, pred []float64) (float64, error)
}

// Check verifies that f is defined for the response column.
func Check(f Func, response *dataset.Column) error {
	if f == nil {
		return errors.New("loss function is nil")
	}
	if response == nil {
		return errors.New("response is nil")
	}
	if !f.Supports(response.Kind()) {
		return fmt.Errorf("%w: %s on %s response %q", ErrUnsupportedResponse, f.Name(), response.Kind(), response.Name())
	}
	if response.Kind() == dataset.Categorical && len(response.Levels()) > 2 {
		return fmt.Errorf("%w: %s needs a binary response, %q has %d levels", ErrUnsupportedResponse, f.Name(), response.Name(), len(response.Levels()))
	}
	return nil
}

func checkLen(truth, pred []float64) error {
	if len(truth) != len(pred) {
		return fmt.Errorf("length mismatch: %d responses, %d predictions", len(truth), len(pred))
	}
	if len(truth) == 0 {
		return errors.New("no observations")
	}
	return nil
}

type regression struct {
	name string
	eval func(truth, pred []float64) float64
}

func (r regression) Name() string                 { return r.name }
func (r regression) Supports(k dataset.Kind) bool { return k == dataset.Continuous }
func (r regression) Eval(truth, pred []float64) (float64, error) {
	if err := checkLen(truth, pred); err != nil {
		return 0, err
	}
	return r.eval(truth, pred), nil
}

// MSE is the mean squared error.
var MSE Func = regression{name: "mse", eval: func(truth, pred []float64) float64 {
	sq := make([]float64, len(truth))
	for i := range truth {
		d := pred[i] - truth[i]
		sq[i] = d * d
	}
	return stat.Mean(sq, nil)
}}

// RMSE is the root mean squared error.
var RMSE Func = regression{name: "rmse", eval: func(truth, pred []float64) float64 {
	v, _ := MSE.Eval(truth, pred)
	return math.Sqrt(v)
}}

// MAE is the mean absolute error.
var MAE Func = regression{name: "mae", eval: func(truth, pred []float64) float64 {
	abs := make([]float64, len(truth))
	for i := range truth {
		abs[i] = math.Abs(pred[i] - truth[i])
	}
	return stat.Mean(abs, nil)
}}

type classification struct {
	name string
	eval func(truth, pred []float64) float64
}

func (c classification) Name() string                 { return c.name }
func (c classification) Supports(k dataset.Kind) bool { return k == dataset.Categorical }
func (c classification) Eval(truth, pred []float64) (float64, error) {
	if err := checkLen(truth, pred); err != nil {
		return 0, err
	}
	return c.eval(truth, pred), nil
}

const probEpsilon = 1e-15

// LogLoss is the binary cross-entropy. Predictions are probabilities of the
// level with code 1.
var LogLoss Func = classification{name: "logloss", eval: func(truth, pred []float64) float64 {
	ll := make([]float64, len(truth))
	for i := range truth {
		p := math.Min(math.Max(pred[i], probEpsilon), 1-probEpsilon)
		if truth[i] >= 0.5 {
			ll[i] = -math.Log(p)
		} else {
			ll[i] = -math.Log(1 - p)
		}
	}
	return stat.Mean(ll, nil)
}}

// ClassificationError is the share of rows where the prediction thresholded at
// 0.5 disagrees with the label code.
var ClassificationError Func = classification{name: "classification_error", eval: func(truth, pred []float64) float64 {
	wrong := 0
	for i := range truth {
		if (pred[i] >= 0.5) != (truth[i] >= 0.5) {
			wrong++
		}
	}
	return float64(wrong) / float64(len(truth))
}}

var registry = map[string]Func{
	MSE.Name():                 MSE,
	RMSE.Name():                RMSE,
	MAE.Name():                 MAE,
	LogLoss.Name():             LogLoss,
	ClassificationError.Name(): ClassificationError,
}

// ByName looks up a loss function.
func ByName(name string) (Func, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown loss %q (known: %v)", name, Names())
	}
	return f, nil
}

// Names lists the registered loss names.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
