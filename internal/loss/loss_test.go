package loss

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mlinterp/internal/dataset"
)

func TestRegressionLosses(t *testing.T) {
	truth := []float64{1, 2, 3, 4}
	pred := []float64{2, 2, 1, 4}

	testCases := []struct {
		f    Func
		want float64
	}{
		{MSE, (1.0 + 0 + 4 + 0) / 4},
		{RMSE, math.Sqrt(5.0 / 4)},
		{MAE, (1.0 + 0 + 2 + 0) / 4},
	}
	for _, tc := range testCases {
		t.Run(tc.f.Name(), func(t *testing.T) {
			got, err := tc.f.Eval(truth, pred)
			require.NoError(t, err)
			assert.InDelta(t, tc.want, got, 1e-12)
			assert.True(t, tc.f.Supports(dataset.Continuous))
			assert.False(t, tc.f.Supports(dataset.Categorical))
		})
	}
}

func TestClassificationLosses(t *testing.T) {
	truth := []float64{1, 0, 1, 0}
	pred := []float64{0.9, 0.2, 0.4, 0.6}

	got, err := ClassificationError.Eval(truth, pred)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got, 1e-12)

	got, err = LogLoss.Eval(truth, pred)
	require.NoError(t, err)
	want := -(math.Log(0.9) + math.Log(0.8) + math.Log(0.4) + math.Log(0.4)) / 4
	assert.InDelta(t, want, got, 1e-12)

	got, err = LogLoss.Eval([]float64{1}, []float64{0})
	require.NoError(t, err)
	assert.False(t, math.IsInf(got, 0), "probabilities are clipped")
}

func TestEval_LengthErrors(t *testing.T) {
	_, err := MSE.Eval([]float64{1}, []float64{1, 2})
	assert.Error(t, err)
	_, err = LogLoss.Eval(nil, nil)
	assert.Error(t, err)
}

func TestCheck(t *testing.T) {
	numeric := dataset.NewNumeric("y", []float64{1, 2})
	binary := dataset.NewCategorical("y", []string{"no", "yes"})
	multi := dataset.NewCategorical("y", []string{"a", "b", "c"})

	assert.NoError(t, Check(MSE, numeric))
	assert.ErrorIs(t, Check(MSE, binary), ErrUnsupportedResponse)
	assert.NoError(t, Check(LogLoss, binary))
	assert.ErrorIs(t, Check(LogLoss, numeric), ErrUnsupportedResponse)
	assert.ErrorIs(t, Check(ClassificationError, multi), ErrUnsupportedResponse)
	assert.Error(t, Check(nil, numeric))
	assert.Error(t, Check(MSE, nil))
}

func TestByName(t *testing.T) {
	for _, n := range Names() {
		f, err := ByName(n)
		require.NoError(t, err)
		assert.Equal(t, n, f.Name())
	}
	_, err := ByName("hinge")
	assert.Error(t, err)
}
