// Package interpret explains fitted predictive models without looking inside
// them. It provides three analyses over any model.Model:
//
//   - permutation feature importance
//   - partial dependence and individual conditional expectation (ICE) curves
//   - Friedman's H-statistic of interaction strength
//
// Every analysis is self-contained: nothing is cached between calls and, for
// a fixed seed, results are deterministic regardless of the worker count.
// The dominant cost is model prediction on perturbed copies of the dataset;
// copies are stacked so that many of them are predicted in a single call.
package interpret

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"mlinterp/internal/dataset"
	"mlinterp/internal/model"
)

// Analysis names used in progress events, logs and metrics.
const (
	AnalysisImportance      = "permutation_importance"
	AnalysisPartial         = "partial_dependence"
	AnalysisInteraction     = "interaction"
	AnalysisInteractionPair = "interaction_pairwise"
)

// MetricsInterface receives per-analysis telemetry.
type MetricsInterface interface {
	AnalysisDurationObserve(analysis string, seconds float64)
	AnalysisFailuresInc(analysis string)
	AnalysisUnitsInc(analysis string)
}

// Progress is emitted after each completed unit of work: a feature for
// permutation importance, a grid chunk for partial dependence, a feature or
// pair for interaction strength.
type Progress struct {
	Analysis string        `json:"analysis"`
	Unit     string        `json:"unit"`
	Done     int           `json:"done"`
	Total    int           `json:"total"`
	Value    float64       `json:"value"`
	Elapsed  time.Duration `json:"elapsed"`
}

// ProgressFunc receives progress events. Calls are serialised.
type ProgressFunc func(Progress)

// Options tune execution. The zero value predicts every copy in one call on a
// single worker.
type Options struct {
	// Workers bounds concurrent units of work. Zero means GOMAXPROCS.
	Workers int
	// MaxBatchRows caps the rows passed to a single Predict call. Zero means
	// no cap. A single copy is never split.
	MaxBatchRows int
	Progress     ProgressFunc
	Metrics      MetricsInterface
}

// Explainer binds a model to a reference dataset. It borrows both and never
// mutates them; it holds no other state, so one Explainer may serve
// concurrent analyses.
type Explainer struct {
	model model.Model
	data  *dataset.Dataset
	opts  Options
}

// New creates an explainer.
func New(m model.Model, data *dataset.Dataset, opts Options) (*Explainer, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: model is nil", ErrInvalidConfiguration)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: dataset is nil", ErrInvalidConfiguration)
	}
	if opts.Workers < 0 || opts.MaxBatchRows < 0 {
		return nil, fmt.Errorf("%w: workers and batch rows must be non-negative", ErrInvalidConfiguration)
	}
	return &Explainer{model: m, data: data, opts: opts}, nil
}

// Data returns the reference dataset.
func (e *Explainer) Data() *dataset.Dataset { return e.data }

func (e *Explainer) workers() int {
	if e.opts.Workers > 0 {
		return e.opts.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// predictCopies predicts each copy and returns one prediction vector per copy.
// Consecutive copies are stacked into batches bounded by MaxBatchRows.
func (e *Explainer) predictCopies(ctx context.Context, copies []*dataset.Dataset) ([][]float64, error) {
	out := make([][]float64, len(copies))
	for start := 0; start < len(copies); {
		end, rows := start, 0
		for end < len(copies) {
			n := copies[end].Rows()
			if end > start && e.opts.MaxBatchRows > 0 && rows+n > e.opts.MaxBatchRows {
				break
			}
			rows += n
			end++
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stacked, err := dataset.Stack(copies[start:end]...)
		if err != nil {
			return nil, err
		}
		pred, err := model.Checked(ctx, e.model, stacked)
		if err != nil {
			return nil, err
		}
		off := 0
		for i := start; i < end; i++ {
			n := copies[i].Rows()
			out[i] = pred[off : off+n]
			off += n
		}
		start = end
	}
	return out, nil
}

// evaluate predicts copies split into contiguous chunks, one chunk per worker.
// onChunk, if set, is called after each chunk completes.
func (e *Explainer) evaluate(ctx context.Context, copies []*dataset.Dataset, onChunk func(done, total int)) ([][]float64, error) {
	out := make([][]float64, len(copies))
	size, total := e.chunking(len(copies))
	if total == 0 {
		return out, nil
	}

	var mu sync.Mutex
	done := 0
	err := e.forEach(ctx, total, func(ctx context.Context, c int) error {
		lo := c * size
		hi := min(lo+size, len(copies))
		pred, err := e.predictCopies(ctx, copies[lo:hi])
		if err != nil {
			return err
		}
		copy(out[lo:hi], pred)
		if onChunk != nil {
			mu.Lock()
			done++
			onChunk(done, total)
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// chunking splits n copies into at most Workers contiguous chunks.
func (e *Explainer) chunking(n int) (size, total int) {
	chunks := min(e.workers(), n)
	if chunks == 0 {
		return 0, 0
	}
	size = (n + chunks - 1) / chunks
	return size, (n + size - 1) / size
}

// forEach runs fn for i in [0,n) on at most Workers goroutines. It stops
// scheduling work once ctx is done or a call fails.
func (e *Explainer) forEach(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers())
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// tracker serialises progress delivery for one analysis call.
type tracker struct {
	mu       sync.Mutex
	analysis string
	total    int
	done     int
	start    time.Time
	fn       ProgressFunc
	metrics  MetricsInterface
}

func (e *Explainer) track(analysis string, total int) *tracker {
	log.Info().
		Str("analysis", analysis).
		Int("units", total).
		Int("rows", e.data.Rows()).
		Int("workers", e.workers()).
		Msg("analysis started")
	return &tracker{analysis: analysis, total: total, start: time.Now(), fn: e.opts.Progress, metrics: e.opts.Metrics}
}

func (t *tracker) step(unit string, value float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done++
	if t.metrics != nil {
		t.metrics.AnalysisUnitsInc(t.analysis)
	}
	log.Debug().
		Str("analysis", t.analysis).
		Str("unit", unit).
		Int("done", t.done).
		Int("total", t.total).
		Float64("value", value).
		Msg("unit completed")
	if t.fn != nil {
		t.fn(Progress{
			Analysis: t.analysis,
			Unit:     unit,
			Done:     t.done,
			Total:    t.total,
			Value:    value,
			Elapsed:  time.Since(t.start),
		})
	}
}

func (t *tracker) finish(err error) {
	elapsed := time.Since(t.start)
	if t.metrics != nil {
		t.metrics.AnalysisDurationObserve(t.analysis, elapsed.Seconds())
		if err != nil {
			t.metrics.AnalysisFailuresInc(t.analysis)
		}
	}
	if err != nil {
		log.Warn().Err(err).Str("analysis", t.analysis).Dur("elapsed", elapsed).Msg("analysis failed")
		return
	}
	log.Info().Str("analysis", t.analysis).Dur("elapsed", elapsed).Msg("analysis completed")
}
