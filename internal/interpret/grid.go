package interpret

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"mlinterp/internal/dataset"
)

// GridMethod selects how continuous grids are placed.
type GridMethod string

const (
	// GridEqual places points equally spaced over [min, max].
	GridEqual GridMethod = "equal"
	// GridQuantile places points at evenly spaced empirical quantiles;
	// duplicates are collapsed.
	GridQuantile GridMethod = "quantile"
)

// EqualGrid returns n equally spaced values from lo to hi inclusive. It
// fails with ErrEmptyDomain when lo == hi.
func EqualGrid(lo, hi float64, n int) ([]float64, error) {
	if n < 2 {
		return nil, fmt.Errorf("%w: grid resolution %d, need at least 2", ErrInvalidConfiguration, n)
	}
	if lo > hi {
		return nil, fmt.Errorf("%w: grid bounds %g > %g", ErrInvalidConfiguration, lo, hi)
	}
	if lo == hi {
		return nil, fmt.Errorf("%w: range [%g, %g]", ErrEmptyDomain, lo, hi)
	}
	g := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range g {
		g[i] = lo + float64(i)*step
	}
	g[n-1] = hi
	return g, nil
}

// QuantileGrid returns up to n distinct empirical quantiles of values.
func QuantileGrid(values []float64, n int) ([]float64, error) {
	if n < 2 {
		return nil, fmt.Errorf("%w: grid resolution %d, need at least 2", ErrInvalidConfiguration, n)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: no observations", ErrEmptyDomain)
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	if sorted[0] == sorted[len(sorted)-1] {
		return nil, fmt.Errorf("%w: range [%g, %g]", ErrEmptyDomain, sorted[0], sorted[0])
	}

	g := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		q := stat.Quantile(float64(i)/float64(n-1), stat.Empirical, sorted, nil)
		if len(g) > 0 && q == g[len(g)-1] {
			continue
		}
		g = append(g, q)
	}
	return g, nil
}

// featureGrid is the sweep for one feature.
type featureGrid struct {
	name       string
	kind       dataset.Kind
	values     []float64
	labels     []string
	degenerate bool
}

// buildGrid resolves the grid of a feature. Single-valued features produce a
// one-point grid flagged as degenerate.
func buildGrid(data *dataset.Dataset, name string, cfg PDConfig) (featureGrid, error) {
	col, err := data.Column(name)
	if err != nil {
		return featureGrid{}, fmt.Errorf("%w: %s", ErrInvalidFeature, name)
	}
	desc, err := data.Describe(name)
	if err != nil {
		return featureGrid{}, err
	}
	fg := featureGrid{name: name, kind: desc.Kind}
	if desc.Distinct == 0 {
		return featureGrid{}, fmt.Errorf("%w: feature %s has no observations", ErrEmptyDomain, name)
	}

	if explicit, ok := cfg.GridValues[name]; ok {
		if len(explicit) == 0 {
			return featureGrid{}, fmt.Errorf("%w: empty grid for %s", ErrInvalidConfiguration, name)
		}
		for _, v := range explicit {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return featureGrid{}, fmt.Errorf("%w: grid value %g for %s is not finite", ErrInvalidConfiguration, v, name)
			}
			if desc.Kind == dataset.Categorical && v != math.Trunc(v) {
				return featureGrid{}, fmt.Errorf("%w: grid value %g for %s is not a level code", ErrInvalidConfiguration, v, name)
			}
		}
		fg.values = append([]float64(nil), explicit...)
		if desc.Kind == dataset.Continuous {
			sort.Float64s(fg.values)
		}
	} else if desc.Kind == dataset.Categorical {
		fg.values = desc.Codes
		if order, ok := cfg.Levels[name]; ok {
			fg.values = nil
			for _, l := range order {
				code := col.Code(l)
				if code < 0 {
					return featureGrid{}, fmt.Errorf("%w: feature %s has no level %q", ErrInvalidConfiguration, name, l)
				}
				fg.values = append(fg.values, float64(code))
			}
			if len(fg.values) == 0 {
				return featureGrid{}, fmt.Errorf("%w: empty level order for %s", ErrInvalidConfiguration, name)
			}
		}
	} else {
		switch cfg.GridMethod {
		case GridQuantile:
			fg.values, err = QuantileGrid(col.Float64s(), cfg.GridResolution)
		default:
			fg.values, err = EqualGrid(desc.Min, desc.Max, cfg.GridResolution)
		}
		if err != nil {
			if !isEmptyDomain(err) {
				return featureGrid{}, err
			}
			fg.values = []float64{desc.Min}
		}
	}

	fg.degenerate = len(fg.values) == 1
	if desc.Kind == dataset.Categorical {
		levels := col.Levels()
		for _, v := range fg.values {
			code := int(v)
			if code < 0 || code >= len(levels) {
				return featureGrid{}, fmt.Errorf("%w: code %g outside level set of %s", ErrInvalidConfiguration, v, name)
			}
			fg.labels = append(fg.labels, levels[code])
		}
	}
	return fg, nil
}

func isEmptyDomain(err error) bool {
	return errors.Is(err, ErrEmptyDomain)
}
