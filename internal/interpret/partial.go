package interpret

import (
	"context"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/stat"

	"mlinterp/internal/dataset"
)

// DefaultGridResolution is used when PDConfig.GridResolution is zero.
const DefaultGridResolution = 20

// PDConfig configures a partial dependence computation.
type PDConfig struct {
	// Features holds one or two feature names.
	Features []string
	// GridResolution is the number of grid points per continuous feature.
	GridResolution int
	GridMethod     GridMethod
	// GridValues overrides the grid of a feature. Categorical grids are
	// level codes and keep the given order; continuous grids are sorted.
	GridValues map[string][]float64
	// Levels fixes the sweep order of categorical features.
	Levels map[string][]string
	// ICE requests one curve per row.
	ICE bool
	// Center subtracts each ICE curve's value at the first grid point.
	Center bool
}

// Point is one grid location of a partial dependence curve or surface.
type Point struct {
	Values  []float64 `json:"values"`
	Labels  []string  `json:"labels,omitempty"`
	Average float64   `json:"average"`
	// Centered is Average minus the average at the first grid point. It is
	// set only when centering was requested.
	Centered float64 `json:"centered,omitempty"`
}

// ICECurve holds one row's predictions across the grid.
type ICECurve struct {
	Row         int       `json:"row"`
	Predictions []float64 `json:"predictions"`
}

// PartialDependence is a curve (one feature) or surface (two features).
// Points are ordered by the first feature's grid, then the second's.
type PartialDependence struct {
	Features []string       `json:"features"`
	Kinds    []dataset.Kind `json:"kinds"`
	Grids    [][]float64    `json:"grids"`
	Points   []Point        `json:"points"`
	ICE      []ICECurve     `json:"ice,omitempty"`
	Centered bool           `json:"centered"`
	// Degenerate is set when a feature has a single grid point.
	Degenerate bool `json:"degenerate"`
	Rows       int  `json:"rows"`
}

// Name joins the feature names.
func (p *PartialDependence) Name() string {
	return strings.Join(p.Features, ":")
}

// Averages returns the average prediction at each point in order.
func (p *PartialDependence) Averages() []float64 {
	out := make([]float64, len(p.Points))
	for i, pt := range p.Points {
		out[i] = pt.Average
	}
	return out
}

// Surface returns the averages of a two-feature result as a matrix indexed
// by [first grid index][second grid index]. A one-feature result is a
// single row.
func (p *PartialDependence) Surface() [][]float64 {
	if len(p.Grids) < 2 {
		return [][]float64{p.Averages()}
	}
	cols := len(p.Grids[1])
	out := make([][]float64, len(p.Grids[0]))
	for i := range out {
		out[i] = make([]float64, cols)
		for j := range out[i] {
			out[i][j] = p.Points[i*cols+j].Average
		}
	}
	return out
}

// fixed overrides one feature with a constant.
type fixed struct {
	name  string
	value float64
}

func override(base *dataset.Dataset, set []fixed) (*dataset.Dataset, error) {
	d := base
	for _, f := range set {
		var err error
		if d, err = d.WithConstant(f.name, f.value); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (cfg PDConfig) validate(data *dataset.Dataset) (PDConfig, error) {
	if len(cfg.Features) == 0 || len(cfg.Features) > 2 {
		return cfg, fmt.Errorf("%w: partial dependence needs one or two features, got %d", ErrInvalidConfiguration, len(cfg.Features))
	}
	if len(cfg.Features) == 2 && cfg.Features[0] == cfg.Features[1] {
		return cfg, fmt.Errorf("%w: feature %s given twice", ErrInvalidConfiguration, cfg.Features[0])
	}
	for _, f := range cfg.Features {
		if !data.Has(f) {
			return cfg, fmt.Errorf("%w: %s", ErrInvalidFeature, f)
		}
	}
	if cfg.GridResolution == 0 {
		cfg.GridResolution = DefaultGridResolution
	}
	if cfg.GridResolution < 2 {
		return cfg, fmt.Errorf("%w: grid resolution %d, need at least 2", ErrInvalidConfiguration, cfg.GridResolution)
	}
	switch cfg.GridMethod {
	case "", GridEqual, GridQuantile:
	default:
		return cfg, fmt.Errorf("%w: unknown grid method %q", ErrInvalidConfiguration, cfg.GridMethod)
	}
	if cfg.Center && !cfg.ICE {
		cfg.ICE = true
	}
	if data.Rows() == 0 {
		return cfg, fmt.Errorf("%w: dataset has no rows", ErrEmptyDomain)
	}
	return cfg, nil
}

// PartialDependence sweeps one or two features across their grids while all
// other features keep their per-row values, and averages the predictions.
// A feature with zero observed range yields a single-point curve flagged
// Degenerate.
func (e *Explainer) PartialDependence(ctx context.Context, cfg PDConfig) (result *PartialDependence, err error) {
	cfg, err = cfg.validate(e.data)
	if err != nil {
		return nil, err
	}

	grids := make([]featureGrid, len(cfg.Features))
	for i, f := range cfg.Features {
		if grids[i], err = buildGrid(e.data, f, cfg); err != nil {
			return nil, err
		}
	}

	points := cartesian(grids)
	copies := make([]*dataset.Dataset, len(points))
	for i, pt := range points {
		set := make([]fixed, len(grids))
		for j, g := range grids {
			set[j] = fixed{name: g.name, value: pt.Values[j]}
		}
		if copies[i], err = override(e.data, set); err != nil {
			return nil, err
		}
	}

	_, chunks := e.chunking(len(copies))
	tr := e.track(AnalysisPartial, chunks)
	defer func() { tr.finish(err) }()

	pred, err := e.evaluate(ctx, copies, func(done, total int) {
		tr.step(fmt.Sprintf("%s chunk %d/%d", strings.Join(cfg.Features, ":"), done, total), 0)
	})
	if err != nil {
		return nil, err
	}

	result = &PartialDependence{
		Features: append([]string(nil), cfg.Features...),
		Rows:     e.data.Rows(),
		Centered: cfg.Center,
	}
	for _, g := range grids {
		result.Kinds = append(result.Kinds, g.kind)
		result.Grids = append(result.Grids, g.values)
		result.Degenerate = result.Degenerate || g.degenerate
	}
	for i := range points {
		points[i].Average = stat.Mean(pred[i], nil)
		if cfg.Center {
			points[i].Centered = points[i].Average - points[0].Average
		}
	}
	result.Points = points

	if cfg.ICE {
		result.ICE = make([]ICECurve, e.data.Rows())
		for r := range result.ICE {
			curve := make([]float64, len(points))
			for k := range points {
				curve[k] = pred[k][r]
			}
			if cfg.Center {
				first := curve[0]
				for k := range curve {
					curve[k] -= first
				}
			}
			result.ICE[r] = ICECurve{Row: r, Predictions: curve}
		}
	}
	return result, nil
}

func cartesian(grids []featureGrid) []Point {
	labelled := false
	for _, g := range grids {
		labelled = labelled || g.labels != nil
	}
	points := []Point{{}}
	for _, g := range grids {
		next := make([]Point, 0, len(points)*len(g.values))
		for _, p := range points {
			for k, v := range g.values {
				np := Point{Values: append(append([]float64(nil), p.Values...), v)}
				if labelled {
					label := fmt.Sprintf("%g", v)
					if g.labels != nil {
						label = g.labels[k]
					}
					np.Labels = append(append([]string(nil), p.Labels...), label)
				}
				next = append(next, np)
			}
		}
		points = next
	}
	return points
}
