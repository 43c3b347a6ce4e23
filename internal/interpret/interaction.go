package interpret

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat"

	"mlinterp/internal/dataset"
	"mlinterp/internal/model"
)

// DefaultVarianceTolerance is the relative variance below which an H²
// denominator is treated as zero.
const DefaultVarianceTolerance = 1e-12

// InteractionMode distinguishes the two H-statistic variants.
type InteractionMode string

const (
	// OneVsAll measures how much of the prediction variance of a feature is
	// due to its interaction with every other feature.
	OneVsAll InteractionMode = "one_vs_all"
	// Pairwise measures the interaction between a target and each partner.
	Pairwise InteractionMode = "pairwise"
)

// InteractionConfig configures interaction strength estimation.
type InteractionConfig struct {
	// Target selects pairwise mode. Empty means one-vs-all.
	Target string
	// Features restricts the scored features (one-vs-all) or the partners of
	// Target (pairwise). Empty means every feature other than Target.
	Features []string
	// SampleSize bounds the rows used. One-vs-all cost grows with the square
	// of the row count. Zero uses every row.
	SampleSize int
	Seed       uint64
	// VarianceTolerance overrides DefaultVarianceTolerance.
	VarianceTolerance float64
}

// InteractionScore is one H-statistic. With is empty in one-vs-all mode.
// When the denominator variance is near zero the score is undefined:
// Defined is false and H2 and H are zero.
type InteractionScore struct {
	Feature string  `json:"feature"`
	With    string  `json:"with,omitempty"`
	H2      float64 `json:"h2"`
	H       float64 `json:"h"`
	Defined bool    `json:"defined"`
}

// Name identifies the score as "feature" or "feature:with".
func (s InteractionScore) Name() string {
	if s.With == "" {
		return s.Feature
	}
	return s.Feature + ":" + s.With
}

// InteractionResult holds scores ranked by descending H², undefined last.
type InteractionResult struct {
	Mode   InteractionMode    `json:"mode"`
	Target string             `json:"target,omitempty"`
	Rows   int                `json:"rows"`
	Scores []InteractionScore `json:"scores"`
	// Partial is set when the run was cancelled; Scores then holds only the
	// units that completed.
	Partial bool `json:"partial"`
}

func (cfg InteractionConfig) validate(data *dataset.Dataset) (InteractionConfig, error) {
	if cfg.SampleSize < 0 {
		return cfg, fmt.Errorf("%w: sample size %d", ErrInvalidConfiguration, cfg.SampleSize)
	}
	if cfg.VarianceTolerance < 0 {
		return cfg, fmt.Errorf("%w: variance tolerance %g", ErrInvalidConfiguration, cfg.VarianceTolerance)
	}
	if cfg.VarianceTolerance == 0 {
		cfg.VarianceTolerance = DefaultVarianceTolerance
	}
	if cfg.Target != "" && !data.Has(cfg.Target) {
		return cfg, fmt.Errorf("%w: %s", ErrInvalidFeature, cfg.Target)
	}
	if len(cfg.Features) == 0 {
		for _, n := range data.Names() {
			if n != cfg.Target {
				cfg.Features = append(cfg.Features, n)
			}
		}
	}
	seen := make(map[string]bool, len(cfg.Features))
	for _, f := range cfg.Features {
		if !data.Has(f) {
			return cfg, fmt.Errorf("%w: %s", ErrInvalidFeature, f)
		}
		if f == cfg.Target {
			return cfg, fmt.Errorf("%w: target %s cannot be its own partner", ErrInvalidConfiguration, f)
		}
		if seen[f] {
			return cfg, fmt.Errorf("%w: feature %s listed twice", ErrInvalidConfiguration, f)
		}
		seen[f] = true
	}
	if len(cfg.Features) == 0 {
		return cfg, fmt.Errorf("%w: no features to score", ErrInvalidConfiguration)
	}
	if data.Rows() == 0 {
		return cfg, fmt.Errorf("%w: dataset has no rows", ErrEmptyDomain)
	}
	return cfg, nil
}

// Interaction estimates Friedman's H-statistic. Without a target it scores
// each feature against all others:
//
//	H²(j) = Var(f - PD(j) - PD(-j)) / Var(f)
//
// With a target t it scores each partner k:
//
//	H²(t,k) = Var(PD(t,k) - PD(t) - PD(k)) / Var(PD(t,k))
//
// Every term is evaluated at each row's observed values. Scores are clipped
// to [0,1]. If ctx is cancelled the completed scores are returned with
// Partial set, together with the context error.
func (e *Explainer) Interaction(ctx context.Context, cfg InteractionConfig) (result *InteractionResult, err error) {
	cfg, err = cfg.validate(e.data)
	if err != nil {
		return nil, err
	}

	data := e.data
	if cfg.SampleSize > 0 && cfg.SampleSize < data.Rows() {
		data, _, err = data.Sample(cfg.SampleSize, rand.New(rand.NewPCG(cfg.Seed, subsampleStream)))
		if err != nil {
			return nil, err
		}
	}

	result = &InteractionResult{Mode: OneVsAll, Target: cfg.Target, Rows: data.Rows()}
	analysis := AnalysisInteraction
	if cfg.Target != "" {
		result.Mode = Pairwise
		analysis = AnalysisInteractionPair
	}

	tr := e.track(analysis, len(cfg.Features))
	defer func() { tr.finish(err) }()

	// Shared term: raw predictions (one-vs-all) or the target's curve (pairwise).
	var shared []float64
	if result.Mode == OneVsAll {
		shared, err = model.Checked(ctx, e.model, data)
	} else {
		shared, err = e.pdObserved(ctx, data, cfg.Target)
	}
	if err != nil {
		return nil, err
	}

	scores := make([]InteractionScore, len(cfg.Features))
	completed := make([]bool, len(cfg.Features))
	err = e.forEach(ctx, len(cfg.Features), func(ctx context.Context, k int) error {
		var s InteractionScore
		var err error
		if result.Mode == OneVsAll {
			s, err = e.oneVsAll(ctx, data, cfg.Features[k], shared, cfg.VarianceTolerance)
		} else {
			s, err = e.pairwise(ctx, data, cfg.Target, cfg.Features[k], shared, cfg.VarianceTolerance)
		}
		if err != nil {
			return err
		}
		scores[k] = s
		completed[k] = true
		tr.step(s.Name(), s.H2)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}

	for k, s := range scores {
		if completed[k] {
			result.Scores = append(result.Scores, s)
		}
	}
	result.Partial = len(result.Scores) < len(scores)
	rankInteractions(result.Scores)
	return result, err
}

func (e *Explainer) oneVsAll(ctx context.Context, data *dataset.Dataset, feature string, f []float64, tol float64) (InteractionScore, error) {
	s := InteractionScore{Feature: feature}
	pdj, err := e.pdObserved(ctx, data, feature)
	if err != nil {
		return s, err
	}
	pdRest, err := e.pdComplement(ctx, data, feature)
	if err != nil {
		return s, err
	}
	resid := make([]float64, len(f))
	for i := range f {
		resid[i] = f[i] - pdj[i] - pdRest[i]
	}
	return s.set(hStat(resid, f, tol)), nil
}

func (e *Explainer) pairwise(ctx context.Context, data *dataset.Dataset, target, partner string, pdt []float64, tol float64) (InteractionScore, error) {
	s := InteractionScore{Feature: target, With: partner}
	pdk, err := e.pdObserved(ctx, data, partner)
	if err != nil {
		return s, err
	}
	joint, err := e.pdPairObserved(ctx, data, target, partner)
	if err != nil {
		return s, err
	}
	resid := make([]float64, len(joint))
	for i := range joint {
		resid[i] = joint[i] - pdt[i] - pdk[i]
	}
	return s.set(hStat(resid, joint, tol)), nil
}

func (s InteractionScore) set(h2 float64, err error) InteractionScore {
	if err != nil {
		return s
	}
	s.H2, s.H, s.Defined = h2, math.Sqrt(h2), true
	return s
}

// pdObserved returns the partial dependence of feature evaluated at every
// row's own value. Each distinct value is swept once.
func (e *Explainer) pdObserved(ctx context.Context, data *dataset.Dataset, feature string) ([]float64, error) {
	col, err := data.Column(feature)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFeature, err)
	}
	values := col.Float64s()
	uniq := dataset.Unique(values)
	copies := make([]*dataset.Dataset, len(uniq))
	for k, v := range uniq {
		if copies[k], err = data.WithConstant(feature, v); err != nil {
			return nil, err
		}
	}
	preds, err := e.predictCopies(ctx, copies)
	if err != nil {
		return nil, err
	}
	at := make(map[float64]float64, len(uniq))
	for k, v := range uniq {
		at[v] = stat.Mean(preds[k], nil)
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = at[v]
	}
	return out, nil
}

// pdPairObserved is pdObserved for the joint values of two features.
func (e *Explainer) pdPairObserved(ctx context.Context, data *dataset.Dataset, a, b string) ([]float64, error) {
	ca, err := data.Column(a)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFeature, err)
	}
	cb, err := data.Column(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFeature, err)
	}
	type pair struct{ a, b float64 }
	va, vb := ca.Float64s(), cb.Float64s()
	index := make(map[pair]int)
	var uniq []pair
	for i := range va {
		p := pair{va[i], vb[i]}
		if _, ok := index[p]; !ok {
			index[p] = len(uniq)
			uniq = append(uniq, p)
		}
	}
	copies := make([]*dataset.Dataset, len(uniq))
	for k, p := range uniq {
		if copies[k], err = override(data, []fixed{{a, p.a}, {b, p.b}}); err != nil {
			return nil, err
		}
	}
	preds, err := e.predictCopies(ctx, copies)
	if err != nil {
		return nil, err
	}
	means := make([]float64, len(uniq))
	for k := range uniq {
		means[k] = stat.Mean(preds[k], nil)
	}
	out := make([]float64, len(va))
	for i := range va {
		out[i] = means[index[pair{va[i], vb[i]}]]
	}
	return out, nil
}

// pdComplement returns, for each row i, the partial dependence of every
// feature except feature, evaluated at row i: the mean prediction when all
// other features are fixed at row i's values and feature keeps its observed
// distribution.
func (e *Explainer) pdComplement(ctx context.Context, data *dataset.Dataset, feature string) ([]float64, error) {
	copies := make([]*dataset.Dataset, data.Rows())
	for i := range copies {
		var err error
		if copies[i], err = data.Broadcast(i, feature); err != nil {
			return nil, err
		}
	}
	preds, err := e.predictCopies(ctx, copies)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(copies))
	for i, p := range preds {
		out[i] = stat.Mean(p, nil)
	}
	return out, nil
}

// hStat returns Var(num)/Var(den) clipped to [0,1]. A denominator variance
// within tol of zero, relative to the scale of den, is
// ErrInsufficientVariance.
func hStat(num, den []float64, tol float64) (float64, error) {
	if len(den) < 2 {
		return 0, fmt.Errorf("%w: %d rows", ErrInsufficientVariance, len(den))
	}
	vd := stat.Variance(den, nil)
	scale := 1.0
	for _, v := range den {
		scale = math.Max(scale, v*v)
	}
	if !(vd > tol*scale) {
		return 0, fmt.Errorf("%w: variance %g", ErrInsufficientVariance, vd)
	}
	h2 := stat.Variance(num, nil) / vd
	return math.Min(1, math.Max(0, h2)), nil
}

func rankInteractions(scores []InteractionScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		a, b := scores[i], scores[j]
		if a.Defined != b.Defined {
			return a.Defined
		}
		if a.H2 != b.H2 {
			return a.H2 > b.H2
		}
		return a.Name() < b.Name()
	})
}
