package interpret

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat"

	"mlinterp/internal/dataset"
	"mlinterp/internal/loss"
	"mlinterp/internal/model"
)

// ScoreMode selects how perturbed loss is compared with the baseline.
type ScoreMode string

const (
	// Difference scores mean(Lr) - L0.
	Difference ScoreMode = "difference"
	// Ratio scores mean(Lr) / L0.
	Ratio ScoreMode = "ratio"
)

// subsampleStream is the PCG stream reserved for row subsampling; feature k
// shuffles on stream k+1.
const subsampleStream = math.MaxUint64

// PermutationConfig configures permutation importance.
type PermutationConfig struct {
	// Response holds the true outcome, one value per dataset row.
	Response *dataset.Column
	Loss     loss.Func
	// Repetitions is the number of independent shuffles per feature.
	Repetitions int
	Mode        ScoreMode
	// Features restricts the evaluated features. Empty means all.
	Features []string
	// SampleFraction in (0,1) evaluates a seeded random subset of rows,
	// drawn once and shared by the baseline and every shuffle. The subset
	// adds sampling variance that the per-feature Variance does not capture.
	SampleFraction float64
	Seed           uint64
}

// ImportanceScore is the importance of one feature.
type ImportanceScore struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
	// MeanLoss is the mean loss over the shuffled trials.
	MeanLoss float64 `json:"mean_loss"`
	// Variance of the trial losses; zero when Repetitions is one.
	Variance float64 `json:"variance"`
	StdDev   float64 `json:"std_dev"`
	Trials   int     `json:"trials"`
}

// ImportanceResult holds scores sorted by descending importance.
type ImportanceResult struct {
	Loss         string            `json:"loss"`
	Mode         ScoreMode         `json:"mode"`
	BaselineLoss float64           `json:"baseline_loss"`
	Repetitions  int               `json:"repetitions"`
	Rows         int               `json:"rows"`
	Subsampled   bool              `json:"subsampled"`
	Scores       []ImportanceScore `json:"scores"`
}

// Score looks up the score of a feature.
func (r *ImportanceResult) Score(feature string) (ImportanceScore, bool) {
	for _, s := range r.Scores {
		if s.Feature == feature {
			return s, true
		}
	}
	return ImportanceScore{}, false
}

// Map returns feature name to importance.
func (r *ImportanceResult) Map() map[string]float64 {
	m := make(map[string]float64, len(r.Scores))
	for _, s := range r.Scores {
		m[s.Feature] = s.Importance
	}
	return m
}

func (cfg PermutationConfig) validate(data *dataset.Dataset) (PermutationConfig, error) {
	if cfg.Repetitions < 1 {
		return cfg, fmt.Errorf("%w: repetitions must be at least 1, got %d", ErrInvalidConfiguration, cfg.Repetitions)
	}
	if err := loss.Check(cfg.Loss, cfg.Response); err != nil {
		return cfg, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	if cfg.Response.Len() != data.Rows() {
		return cfg, fmt.Errorf("%w: response has %d values for %d rows", ErrInvalidConfiguration, cfg.Response.Len(), data.Rows())
	}
	if data.Rows() == 0 {
		return cfg, fmt.Errorf("%w: dataset has no rows", ErrInvalidConfiguration)
	}
	switch cfg.Mode {
	case "":
		cfg.Mode = Difference
	case Difference, Ratio:
	default:
		return cfg, fmt.Errorf("%w: unknown score mode %q", ErrInvalidConfiguration, cfg.Mode)
	}
	if cfg.SampleFraction < 0 || cfg.SampleFraction > 1 {
		return cfg, fmt.Errorf("%w: sample fraction %g outside [0,1]", ErrInvalidConfiguration, cfg.SampleFraction)
	}
	if len(cfg.Features) == 0 {
		cfg.Features = data.Names()
	}
	seen := make(map[string]bool, len(cfg.Features))
	for _, f := range cfg.Features {
		if !data.Has(f) {
			return cfg, fmt.Errorf("%w: %w: %s", ErrInvalidConfiguration, ErrInvalidFeature, f)
		}
		if seen[f] {
			return cfg, fmt.Errorf("%w: feature %s listed twice", ErrInvalidConfiguration, f)
		}
		seen[f] = true
	}
	return cfg, nil
}

// BaselineLoss returns the loss of the model on the unperturbed dataset.
func (e *Explainer) BaselineLoss(ctx context.Context, response *dataset.Column, f loss.Func) (float64, error) {
	if err := loss.Check(f, response); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	if response.Len() != e.data.Rows() {
		return 0, fmt.Errorf("%w: response has %d values for %d rows", ErrInvalidConfiguration, response.Len(), e.data.Rows())
	}
	pred, err := model.Checked(ctx, e.model, e.data)
	if err != nil {
		return 0, err
	}
	return f.Eval(response.Float64s(), pred)
}

// PermutationImportance measures, per feature, how much the loss degrades
// when that feature's column is shuffled. Features with a single value
// shuffle to the original data and score zero (difference) or one (ratio).
func (e *Explainer) PermutationImportance(ctx context.Context, cfg PermutationConfig) (result *ImportanceResult, err error) {
	cfg, err = cfg.validate(e.data)
	if err != nil {
		return nil, err
	}

	data := e.data
	truth := cfg.Response.Float64s()
	subsampled := false
	if cfg.SampleFraction > 0 && cfg.SampleFraction < 1 {
		n := max(1, int(math.Round(cfg.SampleFraction*float64(data.Rows()))))
		var idx []int
		data, idx, err = data.Sample(n, rand.New(rand.NewPCG(cfg.Seed, subsampleStream)))
		if err != nil {
			return nil, err
		}
		sub := make([]float64, len(idx))
		for i, r := range idx {
			sub[i] = truth[r]
		}
		truth = sub
		subsampled = n < e.data.Rows()
	}

	tr := e.track(AnalysisImportance, len(cfg.Features))
	defer func() { tr.finish(err) }()

	pred, err := model.Checked(ctx, e.model, data)
	if err != nil {
		return nil, err
	}
	baseline, err := cfg.Loss.Eval(truth, pred)
	if err != nil {
		return nil, err
	}
	if cfg.Mode == Ratio && baseline == 0 {
		return nil, fmt.Errorf("%w: ratio mode is undefined for a zero baseline loss", ErrInvalidConfiguration)
	}

	index := make(map[string]int, len(data.Names()))
	for i, n := range data.Names() {
		index[n] = i
	}

	scores := make([]ImportanceScore, len(cfg.Features))
	err = e.forEach(ctx, len(cfg.Features), func(ctx context.Context, k int) error {
		feature := cfg.Features[k]
		rng := rand.New(rand.NewPCG(cfg.Seed, uint64(index[feature])+1))

		copies := make([]*dataset.Dataset, cfg.Repetitions)
		for r := range copies {
			var err error
			if copies[r], err = data.Permute(feature, rng); err != nil {
				return err
			}
		}
		preds, err := e.predictCopies(ctx, copies)
		if err != nil {
			return err
		}

		losses := make([]float64, len(preds))
		for r, p := range preds {
			if losses[r], err = cfg.Loss.Eval(truth, p); err != nil {
				return err
			}
		}

		s := ImportanceScore{Feature: feature, Trials: len(losses)}
		if len(losses) > 1 {
			s.MeanLoss, s.Variance = stat.MeanVariance(losses, nil)
			s.StdDev = math.Sqrt(s.Variance)
		} else {
			s.MeanLoss = losses[0]
		}
		if cfg.Mode == Ratio {
			s.Importance = s.MeanLoss / baseline
		} else {
			s.Importance = s.MeanLoss - baseline
		}
		scores[k] = s
		tr.step(feature, s.Importance)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Importance != scores[j].Importance {
			return scores[i].Importance > scores[j].Importance
		}
		return scores[i].Feature < scores[j].Feature
	})

	return &ImportanceResult{
		Loss:         cfg.Loss.Name(),
		Mode:         cfg.Mode,
		BaselineLoss: baseline,
		Repetitions:  cfg.Repetitions,
		Rows:         data.Rows(),
		Subsampled:   subsampled,
		Scores:       scores,
	}, nil
}
