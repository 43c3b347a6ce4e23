package cfg

import (
	"fmt"

	"mlinterp/internal/dataset"
	"mlinterp/internal/interpret"
	"mlinterp/internal/loss"
)

// ImportanceSettings configures permutation importance.
type ImportanceSettings struct {
	Loss           string   `yaml:"loss"`
	Repetitions    int      `yaml:"repetitions"`
	Mode           string   `yaml:"mode"`
	Features       []string `yaml:"features"`
	SampleFraction float64  `yaml:"sampleFraction"`
}

// PartialSettings configures one partial dependence computation.
type PartialSettings struct {
	Features       []string             `yaml:"features"`
	GridResolution int                  `yaml:"gridResolution"`
	GridMethod     string               `yaml:"gridMethod"`
	Grid           map[string][]float64 `yaml:"grid"`
	ICE            bool                 `yaml:"ice"`
	Center         bool                 `yaml:"center"`
}

// InteractionSettings configures one interaction run. An empty Target runs
// one-vs-all.
type InteractionSettings struct {
	Target     string   `yaml:"target"`
	Features   []string `yaml:"features"`
	SampleSize int      `yaml:"sampleSize"`
	Tolerance  float64  `yaml:"tolerance"`
}

// Enabled reports whether the named analysis should run.
func (s *Settings) Enabled(analysis string) bool {
	for _, a := range s.Analyses {
		if a == analysis {
			return true
		}
	}
	return false
}

// PermutationConfig builds the importance configuration for response.
func (s *Settings) PermutationConfig(response *dataset.Column) (interpret.PermutationConfig, error) {
	f, err := loss.ByName(s.Importance.Loss)
	if err != nil {
		return interpret.PermutationConfig{}, err
	}
	return interpret.PermutationConfig{
		Response:       response,
		Loss:           f,
		Repetitions:    s.Importance.Repetitions,
		Mode:           interpret.ScoreMode(s.Importance.Mode),
		Features:       s.Importance.Features,
		SampleFraction: s.Importance.SampleFraction,
		Seed:           s.Seed,
	}, nil
}

// PDConfigs builds one configuration per configured partial dependence.
func (s *Settings) PDConfigs() []interpret.PDConfig {
	out := make([]interpret.PDConfig, 0, len(s.Partials))
	for _, p := range s.Partials {
		out = append(out, interpret.PDConfig{
			Features:       p.Features,
			GridResolution: p.GridResolution,
			GridMethod:     interpret.GridMethod(p.GridMethod),
			GridValues:     p.Grid,
			Levels:         s.Levels,
			ICE:            p.ICE,
			Center:         p.Center,
		})
	}
	return out
}

// InteractionConfigs builds one configuration per configured interaction run.
func (s *Settings) InteractionConfigs() []interpret.InteractionConfig {
	out := make([]interpret.InteractionConfig, 0, len(s.Interactions))
	for _, ia := range s.Interactions {
		out = append(out, interpret.InteractionConfig{
			Target:            ia.Target,
			Features:          ia.Features,
			SampleSize:        ia.SampleSize,
			Seed:              s.Seed,
			VarianceTolerance: ia.Tolerance,
		})
	}
	return out
}

func validateAnalyses(s *Settings) error {
	if len(s.Analyses) == 0 {
		return fmt.Errorf("at least one analysis must be enabled")
	}
	for _, a := range s.Analyses {
		switch a {
		case interpret.AnalysisImportance, interpret.AnalysisPartial, interpret.AnalysisInteraction:
		default:
			return fmt.Errorf("unknown analysis %q", a)
		}
	}

	if s.Enabled(interpret.AnalysisImportance) {
		if s.Response == "" {
			return fmt.Errorf("permutation importance requires a response column")
		}
		if _, err := loss.ByName(s.Importance.Loss); err != nil {
			return err
		}
		if s.Importance.Repetitions < 1 || s.Importance.Repetitions > 1000 {
			return fmt.Errorf("repetitions must be between 1 and 1000, got %d", s.Importance.Repetitions)
		}
		switch interpret.ScoreMode(s.Importance.Mode) {
		case interpret.Difference, interpret.Ratio:
		default:
			return fmt.Errorf("importance mode must be difference or ratio, got %q", s.Importance.Mode)
		}
		if s.Importance.SampleFraction < 0 || s.Importance.SampleFraction > 1 {
			return fmt.Errorf("sample fraction must be between 0 and 1, got %f", s.Importance.SampleFraction)
		}
	}

	if s.Enabled(interpret.AnalysisPartial) {
		if len(s.Partials) == 0 {
			return fmt.Errorf("partial dependence enabled but no features configured")
		}
		for i, p := range s.Partials {
			if len(p.Features) < 1 || len(p.Features) > 2 {
				return fmt.Errorf("partial dependence %d: need one or two features, got %d", i, len(p.Features))
			}
			if p.GridResolution < 2 || p.GridResolution > 1000 {
				return fmt.Errorf("partial dependence %d: grid resolution must be between 2 and 1000, got %d", i, p.GridResolution)
			}
			switch interpret.GridMethod(p.GridMethod) {
			case interpret.GridEqual, interpret.GridQuantile:
			default:
				return fmt.Errorf("partial dependence %d: grid method must be equal or quantile, got %q", i, p.GridMethod)
			}
		}
	}

	if s.Enabled(interpret.AnalysisInteraction) {
		if len(s.Interactions) == 0 {
			return fmt.Errorf("interaction enabled but no runs configured")
		}
		for i, ia := range s.Interactions {
			if ia.SampleSize < 0 {
				return fmt.Errorf("interaction %d: sample size must be non-negative, got %d", i, ia.SampleSize)
			}
			if ia.Tolerance < 0 {
				return fmt.Errorf("interaction %d: tolerance must be non-negative, got %g", i, ia.Tolerance)
			}
		}
	}
	return nil
}
