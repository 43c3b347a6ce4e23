package model

import (
	"context"
	"fmt"
	"math"
	"sort"

	"mlinterp/internal/dataset"
)

// Term is a pairwise product term Coef * a * b.
type Term struct {
	A    string  `yaml:"a" json:"a"`
	B    string  `yaml:"b" json:"b"`
	Coef float64 `yaml:"coef" json:"coef"`
}

// LinearConfig describes a reference scoring model. It lets the engine run end
// to end without a training subsystem; real models arrive through Remote or a
// custom Model implementation.
type LinearConfig struct {
	Intercept    float64                       `yaml:"intercept" json:"intercept"`
	Coefficients map[string]float64            `yaml:"coefficients" json:"coefficients"`
	Interactions []Term                        `yaml:"interactions" json:"interactions"`
	LevelEffects map[string]map[string]float64 `yaml:"level_effects" json:"level_effects"`
	// Link is "identity" (default) or "logistic".
	Link string `yaml:"link" json:"link"`
}

// Linear is an additive model with optional product terms and categorical
// level effects.
type Linear struct {
	cfg LinearConfig

	// sorted so that sums are evaluated in a fixed order
	coefNames  []string
	levelNames []string
}

// NewLinear validates cfg and builds the model.
func NewLinear(cfg LinearConfig) (*Linear, error) {
	switch cfg.Link {
	case "", "identity", "logistic":
	default:
		return nil, fmt.Errorf("unknown link %q", cfg.Link)
	}
	for i, t := range cfg.Interactions {
		if t.A == "" || t.B == "" {
			return nil, fmt.Errorf("interaction %d: both features are required", i)
		}
	}
	l := &Linear{cfg: cfg}
	for n := range cfg.Coefficients {
		l.coefNames = append(l.coefNames, n)
	}
	for n := range cfg.LevelEffects {
		l.levelNames = append(l.levelNames, n)
	}
	sort.Strings(l.coefNames)
	sort.Strings(l.levelNames)
	return l, nil
}

// Features returns every feature name the model reads.
func (l *Linear) Features() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(n string) {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	for _, n := range l.coefNames {
		add(n)
	}
	for _, t := range l.cfg.Interactions {
		add(t.A)
		add(t.B)
	}
	for _, n := range l.levelNames {
		add(n)
	}
	return out
}

// Predict scores every row.
func (l *Linear) Predict(ctx context.Context, rows *dataset.Dataset) ([]float64, error) {
	for _, n := range l.Features() {
		if !rows.Has(n) {
			return nil, fmt.Errorf("%w: model feature %s", dataset.ErrUnknownColumn, n)
		}
	}

	out := make([]float64, rows.Rows())
	for i := range out {
		row := rows.Row(i)
		score := l.cfg.Intercept
		for _, n := range l.coefNames {
			score += l.cfg.Coefficients[n] * row.Float(n)
		}
		for _, t := range l.cfg.Interactions {
			score += t.Coef * row.Float(t.A) * row.Float(t.B)
		}
		for _, n := range l.levelNames {
			score += l.cfg.LevelEffects[n][row.Label(n)]
		}
		if l.cfg.Link == "logistic" {
			score = sigmoid(score)
		}
		out[i] = score
	}
	return out, nil
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
