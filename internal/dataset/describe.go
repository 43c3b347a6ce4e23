package dataset

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// FeatureDescriptor summarises the value domain of a feature. It drives grid
// construction.
type FeatureDescriptor struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`

	// Continuous features
	Min float64 `json:"min"`
	Max float64 `json:"max"`

	// Categorical features: observed levels in level order, with their codes.
	Levels []string  `json:"levels,omitempty"`
	Codes  []float64 `json:"codes,omitempty"`

	// Distinct is the number of distinct observed values.
	Distinct int `json:"distinct"`
}

// Degenerate reports whether the feature takes a single observed value.
func (f FeatureDescriptor) Degenerate() bool {
	return f.Distinct <= 1
}

// Describe computes the descriptor of the named feature.
func (d *Dataset) Describe(name string) (FeatureDescriptor, error) {
	c, err := d.Column(name)
	if err != nil {
		return FeatureDescriptor{}, err
	}
	desc := FeatureDescriptor{Name: name, Kind: c.kind}
	if c.Len() == 0 {
		return desc, nil
	}

	values := c.Float64s()
	switch c.kind {
	case Categorical:
		seen := make([]bool, len(c.levels))
		for _, v := range values {
			code := int(v)
			if code < 0 || code >= len(seen) {
				return FeatureDescriptor{}, fmt.Errorf("column %s: code %d outside level set", name, code)
			}
			seen[code] = true
		}
		for code, ok := range seen {
			if ok {
				desc.Levels = append(desc.Levels, c.levels[code])
				desc.Codes = append(desc.Codes, float64(code))
			}
		}
		desc.Distinct = len(desc.Levels)
		desc.Min = desc.Codes[0]
		desc.Max = desc.Codes[len(desc.Codes)-1]
	default:
		desc.Min = floats.Min(values)
		desc.Max = floats.Max(values)
		desc.Distinct = len(Unique(values))
	}
	return desc, nil
}

// Unique returns the distinct values of v in order of first appearance.
func Unique(v []float64) []float64 {
	seen := make(map[float64]struct{}, len(v))
	out := make([]float64, 0)
	for _, x := range v {
		if _, ok := seen[x]; ok {
			continue
		}
		seen[x] = struct{}{}
		out = append(out, x)
	}
	return out
}
