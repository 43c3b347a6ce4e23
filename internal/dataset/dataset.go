// Package dataset provides the immutable tabular input consumed by the
// interpretation engine. A Dataset is an ordered set of named columns of equal
// length; every derived dataset (overrides, permutations, subsets) shares the
// columns it does not change with its parent.
//
// Values are stored as float64. Categorical columns store level codes that
// index into the column's Levels slice.
package dataset

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

var (
	// ErrUnknownColumn is returned when a named column does not exist.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrNonFinite is returned when a column holds NaN or an infinity.
	ErrNonFinite = errors.New("non-finite value")
)

// Kind is the value domain of a column.
type Kind int

const (
	Continuous Kind = iota
	Categorical
)

func (k Kind) String() string {
	switch k {
	case Continuous:
		return "continuous"
	case Categorical:
		return "categorical"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	if k != Continuous && k != Categorical {
		return nil, fmt.Errorf("invalid kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "continuous":
		*k = Continuous
	case "categorical":
		*k = Categorical
	default:
		return fmt.Errorf("invalid kind %q", b)
	}
	return nil
}

// Column is a named, read-only vector of values.
type Column struct {
	name   string
	kind   Kind
	levels []string

	values []float64

	// constant columns hold a single value repeated n times
	constant bool
	value    float64
	n        int
}

// NewNumeric creates a continuous column. The slice is copied.
func NewNumeric(name string, values []float64) *Column {
	v := make([]float64, len(values))
	copy(v, values)
	return &Column{name: name, kind: Continuous, values: v}
}

// NewCategorical creates a categorical column from labels. Levels are ordered
// by first appearance.
func NewCategorical(name string, labels []string) *Column {
	var levels []string
	seen := make(map[string]int)
	for _, l := range labels {
		if _, ok := seen[l]; !ok {
			seen[l] = len(levels)
			levels = append(levels, l)
		}
	}
	col, _ := NewCategoricalLevels(name, labels, levels)
	return col
}

// NewCategoricalLevels creates a categorical column whose level order is given
// by the caller. Every label must be one of levels.
func NewCategoricalLevels(name string, labels, levels []string) (*Column, error) {
	index := make(map[string]int, len(levels))
	for i, l := range levels {
		if _, dup := index[l]; dup {
			return nil, fmt.Errorf("column %s: duplicate level %q", name, l)
		}
		index[l] = i
	}
	v := make([]float64, len(labels))
	for i, l := range labels {
		code, ok := index[l]
		if !ok {
			return nil, fmt.Errorf("column %s: label %q not in level set", name, l)
		}
		v[i] = float64(code)
	}
	lv := make([]string, len(levels))
	copy(lv, levels)
	return &Column{name: name, kind: Categorical, levels: lv, values: v}, nil
}

// Name returns the column name.
func (c *Column) Name() string { return c.name }

// Kind returns the value domain.
func (c *Column) Kind() Kind { return c.kind }

// Levels returns the level labels of a categorical column, in code order.
func (c *Column) Levels() []string {
	out := make([]string, len(c.levels))
	copy(out, c.levels)
	return out
}

// Len returns the number of rows.
func (c *Column) Len() int {
	if c.constant {
		return c.n
	}
	return len(c.values)
}

// At returns the value at row i.
func (c *Column) At(i int) float64 {
	if c.constant {
		return c.value
	}
	return c.values[i]
}

// Label returns the level label at row i, or the formatted number for a
// continuous column.
func (c *Column) Label(i int) string {
	v := c.At(i)
	if c.kind == Categorical {
		code := int(v)
		if code >= 0 && code < len(c.levels) {
			return c.levels[code]
		}
	}
	return fmt.Sprintf("%g", v)
}

// Code returns the level code of label, or -1.
func (c *Column) Code(label string) int {
	for i, l := range c.levels {
		if l == label {
			return i
		}
	}
	return -1
}

// Float64s returns a copy of the column values.
func (c *Column) Float64s() []float64 {
	out := make([]float64, c.Len())
	if c.constant {
		for i := range out {
			out[i] = c.value
		}
		return out
	}
	copy(out, c.values)
	return out
}

// IsConstant reports whether the column is a broadcast constant.
func (c *Column) IsConstant() bool { return c.constant }

func (c *Column) checkFinite() error {
	if c.constant {
		return checkValue(c.name, 0, c.value)
	}
	for i, v := range c.values {
		if err := checkValue(c.name, i, v); err != nil {
			return err
		}
	}
	return nil
}

func checkValue(name string, row int, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: column %s row %d is %g", ErrNonFinite, name, row, v)
	}
	return nil
}

func (c *Column) withValues(values []float64) *Column {
	return &Column{name: c.name, kind: c.kind, levels: c.levels, values: values}
}

func (c *Column) withConstant(v float64, n int) *Column {
	return &Column{name: c.name, kind: c.kind, levels: c.levels, constant: true, value: v, n: n}
}

// Dataset is an immutable ordered collection of equal-length columns.
type Dataset struct {
	columns []*Column
	index   map[string]int
	rows    int
}

// New assembles a dataset. Column names must be unique, lengths equal and
// every value finite.
func New(columns ...*Column) (*Dataset, error) {
	d := &Dataset{
		columns: make([]*Column, 0, len(columns)),
		index:   make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		if c == nil {
			return nil, fmt.Errorf("column %d is nil", i)
		}
		if c.name == "" {
			return nil, fmt.Errorf("column %d has no name", i)
		}
		if _, dup := d.index[c.name]; dup {
			return nil, fmt.Errorf("duplicate column %q", c.name)
		}
		if i == 0 {
			d.rows = c.Len()
		} else if c.Len() != d.rows {
			return nil, fmt.Errorf("column %q has %d rows, want %d", c.name, c.Len(), d.rows)
		}
		if err := c.checkFinite(); err != nil {
			return nil, err
		}
		d.index[c.name] = len(d.columns)
		d.columns = append(d.columns, c)
	}
	return d, nil
}

// Rows returns the number of rows.
func (d *Dataset) Rows() int { return d.rows }

// Names returns the column names in order.
func (d *Dataset) Names() []string {
	out := make([]string, len(d.columns))
	for i, c := range d.columns {
		out[i] = c.name
	}
	return out
}

// Has reports whether the named column exists.
func (d *Dataset) Has(name string) bool {
	_, ok := d.index[name]
	return ok
}

// Column returns the named column.
func (d *Dataset) Column(name string) (*Column, error) {
	i, ok := d.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, name)
	}
	return d.columns[i], nil
}

// Value returns the value of column name at row i. It panics on an unknown
// column, like an out of range slice index.
func (d *Dataset) Value(name string, row int) float64 {
	i, ok := d.index[name]
	if !ok {
		panic(fmt.Sprintf("dataset: unknown column %q", name))
	}
	return d.columns[i].At(row)
}

// Without returns d minus the named columns.
func (d *Dataset) Without(names ...string) (*Dataset, error) {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		if !d.Has(n) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, n)
		}
		drop[n] = true
	}
	cols := make([]*Column, 0, len(d.columns))
	for _, c := range d.columns {
		if !drop[c.name] {
			cols = append(cols, c)
		}
	}
	out, err := New(cols...)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		out.rows = d.rows
	}
	return out, nil
}

// Row returns a view on row i.
func (d *Dataset) Row(i int) Row { return Row{d: d, i: i} }

func (d *Dataset) replace(i int, c *Column) *Dataset {
	cols := make([]*Column, len(d.columns))
	copy(cols, d.columns)
	cols[i] = c
	return &Dataset{columns: cols, index: d.index, rows: d.rows}
}

// WithConstant returns a copy of d with column name overwritten to v on every
// row. All other columns are shared.
func (d *Dataset) WithConstant(name string, v float64) (*Dataset, error) {
	i, ok := d.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, name)
	}
	if err := checkValue(name, 0, v); err != nil {
		return nil, err
	}
	return d.replace(i, d.columns[i].withConstant(v, d.rows)), nil
}

// WithColumn returns a copy of d with the column of the same name replaced.
func (d *Dataset) WithColumn(c *Column) (*Dataset, error) {
	i, ok := d.index[c.name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, c.name)
	}
	if c.Len() != d.rows {
		return nil, fmt.Errorf("column %q has %d rows, want %d", c.name, c.Len(), d.rows)
	}
	if err := c.checkFinite(); err != nil {
		return nil, err
	}
	return d.replace(i, c), nil
}

// Broadcast returns a dataset of the same size in which every column except
// keep is the constant value taken from row. Kept columns are shared.
func (d *Dataset) Broadcast(row int, keep ...string) (*Dataset, error) {
	if row < 0 || row >= d.rows {
		return nil, fmt.Errorf("row %d out of range [0,%d)", row, d.rows)
	}
	kept := make(map[string]bool, len(keep))
	for _, k := range keep {
		if !d.Has(k) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, k)
		}
		kept[k] = true
	}
	cols := make([]*Column, len(d.columns))
	for i, c := range d.columns {
		if kept[c.name] {
			cols[i] = c
			continue
		}
		cols[i] = c.withConstant(c.At(row), d.rows)
	}
	return &Dataset{columns: cols, index: d.index, rows: d.rows}, nil
}

// Permute returns a copy of d with column name shuffled across rows
// (sampling without replacement) using rng.
func (d *Dataset) Permute(name string, rng *rand.Rand) (*Dataset, error) {
	i, ok := d.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, name)
	}
	c := d.columns[i]
	if c.constant {
		return d, nil
	}
	v := c.Float64s()
	rng.Shuffle(len(v), func(a, b int) { v[a], v[b] = v[b], v[a] })
	return d.replace(i, c.withValues(v)), nil
}

// Subset returns the rows at the given indices, in that order.
func (d *Dataset) Subset(rows []int) (*Dataset, error) {
	cols := make([]*Column, len(d.columns))
	for i, c := range d.columns {
		if c.constant {
			cols[i] = c.withConstant(c.value, len(rows))
			continue
		}
		v := make([]float64, len(rows))
		for j, r := range rows {
			if r < 0 || r >= d.rows {
				return nil, fmt.Errorf("row %d out of range [0,%d)", r, d.rows)
			}
			v[j] = c.values[r]
		}
		cols[i] = c.withValues(v)
	}
	return &Dataset{columns: cols, index: d.index, rows: len(rows)}, nil
}

// Sample draws n distinct rows without replacement. If n >= Rows the dataset
// is returned unchanged together with the identity index.
func (d *Dataset) Sample(n int, rng *rand.Rand) (*Dataset, []int, error) {
	if n <= 0 || n >= d.rows {
		idx := make([]int, d.rows)
		for i := range idx {
			idx[i] = i
		}
		return d, idx, nil
	}
	idx := rng.Perm(d.rows)[:n]
	sub, err := d.Subset(idx)
	if err != nil {
		return nil, nil, err
	}
	return sub, idx, nil
}

// Stack concatenates datasets with identical schemas vertically. It is used
// to predict many perturbed copies with a single model call.
func Stack(parts ...*Dataset) (*Dataset, error) {
	if len(parts) == 0 {
		return nil, errors.New("stack: no datasets")
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	first := parts[0]
	total := 0
	for pi, p := range parts {
		if len(p.columns) != len(first.columns) {
			return nil, fmt.Errorf("stack: part %d has %d columns, want %d", pi, len(p.columns), len(first.columns))
		}
		for i, c := range p.columns {
			if c.name != first.columns[i].name {
				return nil, fmt.Errorf("stack: part %d column %d is %q, want %q", pi, i, c.name, first.columns[i].name)
			}
		}
		total += p.rows
	}
	cols := make([]*Column, len(first.columns))
	for i, c := range first.columns {
		v := make([]float64, 0, total)
		for _, p := range parts {
			pc := p.columns[i]
			if pc.constant {
				for r := 0; r < pc.n; r++ {
					v = append(v, pc.value)
				}
				continue
			}
			v = append(v, pc.values...)
		}
		cols[i] = c.withValues(v)
	}
	return &Dataset{columns: cols, index: first.index, rows: total}, nil
}

// Row is a read-only view of one dataset row.
type Row struct {
	d *Dataset
	i int
}

// Index returns the row position.
func (r Row) Index() int { return r.i }

// Float returns the value of the named feature.
func (r Row) Float(name string) float64 { return r.d.Value(name, r.i) }

// Label returns the categorical label (or formatted number) of the named feature.
func (r Row) Label(name string) string {
	c, err := r.d.Column(name)
	if err != nil {
		panic(fmt.Sprintf("dataset: unknown column %q", name))
	}
	return c.Label(r.i)
}

// Map returns the row as a feature name to scalar mapping. Categorical values
// are returned as their label.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.d.columns))
	for _, c := range r.d.columns {
		if c.kind == Categorical {
			m[c.name] = c.Label(r.i)
		} else {
			m[c.name] = c.At(r.i)
		}
	}
	return m
}
