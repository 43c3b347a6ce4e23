package dataset

import (
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(t *testing.T) *Dataset {
	t.Helper()
	d, err := New(
		NewNumeric("x", []float64{1, 2, 3, 4}),
		NewNumeric("y", []float64{10, 20, 30, 40}),
		NewCategorical("color", []string{"red", "blue", "red", "green"}),
	)
	require.NoError(t, err)
	return d
}

func TestNew_Validation(t *testing.T) {
	_, err := New(NewNumeric("a", []float64{1}), NewNumeric("a", []float64{2}))
	assert.Error(t, err, "duplicate names")

	_, err = New(NewNumeric("a", []float64{1}), NewNumeric("b", []float64{1, 2}))
	assert.Error(t, err, "length mismatch")

	_, err = New(NewNumeric("", []float64{1}))
	assert.Error(t, err, "empty name")

	d, err := New()
	require.NoError(t, err)
	assert.Equal(t, 0, d.Rows())
}

func TestNew_RejectsNonFinite(t *testing.T) {
	_, err := New(NewNumeric("x", []float64{0, 1, 2, 3}), NewNumeric("y", []float64{1, 2, math.NaN(), 4}))
	assert.ErrorIs(t, err, ErrNonFinite)
	assert.Contains(t, err.Error(), "row 2")

	_, err = New(NewNumeric("x", []float64{math.Inf(-1)}))
	assert.ErrorIs(t, err, ErrNonFinite)

	d := sample(t)
	_, err = d.WithConstant("x", math.Inf(1))
	assert.ErrorIs(t, err, ErrNonFinite)
	_, err = d.WithColumn(NewNumeric("y", []float64{1, math.NaN(), 3, 4}))
	assert.ErrorIs(t, err, ErrNonFinite)
}

func TestWithConstant_SharesOtherColumns(t *testing.T) {
	d := sample(t)

	c, err := d.WithConstant("x", 7)
	require.NoError(t, err)

	for i := 0; i < d.Rows(); i++ {
		assert.Equal(t, 7.0, c.Value("x", i))
		assert.Equal(t, d.Value("y", i), c.Value("y", i))
	}
	// original untouched
	assert.Equal(t, []float64{1, 2, 3, 4}, mustColumn(t, d, "x").Float64s())

	yOrig := mustColumn(t, d, "y")
	yCopy := mustColumn(t, c, "y")
	assert.Same(t, yOrig, yCopy, "unmodified columns are shared")

	_, err = d.WithConstant("missing", 1)
	assert.ErrorIs(t, err, ErrUnknownColumn)
}

func TestWithColumn(t *testing.T) {
	d := sample(t)
	c, err := d.WithColumn(NewNumeric("y", []float64{0, 0, 0, 0}))
	require.NoError(t, err)
	assert.Equal(t, 0.0, c.Value("y", 2))

	_, err = d.WithColumn(NewNumeric("y", []float64{0}))
	assert.Error(t, err)
}

func TestBroadcast(t *testing.T) {
	d := sample(t)
	b, err := d.Broadcast(2, "x")
	require.NoError(t, err)

	assert.Equal(t, []float64{1, 2, 3, 4}, mustColumn(t, b, "x").Float64s())
	for i := 0; i < b.Rows(); i++ {
		assert.Equal(t, 30.0, b.Value("y", i))
		assert.Equal(t, "red", b.Row(i).Label("color"))
	}

	_, err = d.Broadcast(9)
	assert.Error(t, err)
	_, err = d.Broadcast(0, "nope")
	assert.ErrorIs(t, err, ErrUnknownColumn)
}

func TestPermute_IsPermutation(t *testing.T) {
	values := make([]float64, 50)
	for i := range values {
		values[i] = float64(i)
	}
	d, err := New(NewNumeric("x", values), NewNumeric("y", values))
	require.NoError(t, err)

	p, err := d.Permute("x", rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)

	got := mustColumn(t, p, "x").Float64s()
	assert.NotEqual(t, values, got)
	sort.Float64s(got)
	assert.Equal(t, values, got)
	assert.Equal(t, values, mustColumn(t, p, "y").Float64s())

	again, err := d.Permute("x", rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	assert.Equal(t, mustColumn(t, p, "x").Float64s(), mustColumn(t, again, "x").Float64s(), "same seed, same shuffle")
}

func TestSubsetAndSample(t *testing.T) {
	d := sample(t)
	s, err := d.Subset([]int{3, 0})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Rows())
	assert.Equal(t, []float64{4, 1}, mustColumn(t, s, "x").Float64s())

	_, err = d.Subset([]int{5})
	assert.Error(t, err)

	sub, idx, err := d.Sample(2, rand.New(rand.NewPCG(3, 3)))
	require.NoError(t, err)
	assert.Equal(t, 2, sub.Rows())
	assert.Len(t, idx, 2)
	assert.NotEqual(t, idx[0], idx[1])

	all, idx, err := d.Sample(10, rand.New(rand.NewPCG(3, 3)))
	require.NoError(t, err)
	assert.Same(t, d, all)
	assert.Equal(t, []int{0, 1, 2, 3}, idx)
}

func TestStack(t *testing.T) {
	d := sample(t)
	c, err := d.WithConstant("x", 0)
	require.NoError(t, err)

	s, err := Stack(d, c)
	require.NoError(t, err)
	assert.Equal(t, 8, s.Rows())
	assert.Equal(t, []float64{1, 2, 3, 4, 0, 0, 0, 0}, mustColumn(t, s, "x").Float64s())
	assert.Equal(t, "green", s.Row(7).Label("color"))

	other, err := New(NewNumeric("z", []float64{1, 2, 3, 4}))
	require.NoError(t, err)
	_, err = Stack(d, other)
	assert.Error(t, err)

	_, err = Stack()
	assert.Error(t, err)
}

func TestCategoricalLevels(t *testing.T) {
	c, err := NewCategoricalLevels("size", []string{"m", "s", "l"}, []string{"s", "m", "l"})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 2}, c.Float64s())
	assert.Equal(t, "l", c.Label(2))
	assert.Equal(t, 1, c.Code("m"))
	assert.Equal(t, -1, c.Code("xl"))

	_, err = NewCategoricalLevels("size", []string{"xl"}, []string{"s"})
	assert.Error(t, err)
	_, err = NewCategoricalLevels("size", nil, []string{"s", "s"})
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	d := sample(t)

	x, err := d.Describe("x")
	require.NoError(t, err)
	assert.Equal(t, Continuous, x.Kind)
	assert.Equal(t, 1.0, x.Min)
	assert.Equal(t, 4.0, x.Max)
	assert.Equal(t, 4, x.Distinct)
	assert.False(t, x.Degenerate())

	c, err := d.Describe("color")
	require.NoError(t, err)
	assert.Equal(t, Categorical, c.Kind)
	assert.Equal(t, []string{"red", "blue", "green"}, c.Levels)
	assert.Equal(t, []float64{0, 1, 2}, c.Codes)

	// unobserved levels are dropped, order kept
	col, err := NewCategoricalLevels("s", []string{"b", "b"}, []string{"a", "b", "c"})
	require.NoError(t, err)
	ds, err := New(col)
	require.NoError(t, err)
	s, err := ds.Describe("s")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, s.Levels)
	assert.True(t, s.Degenerate())

	_, err = d.Describe("missing")
	assert.ErrorIs(t, err, ErrUnknownColumn)
}

func TestWithout(t *testing.T) {
	d := sample(t)
	w, err := d.Without("y")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "color"}, w.Names())
	assert.Equal(t, 4, w.Rows())
	assert.True(t, d.Has("y"))

	_, err = d.Without("nope")
	assert.ErrorIs(t, err, ErrUnknownColumn)
}

func TestRowMap(t *testing.T) {
	d := sample(t)
	m := d.Row(1).Map()
	assert.Equal(t, map[string]any{"x": 2.0, "y": 20.0, "color": "blue"}, m)
}

func TestReadCSV(t *testing.T) {
	in := "x,y,g\n1,2,a\n3,4,b\n5,6,a\n"
	d, err := ReadCSV(strings.NewReader(in), LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, d.Rows())
	g := mustColumn(t, d, "g")
	assert.Equal(t, Categorical, g.Kind())
	assert.Equal(t, []string{"a", "b"}, g.Levels())

	d, err = ReadCSV(strings.NewReader(in), LoadOptions{Categorical: []string{"x"}, Columns: []string{"x", "g"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "g"}, d.Names())
	assert.Equal(t, Categorical, mustColumn(t, d, "x").Kind())

	_, err = ReadCSV(strings.NewReader("x,y\n1\n"), LoadOptions{})
	assert.Error(t, err)

	_, err = ReadCSV(strings.NewReader("x,y\n0,1\n1,NaN\n2,3\n"), LoadOptions{})
	assert.ErrorIs(t, err, ErrNonFinite)
	_, err = ReadCSV(strings.NewReader("x\n+Inf\n"), LoadOptions{})
	assert.ErrorIs(t, err, ErrNonFinite)
}

func TestLoadCSVAndJSON(t *testing.T) {
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "data.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("a,b\n1,x\n2,y\n"), 0o600))
	d, err := LoadCSV(csvPath, LoadOptions{Levels: map[string][]string{"b": {"y", "x"}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"y", "x"}, mustColumn(t, d, "b").Levels())

	jsonPath := filepath.Join(dir, "data.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`[{"b":"x","a":1},{"b":"y","a":2.5}]`), 0o600))
	d, err = LoadJSON(jsonPath, LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, d.Names())
	assert.Equal(t, 2.5, d.Value("a", 1))

	_, err = LoadCSV(filepath.Join(dir, "missing.csv"), LoadOptions{})
	assert.Error(t, err)
}

func TestFromRecords_Mismatch(t *testing.T) {
	_, err := FromRecords([]map[string]any{{"a": 1.0}, {"b": 2.0}}, LoadOptions{})
	assert.Error(t, err)
	_, err = FromRecords([]map[string]any{{"a": []int{1}}}, LoadOptions{})
	assert.Error(t, err)
}

func mustColumn(t *testing.T, d *Dataset, name string) *Column {
	t.Helper()
	c, err := d.Column(name)
	require.NoError(t, err)
	return c
}
