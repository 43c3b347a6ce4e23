package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mlinterp/internal/dataset"
	"mlinterp/internal/interpret"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNew(t *testing.T) {
	tempDir := t.TempDir()

	store, err := New(tempDir)
	require.NoError(t, err)
	defer store.Close()

	assert.NotNil(t, store.db)
	_, err = os.Stat(filepath.Join(tempDir, DBFile))
	assert.NoError(t, err, "database file created")
}

func TestNew_InvalidPath(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing", "dir"))
	assert.Error(t, err)
}

func TestStore_Close(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close(), "closing twice")
	assert.NoError(t, (&Store{}).Close(), "nil db")
}

func TestCreateAndFinishRun(t *testing.T) {
	store := newStore(t)

	run, err := store.CreateRun(Run{Dataset: "data.csv", Model: "linear", Rows: 100, Seed: 7})
	require.NoError(t, err)
	_, err = uuid.Parse(run.ID)
	assert.NoError(t, err, "generated ID is a UUID")
	assert.Equal(t, StatusRunning, run.Status)
	assert.False(t, run.CreatedAt.IsZero())

	got, err := store.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Dataset, got.Dataset)
	assert.Equal(t, uint64(7), got.Seed)

	done, err := store.FinishRun(run.ID, false, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.False(t, done.FinishedAt.IsZero())

	failed, err := store.CreateRun(Run{})
	require.NoError(t, err)
	failed, err = store.FinishRun(failed.ID, false, errors.New("model unreachable"))
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "model unreachable", failed.Error)

	partial, err := store.CreateRun(Run{})
	require.NoError(t, err)
	partial, err = store.FinishRun(partial.ID, true, errors.New("context canceled"))
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, partial.Status)

	_, err = store.GetRun("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.FinishRun("missing", false, nil)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.CreateRun(Run{ID: "a_b"})
	assert.Error(t, err)
}

func TestListRuns(t *testing.T) {
	store := newStore(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := store.CreateRun(Run{ID: []string{"a", "b", "c"}[i], CreatedAt: base.Add(time.Duration(i) * time.Hour)})
		require.NoError(t, err)
	}

	all, err := store.ListRuns(time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID, "newest first")
	assert.Equal(t, "a", all[2].ID)

	window, err := store.ListRuns(base.Add(30*time.Minute), base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "b", window[0].ID)
}

func TestImportanceRoundTrip(t *testing.T) {
	store := newStore(t)
	run, err := store.CreateRun(Run{})
	require.NoError(t, err)

	_, err = store.LoadImportance(run.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	res := &interpret.ImportanceResult{
		Loss:         "mse",
		Mode:         interpret.Difference,
		BaselineLoss: 0.5,
		Repetitions:  10,
		Rows:         100,
		Scores: []interpret.ImportanceScore{
			{Feature: "x", Importance: 3.2, MeanLoss: 3.7, Variance: 0.1, StdDev: 0.316, Trials: 10},
			{Feature: "y", Importance: 0, MeanLoss: 0.5, Trials: 10},
		},
	}
	require.NoError(t, store.SaveImportance(run.ID, res))

	got, err := store.LoadImportance(run.ID)
	require.NoError(t, err)
	assert.Equal(t, res, got)

	assert.ErrorIs(t, store.SaveImportance("unknown", res), ErrNotFound)
}

func TestPartialAndInteractionRoundTrip(t *testing.T) {
	store := newStore(t)
	run, err := store.CreateRun(Run{})
	require.NoError(t, err)
	other, err := store.CreateRun(Run{})
	require.NoError(t, err)

	px := &interpret.PartialDependence{
		Features: []string{"x"},
		Kinds:    []dataset.Kind{dataset.Continuous},
		Grids:    [][]float64{{0, 5, 10}},
		Points: []interpret.Point{
			{Values: []float64{0}, Average: 0},
			{Values: []float64{5}, Average: 5},
			{Values: []float64{10}, Average: 10},
		},
		Rows: 100,
	}
	pxy := &interpret.PartialDependence{
		Features: []string{"x", "y"},
		Kinds:    []dataset.Kind{dataset.Continuous, dataset.Continuous},
		Grids:    [][]float64{{0, 10}, {1}},
		Points: []interpret.Point{
			{Values: []float64{0, 1}, Average: 1},
			{Values: []float64{10, 1}, Average: 11},
		},
		Degenerate: true,
		Rows:       100,
	}
	pxFine := &interpret.PartialDependence{
		Features: []string{"x"},
		Kinds:    []dataset.Kind{dataset.Continuous},
		Grids:    [][]float64{{0, 2.5, 5, 7.5, 10}},
		Points: []interpret.Point{
			{Values: []float64{0}, Average: 0},
			{Values: []float64{2.5}, Average: 2.5},
			{Values: []float64{5}, Average: 5},
			{Values: []float64{7.5}, Average: 7.5},
			{Values: []float64{10}, Average: 10},
		},
		Rows: 100,
	}
	require.NoError(t, store.SavePartial(run.ID, 1, pxy))
	require.NoError(t, store.SavePartial(run.ID, 0, px))
	require.NoError(t, store.SavePartial(run.ID, 10, pxFine))
	require.NoError(t, store.SavePartial(other.ID, 0, px))

	pds, err := store.LoadPartials(run.ID)
	require.NoError(t, err)
	require.Len(t, pds, 3, "same features under different configs are kept apart")
	assert.Equal(t, px, pds[0], "ordered by config index")
	assert.Equal(t, pxy, pds[1])
	assert.Equal(t, pxFine, pds[2])

	ia := &interpret.InteractionResult{
		Mode: interpret.OneVsAll,
		Rows: 100,
		Scores: []interpret.InteractionScore{
			{Feature: "x", H2: 0.2, H: 0.447, Defined: true},
			{Feature: "y"},
		},
	}
	ip := &interpret.InteractionResult{
		Mode:    interpret.Pairwise,
		Target:  "x",
		Rows:    100,
		Scores:  []interpret.InteractionScore{{Feature: "x", With: "y", H2: 0.1, H: 0.316, Defined: true}},
		Partial: true,
	}
	iaSampled := &interpret.InteractionResult{
		Mode:   interpret.OneVsAll,
		Rows:   20,
		Scores: []interpret.InteractionScore{{Feature: "x", H2: 0.25, H: 0.5, Defined: true}},
	}
	require.NoError(t, store.SaveInteraction(run.ID, 0, ia))
	require.NoError(t, store.SaveInteraction(run.ID, 1, ip))
	require.NoError(t, store.SaveInteraction(run.ID, 2, iaSampled))

	ias, err := store.LoadInteractions(run.ID)
	require.NoError(t, err)
	assert.Equal(t, []*interpret.InteractionResult{ia, ip, iaSampled}, ias)

	require.NoError(t, store.DeleteRun(run.ID))
	_, err = store.GetRun(run.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	pds, err = store.LoadPartials(run.ID)
	require.NoError(t, err)
	assert.Empty(t, pds)
	ias, err = store.LoadInteractions(run.ID)
	require.NoError(t, err)
	assert.Empty(t, ias)

	kept, err := store.LoadPartials(other.ID)
	require.NoError(t, err)
	assert.Len(t, kept, 1, "other runs untouched")

	assert.ErrorIs(t, store.DeleteRun(run.ID), ErrNotFound)
}
