package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mlinterp/internal/cfg"
	"mlinterp/internal/interpret"
	"mlinterp/internal/metrics"
	"mlinterp/internal/model"
	"mlinterp/internal/storage"
)

func writeCSV(t *testing.T, dir string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("x,z,region,target\n")
	for i := 0; i < 30; i++ {
		region := "north"
		if i%2 == 1 {
			region = "south"
		}
		fmt.Fprintf(&b, "%d,%d,%s,%d\n", i, i%3, region, 2*i)
	}
	path := filepath.Join(dir, "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func testSettings(t *testing.T) cfg.Settings {
	dir := t.TempDir()
	return cfg.Settings{
		DataPath:    writeCSV(t, dir),
		DataFormat:  cfg.FormatCSV,
		Response:    "target",
		Categorical: []string{"region"},
		ModelType:   cfg.ModelLinear,
		Linear: model.LinearConfig{
			Coefficients: map[string]float64{"x": 2, "z": 1},
			Interactions: []model.Term{{A: "x", B: "z", Coef: 0.5}},
			LevelEffects: map[string]map[string]float64{"region": {"south": 3}},
		},
		Analyses: []string{interpret.AnalysisImportance, interpret.AnalysisPartial, interpret.AnalysisInteraction},
		Importance: cfg.ImportanceSettings{
			Loss: "mse", Repetitions: 3, Mode: string(interpret.Difference),
		},
		Partials: []cfg.PartialSettings{
			{Features: []string{"x"}, GridResolution: 5, GridMethod: string(interpret.GridEqual), ICE: true},
			{Features: []string{"x", "region"}, GridResolution: 4, GridMethod: string(interpret.GridQuantile)},
		},
		Interactions: []cfg.InteractionSettings{{}, {Target: "x"}},
		Seed:         1,
		Workers:      2,
		OutputPath:   filepath.Join(dir, "out"),
		StorePath:    filepath.Join(dir, "store"),
	}
}

func openStore(t *testing.T, path string) *storage.Store {
	t.Helper()
	store, err := storage.New(path)
	require.NoError(t, err)
	return store
}

func TestRun_EndToEnd(t *testing.T) {
	c := testSettings(t)
	require.NoError(t, run(context.Background(), c, metrics.NewWithRegistry(prometheus.NewRegistry())))

	for _, name := range []string{"summary.txt", "importance.csv", "pd_x.csv", "ice_x.csv", "pd_x_region.csv", "interaction.csv", "report.json"} {
		assert.FileExists(t, filepath.Join(c.OutputPath, name))
	}

	store := openStore(t, c.StorePath)
	runs, err := store.ListRuns(time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	rec := runs[0]
	assert.Equal(t, storage.StatusCompleted, rec.Status)
	assert.Equal(t, 30, rec.Rows)
	assert.Equal(t, []string{"x", "z", "region"}, rec.Features)

	imp, err := store.LoadImportance(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "x", imp.Scores[0].Feature)

	pds, err := store.LoadPartials(rec.ID)
	require.NoError(t, err)
	assert.Len(t, pds, 2)

	ias, err := store.LoadInteractions(rec.ID)
	require.NoError(t, err)
	assert.Len(t, ias, 2)
	require.NoError(t, store.Close())

	reportDir := filepath.Join(t.TempDir(), "again")
	require.NoError(t, runStoreCommand(c.StorePath, reportDir, false, rec.ID))
	assert.FileExists(t, filepath.Join(reportDir, "importance.csv"))
	assert.FileExists(t, filepath.Join(reportDir, "interaction.csv"))

	require.NoError(t, runStoreCommand(c.StorePath, "", true, ""))
}

func TestRun_FailedAnalysisDoesNotStopOthers(t *testing.T) {
	c := testSettings(t)
	c.Interactions = []cfg.InteractionSettings{{Target: "missing"}}

	err := run(context.Background(), c, metrics.NewWithRegistry(prometheus.NewRegistry()))
	require.ErrorIs(t, err, interpret.ErrInvalidFeature)

	assert.FileExists(t, filepath.Join(c.OutputPath, "importance.csv"))
	assert.FileExists(t, filepath.Join(c.OutputPath, "pd_x.csv"))
	assert.NoFileExists(t, filepath.Join(c.OutputPath, "interaction.csv"))

	store := openStore(t, c.StorePath)
	defer store.Close()
	runs, err := store.ListRuns(time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, storage.StatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "missing")
}

func TestRun_Cancelled(t *testing.T) {
	c := testSettings(t)
	c.StorePath = ""
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := run(ctx, c, metrics.NewWithRegistry(prometheus.NewRegistry()))
	require.ErrorIs(t, err, context.Canceled)
	assert.FileExists(t, filepath.Join(c.OutputPath, "summary.txt"))
	assert.NoFileExists(t, filepath.Join(c.OutputPath, "importance.csv"))
}

func TestLoadData(t *testing.T) {
	c := testSettings(t)
	data, response, err := loadData(c)
	require.NoError(t, err)
	assert.False(t, data.Has("target"))
	assert.Equal(t, 30, response.Len())

	c.Response = ""
	data, response, err = loadData(c)
	require.NoError(t, err)
	assert.True(t, data.Has("target"))
	assert.Nil(t, response)

	c.Response = "nope"
	_, _, err = loadData(c)
	assert.Error(t, err)
}

func TestInitializeModel(t *testing.T) {
	c := testSettings(t)
	_, name, err := initializeModel(c)
	require.NoError(t, err)
	assert.Equal(t, cfg.ModelLinear, name)

	c.ModelType = cfg.ModelRemote
	c.ModelURL = "http://localhost:9000/predict"
	_, name, err = initializeModel(c)
	require.NoError(t, err)
	assert.Equal(t, "remote:http://localhost:9000/predict", name)

	c.ModelURL = ""
	_, _, err = initializeModel(c)
	assert.Error(t, err)
}

func TestRunStoreCommand_RequiresStore(t *testing.T) {
	t.Setenv("INTERPRET_STORE", "")
	assert.Error(t, runStoreCommand("", "", true, ""))
}
