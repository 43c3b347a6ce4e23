package main

import (
	"bytes"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"mlinterp/internal/cfg"
	"mlinterp/internal/dataset"
	"mlinterp/internal/interpret"
)

func TestGenerate(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, generate(&buf, 50, rand.New(rand.NewPCG(3, 0)), 0))

	data, err := dataset.ReadCSV(&buf, dataset.LoadOptions{Categorical: []string{"region"}})
	require.NoError(t, err)
	assert.Equal(t, 50, data.Rows())
	assert.Equal(t, []string{"x1", "x2", "x3", "x4", "x5", "x6", "region", "y"}, data.Names())

	region, err := data.Column("region")
	require.NoError(t, err)
	assert.Equal(t, dataset.Categorical, region.Kind())

	x1, _ := data.Column("x1")
	for _, v := range x1.Float64s() {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.Less(t, v, 1.0)
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	var a, b bytes.Buffer
	require.NoError(t, generate(&a, 20, rand.New(rand.NewPCG(9, 0)), 1))
	require.NoError(t, generate(&b, 20, rand.New(rand.NewPCG(9, 0)), 1))
	assert.Equal(t, a.String(), b.String())

	assert.Error(t, generate(&a, 0, rand.New(rand.NewPCG(9, 0)), 1))
}

func TestSampleConfig_Loads(t *testing.T) {
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "data.csv")
	f, err := os.Create(dataPath)
	require.NoError(t, err)
	require.NoError(t, generate(f, 30, rand.New(rand.NewPCG(1, 0)), 1))
	require.NoError(t, f.Close())

	raw, err := yaml.Marshal(sampleConfig(dataPath, filepath.Join(dir, "report")))
	require.NoError(t, err)
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, raw, 0o644))

	t.Setenv("ENV_FILE", filepath.Join(dir, "absent.env"))
	t.Setenv("CONFIG_FILE", "")
	settings, err := cfg.Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "y", settings.Response)
	assert.Equal(t, cfg.FormatCSV, settings.DataFormat)
	assert.True(t, settings.Enabled(interpret.AnalysisInteraction))
	assert.Len(t, settings.PDConfigs(), 3)
	assert.Equal(t, "x1", settings.InteractionConfigs()[1].Target)
}
