// Command gensample writes a synthetic regression dataset and a matching
// config so the interpreter can be run end to end without real data.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"mlinterp/internal/cfg"
	"mlinterp/internal/interpret"
	"mlinterp/internal/model"
)

var regions = []string{"north", "south", "east", "west"}

var regionEffect = map[string]float64{"north": 0, "south": 2, "east": -1, "west": 1}

func main() {
	var (
		outputPath = flag.String("output", "sample", "Output directory")
		rows       = flag.Int("rows", 500, "Number of rows to generate")
		seed       = flag.Uint64("seed", 1, "Random seed")
		noise      = flag.Float64("noise", 1.0, "Standard deviation of the target noise")
	)
	flag.Parse()

	fmt.Printf("Generating sample dataset...\n")
	fmt.Printf("  Rows: %d\n", *rows)
	fmt.Printf("  Seed: %d\n", *seed)
	fmt.Printf("  Output: %s\n", *outputPath)

	if err := os.MkdirAll(*outputPath, 0o755); err != nil {
		log.Fatal().Err(err).Msg("Failed to create output directory")
	}

	dataPath := filepath.Join(*outputPath, "data.csv")
	file, err := os.Create(dataPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create data file")
	}
	defer file.Close()

	rng := rand.New(rand.NewPCG(*seed, 0))
	if err := generate(file, *rows, rng, *noise); err != nil {
		log.Fatal().Err(err).Msg("Failed to generate data")
	}

	data, err := yaml.Marshal(sampleConfig(dataPath, filepath.Join(*outputPath, "report")))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to marshal config")
	}
	configPath := filepath.Join(*outputPath, "config.yaml")
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		log.Fatal().Err(err).Msg("Failed to write config")
	}

	fmt.Printf("✓ Wrote %s and %s\n", dataPath, configPath)
}

// generate writes rows drawn from Friedman's first benchmark function plus a
// categorical region offset:
//
//	y = 10 sin(pi x1 x2) + 20 (x3 - 0.5)^2 + 10 x4 + 5 x5 + region + noise
//
// x6 is pure noise and should score near zero importance.
func generate(w io.Writer, rows int, rng *rand.Rand, noise float64) error {
	if rows < 1 {
		return fmt.Errorf("rows must be positive, got %d", rows)
	}
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"x1", "x2", "x3", "x4", "x5", "x6", "region", "y"}); err != nil {
		return err
	}

	record := make([]string, 8)
	for i := 0; i < rows; i++ {
		var x [6]float64
		for j := range x {
			x[j] = rng.Float64()
		}
		region := regions[rng.IntN(len(regions))]

		y := 10*math.Sin(math.Pi*x[0]*x[1]) +
			20*(x[2]-0.5)*(x[2]-0.5) +
			10*x[3] +
			5*x[4] +
			regionEffect[region] +
			noise*rng.NormFloat64()

		for j, v := range x {
			record[j] = strconv.FormatFloat(v, 'f', 6, 64)
		}
		record[6] = region
		record[7] = strconv.FormatFloat(y, 'f', 6, 64)
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// sampleConfig returns a config running every analysis against a linear
// approximation of the generating function.
func sampleConfig(dataPath, outputPath string) cfg.ConfigFile {
	var c cfg.ConfigFile
	c.Data.Path = dataPath
	c.Data.Response = "y"
	c.Data.Categorical = []string{"region"}
	c.Data.Levels = map[string][]string{"region": regions}

	c.Model.Type = cfg.ModelLinear
	c.Model.Linear = model.LinearConfig{
		Intercept:    0.5,
		Coefficients: map[string]float64{"x3": -1, "x4": 10, "x5": 5},
		Interactions: []model.Term{{A: "x1", B: "x2", Coef: 15}},
		LevelEffects: map[string]map[string]float64{"region": regionEffect},
	}

	c.Analyses = []string{interpret.AnalysisImportance, interpret.AnalysisPartial, interpret.AnalysisInteraction}
	c.Importance = &cfg.ImportanceSettings{Loss: "mse", Repetitions: 5, Mode: string(interpret.Difference)}
	c.PartialDependence = []cfg.PartialSettings{
		{Features: []string{"x4"}, GridResolution: 10, GridMethod: string(interpret.GridEqual), ICE: true, Center: true},
		{Features: []string{"x1", "x2"}, GridResolution: 8, GridMethod: string(interpret.GridQuantile)},
		{Features: []string{"region"}, GridResolution: 2, GridMethod: string(interpret.GridEqual)},
	}
	c.Interaction = []cfg.InteractionSettings{
		{SampleSize: 100},
		{Target: "x1", SampleSize: 200},
	}

	c.System.Seed = 42
	c.System.OutputPath = outputPath
	c.System.Timeout = "30m"
	return c
}
