// Package cfg loads analysis settings from a YAML file, a .env file and
// environment variables, in increasing order of precedence.
package cfg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"mlinterp/internal/interpret"
	"mlinterp/internal/model"
)

const (
	ModelLinear = "linear"
	ModelRemote = "remote"

	FormatCSV  = "csv"
	FormatJSON = "json"
)

type Settings struct {
	DataPath    string
	DataFormat  string
	Response    string
	Categorical []string
	Levels      map[string][]string

	ModelType      string
	Linear         model.LinearConfig
	ModelURL       string
	ModelTimeout   time.Duration
	ModelBatchSize int
	ModelRetries   int

	Analyses     []string
	Importance   ImportanceSettings
	Partials     []PartialSettings
	Interactions []InteractionSettings

	Seed         uint64
	Workers      int
	MaxBatchRows int
	OutputPath   string
	StorePath    string
	MetricsPort  int
	Timeout      time.Duration
}

type ConfigFile struct {
	Data struct {
		Path        string              `yaml:"path"`
		Format      string              `yaml:"format"`
		Response    string              `yaml:"response"`
		Categorical []string            `yaml:"categorical"`
		Levels      map[string][]string `yaml:"levels"`
	} `yaml:"data"`

	Model struct {
		Type      string             `yaml:"type"`
		Linear    model.LinearConfig `yaml:"linear"`
		URL       string             `yaml:"url"`
		Timeout   string             `yaml:"timeout"`
		BatchSize int                `yaml:"batchSize"`
		Retries   *int               `yaml:"retries,omitempty"`
	} `yaml:"model"`

	Analyses          []string              `yaml:"analyses"`
	Importance        *ImportanceSettings   `yaml:"importance"`
	PartialDependence []PartialSettings     `yaml:"partialDependence"`
	Interaction       []InteractionSettings `yaml:"interaction"`

	System struct {
		Seed         uint64 `yaml:"seed"`
		Workers      int    `yaml:"workers"`
		MaxBatchRows int    `yaml:"maxBatchRows"`
		OutputPath   string `yaml:"outputPath"`
		StorePath    string `yaml:"storePath"`
		MetricsPort  int    `yaml:"metricsPort"`
		Timeout      string `yaml:"timeout"`
	} `yaml:"system"`
}

func defaults() Settings {
	return Settings{
		ModelType:      ModelLinear,
		ModelTimeout:   30 * time.Second,
		ModelBatchSize: 1000,
		ModelRetries:   2,
		Importance: ImportanceSettings{
			Loss:        "mse",
			Repetitions: 5,
			Mode:        string(interpret.Difference),
		},
		Seed:       42,
		OutputPath: "./interpret_output",
	}
}

// Load reads settings from path, or from CONFIG_FILE when path is empty.
// Without a file, settings come from the environment alone.
func Load(path string) (Settings, error) {
	if err := loadDotEnv(getEnvOrDefault("ENV_FILE", ".env")); err != nil {
		return Settings{}, err
	}
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		return loadFromYAML(path)
	}
	return loadFromEnv()
}

// loadDotEnv adds variables from an env file without overriding those
// already set. A missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	log.Debug().Str("file", path).Msg("Loaded environment file")
	return nil
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	s := defaults()
	s.DataPath = config.Data.Path
	s.DataFormat = config.Data.Format
	s.Response = config.Data.Response
	s.Categorical = config.Data.Categorical
	s.Levels = config.Data.Levels

	if config.Model.Type != "" {
		s.ModelType = config.Model.Type
	}
	s.Linear = config.Model.Linear
	s.ModelURL = config.Model.URL
	s.ModelTimeout = parseDuration("model.timeout", config.Model.Timeout, s.ModelTimeout)
	s.ModelBatchSize = intOrDefault(config.Model.BatchSize, s.ModelBatchSize)
	if config.Model.Retries != nil {
		s.ModelRetries = *config.Model.Retries
	}

	if config.Importance != nil {
		imp := *config.Importance
		if imp.Loss == "" {
			imp.Loss = s.Importance.Loss
		}
		imp.Repetitions = intOrDefault(imp.Repetitions, s.Importance.Repetitions)
		if imp.Mode == "" {
			imp.Mode = s.Importance.Mode
		}
		s.Importance = imp
	}
	s.Partials = config.PartialDependence
	for i := range s.Partials {
		s.Partials[i].GridResolution = intOrDefault(s.Partials[i].GridResolution, interpret.DefaultGridResolution)
		if s.Partials[i].GridMethod == "" {
			s.Partials[i].GridMethod = string(interpret.GridEqual)
		}
	}
	s.Interactions = config.Interaction

	s.Analyses = config.Analyses
	if len(s.Analyses) == 0 {
		if config.Importance != nil {
			s.Analyses = append(s.Analyses, interpret.AnalysisImportance)
		}
		if len(s.Partials) > 0 {
			s.Analyses = append(s.Analyses, interpret.AnalysisPartial)
		}
		if len(s.Interactions) > 0 {
			s.Analyses = append(s.Analyses, interpret.AnalysisInteraction)
		}
	}

	if config.System.Seed != 0 {
		s.Seed = config.System.Seed
	}
	s.Workers = config.System.Workers
	s.MaxBatchRows = config.System.MaxBatchRows
	if config.System.OutputPath != "" {
		s.OutputPath = config.System.OutputPath
	}
	s.StorePath = config.System.StorePath
	s.MetricsPort = config.System.MetricsPort
	s.Timeout = parseDuration("system.timeout", config.System.Timeout, 0)

	applyEnv(&s)
	finish(&s)

	if err := validateSettings(&s); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return s, nil
}

func loadFromEnv() (Settings, error) {
	dataPath, err := getEnvRequired("INTERPRET_DATA")
	if err != nil {
		return Settings{}, err
	}

	s := defaults()
	s.DataPath = dataPath
	s.ModelType = ModelRemote
	s.Analyses = []string{interpret.AnalysisInteraction}
	s.Interactions = []InteractionSettings{{SampleSize: 200}}
	if os.Getenv("INTERPRET_RESPONSE") != "" {
		s.Analyses = append([]string{interpret.AnalysisImportance}, s.Analyses...)
	}
	s.Categorical = splitOrDefault(os.Getenv("INTERPRET_CATEGORICAL"), nil)
	s.Importance.Loss = getEnvOrDefault("INTERPRET_LOSS", s.Importance.Loss)
	s.Importance.Repetitions = getIntOrDefault("INTERPRET_REPETITIONS", s.Importance.Repetitions)

	applyEnv(&s)
	finish(&s)

	if err := validateSettings(&s); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return s, nil
}

// applyEnv overrides settings with environment variables that are set.
func applyEnv(s *Settings) {
	s.DataPath = getEnvOrDefault("INTERPRET_DATA", s.DataPath)
	s.Response = getEnvOrDefault("INTERPRET_RESPONSE", s.Response)
	s.OutputPath = getEnvOrDefault("INTERPRET_OUTPUT", s.OutputPath)
	s.StorePath = getEnvOrDefault("INTERPRET_STORE", s.StorePath)
	s.Seed = getUintOrDefault("INTERPRET_SEED", s.Seed)
	s.Workers = getIntOrDefault("INTERPRET_WORKERS", s.Workers)
	s.MaxBatchRows = getIntOrDefault("INTERPRET_MAX_BATCH_ROWS", s.MaxBatchRows)
	s.Timeout = getDurationOrDefault("INTERPRET_TIMEOUT", s.Timeout)
	s.Analyses = splitOrDefault(os.Getenv("INTERPRET_ANALYSES"), s.Analyses)
	s.MetricsPort = getIntOrDefault("METRICS_PORT", s.MetricsPort)
	s.ModelURL = getEnvOrDefault("MODEL_URL", s.ModelURL)
	s.ModelTimeout = getDurationOrDefault("MODEL_TIMEOUT", s.ModelTimeout)
}

// finish fills values derived from others.
func finish(s *Settings) {
	if s.DataFormat == "" {
		s.DataFormat = FormatCSV
		if strings.EqualFold(filepath.Ext(s.DataPath), ".json") {
			s.DataFormat = FormatJSON
		}
	}
}

func parseDuration(field, v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("field", field).Str("value", v).Dur("default", def).Msg("invalid duration, using default")
		return def
	}
	return d
}

func intOrDefault(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}

func getEnvRequired(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("required environment variable %s is missing", key)
	}
	return v, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getUintOrDefault(key string, defaultValue uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if u, err := strconv.ParseUint(v, 10, 64); err == nil {
			return u
		}
	}
	return defaultValue
}

func splitOrDefault(v string, def []string) []string {
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// validateSettings checks ranges and cross-field requirements.
func validateSettings(s *Settings) error {
	if s.DataPath == "" {
		return fmt.Errorf("data path is required")
	}
	switch s.DataFormat {
	case FormatCSV, FormatJSON:
	default:
		return fmt.Errorf("data format must be csv or json, got %q", s.DataFormat)
	}

	switch s.ModelType {
	case ModelLinear:
		if _, err := model.NewLinear(s.Linear); err != nil {
			return fmt.Errorf("linear model: %w", err)
		}
	case ModelRemote:
		if s.ModelURL == "" {
			return fmt.Errorf("remote model URL is required")
		}
		if s.ModelTimeout < time.Second || s.ModelTimeout > 10*time.Minute {
			return fmt.Errorf("model timeout must be between 1s and 10m, got %v", s.ModelTimeout)
		}
		if s.ModelBatchSize <= 0 {
			return fmt.Errorf("model batch size must be positive, got %d", s.ModelBatchSize)
		}
		if s.ModelRetries < 0 || s.ModelRetries > 10 {
			return fmt.Errorf("model retries must be between 0 and 10, got %d", s.ModelRetries)
		}
	default:
		return fmt.Errorf("model type must be linear or remote, got %q", s.ModelType)
	}

	if s.Workers < 0 || s.Workers > 1024 {
		return fmt.Errorf("workers must be between 0 and 1024, got %d", s.Workers)
	}
	if s.MaxBatchRows < 0 {
		return fmt.Errorf("max batch rows must be non-negative, got %d", s.MaxBatchRows)
	}
	if s.OutputPath == "" {
		return fmt.Errorf("output path cannot be empty")
	}
	if s.MetricsPort != 0 && (s.MetricsPort < 1024 || s.MetricsPort > 65535) {
		return fmt.Errorf("metrics port must be 0 or between 1024 and 65535, got %d", s.MetricsPort)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative, got %v", s.Timeout)
	}

	return validateAnalyses(s)
}
