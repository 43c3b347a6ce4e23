package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"mlinterp/internal/cfg"
	"mlinterp/internal/dataset"
	"mlinterp/internal/interpret"
	"mlinterp/internal/metrics"
	"mlinterp/internal/model"
	"mlinterp/internal/progress"
	"mlinterp/internal/report"
	"mlinterp/internal/storage"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config (defaults to CONFIG_FILE)")
		outputPath = flag.String("output", "", "Output directory for reports (overrides config)")
		logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
		listRuns   = flag.Bool("list-runs", false, "List stored runs and exit")
		reportRun  = flag.String("report", "", "Regenerate reports for a stored run ID and exit")
		storePath  = flag.String("store", "", "Run store directory (overrides config)")
	)
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *listRuns || *reportRun != "" {
		if err := runStoreCommand(*storePath, *outputPath, *listRuns, *reportRun); err != nil {
			log.Fatal().Err(err).Msg("store command failed")
		}
		return
	}

	c, err := cfg.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	if *outputPath != "" {
		c.OutputPath = *outputPath
	}
	if *storePath != "" {
		c.StorePath = *storePath
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	if err := run(ctx, c, metrics.New()); err != nil {
		log.Fatal().Err(err).Msg("interpretation failed")
	}
}

// runStoreCommand serves -list-runs and -report without loading a config.
func runStoreCommand(storePath, outputPath string, list bool, runID string) error {
	if storePath == "" {
		storePath = os.Getenv("INTERPRET_STORE")
	}
	if storePath == "" {
		return fmt.Errorf("a run store is required (-store or INTERPRET_STORE)")
	}
	store, err := storage.New(storePath)
	if err != nil {
		return err
	}
	defer store.Close()

	if list {
		runs, err := store.ListRuns(time.Time{}, time.Time{})
		if err != nil {
			return err
		}
		report.PrintRuns(os.Stdout, runs)
		return nil
	}

	results, err := loadResults(store, runID)
	if err != nil {
		return err
	}
	if outputPath == "" {
		outputPath = filepath.Join("interpret_output", runID)
	}
	r := report.NewReporter(results, outputPath)
	if err := r.GenerateReport(); err != nil {
		return err
	}
	r.PrintSummary(os.Stdout)
	return nil
}

func loadResults(store *storage.Store, runID string) (*report.Results, error) {
	run, err := store.GetRun(runID)
	if err != nil {
		return nil, err
	}
	results := &report.Results{
		RunID:     run.ID,
		Dataset:   run.Dataset,
		Model:     run.Model,
		Rows:      run.Rows,
		StartTime: run.CreatedAt,
		EndTime:   run.FinishedAt,
	}
	if results.Importance, err = store.LoadImportance(runID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if results.Partials, err = store.LoadPartials(runID); err != nil {
		return nil, err
	}
	if results.Interactions, err = store.LoadInteractions(runID); err != nil {
		return nil, err
	}
	return results, nil
}

// run executes every enabled analysis, persists and reports the results.
func run(ctx context.Context, c cfg.Settings, m *metrics.Metrics) error {
	mw := metrics.NewWrapper(m)

	data, response, err := loadData(c)
	if err != nil {
		return err
	}
	mdl, modelName, err := initializeModel(c)
	if err != nil {
		return err
	}

	store := initializeStorage(c)
	if store != nil {
		defer store.Close()
	}

	results := &report.Results{
		Dataset:   c.DataPath,
		Model:     modelName,
		Rows:      data.Rows(),
		StartTime: time.Now(),
	}
	if store != nil {
		rec, err := store.CreateRun(storage.Run{
			Dataset:  c.DataPath,
			Model:    modelName,
			Response: c.Response,
			Rows:     data.Rows(),
			Features: data.Names(),
			Analyses: c.Analyses,
			Seed:     c.Seed,
		})
		if err != nil {
			return fmt.Errorf("failed to record run: %w", err)
		}
		results.RunID = rec.ID
		mw.RunsStored().Inc()
	}

	hub := progress.NewHub(results.RunID, mw.ProgressClients())
	go hub.Run(ctx)
	server := startMetricsServer(c, hub)

	exp, err := interpret.New(model.Instrumented(mdl, mw), data, interpret.Options{
		Workers:      c.Workers,
		MaxBatchRows: c.MaxBatchRows,
		Progress:     hub.Publish,
		Metrics:      mw,
	})
	if err != nil {
		return err
	}

	runErr, partial := runAnalyses(ctx, exp, c, response, results, store, mw)
	results.EndTime = time.Now()

	if store != nil {
		if _, err := store.FinishRun(results.RunID, partial, runErr); err != nil {
			log.Error().Err(err).Msg("Failed to finish run record")
		}
	}

	r := report.NewReporter(results, c.OutputPath)
	if err := r.GenerateReport(); err != nil {
		log.Error().Err(err).Msg("Failed to generate report")
	}
	r.PrintSummary(os.Stdout)

	shutdown(server, hub)
	return runErr
}

// runAnalyses runs each enabled analysis in turn. A failed analysis does not
// stop the others; the first error is returned.
func runAnalyses(ctx context.Context, exp *interpret.Explainer, c cfg.Settings, response *dataset.Column,
	results *report.Results, store *storage.Store, mw *metrics.MetricsWrapper) (firstErr error, partial bool) {
	active := mw.ActiveAnalyses()
	record := func(analysis string, err error) {
		if err == nil {
			return
		}
		log.Error().Err(err).Str("analysis", analysis).Msg("Analysis failed")
		if firstErr == nil {
			firstErr = err
		}
	}
	save := func(analysis string, fn func() error) {
		if store == nil {
			return
		}
		if err := fn(); err != nil {
			log.Error().Err(err).Str("analysis", analysis).Msg("Failed to store result")
		}
	}

	if c.Enabled(interpret.AnalysisImportance) && ctx.Err() == nil {
		pc, err := c.PermutationConfig(response)
		if err == nil {
			active.Inc()
			var res *interpret.ImportanceResult
			res, err = exp.PermutationImportance(ctx, pc)
			active.Dec()
			if err == nil {
				results.Importance = res
				save(interpret.AnalysisImportance, func() error { return store.SaveImportance(results.RunID, res) })
			}
		}
		record(interpret.AnalysisImportance, err)
	}

	if c.Enabled(interpret.AnalysisPartial) {
		for i, pc := range c.PDConfigs() {
			if ctx.Err() != nil {
				break
			}
			active.Inc()
			pd, err := exp.PartialDependence(ctx, pc)
			active.Dec()
			if err == nil {
				results.Partials = append(results.Partials, pd)
				save(interpret.AnalysisPartial, func() error { return store.SavePartial(results.RunID, i, pd) })
			}
			record(interpret.AnalysisPartial, err)
		}
	}

	if c.Enabled(interpret.AnalysisInteraction) {
		for i, ic := range c.InteractionConfigs() {
			if ctx.Err() != nil {
				break
			}
			active.Inc()
			ia, err := exp.Interaction(ctx, ic)
			active.Dec()
			if ia != nil {
				results.Interactions = append(results.Interactions, ia)
				partial = partial || ia.Partial
				save(interpret.AnalysisInteraction, func() error { return store.SaveInteraction(results.RunID, i, ia) })
			}
			record(interpret.AnalysisInteraction, err)
		}
	}

	if firstErr == nil && ctx.Err() != nil {
		firstErr = ctx.Err()
		partial = true
	}
	return firstErr, partial
}

// loadData reads the dataset and splits off the response column.
func loadData(c cfg.Settings) (*dataset.Dataset, *dataset.Column, error) {
	opts := dataset.LoadOptions{Categorical: c.Categorical, Levels: c.Levels}
	var (
		raw *dataset.Dataset
		err error
	)
	switch c.DataFormat {
	case cfg.FormatJSON:
		raw, err = dataset.LoadJSON(c.DataPath, opts)
	default:
		raw, err = dataset.LoadCSV(c.DataPath, opts)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load dataset: %w", err)
	}
	log.Info().Str("path", c.DataPath).Int("rows", raw.Rows()).Strs("columns", raw.Names()).Msg("Dataset loaded")

	if c.Response == "" {
		return raw, nil, nil
	}
	response, err := raw.Column(c.Response)
	if err != nil {
		return nil, nil, fmt.Errorf("response column: %w", err)
	}
	features, err := raw.Without(c.Response)
	if err != nil {
		return nil, nil, err
	}
	return features, response, nil
}

func initializeModel(c cfg.Settings) (model.Model, string, error) {
	switch c.ModelType {
	case cfg.ModelRemote:
		r, err := model.NewRemote(model.RemoteConfig{
			URL:       c.ModelURL,
			Timeout:   c.ModelTimeout,
			BatchSize: c.ModelBatchSize,
			Retries:   c.ModelRetries,
		})
		if err != nil {
			return nil, "", err
		}
		log.Info().Str("url", c.ModelURL).Msg("Using remote model")
		return r, "remote:" + c.ModelURL, nil
	default:
		l, err := model.NewLinear(c.Linear)
		if err != nil {
			return nil, "", err
		}
		log.Info().Strs("features", l.Features()).Msg("Using linear model")
		return l, cfg.ModelLinear, nil
	}
}

// initializeStorage opens the run store if StorePath is configured.
func initializeStorage(c cfg.Settings) *storage.Store {
	if c.StorePath == "" {
		return nil
	}
	if err := os.MkdirAll(c.StorePath, 0o755); err != nil {
		log.Warn().Err(err).Str("path", c.StorePath).Msg("Failed to create store directory, results will not be persisted")
		return nil
	}
	store, err := storage.New(c.StorePath)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to open run store, results will not be persisted")
		return nil
	}
	return store
}

// startMetricsServer serves /health, /metrics and progress when a port is set.
func startMetricsServer(c cfg.Settings, hub *progress.Hub) *progress.Server {
	if c.MetricsPort == 0 {
		return nil
	}
	server := progress.NewServer(c.MetricsPort, hub, promhttp.Handler())
	if err := server.Start(); err != nil {
		log.Error().Err(err).Msg("Failed to start metrics server")
		return nil
	}
	return server
}

func shutdown(server *progress.Server, hub *progress.Hub) {
	if server == nil {
		hub.Close()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to stop metrics server")
	}
}
