// Command ridecast builds ridership features and evaluates a forecasting
// model with walk-forward cross-validation.
//
// A run reads raw records from the configured source, cleans them, derives
// calendar, window and lag features, then fits a fresh model per split and
// scores its predictions. Artifacts are written to the output directory:
//
//	features.parquet           - input columns plus all derived features
//	predictions.parquet        - test rows with prediction and split columns
//	metrics_by_split.parquet   - rmse, medae, mae, mape per split and entity
//	metrics_by_entity.parquet  - the same metrics per entity
//
// The run report (per-split and mean metrics) is saved to the report store,
// and run metrics are pushed to a Prometheus Pushgateway when configured.
//
// Usage:
//
//	ridecast -config=pipeline.yaml -output-dir=out -stage=all
//
// Environment variables:
//
//	CONFIG         - Pipeline YAML file (required)
//	OUTPUT_DIR     - Artifact directory (default: out)
//	STAGE          - features, evaluate, or all (default: all)
//	RUN            - Run name (default: from the pipeline file)
//	STORAGE        - Report storage: memory or redis (default: memory)
//	REDIS_ADDR     - Redis server address
//	REDIS_PASSWORD - Redis password
//	REDIS_DB       - Redis database number
//	REDIS_TTL      - Report TTL (default: 720h)
//	PUSHGATEWAY    - Pushgateway URL
//	LOG_LEVEL      - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT     - Logging format: text, json (default: text)
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HatiCode/ridecast/cmd/ridecast/config"
	"github.com/HatiCode/ridecast/cmd/ridecast/logger"
	"github.com/HatiCode/ridecast/cmd/ridecast/metrics"
	"github.com/HatiCode/ridecast/cmd/ridecast/store"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg := config.ParseFlags()

	logger := logger.New(cfg)
	slog.SetDefault(logger)

	os.Exit(run(cfg, logger))
}

func run(cfg *config.Config, logger *slog.Logger) int {
	spec, err := config.LoadPipeline(cfg.ConfigFile)
	if err != nil {
		logger.Error("failed to load pipeline", "error", err)
		return 1
	}
	if cfg.Run != "" {
		spec.Run = cfg.Run
	}

	logger.Info("starting ridecast",
		"version", version,
		"run", spec.Run,
		"stage", cfg.Stage,
		"source", spec.Source.Kind,
		"model", spec.Model.Kind,
	)

	reports, err := store.New(cfg, logger)
	if err != nil {
		logger.Error("failed to open report store", "error", err)
		return 1
	}
	if closer, ok := reports.(interface{ Close() error }); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				logger.Error("failed to close store", "error", err)
			}
		}()
	}

	m := metrics.New(spec.Run)
	p := NewPipeline(spec, cfg.OutputDir, cfg.Stage, reports, logger, m)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := 0
	report, err := p.Run(ctx)
	switch {
	case err != nil:
		logger.Error("pipeline failed", "error", err)
		code = 1
	case report != nil:
		logger.Info("run report stored",
			"splits", len(report.Splits),
			"mean", report.Mean,
			"delta", report.Delta,
		)
	}

	if cfg.Pushgateway != "" {
		pushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.Push(pushCtx, cfg.Pushgateway); err != nil {
			logger.Error("failed to push metrics", "error", err)
		}
	}

	return code
}
