package models

import (
	"fmt"
	"log/slog"

	"github.com/HatiCode/ridecast/cmd/ridecast/config"
	"github.com/HatiCode/ridecast/pkg/models"
)

// New returns a factory of untrained predictors of the configured kind.
// Hyperparameters are parsed once so that a bad value fails before any
// split runs.
func New(mc config.ModelConfig, logger *slog.Logger) (models.Factory, error) {
	switch mc.Kind {
	case "gbm":
		cfg, err := models.GBMConfigFromParams(mc.Params)
		if err != nil {
			return nil, fmt.Errorf("gbm params: %w", err)
		}
		logger.Info("initializing gbm model",
			"objective", cfg.Objective,
			"n_estimators", cfg.NEstimators,
			"max_depth", cfg.MaxDepth,
			"learning_rate", cfg.LearningRate,
		)
		return func() (models.Predictor, error) { return models.NewGBM(cfg), nil }, nil

	case "linear":
		logger.Info("initializing linear model")
		return func() (models.Predictor, error) { return models.NewLinear(), nil }, nil

	case "seasonal":
		keys, err := mc.Params.Strings("keys", models.DefaultSeasonalKeys)
		if err != nil {
			return nil, err
		}
		minCount, err := mc.Params.Int("min_count", 3)
		if err != nil {
			return nil, err
		}
		logger.Info("initializing seasonal model", "keys", keys, "min_count", minCount)
		return func() (models.Predictor, error) { return models.NewSeasonalModel(keys, minCount), nil }, nil

	case "byom":
		if mc.Endpoint == "" {
			return nil, fmt.Errorf("byom model requires an endpoint")
		}
		logger.Info("initializing byom model", "endpoint", mc.Endpoint, "timeout", mc.Timeout)
		return func() (models.Predictor, error) {
			return models.NewBYOMModel(mc.Endpoint, mc.Params, mc.Timeout), nil
		}, nil

	default:
		return nil, fmt.Errorf("invalid model kind %q (must be gbm, linear, seasonal, or byom)", mc.Kind)
	}
}
