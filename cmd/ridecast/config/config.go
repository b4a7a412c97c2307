// Package config provides configuration parsing for the ridecast pipeline.
//
// Runtime settings (where to write artifacts, logging, report storage,
// metrics push) come from command-line flags with environment variable
// fallbacks. What the pipeline computes is described by a YAML pipeline
// file named by -config:
//
//	run: metro-hourly
//	source:
//	  kind: parquet
//	  path: data/ridership.parquet
//	prep:
//	  - op: keep
//	    column: road_type
//	    values: [RAYLI]
//	target: passage
//	time: timestamp
//	entities: [line_name, station]
//	features:
//	  windows: ["1 day", "1 week", "1 month"]
//	  lags: [1, 7, 30]
//	  holidays: {region: tr}
//	evaluation:
//	  rolling: {end: 2024-12-31, step: 720h, count: 4}
//	  categorical: [line_name, station]
//	  log1p: true
//	model:
//	  kind: gbm
//	  params: {n_estimators: 200, max_depth: 6}
//
// Supported configuration sources (in order of precedence):
//  1. Command-line flags
//  2. Environment variables
//  3. Default values
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/HatiCode/ridecast/pkg/evaluate"
	"github.com/HatiCode/ridecast/pkg/models"
	"github.com/HatiCode/ridecast/pkg/prep"
	"github.com/HatiCode/ridecast/pkg/sources"
	"github.com/HatiCode/ridecast/pkg/storage"
	"github.com/HatiCode/ridecast/pkg/window"
)

// Pipeline stages selectable with -stage.
const (
	StageFeatures = "features"
	StageEvaluate = "evaluate"
	StageAll      = "all"
)

// Config holds the runtime configuration.
type Config struct {
	ConfigFile string
	OutputDir  string
	Stage      string
	Run        string

	LogFormat string
	LogLevel  string

	Storage       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration

	Pushgateway string
}

// ParseFlags parses command-line flags and environment variables into a Config.
// Environment variables are used as fallbacks when flags are not provided.
func ParseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.ConfigFile, "config", getEnv("CONFIG", ""), "Pipeline YAML file (required)")
	flag.StringVar(&cfg.OutputDir, "output-dir", getEnv("OUTPUT_DIR", "out"), "Directory for Parquet artifacts")
	flag.StringVar(&cfg.Stage, "stage", getEnv("STAGE", StageAll), "Stage to run: features, evaluate, or all")
	flag.StringVar(&cfg.Run, "run", getEnv("RUN", ""), "Run name (overrides the pipeline file)")

	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	flag.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "memory"), "Report storage backend: memory or redis")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	flag.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	flag.DurationVar(&cfg.RedisTTL, "redis-ttl", getEnvDuration("REDIS_TTL", 30*24*time.Hour), "Redis report TTL")

	flag.StringVar(&cfg.Pushgateway, "pushgateway", getEnv("PUSHGATEWAY", ""), "Prometheus Pushgateway URL (empty disables push)")

	flag.Parse()

	if cfg.ConfigFile == "" {
		fmt.Fprintln(os.Stderr, "Error: --config is required")
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	return cfg
}

// Validate checks the runtime settings that flag parsing cannot.
func (c *Config) Validate() error {
	switch c.Stage {
	case StageFeatures, StageEvaluate, StageAll:
	default:
		return fmt.Errorf("invalid stage %q (must be features, evaluate, or all)", c.Stage)
	}
	switch c.Storage {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid storage %q (must be memory or redis)", c.Storage)
	}
	if c.RedisDB < 0 {
		return errors.New("redis-db cannot be negative")
	}
	if c.Run != "" {
		if err := storage.ValidateRunName(c.Run); err != nil {
			return err
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// Pipeline is the decoded pipeline file.
type Pipeline struct {
	Run        string           `yaml:"run"`
	Source     SourceConfig     `yaml:"source"`
	Prep       []prep.Step      `yaml:"prep" validate:"dive"`
	Target     string           `yaml:"target" validate:"required"`
	Time       string           `yaml:"time" validate:"required"`
	Entities   []string         `yaml:"entities" validate:"required,min=1,dive,required"`
	Features   FeaturesConfig   `yaml:"features"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Model      ModelConfig      `yaml:"model"`
	Output     OutputConfig     `yaml:"output"`
}

// SourceConfig selects the raw data source.
type SourceConfig struct {
	Kind           string `yaml:"kind" validate:"required,oneof=parquet csv http"`
	sources.Config `yaml:",inline"`
}

// FeaturesConfig describes the feature stage.
type FeaturesConfig struct {
	// Windows are span labels such as "1 day" or "3 months".
	Windows   []string `yaml:"windows" validate:"required,min=1"`
	Quantiles []string `yaml:"quantiles"`
	// Offset defaults to window.DefaultOffset. Set "0s" to disable
	// re-alignment.
	Offset  *time.Duration `yaml:"offset"`
	Lags    []int          `yaml:"lags" validate:"dive,gt=0"`
	LagUnit time.Duration  `yaml:"lag_unit" validate:"gte=0"`
	Workers int            `yaml:"workers" validate:"gte=0"`

	Holidays HolidayConfig `yaml:"holidays"`
}

// HolidayConfig selects the holiday calendar.
type HolidayConfig struct {
	Region string `yaml:"region" validate:"omitempty,oneof=tr us none"`
	// File is a YAML observances list added to the region's holidays.
	File string `yaml:"file"`
}

// EvaluationConfig describes the cross-validation stage. Exactly one of
// Splits and Rolling is set.
type EvaluationConfig struct {
	Splits  []evaluate.Range `yaml:"splits"`
	Rolling *RollingConfig   `yaml:"rolling"`

	Categorical  []string      `yaml:"categorical"`
	Drop         []string      `yaml:"drop"`
	Log1p        bool          `yaml:"log1p"`
	Weighted     bool          `yaml:"weighted"`
	AllowPartial bool          `yaml:"allow_partial"`
	Filter       *FilterConfig `yaml:"filter"`
	Workers      int           `yaml:"workers" validate:"gte=0"`
}

// RollingConfig generates Count back-to-back splits of length Step ending
// at End.
type RollingConfig struct {
	End   time.Time     `yaml:"end" validate:"required"`
	Step  time.Duration `yaml:"step" validate:"gt=0"`
	Count int           `yaml:"count" validate:"gt=0"`
}

// FilterConfig keeps only rows whose Column is one of Values.
type FilterConfig struct {
	Column string   `yaml:"column" validate:"required"`
	Values []string `yaml:"values" validate:"required,min=1"`
}

// ModelConfig selects the predictor.
type ModelConfig struct {
	Kind     string        `yaml:"kind" validate:"omitempty,oneof=gbm linear seasonal byom"`
	Params   models.Params `yaml:"params"`
	Endpoint string        `yaml:"endpoint" validate:"required_if=Kind byom"`
	Timeout  time.Duration `yaml:"timeout" validate:"gte=0"`
}

// OutputConfig controls the Parquet artifacts.
type OutputConfig struct {
	Compression  string `yaml:"compression" validate:"omitempty,oneof=snappy gzip lz4 zstd uncompressed none"`
	RowGroupSize int64  `yaml:"row_group_size" validate:"gte=0"`
}

var validate = validator.New()

// LoadPipeline reads and validates the pipeline file at path. Unknown keys
// are rejected.
func LoadPipeline(path string) (*Pipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pipeline: %w", err)
	}
	defer f.Close()

	var p Pipeline
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode pipeline %s: %w", path, err)
	}
	if p.Run == "" {
		p.Run = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks field constraints and cross-field rules.
func (p *Pipeline) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("pipeline %q: %w", p.Run, err)
	}
	if err := storage.ValidateRunName(p.Run); err != nil {
		return fmt.Errorf("pipeline %q: %w", p.Run, err)
	}
	if _, err := p.Spans(); err != nil {
		return fmt.Errorf("pipeline %q: %w", p.Run, err)
	}
	if _, err := p.QuantileLevels(); err != nil {
		return fmt.Errorf("pipeline %q: %w", p.Run, err)
	}
	ev := p.Evaluation
	if len(ev.Splits) > 0 && ev.Rolling != nil {
		return fmt.Errorf("pipeline %q: evaluation splits and rolling are mutually exclusive", p.Run)
	}
	if len(ev.Splits) > 0 {
		if err := evaluate.ValidateSplits(ev.Splits); err != nil {
			return fmt.Errorf("pipeline %q: %w", p.Run, err)
		}
	}
	if p.Evaluates() && p.Model.Kind == "" {
		return fmt.Errorf("pipeline %q: model kind is required when evaluation is configured", p.Run)
	}
	return nil
}

// Spans parses the window labels.
func (p *Pipeline) Spans() ([]window.Span, error) {
	spans := make([]window.Span, len(p.Features.Windows))
	for i, s := range p.Features.Windows {
		span, err := window.ParseSpan(s)
		if err != nil {
			return nil, err
		}
		spans[i] = span
	}
	return spans, nil
}

// QuantileLevels parses the quantile labels. Empty means the window
// package defaults.
func (p *Pipeline) QuantileLevels() ([]float64, error) {
	if len(p.Features.Quantiles) == 0 {
		return nil, nil
	}
	out := make([]float64, len(p.Features.Quantiles))
	for i, s := range p.Features.Quantiles {
		q, err := window.ParseQuantileLevel(s)
		if err != nil {
			return nil, err
		}
		out[i] = q
	}
	return out, nil
}

// Offset is the window re-alignment offset.
func (p *Pipeline) Offset() time.Duration {
	if p.Features.Offset == nil {
		return window.DefaultOffset
	}
	return *p.Features.Offset
}

// Evaluates reports whether the pipeline configures cross-validation.
func (p *Pipeline) Evaluates() bool {
	return p.Evaluation.Rolling != nil || len(p.Evaluation.Splits) > 0
}

// SplitRanges returns the explicit splits, or the rolling ones. It
// returns nil when evaluation is not configured.
func (p *Pipeline) SplitRanges() []evaluate.Range {
	if r := p.Evaluation.Rolling; r != nil {
		return evaluate.ConsecutiveSplits(r.End, r.Step, r.Count)
	}
	return p.Evaluation.Splits
}
