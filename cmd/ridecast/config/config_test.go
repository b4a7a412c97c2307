package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/HatiCode/ridecast/pkg/window"
)

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "environment variable set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "from-env",
			want:         "from-env",
		},
		{
			name:         "environment variable not set",
			key:          "NONEXISTENT_VAR",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue int
		envValue     string
		want         int
	}{
		{"valid integer", "TEST_INT", 10, "42", 42},
		{"invalid integer", "TEST_INT", 10, "not-a-number", 10},
		{"not set", "NONEXISTENT_INT", 99, "", 99},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnvInt(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvInt() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue time.Duration
		envValue     string
		want         time.Duration
	}{
		{"valid duration", "TEST_DURATION", time.Hour, "720h", 720 * time.Hour},
		{"invalid duration", "TEST_DURATION", time.Hour, "a month", time.Hour},
		{"not set", "NONEXISTENT_DURATION", time.Minute, "", time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnvDuration(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfig_Defaults(t *testing.T) {
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)

	os.Args = []string{"cmd", "-config=pipeline.yaml"}

	cfg := ParseFlags()

	if cfg.ConfigFile != "pipeline.yaml" {
		t.Errorf("ConfigFile = %q, want %q", cfg.ConfigFile, "pipeline.yaml")
	}
	if cfg.OutputDir != "out" {
		t.Errorf("OutputDir = %q, want %q", cfg.OutputDir, "out")
	}
	if cfg.Stage != StageAll {
		t.Errorf("Stage = %q, want %q", cfg.Stage, StageAll)
	}
	if cfg.Storage != "memory" {
		t.Errorf("Storage = %q, want %q", cfg.Storage, "memory")
	}
	if cfg.RedisTTL != 30*24*time.Hour {
		t.Errorf("RedisTTL = %v, want 720h", cfg.RedisTTL)
	}
	if cfg.Pushgateway != "" {
		t.Errorf("Pushgateway = %q, want empty", cfg.Pushgateway)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q, want %q", cfg.LogFormat, "text")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestConfig_CustomValues(t *testing.T) {
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)

	t.Setenv("REDIS_ADDR", "redis:6379")

	os.Args = []string{
		"cmd",
		"-config=metro.yaml",
		"-output-dir=/tmp/ridecast",
		"-stage=evaluate",
		"-run=metro-2024",
		"-storage=redis",
		"-redis-db=2",
		"-redis-ttl=1h",
		"-pushgateway=http://pushgateway:9091",
		"-log-format=json",
		"-log-level=debug",
	}

	cfg := ParseFlags()

	if cfg.OutputDir != "/tmp/ridecast" {
		t.Errorf("OutputDir = %q, want %q", cfg.OutputDir, "/tmp/ridecast")
	}
	if cfg.Stage != StageEvaluate {
		t.Errorf("Stage = %q, want %q", cfg.Stage, StageEvaluate)
	}
	if cfg.Run != "metro-2024" {
		t.Errorf("Run = %q, want %q", cfg.Run, "metro-2024")
	}
	if cfg.RedisAddr != "redis:6379" {
		t.Errorf("RedisAddr = %q, want %q (from env)", cfg.RedisAddr, "redis:6379")
	}
	if cfg.RedisDB != 2 {
		t.Errorf("RedisDB = %d, want 2", cfg.RedisDB)
	}
	if cfg.RedisTTL != time.Hour {
		t.Errorf("RedisTTL = %v, want 1h", cfg.RedisTTL)
	}
	if cfg.Pushgateway != "http://pushgateway:9091" {
		t.Errorf("Pushgateway = %q", cfg.Pushgateway)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want %q", cfg.LogFormat, "json")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{Stage: StageAll, Storage: "memory"}
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"bad stage", func(c *Config) { c.Stage = "train" }, true},
		{"bad storage", func(c *Config) { c.Storage = "s3" }, true},
		{"negative db", func(c *Config) { c.RedisDB = -1 }, true},
		{"bad run name", func(c *Config) { c.Run = "metro/2024" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

const pipelineYAML = `
source:
  kind: csv
  path: data/ridership.csv
  columns:
    - {name: transition_date, kind: string}
    - {name: transition_hour, kind: int}
    - {name: number_of_passage, kind: float}
prep:
  - op: compose_timestamp
    column: transition_date
    hour: transition_hour
target: number_of_passage
time: timestamp
entities: [line_name, station]
features:
  windows: ["1 day", "1 week"]
  quantiles: [p10, "0.9"]
  lags: [1, 7]
  holidays:
    region: tr
evaluation:
  rolling:
    end: 2024-12-31
    step: 720h
    count: 3
  categorical: [line_name, station]
  log1p: true
  filter:
    column: line_name
    values: [M2]
model:
  kind: gbm
  params:
    n_estimators: 50
    learning_rate: 0.1
output:
  compression: zstd
`

func writePipeline(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadPipeline(t *testing.T) {
	p, err := LoadPipeline(writePipeline(t, "metro-hourly.yaml", pipelineYAML))
	if err != nil {
		t.Fatalf("LoadPipeline() error = %v", err)
	}

	if p.Run != "metro-hourly" {
		t.Errorf("Run = %q, want file name %q", p.Run, "metro-hourly")
	}
	if p.Source.Kind != "csv" || p.Source.Path != "data/ridership.csv" || len(p.Source.Columns) != 3 {
		t.Errorf("Source = %+v", p.Source)
	}
	if len(p.Prep) != 1 || p.Prep[0].Op != "compose_timestamp" {
		t.Errorf("Prep = %+v", p.Prep)
	}
	spans, err := p.Spans()
	if err != nil || len(spans) != 2 || spans[1].Suffix() != "1_week" {
		t.Errorf("Spans() = %v, %v", spans, err)
	}
	qs, err := p.QuantileLevels()
	if err != nil || len(qs) != 2 || qs[0] != 0.1 || qs[1] != 0.9 {
		t.Errorf("QuantileLevels() = %v, %v", qs, err)
	}
	if p.Offset() != window.DefaultOffset {
		t.Errorf("Offset() = %v, want %v", p.Offset(), window.DefaultOffset)
	}
	if !p.Evaluates() {
		t.Error("Evaluates() = false, want true")
	}
	splits := p.SplitRanges()
	if len(splits) != 3 {
		t.Fatalf("SplitRanges() = %d splits, want 3", len(splits))
	}
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	if !splits[2].End.Equal(end) || !splits[0].Start.Equal(end.Add(-3*720*time.Hour)) {
		t.Errorf("SplitRanges() = %v", splits)
	}
	if n, _ := p.Model.Params.Int("n_estimators", 0); n != 50 {
		t.Errorf("n_estimators = %d, want 50", n)
	}
	if p.Evaluation.Filter == nil || p.Evaluation.Filter.Values[0] != "M2" {
		t.Errorf("Filter = %+v", p.Evaluation.Filter)
	}
}

func TestLoadPipeline_ExplicitSplitsAndOffset(t *testing.T) {
	body := `
run: explicit
source: {kind: parquet, path: in.parquet}
target: passage
time: timestamp
entities: [station]
features:
  windows: ["1 month"]
  offset: 0s
evaluation:
  splits:
    - {start: 2024-01-01, end: 2024-02-01}
    - {start: 2024-02-01, end: 2024-03-01}
model: {kind: seasonal}
`
	p, err := LoadPipeline(writePipeline(t, "p.yaml", body))
	if err != nil {
		t.Fatalf("LoadPipeline() error = %v", err)
	}
	if p.Run != "explicit" {
		t.Errorf("Run = %q, want %q", p.Run, "explicit")
	}
	if p.Offset() != 0 {
		t.Errorf("Offset() = %v, want 0", p.Offset())
	}
	if got := p.SplitRanges(); len(got) != 2 {
		t.Errorf("SplitRanges() = %v", got)
	}
}

func TestLoadPipeline_Invalid(t *testing.T) {
	base := `
source: {kind: parquet, path: in.parquet}
target: passage
time: timestamp
entities: [station]
`
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing windows", base, "Windows"},
		{"bad span", base + "features: {windows: [\"1 fortnight\"]}\n", "fortnight"},
		{"bad quantile", base + "features: {windows: [\"1 day\"], quantiles: [p150]}\n", "out of range"},
		{"unknown key", base + "features: {windows: [\"1 day\"]}\nwindowz: 1\n", "windowz"},
		{"bad source kind", strings.Replace(base, "parquet,", "kafka,", 1) + "features: {windows: [\"1 day\"]}\n", "Kind"},
		{"zero lag", base + "features: {windows: [\"1 day\"], lags: [0]}\n", "Lags"},
		{
			"overlapping splits",
			base + "features: {windows: [\"1 day\"]}\nmodel: {kind: linear}\nevaluation:\n  splits:\n    - {start: 2024-01-01, end: 2024-03-01}\n    - {start: 2024-02-01, end: 2024-04-01}\n",
			"overlaps",
		},
		{
			"evaluation without model",
			base + "features: {windows: [\"1 day\"]}\nevaluation:\n  rolling: {end: 2024-12-31, step: 24h, count: 2}\n",
			"model kind",
		},
		{
			"byom without endpoint",
			base + "features: {windows: [\"1 day\"]}\nmodel: {kind: byom}\n",
			"Endpoint",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadPipeline(writePipeline(t, "p.yaml", tt.body))
			if err == nil {
				t.Fatal("LoadPipeline() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("LoadPipeline() error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadPipeline_Missing(t *testing.T) {
	if _, err := LoadPipeline(filepath.Join(t.TempDir(), "none.yaml")); err == nil {
		t.Error("LoadPipeline() of a missing file should fail")
	}
}
