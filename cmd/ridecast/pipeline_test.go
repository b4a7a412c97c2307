package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/HatiCode/ridecast/cmd/ridecast/config"
	"github.com/HatiCode/ridecast/cmd/ridecast/metrics"
	"github.com/HatiCode/ridecast/pkg/evaluate"
	"github.com/HatiCode/ridecast/pkg/frame"
	"github.com/HatiCode/ridecast/pkg/parquetio"
	"github.com/HatiCode/ridecast/pkg/storage"
)

const days = 90

// writeRidership writes days of 08:00 counts for two stations. The first
// day of TAKSIM is split over two records and one bus record is mixed in.
func writeRidership(t *testing.T, dir string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("date,hour,station,passage,road_type\n")
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for d := range days {
		date := start.AddDate(0, 0, d).Format(time.DateOnly)
		base := 100 + 10*(d%7)
		if d == 0 {
			fmt.Fprintf(&b, "%s,8,TAKSIM,%d,RAYLI\n", date, 40)
			fmt.Fprintf(&b, "%s,8,TAKSIM,%d,RAYLI\n", date, base-40)
		} else {
			fmt.Fprintf(&b, "%s,8,TAKSIM,%d,RAYLI\n", date, base)
		}
		fmt.Fprintf(&b, "%s,8,KADIKOY,%d,RAYLI\n", date, base/2)
		fmt.Fprintf(&b, "%s,8,KADIKOY,%d,OTOYOL\n", date, 999)
	}
	path := filepath.Join(dir, "ridership.csv")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func pipelineFile(t *testing.T, dir, csvPath, extra string) string {
	t.Helper()
	body := fmt.Sprintf(`
run: metro-test
source:
  kind: csv
  path: %s
  columns:
    - {name: hour, kind: int}
    - {name: passage, kind: float}
prep:
  - op: keep
    column: road_type
    values: [RAYLI]
  - op: compose_timestamp
    column: date
    hour: hour
  - op: sum_duplicates
    columns: [station]
    time: timestamp
    target: passage
target: passage
time: timestamp
entities: [station]
features:
  windows: ["1 day", "1 week"]
  lags: [1, 7]
  holidays: {region: tr}
%s`, csvPath, extra)
	path := filepath.Join(dir, "pipeline.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

const evaluation = `
evaluation:
  rolling:
    end: 2024-03-30T08:00:00Z
    step: 240h
    count: 3
  categorical: [station]
  log1p: true
model:
  kind: seasonal
  params:
    min_count: 2
`

func newTestPipeline(t *testing.T, dir, stage, extra string) (*Pipeline, *storage.MemoryStore, *metrics.Metrics) {
	t.Helper()
	spec, err := config.LoadPipeline(pipelineFile(t, dir, writeRidership(t, dir), extra))
	if err != nil {
		t.Fatalf("LoadPipeline() error = %v", err)
	}
	store := storage.NewMemoryStore()
	m := metrics.New(spec.Run)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPipeline(spec, filepath.Join(dir, "out"), stage, store, logger, m), store, m
}

func TestPipeline_All(t *testing.T) {
	dir := t.TempDir()
	p, store, m := newTestPipeline(t, dir, config.StageAll, evaluation)

	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report == nil || len(report.Splits) != 3 {
		t.Fatalf("report = %+v, want 3 splits", report)
	}
	for _, s := range report.Splits {
		if s.TestRows != 20 {
			t.Errorf("split %d TestRows = %d, want 20", s.Index, s.TestRows)
		}
		if _, ok := s.Metrics["rmse"]; !ok {
			t.Errorf("split %d has no rmse", s.Index)
		}
	}

	features, err := parquetio.ReadFile(context.Background(), filepath.Join(dir, "out", FeaturesFile))
	if err != nil {
		t.Fatalf("ReadFile(features) error = %v", err)
	}
	if features.Len() != 2*days {
		t.Errorf("features rows = %d, want %d", features.Len(), 2*days)
	}
	for _, name := range []string{"avg_passage_1_day", "q75_passage_1_week", "passage_lag_7", "is_holiday", "hour_sin"} {
		if _, err := features.Column(name); err != nil {
			t.Errorf("features missing %s: %v", name, err)
		}
	}

	preds, err := parquetio.ReadFile(context.Background(), filepath.Join(dir, "out", PredictionsFile))
	if err != nil {
		t.Fatalf("ReadFile(predictions) error = %v", err)
	}
	if preds.Len() != 60 {
		t.Errorf("predictions rows = %d, want 60", preds.Len())
	}
	if _, err := preds.Column(evaluate.PredictionColumn); err != nil {
		t.Errorf("predictions: %v", err)
	}

	bySplit, err := parquetio.ReadFile(context.Background(), filepath.Join(dir, "out", MetricsBySplitFile))
	if err != nil {
		t.Fatalf("ReadFile(metrics_by_split) error = %v", err)
	}
	if bySplit.Len() != 6 {
		t.Errorf("metrics_by_split rows = %d, want 6", bySplit.Len())
	}
	byEntity, err := parquetio.ReadFile(context.Background(), filepath.Join(dir, "out", MetricsByEntityFile))
	if err != nil {
		t.Fatalf("ReadFile(metrics_by_entity) error = %v", err)
	}
	if byEntity.Len() != 2 {
		t.Errorf("metrics_by_entity rows = %d, want 2", byEntity.Len())
	}

	stored, ok, err := store.GetLatest(context.Background(), "metro-test")
	if err != nil || !ok {
		t.Fatalf("GetLatest() = %v, %v", ok, err)
	}
	if stored.Model != "seasonal" || stored.Target != "passage" {
		t.Errorf("stored report = %+v", stored)
	}

	if got := testutil.ToFloat64(m.Rows.WithLabelValues("prep")); got != 2*days {
		t.Errorf("prep rows = %v, want %d", got, 2*days)
	}
	if got := testutil.ToFloat64(m.Rows.WithLabelValues("evaluate")); got != 60 {
		t.Errorf("evaluate rows = %v, want 60", got)
	}
	if n := testutil.CollectAndCount(m.SplitMetric); n != 15 {
		t.Errorf("split metrics = %d, want 15 (3 splits x 5 metrics)", n)
	}
}

func TestPipeline_ComparesWithPreviousRun(t *testing.T) {
	dir := t.TempDir()
	p, store, _ := newTestPipeline(t, dir, config.StageAll, evaluation)
	ctx := context.Background()

	first, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("Run(first) error = %v", err)
	}
	if first.Delta != nil {
		t.Errorf("first run Delta = %v, want nil without a previous report", first.Delta)
	}

	p.now = func() time.Time { return first.GeneratedAt.Add(time.Hour) }
	second, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("Run(second) error = %v", err)
	}
	if len(second.Delta) == 0 || len(second.Delta) != len(second.Mean) {
		t.Fatalf("second run Delta = %v, want one entry per mean metric %v", second.Delta, second.Mean)
	}
	for k, d := range second.Delta {
		if d != 0 {
			t.Errorf("Delta[%s] = %v, want 0 for identical inputs", k, d)
		}
	}

	history, err := store.History(ctx, "metro-test", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("History() = %d reports, want 2", len(history))
	}
	if history[0].Delta == nil || history[1].Delta != nil {
		t.Errorf("History() deltas = %v, %v, want only the latest set", history[0].Delta, history[1].Delta)
	}
}

func TestPipeline_FeaturesThenEvaluate(t *testing.T) {
	dir := t.TempDir()

	p, _, _ := newTestPipeline(t, dir, config.StageFeatures, evaluation)
	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run(features) error = %v", err)
	}
	if report != nil {
		t.Errorf("features stage returned a report")
	}
	if _, err := os.Stat(filepath.Join(dir, "out", PredictionsFile)); !os.IsNotExist(err) {
		t.Errorf("features stage wrote predictions: %v", err)
	}

	p.stage = config.StageEvaluate
	report, err = p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run(evaluate) error = %v", err)
	}
	if report == nil || len(report.Splits) != 3 {
		t.Errorf("report = %+v, want 3 splits", report)
	}
}

func TestPipeline_EvaluateWithoutSplits(t *testing.T) {
	dir := t.TempDir()
	p, _, _ := newTestPipeline(t, dir, config.StageAll, "")

	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run(all) error = %v", err)
	}
	if report != nil {
		t.Error("Run(all) without splits should skip evaluation")
	}

	p.stage = config.StageEvaluate
	if _, err := p.Run(context.Background()); err == nil {
		t.Error("Run(evaluate) without splits should fail")
	}
}

func TestPipeline_DuplicateKeys(t *testing.T) {
	dir := t.TempDir()
	p, _, m := newTestPipeline(t, dir, config.StageFeatures, "")
	p.spec.Prep = p.spec.Prep[:2]

	_, err := p.Run(context.Background())
	if !errors.Is(err, frame.ErrDuplicateKey) {
		t.Fatalf("Run() error = %v, want ErrDuplicateKey", err)
	}
	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("validate", "duplicate_key")); got != 1 {
		t.Errorf("errors_total{validate,duplicate_key} = %v, want 1", got)
	}
}

func TestPipeline_Canceled(t *testing.T) {
	dir := t.TempDir()
	p, _, _ := newTestPipeline(t, dir, config.StageAll, evaluation)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestEntityFilter(t *testing.T) {
	tb := frame.MustNew(
		frame.NewString("line", []string{"M1", "M2", "M2", ""}).WithValid([]bool{true, true, true, false}),
	)
	keep, err := entityFilter(tb, &config.FilterConfig{Column: "line", Values: []string{"M2"}})
	if err != nil {
		t.Fatalf("entityFilter() error = %v", err)
	}
	var got []bool
	for i := range tb.Len() {
		got = append(got, keep(tb, i))
	}
	if want := []bool{false, true, true, false}; fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("filter = %v, want %v", got, want)
	}

	if _, err := entityFilter(tb, &config.FilterConfig{Column: "station", Values: []string{"X"}}); !errors.Is(err, frame.ErrColumnNotFound) {
		t.Errorf("entityFilter(missing) error = %v, want ErrColumnNotFound", err)
	}
	if f, err := entityFilter(tb, nil); f != nil || err != nil {
		t.Errorf("entityFilter(nil) = non-nil func: %v, %v", f != nil, err)
	}
}

func TestReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("lags: %w", frame.ErrDuplicateKey), "duplicate_key"},
		{fmt.Errorf("evaluate: %w", evaluate.ErrEmptySplit), "empty_split"},
		{context.Canceled, "canceled"},
		{errors.New("boom"), "failed"},
	}
	for _, tt := range tests {
		if got := reason(tt.err); got != tt.want {
			t.Errorf("reason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
