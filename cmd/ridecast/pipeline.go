// Package main implements the ridecast batch pipeline.
//
// This file contains the Pipeline type which runs the stages in order:
//
//	load → prep → validate → calendar → window → lags → features.parquet
//	features → evaluate → predictions.parquet → scoring → report
//
// Every stage is timed and its row count and failures are recorded on the
// run's Prometheus registry.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/HatiCode/ridecast/cmd/ridecast/config"
	"github.com/HatiCode/ridecast/cmd/ridecast/metrics"
	"github.com/HatiCode/ridecast/cmd/ridecast/models"
	"github.com/HatiCode/ridecast/pkg/calendar"
	"github.com/HatiCode/ridecast/pkg/evaluate"
	"github.com/HatiCode/ridecast/pkg/frame"
	"github.com/HatiCode/ridecast/pkg/lags"
	"github.com/HatiCode/ridecast/pkg/parquetio"
	"github.com/HatiCode/ridecast/pkg/prep"
	"github.com/HatiCode/ridecast/pkg/scoring"
	"github.com/HatiCode/ridecast/pkg/sources"
	"github.com/HatiCode/ridecast/pkg/storage"
	"github.com/HatiCode/ridecast/pkg/window"
)

// Artifact file names inside the output directory.
const (
	FeaturesFile        = "features.parquet"
	PredictionsFile     = "predictions.parquet"
	MetricsBySplitFile  = "metrics_by_split.parquet"
	MetricsByEntityFile = "metrics_by_entity.parquet"
)

// Pipeline runs one configured pipeline.
type Pipeline struct {
	spec      *config.Pipeline
	outputDir string
	stage     string
	store     storage.Store
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewPipeline creates a Pipeline writing artifacts under outputDir.
func NewPipeline(
	spec *config.Pipeline,
	outputDir, stage string,
	store storage.Store,
	logger *slog.Logger,
	metrics *metrics.Metrics,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		spec:      spec,
		outputDir: outputDir,
		stage:     stage,
		store:     store,
		logger:    logger.With("run", spec.Run),
		metrics:   metrics,
		now:       time.Now,
	}
}

// Run executes the selected stages. The report is nil when evaluation did
// not run.
func (p *Pipeline) Run(ctx context.Context) (*storage.Report, error) {
	start := time.Now()
	if err := os.MkdirAll(p.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	var features *frame.Table
	var err error
	switch p.stage {
	case config.StageFeatures, config.StageAll:
		if features, err = p.Features(ctx); err != nil {
			return nil, err
		}
	case config.StageEvaluate:
		features, err = p.timed("read_features", func() (*frame.Table, error) {
			return parquetio.ReadFile(ctx, p.path(FeaturesFile))
		})
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown stage %q", p.stage)
	}

	if p.stage == config.StageFeatures {
		p.logger.Info("pipeline complete", "stage", p.stage, "total_ms", time.Since(start).Milliseconds())
		return nil, nil
	}
	if !p.spec.Evaluates() {
		if p.stage == config.StageEvaluate {
			return nil, errors.New("evaluate stage requested but no splits are configured")
		}
		p.logger.Warn("no splits configured, skipping evaluation")
		return nil, nil
	}

	report, err := p.Evaluate(ctx, features)
	if err != nil {
		return nil, err
	}
	p.logger.Info("pipeline complete", "stage", p.stage, "total_ms", time.Since(start).Milliseconds())
	return report, nil
}

// Features builds the feature table and writes it to features.parquet.
func (p *Pipeline) Features(ctx context.Context) (*frame.Table, error) {
	spec := p.spec

	t, err := p.timed("load", func() (*frame.Table, error) {
		src, err := sources.New(spec.Source.Kind, spec.Source.Config)
		if err != nil {
			return nil, err
		}
		p.logger.Info("loading source", "source", src.Name())
		return src.Load(ctx)
	})
	if err != nil {
		return nil, err
	}

	if len(spec.Prep) > 0 {
		if t, err = p.timed("prep", func() (*frame.Table, error) {
			return prep.Apply(t, spec.Prep, p.logger)
		}); err != nil {
			return nil, err
		}
	}

	if _, err := p.timed("validate", func() (*frame.Table, error) {
		return t, frame.CheckUnique(t, spec.Entities, spec.Time)
	}); err != nil {
		return nil, err
	}

	if t, err = p.timed("calendar", func() (*frame.Table, error) {
		isHoliday, err := p.holidays()
		if err != nil {
			return nil, err
		}
		return calendar.AddFeatures(t, spec.Time, isHoliday)
	}); err != nil {
		return nil, err
	}

	spans, err := spec.Spans()
	if err != nil {
		return nil, err
	}
	quantiles, err := spec.QuantileLevels()
	if err != nil {
		return nil, err
	}
	if t, err = p.timed("window", func() (*frame.Table, error) {
		return window.Aggregate(ctx, t, window.Options{
			Target:    spec.Target,
			Time:      spec.Time,
			Entities:  spec.Entities,
			Windows:   spans,
			Offset:    spec.Offset(),
			Quantiles: quantiles,
			Workers:   spec.Features.Workers,
			Logger:    p.logger,
		})
	}); err != nil {
		return nil, err
	}

	if len(spec.Features.Lags) > 0 {
		if t, err = p.timed("lags", func() (*frame.Table, error) {
			return lags.Add(t, lags.Options{
				Target:   spec.Target,
				Time:     spec.Time,
				Entities: spec.Entities,
				Lags:     spec.Features.Lags,
				Unit:     spec.Features.LagUnit,
			})
		}); err != nil {
			return nil, err
		}
	}

	if err := p.write("write_features", FeaturesFile, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Evaluate cross-validates the configured model over features, writes the
// prediction and metric tables and stores the run report.
func (p *Pipeline) Evaluate(ctx context.Context, features *frame.Table) (*storage.Report, error) {
	spec := p.spec
	ev := spec.Evaluation

	factory, err := models.New(spec.Model, p.logger)
	if err != nil {
		p.metrics.RecordError("evaluate", "model_config")
		return nil, err
	}
	filter, err := entityFilter(features, ev.Filter)
	if err != nil {
		p.metrics.RecordError("evaluate", reason(err))
		return nil, err
	}
	transform := evaluate.Identity
	if ev.Log1p {
		transform = evaluate.Log1p
	}

	var res *evaluate.Result
	if _, err := p.timed("evaluate", func() (*frame.Table, error) {
		r, err := evaluate.Run(ctx, features, spec.SplitRanges(), factory, evaluate.Options{
			Target:       spec.Target,
			Time:         spec.Time,
			Categorical:  ev.Categorical,
			Drop:         ev.Drop,
			Transform:    transform,
			Weighted:     ev.Weighted,
			AllowPartial: ev.AllowPartial,
			Filter:       filter,
			Workers:      ev.Workers,
			Logger:       p.logger,
		})
		if err != nil {
			return nil, err
		}
		res = r
		return r.Predictions, nil
	}); err != nil {
		return nil, err
	}

	for _, s := range res.Splits {
		if s.Empty {
			continue
		}
		for name, v := range s.Metrics.Map() {
			p.metrics.SetSplitMetric(s.Index, name, v)
		}
		p.metrics.SetSplitMetric(s.Index, "weighted_medae", s.WeightedMedAE)
	}
	p.logger.Info("cross-validation summary",
		"splits", len(res.Splits),
		"rmse", res.Summary.Mean.RMSE,
		"medae", res.Summary.Mean.MedAE,
		"mae", res.Summary.Mean.MAE,
		"mape", res.Summary.Mean.MAPE,
		"weighted_medae", res.Summary.MeanWeightedMedAE,
		"rmse_per_split", res.Summary.PerSplit["rmse"],
		"medae_per_split", res.Summary.PerSplit["medae"],
	)

	if err := p.write("write_predictions", PredictionsFile, res.Predictions); err != nil {
		return nil, err
	}

	bySplit := append([]string{evaluate.SplitColumn}, spec.Entities...)
	for _, out := range []struct {
		stage, file string
		groups      []string
	}{
		{"score_by_split", MetricsBySplitFile, bySplit},
		{"score_by_entity", MetricsByEntityFile, spec.Entities},
	} {
		scores, err := p.timed(out.stage, func() (*frame.Table, error) {
			return scoring.Summarize(res.Predictions, out.groups, spec.Target, evaluate.PredictionColumn)
		})
		if err != nil {
			return nil, err
		}
		if err := p.write("write_"+out.stage, out.file, scores); err != nil {
			return nil, err
		}
	}

	report := storage.NewReport(spec.Run, spec.Model.Kind, spec.Target, res, p.now())
	p.compare(ctx, &report)
	if err := p.store.Put(ctx, report); err != nil {
		p.metrics.RecordError("store", "put_failed")
		return nil, fmt.Errorf("store report: %w", err)
	}
	return &report, nil
}

// compare sets the change in mean metrics against the latest stored report
// of the run. Store read failures are logged and do not fail the run.
func (p *Pipeline) compare(ctx context.Context, report *storage.Report) {
	prev, ok, err := p.store.GetLatest(ctx, report.Run)
	if err != nil {
		p.metrics.RecordError("store", "get_failed")
		p.logger.Warn("failed to load previous report", "run", report.Run, "error", err)
		return
	}
	if !ok {
		p.logger.Debug("no previous report", "run", report.Run)
		return
	}
	report.Delta = report.MeanDelta(prev)

	attrs := []any{"run", report.Run, "previous", prev.GeneratedAt, "delta", report.Delta}
	history, err := p.store.History(ctx, report.Run, storage.DefaultHistory)
	if err != nil {
		p.logger.Warn("failed to load report history", "run", report.Run, "error", err)
	} else if best, ok := storage.Best(history, "rmse"); ok {
		attrs = append(attrs, "runs", len(history), "best_rmse", best)
	}
	p.logger.Info("compared with previous run", attrs...)
}

func (p *Pipeline) holidays() (calendar.HolidayFunc, error) {
	h := p.spec.Features.Holidays
	if (h.Region == "" || h.Region == "none") && h.File == "" {
		return calendar.NoHolidays, nil
	}
	var extra []calendar.Observance
	if h.File != "" {
		f, err := os.Open(h.File)
		if err != nil {
			return nil, fmt.Errorf("holiday file: %w", err)
		}
		defer f.Close()
		if extra, err = calendar.LoadObservances(f); err != nil {
			return nil, fmt.Errorf("holiday file %s: %w", h.File, err)
		}
	}
	hc, err := calendar.NewHolidayCalendar(h.Region, extra)
	if err != nil {
		return nil, err
	}
	return hc.IsHoliday, nil
}

// timed runs fn as stage, recording its duration, output rows and failure.
func (p *Pipeline) timed(stage string, fn func() (*frame.Table, error)) (*frame.Table, error) {
	start := time.Now()
	t, err := fn()
	d := time.Since(start)
	p.metrics.RecordStage(stage, d)
	if err != nil {
		p.metrics.RecordError(stage, reason(err))
		return nil, fmt.Errorf("%s: %w", stage, err)
	}
	p.metrics.SetRows(stage, t.Len())
	p.logger.Info("stage complete",
		"stage", stage,
		"rows", t.Len(),
		"columns", t.Width(),
		"duration_ms", d.Milliseconds(),
	)
	return t, nil
}

func (p *Pipeline) write(stage, name string, t *frame.Table) error {
	_, err := p.timed(stage, func() (*frame.Table, error) {
		return t, parquetio.WriteFile(p.path(name), t, parquetio.Options{
			Compression:  p.spec.Output.Compression,
			RowGroupSize: p.spec.Output.RowGroupSize,
		})
	})
	return err
}

func (p *Pipeline) path(name string) string {
	return filepath.Join(p.outputDir, name)
}

// entityFilter keeps rows whose filter column holds one of the listed
// values. A nil config keeps every row.
func entityFilter(t *frame.Table, fc *config.FilterConfig) (func(*frame.Table, int) bool, error) {
	if fc == nil {
		return nil, nil
	}
	if _, err := t.Column(fc.Column); err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	keep := make(map[string]bool, len(fc.Values))
	for _, v := range fc.Values {
		keep[v] = true
	}

	var cached *frame.Table
	var col *frame.Column
	return func(t *frame.Table, row int) bool {
		if t != cached {
			cached = t
			col, _ = t.Column(fc.Column)
		}
		return col != nil && col.Valid(row) && keep[col.Key(row)]
	}, nil
}

// reason maps an error to the errors_total reason label.
func reason(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, frame.ErrDuplicateKey):
		return "duplicate_key"
	case errors.Is(err, frame.ErrColumnNotFound):
		return "column_not_found"
	case errors.Is(err, frame.ErrColumnKind):
		return "column_kind"
	case errors.Is(err, evaluate.ErrSplitOrder):
		return "split_order"
	case errors.Is(err, evaluate.ErrEmptySplit):
		return "empty_split"
	case errors.Is(err, evaluate.ErrNonPositiveTarget):
		return "non_positive_target"
	case errors.Is(err, prep.ErrInvalidStep):
		return "invalid_step"
	case errors.Is(err, window.ErrInvalidSpan):
		return "invalid_span"
	case errors.Is(err, lags.ErrInvalidLag):
		return "invalid_lag"
	default:
		return "failed"
	}
}
