// Package evaluate runs walk-forward cross-validation of a predictor over a
// feature table.
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/HatiCode/ridecast/pkg/frame"
	"github.com/HatiCode/ridecast/pkg/models"
	"github.com/HatiCode/ridecast/pkg/scoring"
)

var (
	ErrSplitOrder        = errors.New("invalid split order")
	ErrNonPositiveTarget = errors.New("target must be positive")
	ErrEmptySplit        = errors.New("split has no train or test rows")
)

// Column names added to the predictions table.
const (
	PredictionColumn = "prediction"
	SplitColumn      = "split"
)

// Options configures a cross-validation run.
type Options struct {
	Target      string
	Time        string
	Categorical []string
	// Drop lists columns excluded from the features, e.g. identifiers.
	Drop []string

	// Transform is applied to the target before fitting and inverted on
	// predictions. Metrics are always computed on the original scale.
	Transform Transform
	// Weighted fits with sample weights 1/y, in the transformed space.
	Weighted bool
	// AllowPartial scores splits with no train or test rows as NaN instead
	// of failing.
	AllowPartial bool
	// Filter keeps a row when it returns true. Nil keeps every row.
	Filter func(t *frame.Table, row int) bool

	Workers int
	Logger  *slog.Logger
}

// SplitResult is the outcome of one split.
type SplitResult struct {
	Index     int
	Range     Range
	TrainRows int
	TestRows  int
	Empty     bool
	Metrics   scoring.Metrics
	// WeightedMedAE weights each test error by 1/y.
	WeightedMedAE float64
	Duration      time.Duration
}

// Summary averages split metrics, ignoring undefined values. PerSplit
// holds the scored splits' values keyed by metric name, weighted_medae
// included.
type Summary struct {
	Mean              scoring.Metrics
	MeanWeightedMedAE float64
	PerSplit          map[string][]float64
}

// Result holds per-split scores and the test rows with their predictions.
type Result struct {
	Splits      []SplitResult
	Summary     Summary
	Predictions *frame.Table
}

type evaluator struct {
	opts    Options
	base    *frame.Table
	times   []time.Time
	y       []float64
	X       models.Dataset
	factory models.Factory
}

// Run cross-validates the predictors built by factory over t. Rows with a
// null target or rejected by opts.Filter are dropped first.
func Run(ctx context.Context, t *frame.Table, splits []Range, factory models.Factory, opts Options) (*Result, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if err := ValidateSplits(splits); err != nil {
		return nil, err
	}
	target, err := t.NumericColumn(opts.Target)
	if err != nil {
		return nil, err
	}
	if _, err := t.TimeColumn(opts.Time); err != nil {
		return nil, err
	}

	base := t.Filter(func(i int) bool {
		if !target.Valid(i) {
			return false
		}
		return opts.Filter == nil || opts.Filter(t, i)
	})
	if dropped := t.Len() - base.Len(); dropped > 0 {
		opts.Logger.Info("dropped rows before cross-validation", "rows", dropped, "kept", base.Len())
	}

	ev := &evaluator{opts: opts, base: base, factory: factory}
	ev.times, _ = base.TimeColumn(opts.Time)
	yc, _ := base.Column(opts.Target)
	ev.y = yc.Float64s()
	if opts.Transform.Positive || opts.Weighted {
		for i, v := range ev.y {
			if !(v > 0) {
				return nil, fmt.Errorf("row %d has %s=%v: %w", i, opts.Target, v, ErrNonPositiveTarget)
			}
		}
	}
	names := FeatureColumns(base, opts.Time, opts.Target, opts.Drop)
	if ev.X, err = BuildDataset(base, names, opts.Categorical); err != nil {
		return nil, err
	}

	results := make([]SplitResult, len(splits))
	parts := make([]*frame.Table, len(splits))
	run := func(ctx context.Context, i int) error {
		res, part, err := ev.split(ctx, i, splits[i])
		if err != nil {
			return fmt.Errorf("split %d (%s): %w", i, splits[i], err)
		}
		results[i], parts[i] = res, part
		return nil
	}

	if opts.Workers > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Workers)
		for i := range splits {
			g.Go(func() error { return run(gctx, i) })
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i := range splits {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := run(ctx, i); err != nil {
				return nil, err
			}
		}
	}

	preds, err := ev.concat(parts)
	if err != nil {
		return nil, err
	}
	return &Result{Splits: results, Summary: summarize(results), Predictions: preds}, nil
}

func (ev *evaluator) split(ctx context.Context, index int, r Range) (SplitResult, *frame.Table, error) {
	start := time.Now()
	res := SplitResult{Index: index, Range: r, Metrics: scoring.NaN(), WeightedMedAE: math.NaN()}

	var train, test []int
	for i, ts := range ev.times {
		switch {
		case r.InTrain(ts):
			train = append(train, i)
		case r.InTest(ts):
			test = append(test, i)
		}
	}
	res.TrainRows, res.TestRows = len(train), len(test)
	log := ev.opts.Logger.With("split", index, "start", r.Start, "end", r.End)

	if len(train) == 0 || len(test) == 0 {
		if !ev.opts.AllowPartial {
			return res, nil, fmt.Errorf("%d train and %d test rows: %w", len(train), len(test), ErrEmptySplit)
		}
		log.Warn("skipping empty split", "train_rows", len(train), "test_rows", len(test))
		res.Empty = true
		res.Duration = time.Since(start)
		return res, nil, nil
	}

	yFit := make([]float64, len(train))
	for k, i := range train {
		yFit[k] = ev.opts.Transform.forward(ev.y[i])
	}
	var w []float64
	if ev.opts.Weighted {
		w = make([]float64, len(yFit))
		for k, v := range yFit {
			w[k] = 1 / v
		}
	}

	model, err := ev.factory()
	if err != nil {
		return res, nil, fmt.Errorf("create model: %w", err)
	}
	if err := model.Fit(ctx, ev.X.Take(train), yFit, w); err != nil {
		return res, nil, fmt.Errorf("fit %s: %w", model.Name(), err)
	}
	raw, err := model.Predict(ctx, ev.X.Take(test))
	if err != nil {
		return res, nil, fmt.Errorf("predict %s: %w", model.Name(), err)
	}

	yTest := make([]float64, len(test))
	wTest := make([]float64, len(test))
	pred := make([]float64, len(test))
	splitIdx := make([]int64, len(test))
	for k, i := range test {
		yTest[k] = ev.y[i]
		wTest[k] = 1 / ev.y[i]
		pred[k] = ev.opts.Transform.inverse(raw[k])
		splitIdx[k] = int64(index)
	}
	res.Metrics = scoring.Compute(yTest, pred)
	res.WeightedMedAE = scoring.WeightedMedAE(yTest, pred, wTest)
	res.Duration = time.Since(start)

	part, err := ev.base.Take(test).With(
		frame.NewFloat64(PredictionColumn, pred),
		frame.NewInt(SplitColumn, splitIdx, nil),
	)
	if err != nil {
		return res, nil, err
	}

	log.Info("split evaluated",
		"model", model.Name(),
		"train_rows", res.TrainRows,
		"test_rows", res.TestRows,
		"rmse", res.Metrics.RMSE,
		"medae", res.Metrics.MedAE,
		"mae", res.Metrics.MAE,
		"mape", res.Metrics.MAPE,
		"weighted_medae", res.WeightedMedAE,
		"duration", res.Duration,
	)
	return res, part, nil
}

func (ev *evaluator) concat(parts []*frame.Table) (*frame.Table, error) {
	var nonEmpty []*frame.Table
	for _, p := range parts {
		if p != nil {
			nonEmpty = append(nonEmpty, p)
		}
	}
	if len(nonEmpty) == 0 {
		return ev.base.Take(nil).With(
			frame.NewFloat64(PredictionColumn, nil),
			frame.NewInt(SplitColumn, nil, nil),
		)
	}
	return frame.Concat(nonEmpty...)
}

func summarize(results []SplitResult) Summary {
	var rmse, medae, mae, mape, wmedae []float64
	for _, r := range results {
		if r.Empty {
			continue
		}
		rmse = append(rmse, r.Metrics.RMSE)
		medae = append(medae, r.Metrics.MedAE)
		mae = append(mae, r.Metrics.MAE)
		mape = append(mape, r.Metrics.MAPE)
		wmedae = append(wmedae, r.WeightedMedAE)
	}
	return Summary{
		Mean: scoring.Metrics{
			RMSE:  nanMean(rmse),
			MedAE: nanMean(medae),
			MAE:   nanMean(mae),
			MAPE:  nanMean(mape),
		},
		MeanWeightedMedAE: nanMean(wmedae),
		PerSplit: map[string][]float64{
			"rmse":           rmse,
			"medae":          medae,
			"mae":            mae,
			"mape":           mape,
			"weighted_medae": wmedae,
		},
	}
}

func nanMean(x []float64) float64 {
	var sum float64
	var n int
	for _, v := range x {
		if !math.IsNaN(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}
