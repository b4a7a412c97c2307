// Package storage keeps cross-validation run reports so that runs can be
// compared over time.
package storage

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/HatiCode/ridecast/pkg/evaluate"
)

// DefaultHistory is the number of reports kept per run name.
const DefaultHistory = 20

// SplitReport is the outcome of one walk-forward split. Undefined metrics
// are omitted from Metrics.
type SplitReport struct {
	Index     int                `json:"index"`
	Start     time.Time          `json:"start"`
	End       time.Time          `json:"end"`
	TrainRows int                `json:"train_rows"`
	TestRows  int                `json:"test_rows"`
	Empty     bool               `json:"empty,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}

// Report summarizes one evaluation run.
type Report struct {
	Run         string             `json:"run"`
	Model       string             `json:"model"`
	Target      string             `json:"target"`
	GeneratedAt time.Time          `json:"generated_at"`
	Splits      []SplitReport      `json:"splits"`
	Mean        map[string]float64 `json:"mean,omitempty"`
	// Delta is Mean minus the Mean of the previous report of the run.
	Delta map[string]float64 `json:"delta,omitempty"`
}

type Store interface {
	Put(ctx context.Context, report Report) error
	GetLatest(ctx context.Context, run string) (Report, bool, error)
	// History returns up to limit reports for run, newest first.
	History(ctx context.Context, run string, limit int) ([]Report, error)
}

// NewReport converts an evaluation result into a Report.
func NewReport(run, model, target string, res *evaluate.Result, now time.Time) Report {
	r := Report{
		Run:         run,
		Model:       model,
		Target:      target,
		GeneratedAt: now.UTC(),
		Splits:      make([]SplitReport, len(res.Splits)),
	}
	for i, s := range res.Splits {
		m := s.Metrics.Map()
		m["weighted_medae"] = s.WeightedMedAE
		r.Splits[i] = SplitReport{
			Index:     s.Index,
			Start:     s.Range.Start,
			End:       s.Range.End,
			TrainRows: s.TrainRows,
			TestRows:  s.TestRows,
			Empty:     s.Empty,
			Metrics:   finite(m),
		}
	}
	mean := res.Summary.Mean.Map()
	mean["weighted_medae"] = res.Summary.MeanWeightedMedAE
	r.Mean = finite(mean)
	return r
}

// MeanDelta returns r.Mean minus prev.Mean for the metrics both define.
func (r Report) MeanDelta(prev Report) map[string]float64 {
	d := make(map[string]float64, len(r.Mean))
	for k, v := range r.Mean {
		if pv, ok := prev.Mean[k]; ok {
			d[k] = v - pv
		}
	}
	if len(d) == 0 {
		return nil
	}
	return d
}

// Best returns the lowest mean value of metric across reports.
func Best(reports []Report, metric string) (float64, bool) {
	best, found := math.Inf(1), false
	for _, r := range reports {
		if v, ok := r.Mean[metric]; ok && v < best {
			best, found = v, true
		}
	}
	return best, found
}

func finite(m map[string]float64) map[string]float64 {
	for k, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			delete(m, k)
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// ValidateRunName accepts alphanumerics, hyphens and underscores.
func ValidateRunName(run string) error {
	if run == "" {
		return fmt.Errorf("run name required")
	}
	for _, c := range run {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '_') {
			return fmt.Errorf("invalid run name %q: only alphanumeric, hyphens, and underscores allowed", run)
		}
	}
	return nil
}
