// Package scoring computes regression error metrics, overall and per group.
package scoring

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// Metrics are the error metrics of one set of predictions. A metric with no
// defined value is NaN.
type Metrics struct {
	RMSE  float64
	MedAE float64
	MAE   float64
	MAPE  float64
}

// NaN returns Metrics with every value undefined.
func NaN() Metrics {
	nan := math.NaN()
	return Metrics{RMSE: nan, MedAE: nan, MAE: nan, MAPE: nan}
}

// Map returns the metrics keyed by their column names.
func (m Metrics) Map() map[string]float64 {
	return map[string]float64{"rmse": m.RMSE, "medae": m.MedAE, "mae": m.MAE, "mape": m.MAPE}
}

// MetricNames lists metric column names in output order.
var MetricNames = []string{"rmse", "medae", "mae", "mape"}

// Compute scores pred against y. Pairs where either side is NaN are
// skipped. MAPE averages |e|/|y| over rows with y != 0 only.
func Compute(y, pred []float64) Metrics {
	if len(y) != len(pred) {
		panic(fmt.Sprintf("scoring: %d targets and %d predictions", len(y), len(pred)))
	}
	abs := make([]float64, 0, len(y))
	var sq, pct float64
	var npct int
	for i := range y {
		if math.IsNaN(y[i]) || math.IsNaN(pred[i]) {
			continue
		}
		e := math.Abs(y[i] - pred[i])
		abs = append(abs, e)
		sq += e * e
		if y[i] != 0 {
			pct += e / math.Abs(y[i])
			npct++
		}
	}
	if len(abs) == 0 {
		return NaN()
	}
	n := float64(len(abs))
	m := Metrics{
		RMSE:  math.Sqrt(sq / n),
		MAE:   stat.Mean(abs, nil),
		MedAE: median(abs),
		MAPE:  math.NaN(),
	}
	if npct > 0 {
		m.MAPE = pct / float64(npct)
	}
	return m
}

// WeightedMedAE is the weighted median of |y - pred|: the smallest absolute
// error whose cumulative weight reaches half the total. Pairs with a NaN or
// a non-positive weight are skipped.
func WeightedMedAE(y, pred, w []float64) float64 {
	errs := make([]float64, 0, len(y))
	ws := make([]float64, 0, len(y))
	for i := range y {
		if math.IsNaN(y[i]) || math.IsNaN(pred[i]) || !(w[i] > 0) {
			continue
		}
		errs = append(errs, math.Abs(y[i]-pred[i]))
		ws = append(ws, w[i])
	}
	if len(errs) == 0 {
		return math.NaN()
	}
	stat.SortWeighted(errs, ws)
	return stat.Quantile(0.5, stat.Empirical, errs, ws)
}

// median sorts x in place.
func median(x []float64) float64 {
	slices.Sort(x)
	n := len(x)
	if n%2 == 1 {
		return x[n/2]
	}
	return (x[n/2-1] + x[n/2]) / 2
}
