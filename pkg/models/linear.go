package models

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/sajari/regression"
)

var ErrWeightsUnsupported = errors.New("sample weights are not supported")

type linearTerm struct {
	col   int
	cat   bool
	level float32
	mean  float64
}

// Linear is an ordinary least squares model. Missing numeric values are
// replaced by the training mean, categorical columns are one-hot encoded
// without their first level, and constant columns are left out.
type Linear struct {
	terms []linearTerm
	ncols int
	r     *regression.Regression
}

func NewLinear() *Linear {
	return &Linear{}
}

func (m *Linear) Name() string { return "linear" }

func (m *Linear) Fit(ctx context.Context, X Dataset, y, w []float64) error {
	if w != nil {
		return fmt.Errorf("linear: %w", ErrWeightsUnsupported)
	}
	if err := checkFit(X, y, nil); err != nil {
		return fmt.Errorf("linear: %w", err)
	}

	m.ncols = len(X.Columns)
	m.terms = m.terms[:0]
	for j, col := range X.Columns {
		if X.IsCategorical(j) {
			levels := make([]float32, 0)
			for _, v := range col {
				if !isNaN32(v) {
					levels = append(levels, v)
				}
			}
			slices.Sort(levels)
			levels = slices.Compact(levels)
			for _, l := range levels[min(1, len(levels)):] {
				m.terms = append(m.terms, linearTerm{col: j, cat: true, level: l})
			}
			continue
		}
		var sum, sq float64
		var n int
		for _, v := range col {
			if isNaN32(v) {
				continue
			}
			sum += float64(v)
			sq += float64(v) * float64(v)
			n++
		}
		if n == 0 {
			continue
		}
		mean := sum / float64(n)
		if sq/float64(n)-mean*mean <= 1e-12*(1+mean*mean) {
			continue
		}
		m.terms = append(m.terms, linearTerm{col: j, mean: mean})
	}

	r := new(regression.Regression)
	r.SetObserved("target")
	for k, t := range m.terms {
		name := X.Names[t.col]
		if t.cat {
			name += "=" + strconv.FormatFloat(float64(t.level), 'g', -1, 32)
		}
		r.SetVar(k, name)
	}
	for i := range X.Rows {
		if i%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		r.Train(regression.DataPoint(y[i], m.row(X, i)))
	}
	if err := r.Run(); err != nil {
		return fmt.Errorf("linear: %w", err)
	}
	for _, c := range r.GetCoeffs() {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return errors.New("linear: singular design matrix")
		}
	}
	m.r = r
	return nil
}

func (m *Linear) Predict(ctx context.Context, X Dataset) ([]float64, error) {
	if m.r == nil {
		return nil, fmt.Errorf("linear: %w", ErrNotFitted)
	}
	if err := X.Validate(); err != nil {
		return nil, fmt.Errorf("linear: %w", err)
	}
	if len(X.Columns) != m.ncols {
		return nil, fmt.Errorf("linear: fitted on %d features, got %d", m.ncols, len(X.Columns))
	}
	out := make([]float64, X.Rows)
	for i := range out {
		p, err := m.r.Predict(m.row(X, i))
		if err != nil {
			return nil, fmt.Errorf("linear: row %d: %w", i, err)
		}
		out[i] = p
	}
	return out, nil
}

func (m *Linear) row(X Dataset, i int) []float64 {
	x := make([]float64, len(m.terms))
	for k, t := range m.terms {
		v := X.Columns[t.col][i]
		switch {
		case t.cat:
			if v == t.level {
				x[k] = 1
			}
		case isNaN32(v):
			x[k] = t.mean
		default:
			x[k] = float64(v)
		}
	}
	return x
}
