package models

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
)

var ErrNotFitted = errors.New("model is not fitted")

// Dataset is a column-major feature matrix. Missing values are NaN.
// Categorical columns hold non-negative integer codes.
type Dataset struct {
	Names       []string
	Categorical []bool
	Columns     [][]float32
	Rows        int
}

// Validate checks that the dataset is rectangular.
func (d Dataset) Validate() error {
	if len(d.Names) != len(d.Columns) {
		return fmt.Errorf("dataset: %d names for %d columns", len(d.Names), len(d.Columns))
	}
	if d.Categorical != nil && len(d.Categorical) != len(d.Columns) {
		return fmt.Errorf("dataset: %d categorical flags for %d columns", len(d.Categorical), len(d.Columns))
	}
	for i, c := range d.Columns {
		if len(c) != d.Rows {
			return fmt.Errorf("dataset: column %q has %d rows, want %d", d.Names[i], len(c), d.Rows)
		}
	}
	return nil
}

// IsCategorical reports whether column j holds category codes.
func (d Dataset) IsCategorical(j int) bool {
	return d.Categorical != nil && d.Categorical[j]
}

// Take selects rows by index.
func (d Dataset) Take(idx []int) Dataset {
	out := Dataset{
		Names:       d.Names,
		Categorical: d.Categorical,
		Columns:     make([][]float32, len(d.Columns)),
		Rows:        len(idx),
	}
	for j, c := range d.Columns {
		col := make([]float32, len(idx))
		for k, i := range idx {
			col[k] = c[i]
		}
		out.Columns[j] = col
	}
	return out
}

// Predictor is a trainable regression model. Fit may be called once; a new
// Predictor is created for every training set.
type Predictor interface {
	Name() string
	// Fit trains on X and y. w holds optional per-row sample weights.
	Fit(ctx context.Context, X Dataset, y, w []float64) error
	Predict(ctx context.Context, X Dataset) ([]float64, error)
}

// Factory creates an untrained Predictor.
type Factory func() (Predictor, error)

func checkFit(X Dataset, y, w []float64) error {
	if err := X.Validate(); err != nil {
		return err
	}
	if len(y) != X.Rows {
		return fmt.Errorf("%d targets for %d rows", len(y), X.Rows)
	}
	if w != nil && len(w) != X.Rows {
		return fmt.Errorf("%d weights for %d rows", len(w), X.Rows)
	}
	if X.Rows == 0 {
		return errors.New("empty training set")
	}
	for i, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("target at row %d is not finite", i)
		}
	}
	return nil
}

// Params holds model hyperparameters as decoded from configuration.
type Params map[string]any

// Float returns key as a float64, or def when absent.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, fmt.Errorf("param %q: %w", key, err)
		}
		return f, nil
	}
	return 0, fmt.Errorf("param %q: unsupported type %T", key, v)
}

// Int returns key as an int, or def when absent.
func (p Params) Int(key string, def int) (int, error) {
	f, err := p.Float(key, float64(def))
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("param %q: %v is not an integer", key, f)
	}
	return int(f), nil
}

// String returns key as a string, or def when absent.
func (p Params) String(key, def string) (string, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("param %q: want string, got %T", key, v)
	}
	return s, nil
}

// Strings returns key as a list of strings, or def when absent.
func (p Params) Strings(key string, def []string) ([]string, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	switch x := v.(type) {
	case []string:
		return x, nil
	case []any:
		out := make([]string, len(x))
		for i, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("param %q: element %d is %T", key, i, e)
			}
			out[i] = s
		}
		return out, nil
	}
	return nil, fmt.Errorf("param %q: want list of strings, got %T", key, v)
}
