package models

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultSeasonalKeys bucket rows by hour of day and weekend flag.
var DefaultSeasonalKeys = []string{"hour_sin", "hour_cos", "is_weekend"}

// SeasonalModel predicts the mean target of the training rows that share a
// bucket: the values of the key columns plus every categorical column.
//
// Lookup falls back in three levels:
//  1. Full bucket (categoricals + keys), if it has at least minCount rows
//  2. Categorical bucket alone
//  3. Global mean
type SeasonalModel struct {
	keys     []string
	minCount int

	keyIdx []int
	catIdx []int
	ncols  int

	full     map[string]*seasonalPattern
	category map[string]*seasonalPattern
	global   *seasonalPattern
}

// seasonalPattern holds statistical summary for a recurring pattern
type seasonalPattern struct {
	mean   float64 // weighted average of the target
	max    float64 // maximum observed value
	min    float64 // minimum observed value
	count  int     // number of observations
	stddev float64 // standard deviation of values
}

// NewSeasonalModel creates a bucket-mean model over the named key columns.
func NewSeasonalModel(keys []string, minCount int) *SeasonalModel {
	if len(keys) == 0 {
		keys = DefaultSeasonalKeys
	}
	return &SeasonalModel{keys: keys, minCount: max(minCount, 1)}
}

// Name returns the model identifier.
func (m *SeasonalModel) Name() string {
	return "seasonal"
}

// Fit learns one pattern per bucket. Rows with a NaN key fall into the
// bucket of NaN for that key.
func (m *SeasonalModel) Fit(ctx context.Context, X Dataset, y, w []float64) error {
	if err := checkFit(X, y, w); err != nil {
		return fmt.Errorf("seasonal: %w", err)
	}
	if err := m.resolve(X); err != nil {
		return err
	}

	fullVals := make(map[string][]int)
	catVals := make(map[string][]int)
	all := make([]int, X.Rows)
	for i := range X.Rows {
		cat := bucketKey(X, m.catIdx, i)
		catVals[cat] = append(catVals[cat], i)
		full := cat + "|" + bucketKey(X, m.keyIdx, i)
		fullVals[full] = append(fullVals[full], i)
		all[i] = i
	}

	m.full = make(map[string]*seasonalPattern, len(fullVals))
	for k, rows := range fullVals {
		if len(rows) >= m.minCount {
			m.full[k] = computeSeasonalPattern(rows, y, w)
		}
	}
	m.category = make(map[string]*seasonalPattern, len(catVals))
	for k, rows := range catVals {
		m.category[k] = computeSeasonalPattern(rows, y, w)
	}
	m.global = computeSeasonalPattern(all, y, w)
	return nil
}

// Predict returns the mean of the most specific bucket seen in training.
func (m *SeasonalModel) Predict(ctx context.Context, X Dataset) ([]float64, error) {
	if m.global == nil {
		return nil, fmt.Errorf("seasonal: %w", ErrNotFitted)
	}
	if err := X.Validate(); err != nil {
		return nil, fmt.Errorf("seasonal: %w", err)
	}
	if len(X.Columns) != m.ncols {
		return nil, fmt.Errorf("seasonal: fitted on %d features, got %d", m.ncols, len(X.Columns))
	}
	out := make([]float64, X.Rows)
	for i := range out {
		cat := bucketKey(X, m.catIdx, i)
		if p, ok := m.full[cat+"|"+bucketKey(X, m.keyIdx, i)]; ok {
			out[i] = p.mean
		} else if p, ok := m.category[cat]; ok {
			out[i] = p.mean
		} else {
			out[i] = m.global.mean
		}
	}
	return out, nil
}

func (m *SeasonalModel) resolve(X Dataset) error {
	pos := make(map[string]int, len(X.Names))
	for j, n := range X.Names {
		pos[n] = j
	}
	m.keyIdx = m.keyIdx[:0]
	for _, k := range m.keys {
		j, ok := pos[k]
		if !ok {
			return fmt.Errorf("seasonal: key column %q not in features", k)
		}
		m.keyIdx = append(m.keyIdx, j)
	}
	m.catIdx = m.catIdx[:0]
	for j := range X.Columns {
		if X.IsCategorical(j) {
			m.catIdx = append(m.catIdx, j)
		}
	}
	m.ncols = len(X.Columns)
	return nil
}

func bucketKey(X Dataset, idx []int, i int) string {
	var sb strings.Builder
	for _, j := range idx {
		sb.WriteString(strconv.FormatFloat(float64(X.Columns[j][i]), 'g', -1, 32))
		sb.WriteByte(',')
	}
	return sb.String()
}

// computeSeasonalPattern calculates statistical summary over rows
func computeSeasonalPattern(rows []int, y, w []float64) *seasonalPattern {
	if len(rows) == 0 {
		return nil
	}

	var sum, wsum float64
	lo := y[rows[0]]
	hi := y[rows[0]]
	for _, i := range rows {
		wi := 1.0
		if w != nil {
			wi = w[i]
		}
		sum += wi * y[i]
		wsum += wi
		lo = math.Min(lo, y[i])
		hi = math.Max(hi, y[i])
	}
	mean := sum / wsum

	variance := 0.0
	for _, i := range rows {
		diff := y[i] - mean
		variance += diff * diff
	}
	stddev := 0.0
	if len(rows) > 1 {
		stddev = math.Sqrt(variance / float64(len(rows)-1))
	}

	return &seasonalPattern{
		mean:   mean,
		min:    lo,
		max:    hi,
		count:  len(rows),
		stddev: stddev,
	}
}
