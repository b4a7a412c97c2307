package scoring

import (
	"fmt"
	"slices"
	"strings"

	"github.com/HatiCode/ridecast/pkg/frame"
)

// Summarize groups t by groupCols and scores the prediction column against
// the target column within each group. The result holds the group columns
// followed by float32 rmse, medae, mae and mape columns, ordered ascending
// by the group columns.
func Summarize(t *frame.Table, groupCols []string, target, prediction string) (*frame.Table, error) {
	y, err := t.NumericColumn(target)
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}
	p, err := t.NumericColumn(prediction)
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}
	keys := make([]*frame.Column, len(groupCols))
	for i, name := range groupCols {
		c, err := t.Column(name)
		if err != nil {
			return nil, fmt.Errorf("summarize: %w", err)
		}
		if c.Kind() == frame.KindFloat {
			return nil, fmt.Errorf("summarize: group column %q is float: %w", name, frame.ErrColumnKind)
		}
		keys[i] = c
	}

	pos := make(map[string]int)
	var groups [][]int
	var sb strings.Builder
	for i := range t.Len() {
		sb.Reset()
		for _, c := range keys {
			sb.WriteString(c.Key(i))
			sb.WriteByte(0)
		}
		k := sb.String()
		g, ok := pos[k]
		if !ok {
			g = len(groups)
			pos[k] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}
	slices.SortFunc(groups, func(a, b []int) int {
		for _, c := range keys {
			if r := c.Compare(a[0], b[0]); r != 0 {
				return r
			}
		}
		return 0
	})

	first := make([]int, len(groups))
	values := make([][]float64, len(MetricNames))
	for j := range values {
		values[j] = make([]float64, len(groups))
	}
	for g, rows := range groups {
		first[g] = rows[0]
		ys := make([]float64, len(rows))
		ps := make([]float64, len(rows))
		for k, r := range rows {
			ys[k], _ = y.Float(r)
			ps[k], _ = p.Float(r)
		}
		m := Compute(ys, ps)
		values[0][g] = m.RMSE
		values[1][g] = m.MedAE
		values[2][g] = m.MAE
		values[3][g] = m.MAPE
	}

	cols := make([]*frame.Column, 0, len(keys)+len(MetricNames))
	for _, c := range keys {
		cols = append(cols, c.Take(first))
	}
	for j, name := range MetricNames {
		cols = append(cols, frame.NewFloat64(name, values[j]))
	}
	return frame.New(cols...)
}
