package frame

import (
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

// SumDuplicates collapses rows sharing an (entity, time) pair into one row
// whose target is the sum of the non-null targets (null when all are null).
// The result holds the entity columns, the time column and the target,
// ordered by time then entity.
func SumDuplicates(t *Table, entities []string, timeCol, target string) (*Table, error) {
	times, err := t.TimeColumn(timeCol)
	if err != nil {
		return nil, err
	}
	y, err := t.NumericColumn(target)
	if err != nil {
		return nil, err
	}
	keys, err := EntityKeys(t, entities)
	if err != nil {
		return nil, err
	}

	type slot struct {
		first int
		sum   float64
		seen  bool
	}
	pos := make(map[string]int, t.rows)
	var slots []slot
	for i := range t.rows {
		k := keys[i] + keySep + strconv.FormatInt(times[i].UnixNano(), 10)
		s, ok := pos[k]
		if !ok {
			s = len(slots)
			pos[k] = s
			slots = append(slots, slot{first: i})
		}
		if v, ok := y.Float(i); ok {
			slots[s].sum += v
			slots[s].seen = true
		}
	}

	firsts := make([]int, len(slots))
	for i, s := range slots {
		firsts[i] = s.first
	}
	order := make([]int, len(slots))
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, b int) int {
		ra, rb := firsts[a], firsts[b]
		if c := times[ra].Compare(times[rb]); c != 0 {
			return c
		}
		return strings.Compare(keys[ra], keys[rb])
	})

	rows := make([]int, len(order))
	for i, s := range order {
		rows[i] = firsts[s]
	}
	cols := make([]*Column, 0, len(entities)+2)
	for _, name := range entities {
		c, _ := t.Column(name)
		cols = append(cols, c.Take(rows))
	}
	cols = append(cols, NewTime(timeCol, takeTimes(times, rows)))

	var sums *Column
	if y.kind == KindInt {
		v := make([]int64, len(order))
		valid := make([]bool, len(order))
		for i, s := range order {
			v[i] = int64(math.Round(slots[s].sum))
			valid[i] = slots[s].seen
		}
		sums = NewInt(target, v, valid)
	} else {
		v := make([]float32, len(order))
		valid := make([]bool, len(order))
		for i, s := range order {
			v[i] = float32(slots[s].sum)
			valid[i] = slots[s].seen
		}
		sums = NewFloat(target, v, valid)
	}
	cols = append(cols, sums)
	return New(cols...)
}

func takeTimes(times []time.Time, rows []int) []time.Time {
	out := make([]time.Time, len(rows))
	for i, r := range rows {
		out[i] = times[r]
	}
	return out
}
