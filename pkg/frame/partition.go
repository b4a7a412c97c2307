package frame

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// keySep joins the parts of a composite entity key.
const keySep = "\x1f"

// Group is the set of rows sharing one entity key, ordered by time.
type Group struct {
	Key  string
	Rows []int
}

// EntityKeys renders the composite entity key of every row. Entity columns
// may be string, int or time columns. With no entity columns every row
// belongs to the same (empty) entity.
func EntityKeys(t *Table, entities []string) ([]string, error) {
	cols := make([]*Column, len(entities))
	for i, name := range entities {
		c, err := t.Column(name)
		if err != nil {
			return nil, err
		}
		if c.kind == KindFloat {
			return nil, fmt.Errorf("entity column %q is float: %w", name, ErrColumnKind)
		}
		cols[i] = c
	}
	keys := make([]string, t.rows)
	if len(cols) == 1 {
		for i := range keys {
			keys[i] = cols[0].Key(i)
		}
		return keys, nil
	}
	var sb strings.Builder
	for i := range keys {
		sb.Reset()
		for k, c := range cols {
			if k > 0 {
				sb.WriteString(keySep)
			}
			sb.WriteString(c.Key(i))
		}
		keys[i] = sb.String()
	}
	return keys, nil
}

// Partition groups rows by entity and sorts each group by time. Groups are
// returned in ascending key order so results do not depend on input order.
func Partition(t *Table, entities []string, timeCol string) ([]Group, error) {
	times, err := t.TimeColumn(timeCol)
	if err != nil {
		return nil, err
	}
	keys, err := EntityKeys(t, entities)
	if err != nil {
		return nil, err
	}
	pos := make(map[string]int)
	var groups []Group
	for i, k := range keys {
		g, ok := pos[k]
		if !ok {
			g = len(groups)
			pos[k] = g
			groups = append(groups, Group{Key: k})
		}
		groups[g].Rows = append(groups[g].Rows, i)
	}
	for _, g := range groups {
		sortByTime(g.Rows, times)
	}
	slices.SortFunc(groups, func(a, b Group) int { return strings.Compare(a.Key, b.Key) })
	return groups, nil
}

func sortByTime(rows []int, times []time.Time) {
	slices.SortStableFunc(rows, func(a, b int) int { return times[a].Compare(times[b]) })
}
