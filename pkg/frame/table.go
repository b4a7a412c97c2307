// Package frame provides the immutable columnar table passed between the
// pipeline stages. Columns are Arrow arrays allocated with the Go
// allocator. Every transformation returns a new Table; columns are shared
// between tables and never modified after construction.
package frame

import (
	"fmt"
	"slices"
	"time"
)

// Table is an ordered set of equally long columns with unique names.
type Table struct {
	cols  []*Column
	index map[string]int
	rows  int
}

// New assembles a table. All columns must have the same length and
// distinct names.
func New(cols ...*Column) (*Table, error) {
	t := &Table{
		cols:  make([]*Column, 0, len(cols)),
		index: make(map[string]int, len(cols)),
	}
	for i, c := range cols {
		if err := c.check(); err != nil {
			return nil, err
		}
		if i == 0 {
			t.rows = c.Len()
		} else if c.Len() != t.rows {
			return nil, fmt.Errorf("column %q has %d rows, expected %d: %w",
				c.name, c.Len(), t.rows, ErrLengthMismatch)
		}
		if _, dup := t.index[c.name]; dup {
			return nil, fmt.Errorf("duplicate column %q", c.name)
		}
		t.index[c.name] = len(t.cols)
		t.cols = append(t.cols, c)
	}
	return t, nil
}

// MustNew is like New but panics on error. Intended for fixtures.
func MustNew(cols ...*Column) *Table {
	t, err := New(cols...)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Table) Len() int { return t.rows }

func (t *Table) Width() int { return len(t.cols) }

func (t *Table) Names() []string {
	names := make([]string, len(t.cols))
	for i, c := range t.cols {
		names[i] = c.name
	}
	return names
}

func (t *Table) Columns() []*Column {
	return slices.Clone(t.cols)
}

func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

func (t *Table) Column(name string) (*Column, error) {
	i, ok := t.index[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrColumnNotFound)
	}
	return t.cols[i], nil
}

// TimeColumn returns the values of a time column that has no nulls.
func (t *Table) TimeColumn(name string) ([]time.Time, error) {
	c, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	if c.kind != KindTime {
		return nil, fmt.Errorf("%q is %s, want time: %w", name, c.kind, ErrColumnKind)
	}
	if c.NullCount() > 0 {
		return nil, fmt.Errorf("time column %q contains %d nulls", name, c.NullCount())
	}
	return c.times, nil
}

// NumericColumn returns a float or int column.
func (t *Table) NumericColumn(name string) (*Column, error) {
	c, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	if !c.IsNumeric() {
		return nil, fmt.Errorf("%q is %s, want numeric: %w", name, c.kind, ErrColumnKind)
	}
	return c, nil
}

// With returns a table with cols added. A column whose name already exists
// replaces the existing one in place.
func (t *Table) With(cols ...*Column) (*Table, error) {
	next := slices.Clone(t.cols)
	pos := make(map[string]int, len(t.index)+len(cols))
	for k, v := range t.index {
		pos[k] = v
	}
	for _, c := range cols {
		if i, ok := pos[c.name]; ok {
			next[i] = c
			continue
		}
		pos[c.name] = len(next)
		next = append(next, c)
	}
	return New(next...)
}

// Drop returns a table without the named columns. Unknown names are ignored.
func (t *Table) Drop(names ...string) *Table {
	skip := make(map[string]bool, len(names))
	for _, n := range names {
		skip[n] = true
	}
	kept := make([]*Column, 0, len(t.cols))
	for _, c := range t.cols {
		if !skip[c.name] {
			kept = append(kept, c)
		}
	}
	out, _ := New(kept...)
	if len(kept) == 0 {
		out.rows = t.rows
	}
	return out
}

// Select returns a table with only the named columns, in the given order.
func (t *Table) Select(names ...string) (*Table, error) {
	cols := make([]*Column, 0, len(names))
	for _, n := range names {
		c, err := t.Column(n)
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return New(cols...)
}

// Rename renames columns according to mapping old -> new.
func (t *Table) Rename(mapping map[string]string) (*Table, error) {
	cols := make([]*Column, len(t.cols))
	for i, c := range t.cols {
		if to, ok := mapping[c.name]; ok {
			cols[i] = c.Rename(to)
		} else {
			cols[i] = c
		}
	}
	for from := range mapping {
		if !t.Has(from) {
			return nil, fmt.Errorf("rename %q: %w", from, ErrColumnNotFound)
		}
	}
	return New(cols...)
}

// Take gathers rows by index, in the given order.
func (t *Table) Take(idx []int) *Table {
	cols := make([]*Column, len(t.cols))
	for i, c := range t.cols {
		cols[i] = c.Take(idx)
	}
	out := &Table{cols: cols, index: t.index, rows: len(idx)}
	return out
}

// Filter keeps the rows for which keep returns true.
func (t *Table) Filter(keep func(i int) bool) *Table {
	idx := make([]int, 0, t.rows)
	for i := range t.rows {
		if keep(i) {
			idx = append(idx, i)
		}
	}
	if len(idx) == t.rows {
		return t
	}
	return t.Take(idx)
}

// SortBy returns the table ordered ascending by the named columns.
// The sort is stable.
func (t *Table) SortBy(names ...string) (*Table, error) {
	keys := make([]*Column, len(names))
	for i, n := range names {
		c, err := t.Column(n)
		if err != nil {
			return nil, err
		}
		keys[i] = c
	}
	idx := make([]int, t.rows)
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		for _, c := range keys {
			if r := c.Compare(a, b); r != 0 {
				return r
			}
		}
		return 0
	})
	return t.Take(idx), nil
}

// Concat stacks tables that share the same column names and kinds.
func Concat(tables ...*Table) (*Table, error) {
	if len(tables) == 0 {
		return New()
	}
	first := tables[0]
	for _, tb := range tables[1:] {
		if !slices.Equal(tb.Names(), first.Names()) {
			return nil, fmt.Errorf("concat: schema %v does not match %v", tb.Names(), first.Names())
		}
	}
	cols := make([]*Column, len(first.cols))
	for i, c := range first.cols {
		parts := make([]*Column, len(tables))
		for k, tb := range tables {
			if tb.cols[i].kind != c.kind {
				return nil, fmt.Errorf("concat: column %q is %s and %s: %w",
					c.name, c.kind, tb.cols[i].kind, ErrColumnKind)
			}
			parts[k] = tb.cols[i]
		}
		col, err := concatColumns(parts)
		if err != nil {
			return nil, err
		}
		cols[i] = col
	}
	return New(cols...)
}
