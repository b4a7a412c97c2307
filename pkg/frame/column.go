package frame

import (
	"cmp"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Kind identifies the physical storage of a Column.
type Kind uint8

const (
	KindTime Kind = iota + 1
	KindString
	KindFloat
	KindInt
)

func (k Kind) String() string {
	switch k {
	case KindTime:
		return "time"
	case KindString:
		return "string"
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind maps a kind name as used in configuration files to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "time", "timestamp":
		return KindTime, nil
	case "string", "utf8":
		return KindString, nil
	case "float", "float32", "float64", "double":
		return KindFloat, nil
	case "int", "int64", "int32":
		return KindInt, nil
	}
	return 0, fmt.Errorf("unknown column kind %q", s)
}

var (
	mem = memory.NewGoAllocator()

	// TimestampType is the Arrow type of time columns.
	TimestampType = arrow.FixedWidthTypes.Timestamp_us.(*arrow.TimestampType)
)

// Column is a named Arrow array. Float columns are float32, int columns
// int64, string columns utf8 and time columns microsecond timestamps.
// Nulls live in the array's validity bitmap.
type Column struct {
	name string
	kind Kind
	arr  arrow.Array
	// times is the decoded view of a time column. It keeps the
	// locations the values were built with.
	times []time.Time
	err   error
}

func NewTime(name string, v []time.Time) *Column {
	b := array.NewTimestampBuilder(mem, TimestampType)
	defer b.Release()
	b.Reserve(len(v))
	for _, ts := range v {
		b.Append(arrow.Timestamp(ts.UnixMicro()))
	}
	return &Column{name: name, kind: KindTime, arr: b.NewArray(), times: v}
}

func NewString(name string, v []string) *Column {
	b := array.NewStringBuilder(mem)
	defer b.Release()
	b.AppendValues(v, nil)
	return &Column{name: name, kind: KindString, arr: b.NewArray()}
}

// NewFloat builds a float32 column. valid may be nil.
func NewFloat(name string, v []float32, valid []bool) *Column {
	if err := maskLength(name, len(v), valid); err != nil {
		return &Column{name: name, kind: KindFloat, arr: array.MakeArrayOfNull(mem, arrow.PrimitiveTypes.Float32, len(v)), err: err}
	}
	b := array.NewFloat32Builder(mem)
	defer b.Release()
	b.AppendValues(v, valid)
	return &Column{name: name, kind: KindFloat, arr: b.NewArray()}
}

// NewFloat64 narrows v to float32. NaN entries become nulls.
func NewFloat64(name string, v []float64) *Column {
	b := array.NewFloat32Builder(mem)
	defer b.Release()
	b.Reserve(len(v))
	for _, x := range v {
		if math.IsNaN(x) {
			b.AppendNull()
			continue
		}
		b.Append(float32(x))
	}
	return &Column{name: name, kind: KindFloat, arr: b.NewArray()}
}

// NewInt builds an int64 column. valid may be nil.
func NewInt(name string, v []int64, valid []bool) *Column {
	if err := maskLength(name, len(v), valid); err != nil {
		return &Column{name: name, kind: KindInt, arr: array.MakeArrayOfNull(mem, arrow.PrimitiveTypes.Int64, len(v)), err: err}
	}
	b := array.NewInt64Builder(mem)
	defer b.Release()
	b.AppendValues(v, valid)
	return &Column{name: name, kind: KindInt, arr: b.NewArray()}
}

// FromArray wraps an Arrow array as a column. Narrower integer, boolean,
// float64, large string and date arrays are converted to the column
// storage types. Timestamps are decoded in UTC and must not be null.
func FromArray(name string, arr arrow.Array) (*Column, error) {
	switch a := arr.(type) {
	case *array.Float32:
		a.Retain()
		return &Column{name: name, kind: KindFloat, arr: a}, nil
	case *array.Int64:
		a.Retain()
		return &Column{name: name, kind: KindInt, arr: a}, nil
	case *array.String:
		a.Retain()
		return &Column{name: name, kind: KindString, arr: a}, nil
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		times := make([]time.Time, a.Len())
		for i := range times {
			if a.IsNull(i) {
				return nil, fmt.Errorf("column %q: null timestamp at row %d", name, i)
			}
			times[i] = a.Value(i).ToTime(unit).UTC()
		}
		return NewTime(name, times), nil
	case *array.Date32:
		times := make([]time.Time, a.Len())
		for i := range times {
			if a.IsNull(i) {
				return nil, fmt.Errorf("column %q: null date at row %d", name, i)
			}
			times[i] = a.Value(i).ToTime().UTC()
		}
		return NewTime(name, times), nil
	case *array.Float64:
		b := array.NewFloat32Builder(mem)
		defer b.Release()
		convert(a, b, func(v float64) float32 { return float32(v) })
		return &Column{name: name, kind: KindFloat, arr: b.NewArray()}, nil
	case *array.LargeString:
		b := array.NewStringBuilder(mem)
		defer b.Release()
		convert(a, b, func(v string) string { return v })
		return &Column{name: name, kind: KindString, arr: b.NewArray()}, nil
	case *array.Int32:
		return intColumn(name, a, func(v int32) int64 { return int64(v) }), nil
	case *array.Int16:
		return intColumn(name, a, func(v int16) int64 { return int64(v) }), nil
	case *array.Int8:
		return intColumn(name, a, func(v int8) int64 { return int64(v) }), nil
	case *array.Boolean:
		return intColumn(name, a, func(v bool) int64 {
			if v {
				return 1
			}
			return 0
		}), nil
	}
	return nil, fmt.Errorf("column %q: unsupported Arrow type %s", name, arr.DataType())
}

func (c *Column) Name() string { return c.name }
func (c *Column) Kind() Kind   { return c.kind }
func (c *Column) Len() int     { return c.arr.Len() }

// Array returns the backing array with an added reference. The caller
// releases it.
func (c *Column) Array() arrow.Array {
	c.arr.Retain()
	return c.arr
}

// Valid reports whether row i holds a value.
func (c *Column) Valid(i int) bool { return c.arr.IsValid(i) }

// NullCount returns the number of null rows.
func (c *Column) NullCount() int { return c.arr.NullN() }

// Times returns the values of a time column. Callers must not modify it.
func (c *Column) Times() []time.Time { return c.times }

// Floats and Ints return the array's value buffer. Slots of null rows hold
// unspecified values. Callers must not modify it.
func (c *Column) Floats() []float32 {
	if a, ok := c.arr.(*array.Float32); ok {
		return a.Float32Values()
	}
	return nil
}

func (c *Column) Ints() []int64 {
	if a, ok := c.arr.(*array.Int64); ok {
		return a.Int64Values()
	}
	return nil
}

// StringAt returns row i of a string column. Nulls read as "".
func (c *Column) StringAt(i int) string {
	if a, ok := c.arr.(*array.String); ok && a.IsValid(i) {
		return a.Value(i)
	}
	return ""
}

// Strings copies a string column into a slice with "" for nulls.
func (c *Column) Strings() []string {
	if c.kind != KindString {
		return nil
	}
	out := make([]string, c.Len())
	for i := range out {
		out[i] = c.StringAt(i)
	}
	return out
}

// Validity expands the validity bitmap. It returns nil when the column has
// no nulls.
func (c *Column) Validity() []bool {
	if c.arr.NullN() == 0 {
		return nil
	}
	out := make([]bool, c.Len())
	for i := range out {
		out[i] = c.arr.IsValid(i)
	}
	return out
}

// Float returns row i of a numeric column as float64.
func (c *Column) Float(i int) (float64, bool) {
	if c.arr.IsNull(i) {
		return math.NaN(), false
	}
	switch a := c.arr.(type) {
	case *array.Float32:
		return float64(a.Value(i)), true
	case *array.Int64:
		return float64(a.Value(i)), true
	}
	return math.NaN(), false
}

// Float64s copies a numeric column into a float64 slice with NaN for nulls.
func (c *Column) Float64s() []float64 {
	out := make([]float64, c.Len())
	for i := range out {
		out[i], _ = c.Float(i)
	}
	return out
}

// IsNumeric reports whether the column holds floats or ints.
func (c *Column) IsNumeric() bool {
	return c.kind == KindFloat || c.kind == KindInt
}

// Key renders row i as a string usable for grouping. Nulls render empty.
func (c *Column) Key(i int) string {
	if c.arr.IsNull(i) {
		return ""
	}
	switch a := c.arr.(type) {
	case *array.Timestamp:
		return strconv.FormatInt(c.times[i].UnixNano(), 10)
	case *array.String:
		return a.Value(i)
	case *array.Float32:
		return strconv.FormatFloat(float64(a.Value(i)), 'g', -1, 32)
	case *array.Int64:
		return strconv.FormatInt(a.Value(i), 10)
	}
	return ""
}

// Compare orders rows i and j of the column. Nulls sort first.
func (c *Column) Compare(i, j int) int {
	vi, vj := c.arr.IsValid(i), c.arr.IsValid(j)
	switch {
	case !vi && !vj:
		return 0
	case !vi:
		return -1
	case !vj:
		return 1
	}
	switch a := c.arr.(type) {
	case *array.Timestamp:
		return c.times[i].Compare(c.times[j])
	case *array.String:
		return cmp.Compare(a.Value(i), a.Value(j))
	case *array.Float32:
		return cmp.Compare(a.Value(i), a.Value(j))
	case *array.Int64:
		return cmp.Compare(a.Value(i), a.Value(j))
	}
	return 0
}

// Rename returns a copy of the column header sharing the same array.
func (c *Column) Rename(name string) *Column {
	cp := *c
	cp.name = name
	return &cp
}

// WithValid returns a copy of the column using the given validity mask.
// A nil mask marks every row valid.
func (c *Column) WithValid(valid []bool) *Column {
	if err := maskLength(c.name, c.Len(), valid); err != nil {
		cp := *c
		cp.err = err
		return &cp
	}
	b := array.NewBuilder(mem, c.arr.DataType())
	defer b.Release()
	b.Reserve(c.Len())
	switch a := c.arr.(type) {
	case *array.Timestamp:
		b.(*array.TimestampBuilder).AppendValues(a.TimestampValues(), valid)
	case *array.String:
		b.(*array.StringBuilder).AppendValues(c.Strings(), valid)
	case *array.Float32:
		b.(*array.Float32Builder).AppendValues(a.Float32Values(), valid)
	case *array.Int64:
		b.(*array.Int64Builder).AppendValues(a.Int64Values(), valid)
	}
	return &Column{name: c.name, kind: c.kind, arr: b.NewArray(), times: c.times}
}

// Take gathers the rows at idx into a new column.
func (c *Column) Take(idx []int) *Column {
	b := array.NewBuilder(mem, c.arr.DataType())
	defer b.Release()
	b.Reserve(len(idx))
	out := &Column{name: c.name, kind: c.kind}
	switch a := c.arr.(type) {
	case *array.Timestamp:
		gather[arrow.Timestamp](a, b.(*array.TimestampBuilder), idx)
		out.times = make([]time.Time, len(idx))
		for k, i := range idx {
			out.times[k] = c.times[i]
		}
	case *array.String:
		gather[string](a, b.(*array.StringBuilder), idx)
	case *array.Float32:
		gather[float32](a, b.(*array.Float32Builder), idx)
	case *array.Int64:
		gather[int64](a, b.(*array.Int64Builder), idx)
	}
	out.arr = b.NewArray()
	return out
}

func (c *Column) check() error {
	if c.name == "" {
		return fmt.Errorf("column with empty name")
	}
	return c.err
}

func concatColumns(parts []*Column) (*Column, error) {
	first := parts[0]
	arrs := make([]arrow.Array, len(parts))
	for i, p := range parts {
		arrs[i] = p.arr
	}
	arr, err := array.Concatenate(arrs, mem)
	if err != nil {
		return nil, fmt.Errorf("concat column %q: %w", first.name, err)
	}
	out := &Column{name: first.name, kind: first.kind, arr: arr}
	if first.kind == KindTime {
		out.times = make([]time.Time, 0, arr.Len())
		for _, p := range parts {
			out.times = append(out.times, p.times...)
		}
	}
	return out, nil
}

func maskLength(name string, n int, valid []bool) error {
	if valid != nil && len(valid) != n {
		return fmt.Errorf("column %q: validity mask has %d entries for %d values: %w",
			name, len(valid), n, ErrLengthMismatch)
	}
	return nil
}

type valueArray[T any] interface {
	arrow.Array
	Value(int) T
}

type valueBuilder[T any] interface {
	array.Builder
	Append(T)
}

func gather[T any](a valueArray[T], b valueBuilder[T], idx []int) {
	for _, i := range idx {
		if a.IsNull(i) {
			b.AppendNull()
			continue
		}
		b.Append(a.Value(i))
	}
}

func convert[S, T any](a valueArray[S], b valueBuilder[T], fn func(S) T) {
	b.Reserve(a.Len())
	for i := range a.Len() {
		if a.IsNull(i) {
			b.AppendNull()
			continue
		}
		b.Append(fn(a.Value(i)))
	}
}

func intColumn[S any](name string, a valueArray[S], fn func(S) int64) *Column {
	b := array.NewInt64Builder(mem)
	defer b.Release()
	convert(a, b, fn)
	return &Column{name: name, kind: KindInt, arr: b.NewArray()}
}
