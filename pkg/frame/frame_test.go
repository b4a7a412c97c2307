package frame

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func hours(hs ...int) []time.Time {
	out := make([]time.Time, len(hs))
	for i, h := range hs {
		out[i] = t0.Add(time.Duration(h) * time.Hour)
	}
	return out
}

func TestNew_LengthMismatch(t *testing.T) {
	_, err := New(
		NewTime("ts", hours(0, 1)),
		NewFloat("y", []float32{1}, nil),
	)
	if !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("New() error = %v, want ErrLengthMismatch", err)
	}
}

func TestNew_ValidityMaskMismatch(t *testing.T) {
	_, err := New(NewString("station", []string{"a", "b"}).WithValid([]bool{true}))
	if !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("New() error = %v, want ErrLengthMismatch", err)
	}
	_, err = New(NewInt("split", []int64{1, 2}, []bool{true, false, true}))
	if !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("New() error = %v, want ErrLengthMismatch", err)
	}
}

func TestNew_DuplicateName(t *testing.T) {
	_, err := New(NewFloat("y", []float32{1}, nil), NewFloat("y", []float32{2}, nil))
	if err == nil {
		t.Error("New() with duplicate names should fail")
	}
}

func TestTable_ColumnErrors(t *testing.T) {
	tb := MustNew(NewString("station", []string{"a"}), NewTime("ts", hours(0)))

	if _, err := tb.Column("missing"); !errors.Is(err, ErrColumnNotFound) {
		t.Errorf("Column(missing) error = %v, want ErrColumnNotFound", err)
	}
	if _, err := tb.NumericColumn("station"); !errors.Is(err, ErrColumnKind) {
		t.Errorf("NumericColumn(station) error = %v, want ErrColumnKind", err)
	}
	if _, err := tb.TimeColumn("station"); !errors.Is(err, ErrColumnKind) {
		t.Errorf("TimeColumn(station) error = %v, want ErrColumnKind", err)
	}
}

func TestTable_WithReplacesInPlace(t *testing.T) {
	tb := MustNew(
		NewString("station", []string{"a", "b"}),
		NewFloat("y", []float32{1, 2}, nil),
	)
	next, err := tb.With(NewFloat("y", []float32{3, 4}, nil), NewInt("z", []int64{5, 6}, nil))
	if err != nil {
		t.Fatalf("With() error = %v", err)
	}
	names := next.Names()
	want := []string{"station", "y", "z"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, names[i], want[i])
		}
	}
	y, _ := next.Column("y")
	if y.Floats()[0] != 3 {
		t.Errorf("y[0] = %v, want 3", y.Floats()[0])
	}
	orig, _ := tb.Column("y")
	if orig.Floats()[0] != 1 {
		t.Errorf("original table was modified: y[0] = %v", orig.Floats()[0])
	}
}

func TestTable_FilterTakeConcat(t *testing.T) {
	tb := MustNew(
		NewTime("ts", hours(0, 1, 2, 3)),
		NewFloat("y", []float32{1, 2, 3, 4}, []bool{true, false, true, true}),
	)
	y, _ := tb.Column("y")
	odd := tb.Filter(func(i int) bool { return i%2 == 1 })
	if odd.Len() != 2 {
		t.Fatalf("Filter() len = %d, want 2", odd.Len())
	}
	oy, _ := odd.Column("y")
	if oy.Valid(0) {
		t.Error("row 1 should stay null after Filter")
	}

	both, err := Concat(odd, tb.Take([]int{0}))
	if err != nil {
		t.Fatalf("Concat() error = %v", err)
	}
	if both.Len() != 3 {
		t.Errorf("Concat() len = %d, want 3", both.Len())
	}
	by, _ := both.Column("y")
	if by.NullCount() != 1 {
		t.Errorf("Concat() null count = %d, want 1", by.NullCount())
	}
	if y.NullCount() != 1 {
		t.Errorf("source null count = %d, want 1", y.NullCount())
	}
}

func TestTable_SortBy(t *testing.T) {
	tb := MustNew(
		NewString("line", []string{"b", "a", "b", "a"}),
		NewInt("split", []int64{1, 2, 0, 1}, nil),
	)
	sorted, err := tb.SortBy("line", "split")
	if err != nil {
		t.Fatalf("SortBy() error = %v", err)
	}
	line, _ := sorted.Column("line")
	split, _ := sorted.Column("split")
	wantLine := []string{"a", "a", "b", "b"}
	wantSplit := []int64{1, 2, 0, 1}
	for i := range wantLine {
		if line.Strings()[i] != wantLine[i] || split.Ints()[i] != wantSplit[i] {
			t.Errorf("row %d = (%s, %d), want (%s, %d)", i,
				line.Strings()[i], split.Ints()[i], wantLine[i], wantSplit[i])
		}
	}
}

func TestNewFloat64_NaNBecomesNull(t *testing.T) {
	c := NewFloat64("x", []float64{1, math.NaN(), 3})
	if c.NullCount() != 1 || c.Valid(1) || !c.Valid(0) || !c.Valid(2) {
		t.Errorf("validity = %v, want [true false true]", c.Validity())
	}
	if v, ok := c.Float(2); !ok || v != 3 {
		t.Errorf("Float(2) = %v, %v", v, ok)
	}
}

func TestPartition(t *testing.T) {
	tb := MustNew(
		NewString("station", []string{"b", "a", "b", "a"}),
		NewTime("ts", hours(3, 2, 1, 0)),
	)
	groups, err := Partition(tb, []string{"station"}, "ts")
	if err != nil {
		t.Fatalf("Partition() error = %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("Partition() returned %d groups, want 2", len(groups))
	}
	if groups[0].Key != "a" || groups[1].Key != "b" {
		t.Errorf("group keys = %q, %q", groups[0].Key, groups[1].Key)
	}
	if got := groups[0].Rows; got[0] != 3 || got[1] != 1 {
		t.Errorf("group a rows = %v, want [3 1]", got)
	}
	if got := groups[1].Rows; got[0] != 2 || got[1] != 0 {
		t.Errorf("group b rows = %v, want [2 0]", got)
	}
}

func TestIndex(t *testing.T) {
	tb := MustNew(
		NewString("line", []string{"M1", "M1", "M2"}),
		NewString("station", []string{"a", "a", "a"}),
		NewTime("ts", hours(0, 1, 0)),
	)
	ix, err := NewIndex(tb, []string{"line", "station"}, "ts")
	if err != nil {
		t.Fatalf("NewIndex() error = %v", err)
	}
	row, ok := ix.Lookup(ix.Key(2), t0)
	if !ok || row != 2 {
		t.Errorf("Lookup(M2/a, t0) = %d, %v, want 2, true", row, ok)
	}
	if _, ok := ix.Lookup(ix.Key(0), t0.Add(2*time.Hour)); ok {
		t.Error("Lookup() matched a missing time")
	}
	// Same instant expressed in another location must match.
	loc := time.FixedZone("UTC+3", 3*3600)
	if row, ok := ix.Lookup(ix.Key(1), t0.Add(time.Hour).In(loc)); !ok || row != 1 {
		t.Errorf("Lookup() across zones = %d, %v, want 1, true", row, ok)
	}
}

func TestShiftBack(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// DST began on 2024-03-10.
	ts := time.Date(2024, 3, 11, 8, 0, 0, 0, loc)
	tests := []struct {
		d    time.Duration
		want time.Time
	}{
		{24 * time.Hour, time.Date(2024, 3, 10, 8, 0, 0, 0, loc)},
		{2 * 24 * time.Hour, time.Date(2024, 3, 9, 8, 0, 0, 0, loc)},
		{time.Hour, time.Date(2024, 3, 11, 7, 0, 0, 0, loc)},
		{36 * time.Hour, ts.Add(-36 * time.Hour)},
		{0, ts},
	}
	for _, tt := range tests {
		if got := ShiftBack(ts, tt.d); !got.Equal(tt.want) {
			t.Errorf("ShiftBack(%s) = %v, want %v", tt.d, got, tt.want)
		}
	}
}

func TestCheckUnique(t *testing.T) {
	tb := MustNew(
		NewString("station", []string{"a", "b", "a"}),
		NewTime("ts", hours(0, 0, 0)),
	)
	err := CheckUnique(tb, []string{"station"}, "ts")
	if !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("CheckUnique() error = %v, want ErrDuplicateKey", err)
	}
	if err := CheckUnique(tb.Take([]int{0, 1}), []string{"station"}, "ts"); err != nil {
		t.Errorf("CheckUnique() on unique rows error = %v", err)
	}
}

func TestSumDuplicates(t *testing.T) {
	tb := MustNew(
		NewString("station", []string{"a", "a", "b", "a"}),
		NewTime("ts", hours(1, 0, 0, 1)),
		NewInt("passage", []int64{5, 2, 7, 3}, nil),
		NewString("extra", []string{"x", "y", "z", "w"}),
	)
	got, err := SumDuplicates(tb, []string{"station"}, "ts", "passage")
	if err != nil {
		t.Fatalf("SumDuplicates() error = %v", err)
	}
	if got.Width() != 3 {
		t.Errorf("SumDuplicates() kept columns %v", got.Names())
	}
	st, _ := got.Column("station")
	p, _ := got.Column("passage")
	wantStation := []string{"a", "b", "a"}
	wantPassage := []int64{2, 7, 8}
	if got.Len() != len(wantStation) {
		t.Fatalf("SumDuplicates() len = %d, want %d", got.Len(), len(wantStation))
	}
	for i := range wantStation {
		if st.Strings()[i] != wantStation[i] || p.Ints()[i] != wantPassage[i] {
			t.Errorf("row %d = (%s, %d), want (%s, %d)", i,
				st.Strings()[i], p.Ints()[i], wantStation[i], wantPassage[i])
		}
	}
	if err := CheckUnique(got, []string{"station"}, "ts"); err != nil {
		t.Errorf("result not unique: %v", err)
	}
}

func TestColumn_ArrowStorage(t *testing.T) {
	c := NewFloat("y", []float32{1, 2, 3}, []bool{true, false, true})
	arr := c.Array()
	defer arr.Release()

	f, ok := arr.(*array.Float32)
	if !ok {
		t.Fatalf("Array() = %T, want *array.Float32", arr)
	}
	if f.NullN() != 1 || f.IsValid(1) {
		t.Errorf("bitmap nulls = %d valid[1] = %v, want 1 false", f.NullN(), f.IsValid(1))
	}
	if got := c.Validity(); len(got) != 3 || got[1] {
		t.Errorf("Validity() = %v, want [true false true]", got)
	}
	if NewFloat("z", []float32{1}, nil).Validity() != nil {
		t.Error("Validity() of a column without nulls should be nil")
	}

	s := NewString("station", []string{"a", "b"}).WithValid([]bool{false, true})
	if s.StringAt(0) != "" || s.StringAt(1) != "b" || s.NullCount() != 1 {
		t.Errorf("StringAt = %q, %q nulls %d", s.StringAt(0), s.StringAt(1), s.NullCount())
	}
}

func TestFromArray(t *testing.T) {
	mem := memory.NewGoAllocator()

	fb := array.NewFloat64Builder(mem)
	defer fb.Release()
	fb.AppendValues([]float64{1.5, 0}, []bool{true, false})
	f64 := fb.NewArray()
	defer f64.Release()

	ib := array.NewInt32Builder(mem)
	defer ib.Release()
	ib.AppendValues([]int32{7, 8}, nil)
	i32 := ib.NewArray()
	defer i32.Release()

	tsb := array.NewTimestampBuilder(mem, &arrow.TimestampType{Unit: arrow.Millisecond})
	defer tsb.Release()
	tsb.Append(arrow.Timestamp(t0.UnixMilli()))
	tsb.Append(arrow.Timestamp(t0.Add(time.Hour).UnixMilli()))
	ts := tsb.NewArray()
	defer ts.Release()

	tests := []struct {
		arr  arrow.Array
		kind Kind
		key  string
		null bool
	}{
		{f64, KindFloat, "1.5", true},
		{i32, KindInt, "7", false},
		{ts, KindTime, "1704067200000000000", false},
	}
	for _, tt := range tests {
		c, err := FromArray("x", tt.arr)
		if err != nil {
			t.Fatalf("FromArray(%s) error = %v", tt.arr.DataType(), err)
		}
		if c.Kind() != tt.kind || c.Key(0) != tt.key || c.Valid(1) == tt.null {
			t.Errorf("FromArray(%s) = %s key %q valid[1] %v", tt.arr.DataType(), c.Kind(), c.Key(0), c.Valid(1))
		}
	}

	c, _ := FromArray("ts", ts)
	tb := MustNew(c)
	times, err := tb.TimeColumn("ts")
	if err != nil || !times[1].Equal(t0.Add(time.Hour)) {
		t.Errorf("TimeColumn() = %v, %v", times, err)
	}

	bb := array.NewBinaryBuilder(mem, arrow.BinaryTypes.Binary)
	defer bb.Release()
	bin := bb.NewArray()
	defer bin.Release()
	if _, err := FromArray("b", bin); err == nil {
		t.Error("FromArray(binary) should fail")
	}
}

func TestConcat_MergesValidityBitmaps(t *testing.T) {
	a := MustNew(NewInt("n", []int64{1, 2}, nil), NewTime("ts", hours(0, 1)))
	b := MustNew(NewInt("n", []int64{3, 4}, []bool{false, true}), NewTime("ts", hours(2, 3)))
	got, err := Concat(a, b)
	if err != nil {
		t.Fatalf("Concat() error = %v", err)
	}
	n, _ := got.Column("n")
	want := []bool{true, true, false, true}
	for i, w := range want {
		if n.Valid(i) != w {
			t.Errorf("valid[%d] = %v, want %v", i, n.Valid(i), w)
		}
	}
	if v, ok := n.Float(3); !ok || v != 4 {
		t.Errorf("Float(3) = %v, %v, want 4", v, ok)
	}
	times, _ := got.TimeColumn("ts")
	if !times[3].Equal(t0.Add(3 * time.Hour)) {
		t.Errorf("ts[3] = %v", times[3])
	}
}
