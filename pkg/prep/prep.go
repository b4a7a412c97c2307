// Package prep cleans raw ridership tables before feature construction:
// row filters, renames, value aliases, timestamp composition and summing of
// duplicate (entity, time) records.
package prep

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/HatiCode/ridecast/pkg/frame"
)

// Step operations.
const (
	OpComposeTimestamp = "compose_timestamp"
	OpKeep             = "keep"
	OpDrop             = "drop"
	OpDropColumns      = "drop_columns"
	OpRename           = "rename"
	OpMapValues        = "map_values"
	OpNotNull          = "not_null"
	OpMinTime          = "min_time"
	OpSumDuplicates    = "sum_duplicates"
)

var ErrInvalidStep = errors.New("invalid prep step")

// Step is one preparation operation as read from the pipeline file.
//
//	- op: compose_timestamp   # column (date), hour, layout, location, output
//	- op: keep                # column, values
//	- op: drop                # column, values
//	- op: drop_columns        # columns
//	- op: rename              # mapping old -> new
//	- op: map_values          # column, mapping from -> to
//	- op: not_null            # columns
//	- op: min_time            # column, value
//	- op: sum_duplicates      # columns (entities), time, target
type Step struct {
	Op       string            `yaml:"op" validate:"required,oneof=compose_timestamp keep drop drop_columns rename map_values not_null min_time sum_duplicates"`
	Column   string            `yaml:"column"`
	Columns  []string          `yaml:"columns"`
	Values   []string          `yaml:"values"`
	Mapping  map[string]string `yaml:"mapping"`
	Value    string            `yaml:"value"`
	Hour     string            `yaml:"hour"`
	Layout   string            `yaml:"layout"`
	Location string            `yaml:"location"`
	Output   string            `yaml:"output"`
	Time     string            `yaml:"time"`
	Target   string            `yaml:"target"`
}

var validate = validator.New()

// Validate checks that the fields the operation needs are present.
func (s Step) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidStep, err)
	}
	var missing string
	switch s.Op {
	case OpComposeTimestamp:
		switch {
		case s.Column == "":
			missing = "column"
		case s.Hour == "":
			missing = "hour"
		}
	case OpKeep, OpDrop:
		switch {
		case s.Column == "":
			missing = "column"
		case len(s.Values) == 0:
			missing = "values"
		}
	case OpDropColumns, OpNotNull:
		if len(s.Columns) == 0 {
			missing = "columns"
		}
	case OpRename:
		if len(s.Mapping) == 0 {
			missing = "mapping"
		}
	case OpMapValues:
		switch {
		case s.Column == "":
			missing = "column"
		case len(s.Mapping) == 0:
			missing = "mapping"
		}
	case OpMinTime:
		switch {
		case s.Column == "":
			missing = "column"
		case s.Value == "":
			missing = "value"
		}
	case OpSumDuplicates:
		switch {
		case s.Time == "":
			missing = "time"
		case s.Target == "":
			missing = "target"
		}
	}
	if missing != "" {
		return fmt.Errorf("%s: %s is required: %w", s.Op, missing, ErrInvalidStep)
	}
	return nil
}

// Apply runs steps in order. A nil logger uses slog.Default.
func Apply(t *frame.Table, steps []Step, logger *slog.Logger) (*frame.Table, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for i, s := range steps {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		before := t.Len()
		next, err := s.apply(t)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, s.Op, err)
		}
		logger.Debug("prep step applied", "step", i, "op", s.Op, "rows_in", before, "rows_out", next.Len())
		t = next
	}
	return t, nil
}

func (s Step) apply(t *frame.Table) (*frame.Table, error) {
	switch s.Op {
	case OpComposeTimestamp:
		return composeTimestamp(t, s)
	case OpKeep:
		return filterValues(t, s.Column, s.Values, true)
	case OpDrop:
		return filterValues(t, s.Column, s.Values, false)
	case OpDropColumns:
		return t.Drop(s.Columns...), nil
	case OpRename:
		return t.Rename(s.Mapping)
	case OpMapValues:
		return mapValues(t, s.Column, s.Mapping)
	case OpNotNull:
		return notNull(t, s.Columns)
	case OpMinTime:
		return minTime(t, s.Column, s.Value)
	case OpSumDuplicates:
		return frame.SumDuplicates(t, s.Columns, s.Time, s.Target)
	}
	return nil, fmt.Errorf("unknown op %q: %w", s.Op, ErrInvalidStep)
}

func filterValues(t *frame.Table, column string, values []string, keep bool) (*frame.Table, error) {
	c, err := t.Column(column)
	if err != nil {
		return nil, err
	}
	return t.Filter(func(i int) bool {
		if !c.Valid(i) {
			return !keep
		}
		return slices.Contains(values, c.Key(i)) == keep
	}), nil
}

func mapValues(t *frame.Table, column string, mapping map[string]string) (*frame.Table, error) {
	c, err := t.Column(column)
	if err != nil {
		return nil, err
	}
	if c.Kind() != frame.KindString {
		return nil, fmt.Errorf("map_values on %q (%s): %w", column, c.Kind(), frame.ErrColumnKind)
	}
	out := c.Strings()
	for i, v := range out {
		if to, ok := mapping[v]; ok && c.Valid(i) {
			out[i] = to
		}
	}
	return t.With(frame.NewString(column, out).WithValid(c.Validity()))
}

func notNull(t *frame.Table, columns []string) (*frame.Table, error) {
	cols := make([]*frame.Column, len(columns))
	for k, name := range columns {
		c, err := t.Column(name)
		if err != nil {
			return nil, err
		}
		cols[k] = c
	}
	return t.Filter(func(i int) bool {
		for _, c := range cols {
			if !c.Valid(i) {
				return false
			}
		}
		return true
	}), nil
}

func minTime(t *frame.Table, column, value string) (*frame.Table, error) {
	from, err := ParseTime(value)
	if err != nil {
		return nil, err
	}
	times, err := t.TimeColumn(column)
	if err != nil {
		return nil, err
	}
	return t.Filter(func(i int) bool { return !times[i].Before(from) }), nil
}

// ParseTime accepts RFC 3339 timestamps and plain dates (UTC midnight).
func ParseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", time.DateOnly} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}

// composeTimestamp builds Output from a date column (string in Layout or a
// time column truncated to its day) plus an hour-of-day column. Rows with a
// null date or hour are dropped.
func composeTimestamp(t *frame.Table, s Step) (*frame.Table, error) {
	layout := s.Layout
	if layout == "" {
		layout = time.DateOnly
	}
	loc := time.UTC
	if s.Location != "" {
		var err error
		if loc, err = time.LoadLocation(s.Location); err != nil {
			return nil, fmt.Errorf("location %q: %w", s.Location, err)
		}
	}
	output := s.Output
	if output == "" {
		output = "timestamp"
	}

	dates, err := t.Column(s.Column)
	if err != nil {
		return nil, err
	}
	hours, err := t.Column(s.Hour)
	if err != nil {
		return nil, err
	}

	out := make([]time.Time, t.Len())
	ok := make([]bool, t.Len())
	dropped := 0
	for i := range out {
		if !dates.Valid(i) || !hours.Valid(i) {
			dropped++
			continue
		}
		var d time.Time
		switch dates.Kind() {
		case frame.KindString:
			if d, err = time.ParseInLocation(layout, dates.StringAt(i), loc); err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
		case frame.KindTime:
			ts := dates.Times()[i].In(loc)
			d = time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, loc)
		default:
			return nil, fmt.Errorf("date column %q is %s: %w", s.Column, dates.Kind(), frame.ErrColumnKind)
		}
		h, err := hourOf(hours, i)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = time.Date(d.Year(), d.Month(), d.Day(), h, 0, 0, 0, loc)
		ok[i] = true
	}

	next, err := t.With(frame.NewTime(output, out))
	if err != nil {
		return nil, err
	}
	if dropped == 0 {
		return next, nil
	}
	return next.Filter(func(i int) bool { return ok[i] }), nil
}

func hourOf(c *frame.Column, i int) (int, error) {
	var h int
	switch c.Kind() {
	case frame.KindInt:
		h = int(c.Ints()[i])
	case frame.KindFloat:
		f := c.Floats()[i]
		if f != float32(int(f)) {
			return 0, fmt.Errorf("hour %v is not whole", f)
		}
		h = int(f)
	case frame.KindString:
		var err error
		if h, err = strconv.Atoi(c.StringAt(i)); err != nil {
			return 0, fmt.Errorf("hour %q: %w", c.StringAt(i), err)
		}
	default:
		return 0, fmt.Errorf("hour column %q is %s: %w", c.Name(), c.Kind(), frame.ErrColumnKind)
	}
	if h < 0 || h > 23 {
		return 0, fmt.Errorf("hour %d out of range", h)
	}
	return h, nil
}
