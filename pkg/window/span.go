package window

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Span is a calendar-aware look-back length. Months are subtracted on the
// calendar (clamping to the last day of the target month), then Days, then
// the fixed Duration.
type Span struct {
	Months   int
	Days     int
	Duration time.Duration
	Label    string
}

// ParseSpan reads spans such as "1 day", "2 weeks", "3 months", "6 hours",
// "30 minutes" or "1 year".
func ParseSpan(s string) (Span, error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	if len(fields) != 2 {
		return Span{}, fmt.Errorf("%q: want \"<count> <unit>\": %w", s, ErrInvalidSpan)
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n <= 0 {
		return Span{}, fmt.Errorf("%q: count must be a positive integer: %w", s, ErrInvalidSpan)
	}
	sp := Span{Label: fields[0] + " " + fields[1]}
	switch strings.TrimSuffix(fields[1], "s") {
	case "minute":
		sp.Duration = time.Duration(n) * time.Minute
	case "hour":
		sp.Duration = time.Duration(n) * time.Hour
	case "day":
		sp.Days = n
	case "week":
		sp.Days = 7 * n
	case "month":
		sp.Months = n
	case "year":
		sp.Months = 12 * n
	default:
		return Span{}, fmt.Errorf("%q: unknown unit %q: %w", s, fields[1], ErrInvalidSpan)
	}
	return sp, nil
}

// MustParseSpan is like ParseSpan but panics on error.
func MustParseSpan(s string) Span {
	sp, err := ParseSpan(s)
	if err != nil {
		panic(err)
	}
	return sp
}

// Suffix is the column-name suffix of the span, e.g. "3_months".
func (s Span) Suffix() string {
	label := s.Label
	if label == "" {
		label = s.String()
	}
	return strings.ReplaceAll(label, " ", "_")
}

func (s Span) String() string {
	if s.Label != "" {
		return s.Label
	}
	var parts []string
	if s.Months != 0 {
		parts = append(parts, fmt.Sprintf("%d months", s.Months))
	}
	if s.Days != 0 {
		parts = append(parts, fmt.Sprintf("%d days", s.Days))
	}
	if s.Duration != 0 {
		parts = append(parts, s.Duration.String())
	}
	return strings.Join(parts, " ")
}

func (s Span) positive() bool {
	return s.Months > 0 || s.Days > 0 || s.Duration > 0
}

// Start returns the exclusive lower bound of the window ending at t.
func (s Span) Start(t time.Time) time.Time {
	if s.Months != 0 {
		t = subMonths(t, s.Months)
	}
	if s.Days != 0 {
		t = t.AddDate(0, 0, -s.Days)
	}
	return t.Add(-s.Duration)
}

func subMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m-time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	return first.AddDate(0, 0, min(d, last)-1)
}
