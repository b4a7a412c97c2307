package evaluate

import (
	"fmt"
	"time"
)

// Range is one walk-forward split. Training uses rows with time <= Start,
// testing rows with Start < time <= End.
type Range struct {
	Start time.Time `yaml:"start" json:"start"`
	End   time.Time `yaml:"end" json:"end"`
}

func (r Range) String() string {
	return r.Start.Format(time.RFC3339) + ".." + r.End.Format(time.RFC3339)
}

// InTrain reports whether t belongs to the training side of r.
func (r Range) InTrain(t time.Time) bool { return !t.After(r.Start) }

// InTest reports whether t belongs to the test side of r.
func (r Range) InTest(t time.Time) bool { return t.After(r.Start) && !t.After(r.End) }

// ValidateSplits requires every range to be non-empty and to start no
// earlier than the end of the previous one.
func ValidateSplits(splits []Range) error {
	if len(splits) == 0 {
		return fmt.Errorf("no splits: %w", ErrSplitOrder)
	}
	for i, r := range splits {
		if !r.Start.Before(r.End) {
			return fmt.Errorf("split %d (%s): start must precede end: %w", i, r, ErrSplitOrder)
		}
		if i > 0 && r.Start.Before(splits[i-1].End) {
			return fmt.Errorf("split %d (%s) overlaps split %d: %w", i, r, i-1, ErrSplitOrder)
		}
	}
	return nil
}

// ConsecutiveSplits returns n back-to-back ranges of length step, the last
// one ending at end.
func ConsecutiveSplits(end time.Time, step time.Duration, n int) []Range {
	out := make([]Range, n)
	for i := range n {
		e := end.Add(-time.Duration(n-1-i) * step)
		out[i] = Range{Start: e.Add(-step), End: e}
	}
	return out
}
