// Package lags joins past values of a target onto each row.
package lags

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/HatiCode/ridecast/pkg/frame"
)

var ErrInvalidLag = errors.New("invalid lag")

// DefaultUnit is the lag unit used when Options.Unit is zero.
const DefaultUnit = 24 * time.Hour

type Options struct {
	Target   string
	Time     string
	Entities []string
	Lags     []int
	Unit     time.Duration
}

// ColumnName is the output column of lag l for target.
func ColumnName(target string, l int) string {
	return target + "_lag_" + strconv.Itoa(l)
}

// Add appends one float32 column per lag L holding the target of the same
// entity at exactly t - L*Unit, or null when no such row exists. Units of
// whole days step back by calendar days in the row's location.
func Add(t *frame.Table, opts Options) (*frame.Table, error) {
	if opts.Unit == 0 {
		opts.Unit = DefaultUnit
	}
	if opts.Unit < 0 {
		return nil, fmt.Errorf("lags: negative unit %s: %w", opts.Unit, ErrInvalidLag)
	}
	seen := make(map[int]bool, len(opts.Lags))
	for _, l := range opts.Lags {
		if l <= 0 {
			return nil, fmt.Errorf("lags: %d is not positive: %w", l, ErrInvalidLag)
		}
		if seen[l] {
			return nil, fmt.Errorf("lags: %d listed twice: %w", l, ErrInvalidLag)
		}
		seen[l] = true
	}

	times, err := t.TimeColumn(opts.Time)
	if err != nil {
		return nil, fmt.Errorf("lags: %w", err)
	}
	target, err := t.NumericColumn(opts.Target)
	if err != nil {
		return nil, fmt.Errorf("lags: %w", err)
	}
	ix, err := frame.NewIndex(t, opts.Entities, opts.Time)
	if err != nil {
		return nil, fmt.Errorf("lags: %w", err)
	}

	cols := make([]*frame.Column, 0, len(opts.Lags))
	for _, l := range opts.Lags {
		shift := time.Duration(l) * opts.Unit
		vals := make([]float32, t.Len())
		valid := make([]bool, t.Len())
		for i := range vals {
			j, ok := ix.Lookup(ix.Key(i), frame.ShiftBack(times[i], shift))
			if !ok {
				continue
			}
			if v, ok := target.Float(j); ok {
				vals[i] = float32(v)
				valid[i] = true
			}
		}
		cols = append(cols, frame.NewFloat(ColumnName(opts.Target, l), vals, valid))
	}
	return t.With(cols...)
}
