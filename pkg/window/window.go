// Package window computes rolling statistics of a target over trailing
// calendar windows per entity and re-aligns them forward by a fixed offset,
// so that every output row only carries information that was available
// Offset earlier.
package window

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/HatiCode/ridecast/pkg/frame"
)

// DefaultOffset is the 30-day alignment shift used by the ridership pipeline.
const DefaultOffset = 30 * 24 * time.Hour

var ErrInvalidSpan = errors.New("invalid window span")

// Options configures Aggregate.
type Options struct {
	Target   string
	Time     string
	Entities []string
	Windows  []Span

	// Offset shifts statistics forward in time: the window ending at T
	// is attached to the row of the same entity at T+Offset. Zero attaches
	// each window to the row it ends at. Whole days are calendar days.
	Offset time.Duration

	// Quantiles defaults to DefaultQuantiles.
	Quantiles []float64

	// Workers bounds the number of partitions processed concurrently.
	// Zero means GOMAXPROCS.
	Workers int

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if len(o.Quantiles) == 0 {
		o.Quantiles = DefaultQuantiles
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func (o Options) validate() error {
	if o.Target == "" || o.Time == "" {
		return errors.New("window: target and time columns are required")
	}
	if len(o.Windows) == 0 {
		return fmt.Errorf("window: no spans configured: %w", ErrInvalidSpan)
	}
	seen := make(map[string]bool, len(o.Windows))
	for _, w := range o.Windows {
		if !w.positive() {
			return fmt.Errorf("window: span %q is not positive: %w", w, ErrInvalidSpan)
		}
		if seen[w.Suffix()] {
			return fmt.Errorf("window: span %q listed twice: %w", w, ErrInvalidSpan)
		}
		seen[w.Suffix()] = true
	}
	if o.Offset < 0 {
		return fmt.Errorf("window: negative offset %s", o.Offset)
	}
	for _, q := range o.Quantiles {
		if q <= 0 || q > 1 {
			return fmt.Errorf("window: quantile %v out of range (0, 1]", q)
		}
	}
	return nil
}

// StatNames lists the statistics produced per span, in output order.
func StatNames(quantiles []float64) []string {
	if len(quantiles) == 0 {
		quantiles = DefaultQuantiles
	}
	names := []string{"avg", "min", "max"}
	for _, q := range quantiles {
		names = append(names, QuantileStat(q))
	}
	return append(names, "std", "skew", "kurt", "geomean", "sum", "abs_energy", "slope")
}

// ColumnName is the output column of stat over span for target.
func ColumnName(stat, target string, span Span) string {
	return stat + "_" + target + "_" + span.Suffix()
}

// Aggregate appends one float32 column per (span, statistic) to t.
//
// For every row r of entity e at time T, the statistic of span s is computed
// over the non-null targets of e with time in (T'-s, T'] where T' = T-Offset,
// provided e has a row at exactly T'. Otherwise the value is null.
//
// (entity, time) pairs must be unique.
func Aggregate(ctx context.Context, t *frame.Table, opts Options) (*frame.Table, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	times, err := t.TimeColumn(opts.Time)
	if err != nil {
		return nil, fmt.Errorf("window: %w", err)
	}
	target, err := t.NumericColumn(opts.Target)
	if err != nil {
		return nil, fmt.Errorf("window: %w", err)
	}
	if err := frame.CheckUnique(t, opts.Entities, opts.Time); err != nil {
		return nil, fmt.Errorf("window: %w", err)
	}
	groups, err := frame.Partition(t, opts.Entities, opts.Time)
	if err != nil {
		return nil, fmt.Errorf("window: %w", err)
	}

	stats := StatNames(opts.Quantiles)
	n := t.Len()
	width := len(stats) * len(opts.Windows)
	values := make([][]float32, width)
	valid := make([][]bool, width)
	for j := range values {
		values[j] = make([]float32, n)
		valid[j] = make([]bool, n)
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for _, grp := range groups {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p := &partition{
				rows:   grp.Rows,
				times:  times,
				target: target,
				opts:   &opts,
				nstats: len(stats),
				values: values,
				valid:  valid,
			}
			p.run()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("window: %w", err)
	}

	cols := make([]*frame.Column, 0, width)
	for w, span := range opts.Windows {
		for s, stat := range stats {
			j := w*len(stats) + s
			cols = append(cols, frame.NewFloat(ColumnName(stat, opts.Target, span), values[j], valid[j]))
		}
	}
	opts.Logger.Debug("window aggregation complete",
		"rows", n,
		"partitions", len(groups),
		"columns", width,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return t.With(cols...)
}

// partition evaluates every span over one entity. Each output row belongs to
// exactly one partition, so partitions write to the shared output slices
// without synchronisation.
type partition struct {
	rows   []int
	times  []time.Time
	target *frame.Column
	opts   *Options
	nstats int
	values [][]float32
	valid  [][]bool
}

func (p *partition) run() {
	m := len(p.rows)
	if m == 0 {
		return
	}
	at := make(map[int64]int, m)
	for pos, r := range p.rows {
		at[p.times[r].UnixNano()] = pos
	}
	origin := p.times[p.rows[0]]
	hoursSince := make([]float64, m)
	for pos, r := range p.rows {
		hoursSince[pos] = p.times[r].Sub(origin).Hours()
	}

	buf := make([]float64, m*p.nstats)
	for w, span := range p.opts.Windows {
		p.scan(span, hoursSince, buf)
		for _, r := range p.rows {
			src, ok := at[frame.ShiftBack(p.times[r], p.opts.Offset).UnixNano()]
			if !ok {
				continue
			}
			row := buf[src*p.nstats : (src+1)*p.nstats]
			for s, v := range row {
				if math.IsNaN(v) {
					continue
				}
				j := w*p.nstats + s
				p.values[j][r] = float32(v)
				p.valid[j][r] = true
			}
		}
	}
}

// scan slides a two-pointer window over the time-ordered partition and
// stores the statistics of the window ending at each row into buf.
func (p *partition) scan(span Span, u []float64, buf []float64) {
	st := newState()
	lo := 0
	for i, r := range p.rows {
		if x, ok := p.target.Float(r); ok {
			st.add(i, x, u[i])
		}
		start := span.Start(p.times[r])
		for lo <= i && !p.times[p.rows[lo]].After(start) {
			if x, ok := p.target.Float(p.rows[lo]); ok {
				st.remove(lo, x, u[lo])
			}
			lo++
		}
		st.emit(buf[i*p.nstats:(i+1)*p.nstats], p.opts.Quantiles)
	}
}
