// Package sources loads raw ridership tables into frame tables.
//
// Each source implements the Source interface and is selected by kind from
// the pipeline file. Available sources:
//   - ParquetSource: a local Parquet file, e.g. an upstream export
//   - CSVSource: a local CSV file with a header row
//   - HTTPSource: any REST API returning a JSON array of records
//
// Sources only shape rows into typed columns. Cleaning and feature
// construction happen in later stages.
package sources

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/HatiCode/ridecast/pkg/frame"
)

// Source fetches a raw table. Load is synchronous and respects ctx.
type Source interface {
	Load(ctx context.Context) (*frame.Table, error)

	// Name returns a short identifier such as "parquet" or "http".
	Name() string
}

// ColumnSpec declares one column to read.
type ColumnSpec struct {
	Name string `yaml:"name" validate:"required"`
	Kind string `yaml:"kind" validate:"required,oneof=time string float int"`
	// Path is the gjson path of the value inside each HTTP record.
	// Defaults to Name.
	Path string `yaml:"path"`
	// Format is the time encoding: rfc3339 (default), unix, unix_milli, or
	// a Go reference layout such as "2006-01-02 15:04".
	Format string `yaml:"format"`
}

func (c ColumnSpec) kind() (frame.Kind, error) {
	return frame.ParseKind(c.Kind)
}

// Config is the union of every source's settings as read from the pipeline
// file.
type Config struct {
	Path         string            `yaml:"path"`
	URL          string            `yaml:"url"`
	Method       string            `yaml:"method"`
	Headers      map[string]string `yaml:"headers"`
	Body         string            `yaml:"body"`
	TemplateVars map[string]string `yaml:"template_vars"`
	// RecordsPath is the gjson path of the record array. Empty means the
	// response body is the array.
	RecordsPath string        `yaml:"records_path"`
	Columns     []ColumnSpec  `yaml:"columns" validate:"dive"`
	Delimiter   string        `yaml:"delimiter"`
	Timeout     time.Duration `yaml:"timeout"`
}

// parseTime decodes s according to format.
func parseTime(s, format string) (time.Time, error) {
	switch format {
	case "", "rfc3339":
		return time.Parse(time.RFC3339, s)
	case "unix", "unix_milli":
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return time.Time{}, err
		}
		if format == "unix" {
			return time.Unix(int64(f), 0).UTC(), nil
		}
		return time.UnixMilli(int64(f)).UTC(), nil
	}
	return time.Parse(format, s)
}

// columnBuffer accumulates typed values for one declared column.
type columnBuffer struct {
	spec    ColumnSpec
	kind    frame.Kind
	times   []time.Time
	strings []string
	floats  []float32
	ints    []int64
	valid   []bool
	nulls   bool
}

func newColumnBuffer(spec ColumnSpec) (*columnBuffer, error) {
	k, err := spec.kind()
	if err != nil {
		return nil, fmt.Errorf("column %q: %w", spec.Name, err)
	}
	return &columnBuffer{spec: spec, kind: k}, nil
}

func (b *columnBuffer) appendNull() error {
	if b.kind == frame.KindTime {
		return fmt.Errorf("column %q: missing time at row %d", b.spec.Name, len(b.valid))
	}
	b.valid = append(b.valid, false)
	b.nulls = true
	switch b.kind {
	case frame.KindString:
		b.strings = append(b.strings, "")
	case frame.KindFloat:
		b.floats = append(b.floats, 0)
	case frame.KindInt:
		b.ints = append(b.ints, 0)
	}
	return nil
}

// appendString parses raw text. Empty text is null.
func (b *columnBuffer) appendString(raw string) error {
	if raw == "" {
		return b.appendNull()
	}
	row := len(b.valid)
	switch b.kind {
	case frame.KindTime:
		ts, err := parseTime(raw, b.spec.Format)
		if err != nil {
			return fmt.Errorf("column %q row %d: %w", b.spec.Name, row, err)
		}
		b.times = append(b.times, ts)
	case frame.KindString:
		b.strings = append(b.strings, raw)
	case frame.KindFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 32)
		if err != nil {
			return fmt.Errorf("column %q row %d: %w", b.spec.Name, row, err)
		}
		b.floats = append(b.floats, float32(f))
	case frame.KindInt:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("column %q row %d: %w", b.spec.Name, row, err)
		}
		b.ints = append(b.ints, n)
	}
	b.valid = append(b.valid, true)
	return nil
}

func (b *columnBuffer) column() *frame.Column {
	valid := b.valid
	if !b.nulls {
		valid = nil
	}
	switch b.kind {
	case frame.KindTime:
		return frame.NewTime(b.spec.Name, b.times)
	case frame.KindString:
		return frame.NewString(b.spec.Name, b.strings).WithValid(valid)
	case frame.KindFloat:
		return frame.NewFloat(b.spec.Name, b.floats, valid)
	default:
		return frame.NewInt(b.spec.Name, b.ints, valid)
	}
}

func buildTable(bufs []*columnBuffer) (*frame.Table, error) {
	cols := make([]*frame.Column, len(bufs))
	for i, b := range bufs {
		cols[i] = b.column()
	}
	return frame.New(cols...)
}
