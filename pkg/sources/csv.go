package sources

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/HatiCode/ridecast/pkg/frame"
)

// CSVSource reads a delimited file with a header row. Declared columns are
// parsed to their kind; all other columns are read as strings. Empty cells
// are null.
type CSVSource struct {
	Path      string
	Columns   []ColumnSpec
	Delimiter rune
}

func (s *CSVSource) Name() string { return "csv" }

// Load implements Source.
func (s *CSVSource) Load(ctx context.Context) (*frame.Table, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("csv source: %w", err)
	}
	defer f.Close()
	t, err := s.read(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("csv source %s: %w", s.Path, err)
	}
	return t, nil
}

func (s *CSVSource) read(ctx context.Context, r io.Reader) (*frame.Table, error) {
	cr := csv.NewReader(r)
	if s.Delimiter != 0 {
		cr.Comma = s.Delimiter
	}
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	declared := make(map[string]ColumnSpec, len(s.Columns))
	for _, c := range s.Columns {
		declared[c.Name] = c
	}
	bufs := make([]*columnBuffer, len(header))
	for i, name := range header {
		spec, ok := declared[name]
		if !ok {
			spec = ColumnSpec{Name: name, Kind: "string"}
		}
		delete(declared, name)
		if bufs[i], err = newColumnBuffer(spec); err != nil {
			return nil, err
		}
	}
	for name := range declared {
		return nil, fmt.Errorf("declared column %q not in header: %w", name, frame.ErrColumnNotFound)
	}

	for line := 2; ; line++ {
		if line%65536 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		for i, raw := range rec {
			if err := bufs[i].appendString(raw); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		}
	}
	return buildTable(bufs)
}

func delimiter(s string) (rune, error) {
	if s == "" {
		return 0, nil
	}
	if s == `\t` {
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if size != len(s) {
		return 0, fmt.Errorf("delimiter %q must be a single character", s)
	}
	return r, nil
}
