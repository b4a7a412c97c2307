package sources

import (
	"context"
	"fmt"

	"github.com/HatiCode/ridecast/pkg/frame"
	"github.com/HatiCode/ridecast/pkg/parquetio"
)

// ParquetSource reads a local Parquet file. When Columns is set only those
// columns are kept, in that order, and their kinds are checked.
type ParquetSource struct {
	Path    string
	Columns []ColumnSpec
}

func (s *ParquetSource) Name() string { return "parquet" }

// Load implements Source.
func (s *ParquetSource) Load(ctx context.Context) (*frame.Table, error) {
	t, err := parquetio.ReadFile(ctx, s.Path)
	if err != nil {
		return nil, fmt.Errorf("parquet source: %w", err)
	}
	if len(s.Columns) == 0 {
		return t, nil
	}
	names := make([]string, len(s.Columns))
	for i, spec := range s.Columns {
		names[i] = spec.Name
		c, err := t.Column(spec.Name)
		if err != nil {
			return nil, fmt.Errorf("parquet source %s: %w", s.Path, err)
		}
		want, err := spec.kind()
		if err != nil {
			return nil, fmt.Errorf("parquet source: column %q: %w", spec.Name, err)
		}
		if c.Kind() != want {
			return nil, fmt.Errorf("parquet source %s: column %q is %s, declared %s: %w",
				s.Path, spec.Name, c.Kind(), want, frame.ErrColumnKind)
		}
	}
	return t.Select(names...)
}
