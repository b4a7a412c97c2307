package sources

import (
	"fmt"
)

// New creates a source based on kind and its configuration.
// This is the central extension point for adding new source types.
//
// Supported kinds:
//   - "parquet": local Parquet file (path)
//   - "csv": local CSV file (path, optional delimiter)
//   - "http": JSON REST API (url, columns)
//
// Returns error if kind is unknown or required fields are missing.
func New(kind string, cfg Config) (Source, error) {
	switch kind {
	case "parquet":
		if cfg.Path == "" {
			return nil, fmt.Errorf("parquet source requires 'path' config")
		}
		return &ParquetSource{Path: cfg.Path, Columns: cfg.Columns}, nil
	case "csv":
		if cfg.Path == "" {
			return nil, fmt.Errorf("csv source requires 'path' config")
		}
		d, err := delimiter(cfg.Delimiter)
		if err != nil {
			return nil, fmt.Errorf("csv source: %w", err)
		}
		return &CSVSource{Path: cfg.Path, Columns: cfg.Columns, Delimiter: d}, nil
	case "http":
		src := &HTTPSource{
			URL:          cfg.URL,
			Method:       cfg.Method,
			Headers:      cfg.Headers,
			Body:         cfg.Body,
			RecordsPath:  cfg.RecordsPath,
			Columns:      cfg.Columns,
			Timeout:      cfg.Timeout,
			TemplateVars: cfg.TemplateVars,
		}
		if err := src.ValidateConfig(); err != nil {
			return nil, fmt.Errorf("http source: %w", err)
		}
		return src, nil
	default:
		return nil, fmt.Errorf("unknown source kind: %s (must be parquet, csv, or http)", kind)
	}
}
