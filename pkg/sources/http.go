package sources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/tidwall/gjson"

	"github.com/HatiCode/ridecast/pkg/frame"
)

// HTTPSource calls a REST endpoint returning JSON and reads one row per
// element of the record array, extracting each column with a gjson path.
//
// Example configuration for a ridership open-data API:
//
//	source := &HTTPSource{
//	    URL:         "https://data.example.org/api/ridership",
//	    Method:      "POST",
//	    Headers:     map[string]string{"Authorization": "Bearer {{.Token}}"},
//	    Body:        `{"from": "{{.From}}"}`,
//	    RecordsPath: "result.records",
//	    Columns: []ColumnSpec{
//	        {Name: "timestamp", Kind: "time", Path: "transition_date"},
//	        {Name: "station", Kind: "string", Path: "station_poi_desc_cd"},
//	        {Name: "passage", Kind: "float", Path: "number_of_passage"},
//	    },
//	    TemplateVars: map[string]string{"Token": "...", "From": "2024-01-01"},
//	}
type HTTPSource struct {
	// URL is the endpoint to call (required)
	URL string

	// Method defaults to GET.
	Method string

	// Headers may reference TemplateVars, e.g. {{.Token}}.
	Headers map[string]string

	// Body is the request body template for POST/PUT.
	Body string

	// RecordsPath is the gjson path of the record array; empty means the
	// body itself is the array.
	RecordsPath string

	Columns []ColumnSpec

	// HTTPClient is optional; if nil a default client with Timeout is used.
	HTTPClient *http.Client
	Timeout    time.Duration

	// TemplateVars are the variables available in Body and Headers.
	TemplateVars map[string]string
}

func (h *HTTPSource) Name() string { return "http" }

// Load implements Source.
func (h *HTTPSource) Load(ctx context.Context) (*frame.Table, error) {
	if err := h.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("http source: %w", err)
	}
	body, err := h.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("http source: %w", err)
	}
	t, err := h.decode(body)
	if err != nil {
		return nil, fmt.Errorf("http source: %w", err)
	}
	return t, nil
}

func (h *HTTPSource) fetch(ctx context.Context) ([]byte, error) {
	data := make(map[string]any, len(h.TemplateVars))
	for k, v := range h.TemplateVars {
		data[k] = v
	}

	method := h.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if h.Body != "" {
		rendered, err := renderTemplate(h.Body, data)
		if err != nil {
			return nil, fmt.Errorf("render body template: %w", err)
		}
		bodyReader = bytes.NewBufferString(rendered)
	}

	cli := h.HTTPClient
	if cli == nil {
		timeout := h.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		cli = &http.Client{Timeout: timeout}
	}

	req, err := http.NewRequestWithContext(ctx, method, h.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range h.Headers {
		rendered, err := renderTemplate(value, data)
		if err != nil {
			return nil, fmt.Errorf("render header %s: %w", key, err)
		}
		req.Header.Set(key, rendered)
	}

	resp, err := cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(body))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}

func (h *HTTPSource) decode(body []byte) (*frame.Table, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("response is not valid JSON")
	}
	records := gjson.ParseBytes(body)
	if h.RecordsPath != "" {
		records = gjson.GetBytes(body, h.RecordsPath)
		if !records.Exists() {
			return nil, fmt.Errorf("records path %q not found in response", h.RecordsPath)
		}
	}
	if !records.IsArray() {
		return nil, fmt.Errorf("records at %q are not an array", h.RecordsPath)
	}

	bufs := make([]*columnBuffer, len(h.Columns))
	for i, spec := range h.Columns {
		var err error
		if bufs[i], err = newColumnBuffer(spec); err != nil {
			return nil, err
		}
	}
	for row, rec := range records.Array() {
		for i, spec := range h.Columns {
			path := spec.Path
			if path == "" {
				path = spec.Name
			}
			if err := appendJSON(bufs[i], rec.Get(path)); err != nil {
				return nil, fmt.Errorf("record %d: %w", row, err)
			}
		}
	}
	return buildTable(bufs)
}

// appendJSON adds a JSON value, mapping missing and null to null. Numbers
// keep full precision for unix timestamps and integers.
func appendJSON(b *columnBuffer, v gjson.Result) error {
	switch {
	case !v.Exists() || v.Type == gjson.Null:
		return b.appendNull()
	case v.Type == gjson.Number && b.kind == frame.KindInt:
		return b.appendString(strconv.FormatInt(v.Int(), 10))
	case v.Type == gjson.Number:
		return b.appendString(v.Raw)
	}
	return b.appendString(v.String())
}

// renderTemplate renders a text template with the given data
func renderTemplate(tmplStr string, data map[string]any) (string, error) {
	if !strings.Contains(tmplStr, "{{") {
		return tmplStr, nil
	}

	tmpl, err := template.New("").Parse(tmplStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// ValidateConfig checks if the source configuration is valid
func (h *HTTPSource) ValidateConfig() error {
	if h.URL == "" {
		return errors.New("url is required")
	}
	if len(h.Columns) == 0 {
		return errors.New("at least one column is required")
	}
	return nil
}
