package models

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

// BYOMModel delegates training and inference to an external HTTP service,
// e.g. a Python process hosting a gradient boosting library.
//
// Contract:
//
//	POST {endpoint}/fit      {"names", "categorical", "columns", "target", "weights"} -> {"model_id"}
//	POST {endpoint}/predict  {"model_id", "names", "columns"}                          -> {"values"}
//
// Columns are column-major; missing values are sent as null.
type BYOMModel struct {
	endpoint string
	params   Params
	client   *http.Client
	modelID  string
	ncols    int
}

type byomFitRequest struct {
	Names       []string      `json:"names"`
	Categorical []bool        `json:"categorical"`
	Columns     [][]jsonFloat `json:"columns"`
	Target      []float64     `json:"target"`
	Weights     []float64     `json:"weights,omitempty"`
	Params      Params        `json:"params,omitempty"`
}

type byomFitResponse struct {
	ModelID string `json:"model_id"`
}

type byomPredictRequest struct {
	ModelID string        `json:"model_id"`
	Names   []string      `json:"names"`
	Columns [][]jsonFloat `json:"columns"`
}

type byomPredictResponse struct {
	Values []float64 `json:"values"`
}

// jsonFloat encodes NaN as null.
type jsonFloat float32

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	if math.IsNaN(float64(f)) {
		return []byte("null"), nil
	}
	return json.Marshal(float32(f))
}

// NewBYOMModel creates a model backed by the service at endpoint. params
// are forwarded verbatim with the fit request.
func NewBYOMModel(endpoint string, params Params, timeout time.Duration) *BYOMModel {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &BYOMModel{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		params:   params,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 2,
			},
		},
	}
}

// Name returns the model identifier.
func (m *BYOMModel) Name() string {
	return "byom"
}

// Fit uploads the training set and stores the model id returned by the service.
func (m *BYOMModel) Fit(ctx context.Context, X Dataset, y, w []float64) error {
	if err := checkFit(X, y, w); err != nil {
		return fmt.Errorf("byom: %w", err)
	}
	req := byomFitRequest{
		Names:       X.Names,
		Categorical: X.Categorical,
		Columns:     encodeColumns(X),
		Target:      y,
		Weights:     w,
		Params:      m.params,
	}
	var resp byomFitResponse
	if err := m.post(ctx, "/fit", req, &resp); err != nil {
		return err
	}
	if resp.ModelID == "" {
		return fmt.Errorf("byom: fit response without model_id")
	}
	m.modelID = resp.ModelID
	m.ncols = len(X.Columns)
	return nil
}

// Predict asks the service for one prediction per row.
func (m *BYOMModel) Predict(ctx context.Context, X Dataset) ([]float64, error) {
	if m.modelID == "" {
		return nil, fmt.Errorf("byom: %w", ErrNotFitted)
	}
	if err := X.Validate(); err != nil {
		return nil, fmt.Errorf("byom: %w", err)
	}
	if len(X.Columns) != m.ncols {
		return nil, fmt.Errorf("byom: fitted on %d features, got %d", m.ncols, len(X.Columns))
	}
	req := byomPredictRequest{ModelID: m.modelID, Names: X.Names, Columns: encodeColumns(X)}
	var resp byomPredictResponse
	if err := m.post(ctx, "/predict", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Values) != X.Rows {
		return nil, fmt.Errorf("byom: expected %d predictions, got %d", X.Rows, len(resp.Values))
	}
	return resp.Values, nil
}

func (m *BYOMModel) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("byom: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("byom: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("byom: http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("byom: %s: http %d: %s", path, resp.StatusCode, string(bodyBytes))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("byom: decode response: %w", err)
	}
	return nil
}

func encodeColumns(X Dataset) [][]jsonFloat {
	cols := make([][]jsonFloat, len(X.Columns))
	for j, c := range X.Columns {
		col := make([]jsonFloat, len(c))
		for i, v := range c {
			col[i] = jsonFloat(v)
		}
		cols[j] = col
	}
	return cols
}
