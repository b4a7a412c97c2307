package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Record(t *testing.T) {
	m := New("metro")

	m.RecordStage("features", 2*time.Second)
	m.SetRows("features", 1200)
	m.SetSplitMetric(0, "rmse", 12.5)
	m.RecordError("evaluate", "split_failed")
	m.RecordError("evaluate", "split_failed")

	if got := testutil.ToFloat64(m.Rows.WithLabelValues("features")); got != 1200 {
		t.Errorf("rows = %v, want 1200", got)
	}
	if got := testutil.ToFloat64(m.SplitMetric.WithLabelValues("0", "rmse")); got != 12.5 {
		t.Errorf("split metric = %v, want 12.5", got)
	}
	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("evaluate", "split_failed")); got != 2 {
		t.Errorf("errors = %v, want 2", got)
	}
	if n := testutil.CollectAndCount(m.StageSeconds); n != 1 {
		t.Errorf("stage histograms = %d, want 1", n)
	}
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	a, b := New("a"), New("b")
	a.SetRows("features", 1)
	b.SetRows("features", 2)

	if got := testutil.ToFloat64(a.Rows.WithLabelValues("features")); got != 1 {
		t.Errorf("a rows = %v, want 1", got)
	}
	if n, err := testutil.GatherAndCount(a.Registry(), "ridecast_rows"); err != nil || n != 1 {
		t.Errorf("GatherAndCount() = %d, %v", n, err)
	}
}

func TestMetrics_Push(t *testing.T) {
	var method, path, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := New("metro")
	m.SetRows("predictions", 42)
	if err := m.Push(context.Background(), srv.URL); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	if method != http.MethodPut {
		t.Errorf("method = %s, want PUT", method)
	}
	if want := "/metrics/job/ridecast/run/metro"; path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	if len(body) == 0 {
		t.Error("push body is empty")
	}
}

func TestMetrics_PushError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := New("metro").Push(context.Background(), srv.URL)
	if err == nil || !strings.Contains(err.Error(), srv.URL) {
		t.Errorf("Push() error = %v, want failure naming the gateway", err)
	}
}
