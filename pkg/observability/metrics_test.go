package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsRegistered(t *testing.T) {
	// Vectors only show up once a label combination exists.
	RequestsTotal.WithLabelValues("GET", "2xx", "test").Add(0)
	RequestDuration.WithLabelValues("GET", "test")
	SessionsStartedTotal.WithLabelValues("test").Add(0)
	SessionsEndedTotal.WithLabelValues("aborted", "timeout").Add(0)
	ToolCallsTotal.WithLabelValues("resolved").Add(0)
	SnapshotLookupsTotal.WithLabelValues("hit").Add(0)
	EngineTurnsTotal.WithLabelValues("test", "completed").Add(0)
	EngineTurnLatency.WithLabelValues("test")

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := map[string]bool{}
	for _, mf := range families {
		found[mf.GetName()] = true
	}

	for _, name := range []string{
		"faden_requests_total",
		"faden_request_duration_seconds",
		"faden_streaming_connections_active",
		"faden_sessions_active",
		"faden_sessions_started_total",
		"faden_sessions_ended_total",
		"faden_tool_calls_pending",
		"faden_tool_calls_total",
		"faden_tool_call_wait_seconds",
		"faden_snapshot_lookups_total",
		"faden_snapshot_terminals",
		"faden_engine_turns_total",
		"faden_engine_turn_latency_seconds",
	} {
		if !found[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestMiddlewareLabelsModelAndStatus(t *testing.T) {
	tests := []struct {
		name   string
		model  string
		status int
		label  []string
	}{
		{"model from handler", "claude-test", http.StatusOK, []string{"POST", "2xx", "claude-test"}},
		{"no model", "", http.StatusBadRequest, []string{"POST", "4xx", "unknown"}},
		{"engine failure", "gpt-test", http.StatusBadGateway, []string{"POST", "5xx", "gpt-test"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := RequestsTotal.WithLabelValues(tt.label...)
			before := testutil.ToFloat64(counter)
			samples := histogramCount(t, RequestDuration, tt.label[0], tt.label[2])

			handler := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.model != "" {
					SetModel(r.Context(), tt.model)
				}
				w.WriteHeader(tt.status)
			}))
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/v1/chat/completions", nil))

			if delta := testutil.ToFloat64(counter) - before; delta != 1 {
				t.Errorf("requests_total delta = %v, want 1", delta)
			}
			if delta := histogramCount(t, RequestDuration, tt.label[0], tt.label[2]) - samples; delta != 1 {
				t.Errorf("duration samples delta = %d, want 1", delta)
			}
		})
	}
}

func TestMiddlewareStreamingGauge(t *testing.T) {
	baseline := testutil.ToFloat64(StreamingConnections)

	var during float64
	handler := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		MarkStreaming(r.Context())
		MarkStreaming(r.Context())
		during = testutil.ToFloat64(StreamingConnections)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/v1/chat/completions", nil))

	if during != baseline+1 {
		t.Errorf("gauge during stream = %v, want %v", during, baseline+1)
	}
	if after := testutil.ToFloat64(StreamingConnections); after != baseline {
		t.Errorf("gauge after stream = %v, want %v", after, baseline)
	}
}

func TestMiddlewareNonStreamingLeavesGauge(t *testing.T) {
	baseline := testutil.ToFloat64(StreamingConnections)

	var during float64
	handler := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		during = testutil.ToFloat64(StreamingConnections)
	}))
	req := httptest.NewRequest("POST", "/v1/chat/completions", nil)
	req.Header.Set("Accept", "text/event-stream")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if during != baseline {
		t.Errorf("gauge = %v, want %v: only MarkStreaming opens a stream", during, baseline)
	}
}

func TestRequestInfoWithoutMiddleware(t *testing.T) {
	ctx := httptest.NewRequest("GET", "/", nil).Context()
	baseline := testutil.ToFloat64(StreamingConnections)

	SetModel(ctx, "x")
	MarkStreaming(ctx)

	if got := testutil.ToFloat64(StreamingConnections); got != baseline {
		t.Errorf("gauge moved without middleware: %v", got)
	}
}

func TestStatusWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec, status: http.StatusOK}

	sw.WriteHeader(http.StatusTeapot)
	sw.WriteHeader(http.StatusOK)
	sw.Flush()

	if sw.status != http.StatusTeapot {
		t.Errorf("status = %d, want the first one written", sw.status)
	}
	if !rec.Flushed {
		t.Error("underlying writer not flushed")
	}
	if sw.Unwrap() != rec {
		t.Error("Unwrap does not return the wrapped writer")
	}
}

func TestMetricsExposition(t *testing.T) {
	SessionsEndedTotal.WithLabelValues("aborted", "client_disconnect").Inc()

	expected := `faden_sessions_ended_total{reason="client_disconnect",state="aborted"}`
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var text strings.Builder
	for _, mf := range families {
		if mf.GetName() != "faden_sessions_ended_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			text.WriteString(mf.GetName() + labels(m) + "\n")
		}
	}
	if !strings.Contains(text.String(), expected) {
		t.Errorf("exposition missing %s in:\n%s", expected, text.String())
	}
}

func labels(m *dto.Metric) string {
	parts := make([]string, 0, len(m.GetLabel()))
	for _, l := range m.GetLabel() {
		parts = append(parts, l.GetName()+`="`+l.GetValue()+`"`)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func histogramCount(t *testing.T, hv *prometheus.HistogramVec, lvs ...string) uint64 {
	t.Helper()
	m := &dto.Metric{}
	obs, err := hv.GetMetricWithLabelValues(lvs...)
	if err != nil {
		t.Fatalf("histogram: %v", err)
	}
	if err := obs.(prometheus.Metric).Write(m); err != nil {
		t.Fatalf("writing histogram: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}
