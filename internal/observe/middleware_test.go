package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newInstrumented builds a middleware-wrapped handler backed by in-memory
// metric and span exporters, answering with the given status code.
func newInstrumented(t *testing.T, status int) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{}`))
	}))
	return handler, reader, exp
}

func requestDurationPoints(t *testing.T, reader *sdkmetric.ManualReader) []metricdata.HistogramDataPoint[float64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "parlance.http.request.duration")
	if met == nil {
		t.Fatal("parlance.http.request.duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric data is %T, want histogram", met.Data)
	}
	return hist.DataPoints
}

func TestMiddlewareSetsCorrelationID(t *testing.T) {
	handler, _, _ := newInstrumented(t, http.StatusOK)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	cid := rec.Header().Get("X-Correlation-ID")
	if len(cid) != 32 {
		t.Errorf("X-Correlation-ID = %q, want a 32-char trace ID", cid)
	}
}

func TestMiddlewareTracesTranscribeRequests(t *testing.T) {
	handler, _, exp := newInstrumented(t, http.StatusOK)

	req := httptest.NewRequest(http.MethodPost, "/api/transcribe/audio", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans recorded = %d, want 1", len(spans))
	}
	if spans[0].Name != "HTTP POST /api/transcribe/audio" {
		t.Errorf("span name = %q", spans[0].Name)
	}
}

func TestMiddlewareRecordsStatusAttribute(t *testing.T) {
	handler, reader, _ := newInstrumented(t, http.StatusConflict)

	req := httptest.NewRequest(http.MethodPost, "/api/transcribe/audio", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	points := requestDurationPoints(t, reader)
	if len(points) != 1 {
		t.Fatalf("data points = %d, want 1", len(points))
	}
	var method, path string
	var status int64
	for _, kv := range points[0].Attributes.ToSlice() {
		switch string(kv.Key) {
		case "method":
			method = kv.Value.AsString()
		case "path":
			path = kv.Value.AsString()
		case "status":
			status = kv.Value.AsInt64()
		}
	}
	if method != "POST" || path != "/api/transcribe/audio" || status != 409 {
		t.Errorf("attributes = method %q path %q status %d", method, path, status)
	}
}

func TestMiddlewareQuietsHealthEndpoints(t *testing.T) {
	handler, reader, exp := newInstrumented(t, http.StatusOK)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if cid := rec.Header().Get("X-Correlation-ID"); cid != "" {
			t.Errorf("%s: unexpected X-Correlation-ID %q", path, cid)
		}
	}

	if spans := exp.GetSpans(); len(spans) != 0 {
		t.Errorf("health endpoints produced %d spans, want 0", len(spans))
	}
	// Durations are still recorded, one data point per path.
	if points := requestDurationPoints(t, reader); len(points) != 3 {
		t.Errorf("data points = %d, want 3", len(points))
	}
}

func TestMiddlewareContinuesClientTrace(t *testing.T) {
	handler, _, _ := newInstrumented(t, http.StatusOK)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe/cancel", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want the client's trace ID %q", got, traceID)
	}
}
