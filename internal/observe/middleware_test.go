package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// testSetup creates both metrics and tracing infrastructure for middleware tests.
func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
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

	return m, reader, exp
}

// controlMux mimics the control API routes.
func controlMux(seen *string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/session/start", func(w http.ResponseWriter, r *http.Request) {
		*seen = CorrelationID(r.Context())
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("GET /api/session", func(w http.ResponseWriter, r *http.Request) {
		*seen = CorrelationID(r.Context())
		_, _ = w.Write([]byte(`{}`))
	})
	return mux
}

func spanAttr(s tracetest.SpanStub, key string) (attribute.Value, bool) {
	for _, a := range s.Attributes {
		if string(a.Key) == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestMiddleware_Routes(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantRoute  string
		wantSpan   string
	}{
		{
			name: "start", method: http.MethodPost, path: "/api/session/start",
			wantStatus: http.StatusAccepted, wantRoute: "POST /api/session/start",
			wantSpan: "HTTP POST /api/session/start",
		},
		{
			name: "implicit 200", method: http.MethodGet, path: "/api/session",
			wantStatus: http.StatusOK, wantRoute: "GET /api/session",
			wantSpan: "HTTP GET /api/session",
		},
		{
			name: "unknown path", method: http.MethodGet, path: "/api/tracks/123",
			wantStatus: http.StatusNotFound, wantRoute: unmatchedRoute,
			wantSpan: "HTTP GET /api/tracks/123",
		},
		{
			name: "wrong method", method: http.MethodGet, path: "/api/session/start",
			wantStatus: http.StatusMethodNotAllowed, wantRoute: unmatchedRoute,
			wantSpan: "HTTP GET /api/session/start",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, reader, exp := testSetup(t)

			var cid string
			h := Middleware(m)(controlMux(&cid))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("recorded %d spans, want 1", len(spans))
			}
			if spans[0].Name != tt.wantSpan {
				t.Errorf("span name = %q, want %q", spans[0].Name, tt.wantSpan)
			}
			if v, ok := spanAttr(spans[0], "http.response.status_code"); !ok || v.AsInt64() != int64(tt.wantStatus) {
				t.Errorf("span status attribute = %v, want %d", v.AsInt64(), tt.wantStatus)
			}
			if v, ok := spanAttr(spans[0], "http.route"); !ok || v.AsString() != tt.wantRoute {
				t.Errorf("span route attribute = %q, want %q", v.AsString(), tt.wantRoute)
			}

			var rm metricdata.ResourceMetrics
			if err := reader.Collect(context.Background(), &rm); err != nil {
				t.Fatalf("Collect: %v", err)
			}
			met := findMetric(rm, "beatify.http.request.duration")
			if met == nil {
				t.Fatal("request duration metric not found")
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok || len(hist.DataPoints) != 1 {
				t.Fatalf("request duration data = %#v, want one histogram point", met.Data)
			}
			dp := hist.DataPoints[0]
			if dp.Count != 1 {
				t.Errorf("sample count = %d, want 1", dp.Count)
			}
			if v, _ := dp.Attributes.Value("route"); v.AsString() != tt.wantRoute {
				t.Errorf("metric route = %q, want %q", v.AsString(), tt.wantRoute)
			}
			if v, _ := dp.Attributes.Value("method"); v.AsString() != tt.method {
				t.Errorf("metric method = %q, want %q", v.AsString(), tt.method)
			}
			if v, _ := dp.Attributes.Value("status"); v.AsInt64() != int64(tt.wantStatus) {
				t.Errorf("metric status = %d, want %d", v.AsInt64(), tt.wantStatus)
			}
		})
	}
}

func TestMiddleware_CorrelationID(t *testing.T) {
	m, _, _ := testSetup(t)

	var cid string
	h := Middleware(m)(controlMux(&cid))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session", nil))
	if len(cid) != 32 {
		t.Errorf("generated correlation ID = %q, want 32 hex characters", cid)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != cid {
		t.Errorf("X-Correlation-ID = %q, want %q", got, cid)
	}

	// An incoming W3C traceparent is continued.
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest(http.MethodPost, "/api/session/start", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if cid != traceID {
		t.Errorf("correlation ID = %q, want incoming trace %q", cid, traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}

	// A client-chosen ID is carried through the handler and echoed.
	req = httptest.NewRequest(http.MethodPost, "/api/session/start", nil)
	req.Header.Set("X-Correlation-ID", "ui-cycle-3")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if cid != "ui-cycle-3" {
		t.Errorf("correlation ID = %q, want ui-cycle-3", cid)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != "ui-cycle-3" {
		t.Errorf("X-Correlation-ID = %q, want ui-cycle-3", got)
	}

	// A malformed one is replaced by the trace ID.
	req = httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("X-Correlation-ID", "not valid!")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if len(cid) != 32 || cid == "not valid!" {
		t.Errorf("correlation ID = %q, want generated trace ID", cid)
	}
}

func TestMiddleware_PassesHijackThrough(t *testing.T) {
	m, _, exp := testSetup(t)

	var hijackErr error
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/visual", func(w http.ResponseWriter, _ *http.Request) {
		conn, _, err := http.NewResponseController(w).Hijack()
		hijackErr = err
		if conn != nil {
			_ = conn.Close()
		}
	})
	handler := Middleware(m)(mux)

	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(done)
		handler.ServeHTTP(w, r)
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ws/visual")
	if err == nil {
		_ = resp.Body.Close()
	}
	<-done

	if hijackErr != nil {
		t.Fatalf("Hijack through middleware: %v", hijackErr)
	}
	spans := exp.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no spans recorded")
	}
	if v, ok := spanAttr(spans[0], "http.response.status_code"); !ok || v.AsInt64() != http.StatusSwitchingProtocols {
		t.Errorf("status code attribute = %d, want 101", v.AsInt64())
	}
}
