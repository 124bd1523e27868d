package observe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// serve runs one request through the middleware in front of a mux holding
// the routes hark registers.
func serve(t *testing.T, method, target string, header http.Header) (*httptest.ResponseRecorder, *sdkmetric.ManualReader, *tracetest.InMemoryExporter, string) {
	t.Helper()
	exp := useRecorder(t)
	m, reader := newTestMetrics(t)

	var seenTrace string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		seenTrace = TraceID(r.Context())
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /audio/{device}", func(w http.ResponseWriter, r *http.Request) {
		seenTrace = TraceID(r.Context())
		w.WriteHeader(http.StatusBadRequest)
	})

	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	Middleware(m)(mux).ServeHTTP(rec, req)
	return rec, reader, exp, seenTrace
}

func TestMiddleware_Routes(t *testing.T) {
	tests := []struct {
		target     string
		wantRoute  string
		wantStatus int
	}{
		{"/healthz", "GET /healthz", http.StatusOK},
		{"/audio/kitchen", "GET /audio/{device}", http.StatusBadRequest},
		{"/nope", routeUnmatched, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec, reader, exp, _ := serve(t, http.MethodGet, tt.target, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}

			rm := collect(t, reader)
			met := findMetric(rm, "hark.http.request.duration")
			if met == nil {
				t.Fatal("duration metric not recorded")
			}
			hist := met.Data.(metricdata.Histogram[float64])
			if len(hist.DataPoints) != 1 {
				t.Fatalf("data points = %d, want 1", len(hist.DataPoints))
			}
			attrs := hist.DataPoints[0].Attributes
			if v, _ := attrs.Value("route"); v.AsString() != tt.wantRoute {
				t.Errorf("route = %q, want %q", v.AsString(), tt.wantRoute)
			}
			if v, _ := attrs.Value("path"); v.AsString() != "" {
				t.Errorf("raw path leaked into metric attributes: %q", v.AsString())
			}

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("spans = %d, want 1", len(spans))
			}
			if want := "http " + tt.wantRoute; spans[0].Name != want {
				t.Errorf("span name = %q, want %q", spans[0].Name, want)
			}
			var code int64
			for _, a := range spans[0].Attributes {
				if a.Key == "http.response.status_code" {
					code = a.Value.AsInt64()
				}
			}
			if code != int64(tt.wantStatus) {
				t.Errorf("span status code = %d, want %d", code, tt.wantStatus)
			}
		})
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	h := http.Header{"Traceparent": {"00-" + traceID + "-00f067aa0ba902b7-01"}}
	_, _, _, seen := serve(t, http.MethodGet, "/healthz", h)
	if seen != traceID {
		t.Errorf("handler trace = %q, want %q", seen, traceID)
	}
}

func TestMiddleware_ImplicitOK(t *testing.T) {
	m, reader := newTestMetrics(t)
	useRecorder(t)
	h := Middleware(m)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	rm := collect(t, reader)
	hist := findMetric(rm, "hark.http.request.duration").Data.(metricdata.Histogram[float64])
	if v, _ := hist.DataPoints[0].Attributes.Value("status"); v.AsString() != "200" {
		t.Errorf("status = %q, want 200", v.AsString())
	}
}

func TestMiddleware_ExposesHijacker(t *testing.T) {
	m, _ := newTestMetrics(t)
	useRecorder(t)

	var hijackErr error
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := w.(http.Hijacker); !ok {
			t.Error("wrapped writer does not implement http.Hijacker")
			return
		}
		// A ResponseRecorder cannot be hijacked: the call must fail cleanly.
		_, _, hijackErr = http.NewResponseController(w).Hijack()
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/audio", nil))
	if hijackErr == nil {
		t.Error("expected hijack of a ResponseRecorder to fail")
	}
}
