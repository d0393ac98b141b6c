package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/subradar/subradar-backend/pkg/logger"
	"github.com/subradar/subradar-backend/pkg/metrics"
)

func TestLoggingRecordsRoutePatternAndStatus(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: buf})
	reg := prometheus.NewRegistry()

	r := chi.NewRouter()
	r.Use(Logging(logg, metrics.NewHTTPMetrics(reg)))
	r.Get("/api/v1/subscriptions/{subscriptionId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/abc", nil))

	entry := buf.String()
	if !strings.Contains(entry, `"route":"/api/v1/subscriptions/{subscriptionId}"`) {
		t.Fatalf("expected route pattern in log; entry=%s", entry)
	}
	if !strings.Contains(entry, `"status":404`) {
		t.Fatalf("expected status in log; entry=%s", entry)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() != "http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["route"] == "/api/v1/subscriptions/{subscriptionId}" && labels["status"] == "404" {
				found = m.GetCounter().GetValue() == 1
			}
		}
	}
	if !found {
		t.Fatal("expected one request counted under the route pattern")
	}
}

func TestLoggingHealthChecksAtDebug(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: buf})
	handler := Logging(logg, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if buf.Len() != 0 {
		t.Fatalf("health check should not log at info; entry=%s", buf.String())
	}
}
