package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	gateway "github.com/leenhawk/gproxy/internal"
	"github.com/leenhawk/gproxy/internal/pool"
	"github.com/leenhawk/gproxy/internal/provider"
	"github.com/leenhawk/gproxy/internal/telemetry"
	"github.com/leenhawk/gproxy/internal/testutil"
)

func testRegistry() *provider.Registry {
	reg := provider.NewRegistry()
	snap := gateway.NewPoolSnapshot([]gateway.Credential{
		{ID: 1, ProviderID: "openai", Name: "primary", Weight: 1, Enabled: true},
	}, nil)
	reg.Register("openai", &provider.Handle{
		Provider: &testutil.FakeProvider{ProviderName: "openai"},
		Pool:     pool.New("openai", snap, nil),
		Client:   http.DefaultClient,
		Dialect:  gateway.DialectOpenAIChat,
	})
	return reg
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	h := New(Deps{
		Auth:           testutil.FakeAuth{},
		Registry:       testRegistry(),
		Metrics:        metrics,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	body := `{"model":"gpt-4o","messages":[{"role":"user","content":"hello"}]}`
	req := httptest.NewRequest(http.MethodPost, "/openai/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer gpx_test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("chat: status = %d; body = %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	metricsBody := rec.Body.String()
	if !strings.Contains(metricsBody, "gproxy_requests_total") {
		t.Error("metrics should contain gproxy_requests_total")
	}
	if !strings.Contains(metricsBody, "gproxy_request_duration_seconds") {
		t.Error("metrics should contain gproxy_request_duration_seconds")
	}
}

func TestMetricsMiddleware_IncrementsCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	h := New(Deps{
		Auth:           testutil.FakeAuth{},
		Registry:       testRegistry(),
		Metrics:        metrics,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}

	found := false
	for _, f := range families {
		if f.GetName() == "gproxy_requests_total" {
			found = true
			for _, m := range f.GetMetric() {
				for _, l := range m.GetLabel() {
					if l.GetName() == "path" && l.GetValue() == "/healthz" {
						if m.GetCounter().GetValue() < 3 {
							t.Errorf("requests_total for /healthz = %f, want >= 3", m.GetCounter().GetValue())
						}
					}
				}
			}
		}
	}
	if !found {
		t.Error("gproxy_requests_total metric not found")
	}
}
