package server

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func newTestServer(t *testing.T, gatherTimeout time.Duration) (*Server, *prometheus.Registry) {
	t.Helper()

	registry := prometheus.NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(Options{
		ListenAddress: "127.0.0.1:0",
		GatherTimeout: gatherTimeout,
	}, registry, logger)
	return s, registry
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, 0)

	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); body != "ok\n" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s, registry := newTestServer(t, time.Second)

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ibfabric_test_nodes",
		Help: "Test gauge.",
	})
	gauge.Set(3)
	registry.MustRegister(gauge)

	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ibfabric_test_nodes 3") {
		t.Fatalf("metric missing from exposition:\n%s", rec.Body.String())
	}
}

type stuckCollector struct {
	desc *prometheus.Desc
}

func (c *stuckCollector) Describe(ch chan<- *prometheus.Desc) { ch <- c.desc }

func (c *stuckCollector) Collect(chan<- prometheus.Metric) {
	time.Sleep(5 * time.Second)
}

func TestMetricsGatherTimeout(t *testing.T) {
	t.Parallel()

	s, registry := newTestServer(t, 50*time.Millisecond)
	registry.MustRegister(&stuckCollector{
		desc: prometheus.NewDesc("ibfabric_stuck", "Never collected.", nil, nil),
	})

	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 504 {
		t.Fatalf("expected 504 on gather timeout, got %d", rec.Code)
	}
}
