package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.IncPostCreated(true)
	m.IncBlobUpload("ok")
	m.IncDeviceFix(false)
	m.IncSubmission("submitted")
	m.IncVisibleComputed()
	m.SessionOpened()
	m.SessionClosed()
	if m.Registry() != nil {
		t.Fatalf("expected nil registry")
	}
}

func TestCounters(t *testing.T) {
	m := New()
	m.IncDeviceFix(true)
	m.IncDeviceFix(false)
	m.IncDeviceFix(false)
	m.IncPostCreated(true)
	m.SessionOpened()

	if got := testutil.ToFloat64(m.DeviceFixes.WithLabelValues("throttled")); got != 2 {
		t.Fatalf("expected 2 throttled fixes, got %v", got)
	}
	if got := testutil.ToFloat64(m.PostsCreated.WithLabelValues("booth")); got != 1 {
		t.Fatalf("expected 1 booth post, got %v", got)
	}
	if got := testutil.ToFloat64(m.ActiveSessions); got != 1 {
		t.Fatalf("expected 1 session, got %v", got)
	}
}

func TestMiddlewareAndHandler(t *testing.T) {
	m := New()
	app := fiber.New()
	app.Use(m.Middleware())
	app.Get("/metrics", m.Handler())
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })

	resp, err := app.Test(httptest.NewRequest("GET", "/ping", nil))
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	resp.Body.Close()

	resp, err = app.Test(httptest.NewRequest("GET", "/metrics", nil))
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `zachatter_http_requests_total{method="GET",route="/ping",status="200"} 1`) {
		t.Fatalf("expected ping request to be counted, got:\n%s", body)
	}
}
