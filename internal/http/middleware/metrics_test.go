package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHTTPMetrics_CountsByRouteAndStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	r := gin.New()
	r.Use(m.Handler())
	r.GET("/api/v1/conversations/:id/messages", func(c *gin.Context) { c.String(http.StatusOK, "[]") })
	r.GET("/empty", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/conversations/a/messages", nil))
	serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/conversations/b/messages", nil))
	serve(r, httptest.NewRequest(http.MethodGet, "/nope/1", nil))
	serve(r, httptest.NewRequest(http.MethodGet, "/nope/2", nil))
	serve(r, httptest.NewRequest(http.MethodGet, "/empty", nil))

	if got := testutil.ToFloat64(m.requests.WithLabelValues("GET", "/api/v1/conversations/:id/messages", "200")); got != 2 {
		t.Fatalf("route counter = %v; want 2", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("GET", unmatchedRoute, "404")); got != 2 {
		t.Fatalf("unmatched counter = %v; want 2", got)
	}
	if got := testutil.ToFloat64(m.inflight); got != 0 {
		t.Fatalf("inflight = %v; want 0", got)
	}
	if n := testutil.CollectAndCount(m.requests); n != 3 {
		t.Fatalf("series = %d; want 3 (bounded cardinality)", n)
	}
	// Only the route that wrote a body has size samples.
	if n := testutil.CollectAndCount(m.respSize); n != 1 {
		t.Fatalf("size series = %d; want 1", n)
	}

	// Registering again on the same registry reuses the collectors.
	again := NewHTTPMetrics(reg)
	if again.requests != m.requests {
		t.Fatalf("collectors not reused")
	}
}
