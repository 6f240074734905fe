package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_CountsByRouteAndFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())
	r.GET("/rooms/:id/messages", func(c *gin.Context) { c.String(http.StatusOK, "[]") })
	r.POST("/rooms/:id/read", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	baseRoute := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/rooms/:id/messages", "200"))
	base404 := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/nope", "404"))
	base204 := testutil.ToFloat64(httpReqs.WithLabelValues("POST", "/rooms/:id/read", "204"))

	for _, room := range []string{"r1", "r2"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rooms/"+room+"/messages", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("GET messages -> %d", w.Code)
		}
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/rooms/r1/read", nil))

	// both rooms collapse onto the route label
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/rooms/:id/messages", "200")); got != baseRoute+2 {
		t.Fatalf("route counter = %v; want %v", got, baseRoute+2)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/nope", "404")); got != base404+1 {
		t.Fatalf("404 fallback counter = %v; want %v", got, base404+1)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("POST", "/rooms/:id/read", "204")); got != base204+1 {
		t.Fatalf("204 counter = %v; want %v", got, base204+1)
	}
	if inFlight := testutil.ToFloat64(httpInflight); inFlight != 0 {
		t.Fatalf("httpInflight = %v; want 0", inFlight)
	}
}
