package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestIDSetsHeaderAndContextConsistently(t *testing.T) {
	var seenInContext string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenInContext = CorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	header := rec.Header().Get("X-Request-Id")
	if header == "" {
		t.Fatal("expected X-Request-Id header to be set")
	}
	if header != seenInContext {
		t.Fatalf("expected context id %q to match header id %q", seenInContext, header)
	}
}

func TestRequestIDAssignsDistinctIDsPerRequest(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/", nil))

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/", nil))

	if first.Header().Get("X-Request-Id") == second.Header().Get("X-Request-Id") {
		t.Fatal("expected distinct request ids across requests")
	}
}

func TestCorrelationIDReturnsEmptyWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := CorrelationID(req.Context()); got != "" {
		t.Fatalf("expected empty correlation id absent the middleware, got %q", got)
	}
}
