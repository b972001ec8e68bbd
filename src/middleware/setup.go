package middleware

import (
	"github.com/go-chi/chi/v5"
	chi_mw "github.com/go-chi/chi/v5/middleware"
)

// Setup registers the global middleware stack on the router.
func Setup(r *chi.Mux, behindProxy bool, rateLimitPerSecond int) {
	// CORS should be registered early so preflight requests are handled
	// and headers are present on all responses.
	r.Use(CORS)
	// Recoverer comes right after CORS so it catches panics from every
	// later middleware and handler and converts them to 500 responses instead of
	// crashing the whole process.
	r.Use(chi_mw.Recoverer)
	r.Use(RequestID)
	r.Use(APILatencyMiddleware())
	r.Use(RateLimitMiddleware(rateLimitPerSecond, behindProxy))
}
