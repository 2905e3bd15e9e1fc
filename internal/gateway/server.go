package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// buildRouter constructs the chi mux with all routes wired. Every request is
// traced under the global tracer provider.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(g.metrics.middleware)

	// Public: no auth required.
	r.Get("/health", g.handleHealth())

	r.Group(func(r chi.Router) {
		if g.config.Auth.IsConfigured() {
			r.Use(authMiddleware(g.config.Auth, g.audit, g.limiter))
		}
		r.Handle("/metrics", promhttp.HandlerFor(g.gatherer, promhttp.HandlerOpts{}))
		r.Route("/v1", func(r chi.Router) {
			r.Get("/tools", g.handleListTools())
			r.Get("/prompts", g.hub.ServeHTTP)
			r.Post("/approvals/{id}", g.handleApproval())
			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", g.handleListSessions())
				r.Post("/", g.handleOpenSession())
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", g.handleGetSession())
					r.Delete("/", g.handleCloseSession())
					r.Get("/calls", g.handleListCalls())
					r.Post("/calls", g.handleExecute())
					r.Get("/calls/{callID}", g.handleGetCall())
					r.Delete("/calls/{callID}", g.handleCancelCall())
				})
			})
		})
	})

	return otelhttp.NewHandler(r, "gateway",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
