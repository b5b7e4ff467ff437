package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/miauchat/dispatch/internal/api/handler"
	apimw "github.com/miauchat/dispatch/internal/api/middleware"
	"github.com/miauchat/dispatch/internal/service"
)

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(
	svc *service.MessageService,
	reg prometheus.Gatherer,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)          // recover panics, return 500
	r.Use(chimw.RealIP)             // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestID)          // fallback source for correlation ids
	r.Use(chimw.RequestSize(1<<20)) // 1 MB max request body
	r.Use(apimw.CorrelationID)      // X-Correlation-ID inject / echo
	r.Use(apimw.RequestLogger(logger))

	// --- handler instances ---
	msgh := handler.NewMessageHandler(svc, logger)
	ch := handler.NewConversationHandler(svc, logger)
	mh := handler.NewMetricsHandler(svc)
	hh := handler.NewHealthHandler(svc)

	// --- routes ---
	r.Get("/health", hh.Health)

	// Raw Prometheus scrape endpoint
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/messages", msgh.Send)
		r.Get("/messages", msgh.List)
		r.Get("/messages/{id}", msgh.GetByID)
		r.Delete("/messages/{id}", msgh.Cancel)
		r.Post("/messages/{id}/retry", msgh.Retry)

		r.Delete("/conversations/{id}/queue", ch.Close)

		// JSON queue snapshot
		r.Get("/queue", mh.GetMetrics)
	})

	return r
}
