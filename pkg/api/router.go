package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Router assembles the HTTP API for the given services.
func Router(svc *Services) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// With a cache, the list endpoints serve from memory and any
	// successful mutation drops the cached reads.
	cached := func(h http.HandlerFunc) http.HandlerFunc { return h }
	invalidating := cached
	if svc.Cache != nil {
		cached = func(h http.HandlerFunc) http.HandlerFunc {
			return svc.Cache.Middleware(h).ServeHTTP
		}
		invalidating = func(h http.HandlerFunc) http.HandlerFunc {
			return svc.Cache.InvalidateAfter(h).ServeHTTP
		}
	}

	r.Get("/healthz", LivenessHandler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/assets", cached(ListAssetsHandler(svc.Assets)))
		r.Get("/assets/{assetKey}", GetAssetHandler(svc))
		r.Get("/assets/{assetKey}/health", GetAssetHealthHandler(svc.Monitor))
		r.Get("/assets/{assetKey}/executions", ListExecutionsHandler(svc))
		r.Post("/assets/{assetKey}/executions", invalidating(RecordExecutionHandler(svc)))

		r.Get("/health", cached(HealthOverviewHandler(svc.Verdicts)))

		r.Get("/alerts", ListAlertsHandler(svc.Alerts))
		r.Post("/alerts/{alertId}/acknowledge", AcknowledgeAlertHandler(svc.Alerts))

		r.Post("/discovery/run", invalidating(RunDiscoveryHandler(svc.Discovery)))
		r.Get("/jobs", ListJobsHandler(svc.Jobs))
	})

	return r
}
