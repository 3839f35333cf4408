package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/violation-types", s.handleListViolationTypes)

		// Upload endpoints.
		r.Group(func(r chi.Router) {
			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.RequestsPerMinute,
				))
			}

			r.Post("/upload/metadata", s.handleUploadMetadata)
			r.Post("/upload/{experiment}", s.handleUploadRun)
		})

		// Reconstruction queries.
		r.Route("/detectors/{detector}", func(r chi.Router) {
			r.Get("/", s.handleGetDetector)
			r.Route("/experiments/{experiment}", func(r chi.Router) {
				r.Get("/runs", s.handleGetRuns)
				r.Get(
					"/projects/{project}/versions/{version}/misuses/{misuse}",
					s.handleGetMisuse,
				)
			})
		})

		// Review submission and lookup.
		r.Route("/misuses/{misuse}/reviews/{reviewer}", func(r chi.Router) {
			r.Put("/", s.handleUpdateReview)
			r.Get("/", s.handleGetReview)
		})
	})

	return r
}

// corsMiddleware builds the CORS handler from configured origins.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	origins := s.cfg.Server.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
