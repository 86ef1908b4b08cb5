package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/Shivanand-hulikatti/library-lending/internal/config"
)

// NewRouter builds the full route tree around h.
func NewRouter(h *LibraryHandler, log logrus.FieldLogger, auth config.AuthConfig, limits config.RateLimitConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(Logger(log))
	r.Use(Metrics)
	r.Use(CORS)

	r.Get("/health", HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/books", func(r chi.Router) {
		r.Get("/", h.ListBooks)
		r.Post("/", h.CreateBook)
		r.Get("/{id}", h.GetBook)
		r.Put("/{id}", h.UpdateBook)
		r.Delete("/{id}", h.DeleteBook)
	})

	r.Route("/borrow", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if !auth.Disabled {
				r.Use(RequireToken([]byte(auth.JWTSecret), auth.Issuer))
				r.Use(RequireEmailMatch)
			}
			r.Get("/", h.ListBorrowRecords)
		})

		r.Group(func(r chi.Router) {
			if limits.RPS > 0 {
				r.Use(RateLimit(rate.NewLimiter(rate.Limit(limits.RPS), max(limits.Burst, 1))))
			}
			r.Post("/", h.Borrow)
			r.Delete("/{id}", h.ReturnBook)
		})
	})

	return r
}
