// Package api exposes the control surface over REST: scan listing,
// live status and progress, manual triggers, history queries, and
// storage maintenance.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/nasscan/internal/logger"
	"github.com/marmos91/nasscan/pkg/core"
	"github.com/marmos91/nasscan/pkg/metrics"
)

// NewRouter creates the chi router with all middleware and routes.
//
// Middleware stack, in order: request ID, real IP, request logging,
// panic recovery, per-request timeout.
func NewRouter(c *core.Core, requestTimeout time.Duration) http.Handler {
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	h := &handler{core: c}

	r.Get("/health", h.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/scans", func(r chi.Router) {
			r.Get("/", h.listScans)
			r.Route("/{slug}", func(r chi.Router) {
				r.Get("/", h.getScan)
				r.Get("/status", h.getScanStatus)
				r.Get("/progress", h.getScanProgress)
				r.Get("/results", h.getScanResults)
				r.Get("/history", h.getScanHistory)
				r.Post("/trigger", h.triggerScan)
			})
		})

		r.Post("/config/reload", h.reloadConfig)

		r.Route("/storage", func(r chi.Router) {
			r.Get("/stats", h.storageStats)
			r.Get("/folders", h.listFolders)
			r.Get("/cleanup-preview", h.cleanupPreview)
			r.Post("/cleanup", h.cleanup)
			r.Delete("/folders", h.deleteFolders)
			r.Delete("/scans/{slug}", h.deleteScanResults)
			r.Delete("/all", h.deleteAllResults)
		})
	})

	// Root redirect to health for convenience.
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// requestLogger logs requests through the service logger: start at
// debug, completion with status and duration at info.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
