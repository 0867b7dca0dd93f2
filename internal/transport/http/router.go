// Package http exposes the tracking service over REST and websockets.
package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fleet-monitor/asset-tracking/internal/auth"
	"fleet-monitor/asset-tracking/internal/config"
)

// NewRouter builds the full route tree. authn is only consulted when
// cfg.Auth.Enabled is set.
func NewRouter(h *Handler, authn *auth.Authenticator, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         86400,
	}))
	r.Use(Observe)

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	protected := func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(NewAuthMiddleware(authn).Wrap)
		}
	}

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Server.RateLimit > 0 {
			r.Use(httprate.LimitByIP(cfg.Server.RateLimit, time.Minute))
		}
		protected(r)

		r.Route("/assets", func(r chi.Router) {
			r.Post("/", h.CreateAsset)
			r.Get("/", h.ListAssets)
			r.Get("/{asset_id}", h.GetAsset)
		})

		r.Route("/track/{asset_id}", func(r chi.Router) {
			r.Post("/", h.IngestFix)
			r.Get("/", h.LatestFix)
			r.Get("/history", h.History)
		})

		r.Route("/geo", func(r chi.Router) {
			r.Post("/geofence", h.CreateZone)
			r.Get("/geofence/{asset_id}", h.ListZones)
			r.Get("/check/{asset_id}", h.CheckContainment)
			r.Get("/alerts/{asset_id}", h.Alerts)
		})

		r.Route("/export", func(r chi.Router) {
			r.Post("/full", h.ExportFull)
			r.Post("/assets/{asset_id}", h.ExportAsset)
			r.Post("/assets_all/{asset_id}", h.ExportAssetCombined)
			r.Get("/download/*", h.Download)
		})
	})

	r.Group(func(r chi.Router) {
		protected(r)
		r.Get("/ws/track/{asset_id}", h.TrackSocket)
	})

	return r
}
