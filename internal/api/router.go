// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

// Package api is the catalog read API.
//
// Routes (all under /api/v1 except /metrics):
//
//	GET    /health
//	GET    /owners/{ownerID}/videos?tier=&freshness=&include_deleted=&limit=&offset=
//	GET    /videos/{videoID}
//	POST   /videos/{videoID}/refresh?type=basic|analytics|full
//	DELETE /videos/{videoID}
//	GET    /queue/stats
//	GET    /metrics
//
// Middleware order: request ID, real IP, panic recovery, CORS, per-IP rate
// limit, Prometheus instrumentation.
package api

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/tubepulse/internal/config"
	"github.com/tomtom215/tubepulse/internal/middleware"
)

// Router builds the chi router of the API.
type Router struct {
	handler *Handler
	cfg     config.ServerConfig
}

// NewRouter creates a router for h.
func NewRouter(h *Handler, cfg config.ServerConfig) *Router {
	return &Router{handler: h, cfg: cfg}
}

// Setup returns the fully wired http.Handler.
func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(rt.corsOptions()))
	if rt.cfg.RateLimit > 0 {
		r.Use(httprate.LimitByIP(rt.cfg.RateLimit, time.Minute))
	}
	r.Use(middleware.PrometheusMetrics)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", rt.handler.Health)
		r.Get("/owners/{ownerID}/videos", rt.handler.ListOwnerVideos)

		r.Route("/videos/{videoID}", func(r chi.Router) {
			r.Get("/", rt.handler.GetVideo)
			r.Delete("/", rt.handler.DeleteVideo)
			r.Post("/refresh", rt.handler.RefreshVideo)
		})

		r.Get("/queue/stats", rt.handler.QueueStats)
	})

	return r
}

func (rt *Router) corsOptions() cors.Options {
	origins := rt.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}
}

// NewServer returns the *http.Server for the router. Read and write
// timeouts come from server.timeout.
func NewServer(cfg config.ServerConfig, h http.Handler) *http.Server {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       timeout,
		WriteTimeout:      timeout,
		IdleTimeout:       2 * timeout,
	}
}

// Addr formats the listen address for logs.
func Addr(cfg config.ServerConfig) string {
	return fmt.Sprintf("http://%s", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
}
