// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the components the router serves. Only PKB is required.
type Deps struct {
	PKB     PKBService
	Sources SourceLister
	Actor   Runner

	// Hooks serves push deliveries under /hooks, typically the webhook adapter's Routes().
	Hooks http.Handler

	// Events streams forwarded events at /api/v1/events.
	Events *Hub
}

// NewRouter builds the admin API:
//
//	GET  /health
//	GET  /metrics
//	GET  /api/v1/directories
//	GET  /api/v1/directories/{dir}/entries
//	POST /api/v1/directories/{dir}/sync
//	GET  /api/v1/resolve?url=
//	GET  /api/v1/sources
//	GET  /api/v1/events            (websocket)
//	POST /hooks/{endpoint}
func NewRouter(mc *MiddlewareConfig, deps Deps) http.Handler {
	mw := NewMiddleware(mc)
	h := &Handler{pkb: deps.PKB, sources: deps.Sources, actor: deps.Actor, started: time.Now()}

	r := chi.NewRouter()
	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(RequestMetrics())
	r.Use(mw.CORS())

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.RateLimit())
		r.Use(SecurityHeaders())

		r.Get("/directories", h.ListDirectories)
		r.Get("/directories/{dir}/entries", h.ListEntries)
		r.Post("/directories/{dir}/sync", h.SyncDirectory)
		r.Get("/resolve", h.Resolve)
		r.Get("/sources", h.ListSources)
		if deps.Events != nil {
			r.Get("/events", deps.Events.ServeWS)
		}
	})

	if deps.Hooks != nil {
		r.Mount("/hooks", mw.RateLimit()(deps.Hooks))
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, CodeNotFound, "no such route", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, CodeBadRequest, "method not allowed", nil)
	})
	return r
}

// NewServer wraps handler in an *http.Server with the configured timeouts.
// The write timeout does not apply to hijacked websocket connections.
func NewServer(addr string, handler http.Handler, readTimeout, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       2 * time.Minute,
	}
}
