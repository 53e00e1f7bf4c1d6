// Soundkeep - Listening History Sync and Archive Ingestion
// Copyright 2026 Soundkeep contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundkeep/soundkeep

// Package api exposes the operational HTTP surface: liveness, readiness,
// and Prometheus metrics. The sync and import engines are observable only
// through the rows they write; nothing here mutates state.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger is the database health probe used by the readiness endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter builds the operational router.
func NewRouter(db Pinger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if err := db.Ping(req.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
