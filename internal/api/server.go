// Soundkeep - Listening History Sync and Archive Ingestion
// Copyright 2026 Soundkeep contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundkeep/soundkeep

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/soundkeep/soundkeep/internal/config"
	"github.com/soundkeep/soundkeep/internal/logging"
)

// Server runs the operational HTTP listener as a suture.Service.
type Server struct {
	addr    string
	handler http.Handler
	timeout time.Duration
}

// NewServer creates the HTTP service.
func NewServer(cfg *config.ServerConfig, handler http.Handler) *Server {
	return &Server{
		addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		handler: handler,
		timeout: cfg.Timeout,
	}
}

// Serve listens until the context is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.timeout,
		WriteTimeout:      s.timeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown failed: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}
