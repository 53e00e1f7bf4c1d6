// Soundkeep - Listening History Sync and Archive Ingestion
// Copyright 2026 Soundkeep contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundkeep/soundkeep

package importer

import (
	"context"
	"time"

	"github.com/soundkeep/soundkeep/internal/config"
	"github.com/soundkeep/soundkeep/internal/logging"
)

// Service wraps the importer as a periodic suture.Service: every interval it
// sweeps the pending queue once. Cancellation is checked between jobs, not
// mid-file; an in-flight job runs to its terminal state.
type Service struct {
	importer *Importer
	interval time.Duration
}

// NewService creates the periodic import sweep.
func NewService(im *Importer, cfg *config.ImportConfig) *Service {
	return &Service{importer: im, interval: cfg.Interval}
}

// Serve sweeps pending jobs until the context is cancelled.
func (s *Service) Serve(ctx context.Context) error {
	logging.Info().Dur("interval", s.interval).Msg("Import service started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		processed, err := s.importer.ProcessPendingImports(ctx)
		if err != nil && ctx.Err() == nil {
			logging.Err(err).Msg("Pending import sweep failed")
		}
		if processed > 0 {
			logging.Info().Int("jobs", processed).Msg("Import sweep finished")
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			logging.Info().Msg("Import service stopping")
			return ctx.Err()
		}
	}
}
