// Soundkeep - Listening History Sync and Archive Ingestion
// Copyright 2026 Soundkeep contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundkeep/soundkeep

package sync

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soundkeep/soundkeep/internal/config"
	"github.com/soundkeep/soundkeep/internal/logging"
	"github.com/soundkeep/soundkeep/internal/metrics"
	"github.com/soundkeep/soundkeep/internal/models"
)

// Scheduler is the top-level sync loop: every interval it selects eligible
// users and dispatches one unit of work per user under bounded concurrency.
// It implements suture.Service and runs under the supervision tree.
type Scheduler struct {
	store  Store
	engine *Engine
	cfg    *config.SyncConfig
}

// NewScheduler creates the periodic sync loop.
func NewScheduler(store Store, engine *Engine, cfg *config.SyncConfig) *Scheduler {
	return &Scheduler{store: store, engine: engine, cfg: cfg}
}

// Serve runs cycles until the context is cancelled. The inter-cycle sleep is
// chunked into one-second ticks so shutdown is honored promptly even with
// long intervals.
func (s *Scheduler) Serve(ctx context.Context) error {
	logging.Info().
		Dur("interval", s.cfg.Interval).
		Int("concurrency", s.cfg.Concurrency).
		Msg("Sync scheduler started")

	for {
		start := time.Now()
		s.runCycle(ctx)
		metrics.RecordCycle(time.Since(start))

		if err := sleepUntil(ctx, start.Add(s.cfg.Interval)); err != nil {
			logging.Info().Msg("Sync scheduler stopping")
			return err
		}
	}
}

// runCycle dispatches every eligible user once. A user's failure is logged
// and collected; it never aborts the cycle for everyone else.
func (s *Scheduler) runCycle(ctx context.Context) {
	users, err := s.store.ListSyncEligibleUsers(ctx)
	if err != nil {
		logging.Err(err).Msg("Failed to list sync-eligible users")
		return
	}
	if len(users) == 0 {
		return
	}

	g := &errgroup.Group{}
	g.SetLimit(s.cfg.Concurrency)

	for i := range users {
		user := users[i]
		g.Go(func() error {
			if err := s.dispatch(ctx, &user); err != nil {
				logging.Err(err).Int64("user_id", user.ID).Msg("Per-user sync failed")
			}
			// Errors are handled per user; returning them here would abort
			// the group's remaining work.
			return nil
		})
	}
	_ = g.Wait()
}

// dispatch routes one user to backfill or polling. A user whose backfill has
// completed is permanently routed to polling; while initial sync is disabled
// everyone polls.
func (s *Scheduler) dispatch(ctx context.Context, user *models.User) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	cp, err := s.store.GetOrCreateCheckpoint(ctx, user.ID)
	if err != nil {
		return err
	}

	if s.cfg.InitialEnabled && !cp.InitialSyncDone() {
		metrics.SyncUsersDispatched.WithLabelValues(models.JobKindInitialSync).Inc()
		_, _, err = s.engine.SyncUser(ctx, user)
		return err
	}

	metrics.SyncUsersDispatched.WithLabelValues(models.JobKindPoll).Inc()
	_, _, err = s.engine.PollUser(ctx, user)
	return err
}

// sleepUntil waits for the deadline in one-second increments, returning the
// context error as soon as cancellation is observed.
func sleepUntil(ctx context.Context, deadline time.Time) error {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ctx.Err()
		}
		tick := time.Second
		if remaining < tick {
			tick = remaining
		}
		select {
		case <-time.After(tick):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
