// Soundkeep - Listening History Sync and Archive Ingestion
// Copyright 2026 Soundkeep contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundkeep/soundkeep

package sync

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/soundkeep/soundkeep/internal/logging"
	"github.com/soundkeep/soundkeep/internal/metrics"
	"github.com/soundkeep/soundkeep/internal/models"
	"github.com/soundkeep/soundkeep/internal/spotify"
)

// stopReason records why a backfill loop ended. Every reason except
// stopRateLimited marks the backfill complete; a rate-limited run keeps its
// cursor and resumes on a later cycle.
type stopReason string

const (
	stopExhausted   stopReason = "exhausted"
	stopRateLimited stopReason = "rate-limited"
	stopNoProgress  stopReason = "no-progress"
	stopMaxLookback stopReason = "max-lookback"
	stopMaxRequests stopReason = "max-requests"
)

// SyncUser runs one initial backfill pass for a user, paging backward from
// the resume cursor (or from now on the first run) until a stop condition.
// Returns how many plays were inserted and skipped during this pass.
//
// Calling it for a user whose backfill is already complete is a no-op.
func (e *Engine) SyncUser(ctx context.Context, user *models.User) (inserted, skipped int, err error) {
	cp, err := e.store.GetOrCreateCheckpoint(ctx, user.ID)
	if err != nil {
		return 0, 0, err
	}
	if cp.InitialSyncDone() {
		return 0, 0, nil
	}

	run, err := e.store.StartJobRun(ctx, models.JobKindInitialSync, &user.ID, nil)
	if err != nil {
		return 0, 0, err
	}

	now := time.Now().UTC()
	cp.Status = models.CheckpointSyncing
	cp.LastError = nil
	if cp.InitialSyncStartedAt == nil {
		cp.InitialSyncStartedAt = &now
	}
	if err := e.store.UpdateCheckpoint(ctx, cp); err != nil {
		_ = e.store.FinishJobRun(ctx, run, models.StatusError, err)
		return 0, 0, err
	}

	reason, loopErr := e.backfill(ctx, user, cp, run)
	if loopErr != nil {
		msg := models.TruncateError(loopErr)
		cp.Status = models.CheckpointError
		cp.LastError = &msg
		if cpErr := e.store.UpdateCheckpoint(ctx, cp); cpErr != nil {
			logging.Err(cpErr).Int64("user_id", user.ID).Msg("Failed to record backfill failure on checkpoint")
		}
		_ = e.store.FinishJobRun(ctx, run, models.StatusError, loopErr)
		metrics.SyncErrors.WithLabelValues(models.JobKindInitialSync).Inc()
		return run.Inserted, run.Skipped, loopErr
	}

	cp.Status = models.CheckpointIdle
	cp.LastError = nil
	if reason != stopRateLimited {
		done := time.Now().UTC()
		cp.InitialSyncCompletedAt = &done
	}
	if err := e.store.UpdateCheckpoint(ctx, cp); err != nil {
		_ = e.store.FinishJobRun(ctx, run, models.StatusError, err)
		return run.Inserted, run.Skipped, err
	}
	if err := e.store.FinishJobRun(ctx, run, models.StatusSuccess, nil); err != nil {
		return run.Inserted, run.Skipped, err
	}

	logging.Info().
		Int64("user_id", user.ID).
		Str("stop_reason", string(reason)).
		Int("fetched", run.Fetched).
		Int("inserted", run.Inserted).
		Int("skipped", run.Skipped).
		Bool("complete", cp.InitialSyncDone()).
		Msg("Initial sync pass finished")

	return run.Inserted, run.Skipped, nil
}

// backfill is the paging loop. It mutates cp's progress fields and run's
// counters as it goes; the caller persists the terminal state.
func (e *Engine) backfill(ctx context.Context, user *models.User, cp *models.SyncCheckpoint, run *models.JobRun) (stopReason, error) {
	token := e.tokens.TokenFor(user)
	cursor := cp.OldestPlayedAt

	var lookbackFloor *time.Time
	if e.cfg.LookbackDays > 0 {
		floor := time.Now().UTC().AddDate(0, 0, -e.cfg.LookbackDays)
		lookbackFloor = &floor
	}

	for requests := 0; ; requests++ {
		page, err := e.client.GetRecentlyPlayed(ctx, token, e.cfg.PageSize, cursor, nil)
		if err != nil {
			if spotify.IsRateLimited(err) {
				return stopRateLimited, nil
			}
			return "", fmt.Errorf("history fetch before %s failed: %w", cursorLabel(cursor), err)
		}
		run.Fetched += len(page.Items)

		if len(page.Items) == 0 {
			return stopExhausted, nil
		}

		ins, skp, err := e.store.IngestPlays(ctx, user.ID, playInputsFromItems(page.Items))
		if err != nil {
			return "", err
		}
		run.Inserted += ins
		run.Skipped += skp
		metrics.SyncRecords.WithLabelValues(models.JobKindInitialSync, "inserted").Add(float64(ins))
		metrics.SyncRecords.WithLabelValues(models.JobKindInitialSync, "skipped").Add(float64(skp))

		pageOldest := oldestPlayedAt(page.Items)
		pageNewest := newestPlayedAt(page.Items)
		if cp.NewestPlayedAt == nil || pageNewest.After(*cp.NewestPlayedAt) {
			cp.NewestPlayedAt = &pageNewest
		}

		// A page whose oldest item is not strictly older than the previous
		// page's means the cursor has stopped moving; without this check a
		// degenerate upstream cursor would loop forever. Note the current
		// page has already been ingested at this point.
		noProgress := cursor != nil && !pageOldest.Before(*cursor)

		cp.OldestPlayedAt = &pageOldest
		if err := e.store.UpdateCheckpoint(ctx, cp); err != nil {
			return "", err
		}

		// A short page does not end the backfill; only an empty page
		// counts as exhausted, so the loop keeps paging past it.
		switch {
		case noProgress:
			return stopNoProgress, nil
		case lookbackFloor != nil && pageOldest.Before(*lookbackFloor):
			return stopMaxLookback, nil
		case requests+1 >= e.cfg.MaxRequests:
			return stopMaxRequests, nil
		}

		cursor = &pageOldest
	}
}

func oldestPlayedAt(items []spotify.PlayHistoryItem) time.Time {
	oldest := items[0].PlayedAt
	for _, item := range items[1:] {
		if item.PlayedAt.Before(oldest) {
			oldest = item.PlayedAt
		}
	}
	return oldest.UTC()
}

func newestPlayedAt(items []spotify.PlayHistoryItem) time.Time {
	newest := items[0].PlayedAt
	for _, item := range items[1:] {
		if item.PlayedAt.After(newest) {
			newest = item.PlayedAt
		}
	}
	return newest.UTC()
}

func cursorLabel(cursor *time.Time) string {
	if cursor == nil {
		return "now"
	}
	return strconv.FormatInt(cursor.UnixMilli(), 10)
}
