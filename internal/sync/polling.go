// Soundkeep - Listening History Sync and Archive Ingestion
// Copyright 2026 Soundkeep contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundkeep/soundkeep

package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/soundkeep/soundkeep/internal/logging"
	"github.com/soundkeep/soundkeep/internal/metrics"
	"github.com/soundkeep/soundkeep/internal/models"
)

// PollUser fetches one page of the user's most recent plays and ingests it.
// An empty page is a normal, silent outcome: the last-poll-complete timestamp
// and the newest-play watermark advance only when the page had items, and the
// watermark only ever moves forward.
func (e *Engine) PollUser(ctx context.Context, user *models.User) (inserted, skipped int, err error) {
	cp, err := e.store.GetOrCreateCheckpoint(ctx, user.ID)
	if err != nil {
		return 0, 0, err
	}

	run, err := e.store.StartJobRun(ctx, models.JobKindPoll, &user.ID, nil)
	if err != nil {
		return 0, 0, err
	}

	now := time.Now().UTC()
	cp.LastPollStartedAt = &now
	if err := e.store.UpdateCheckpoint(ctx, cp); err != nil {
		_ = e.store.FinishJobRun(ctx, run, models.StatusError, err)
		return 0, 0, err
	}

	inserted, skipped, err = e.pollOnce(ctx, user, cp, run)
	if err != nil {
		msg := models.TruncateError(err)
		cp.Status = models.CheckpointError
		cp.LastError = &msg
		if cpErr := e.store.UpdateCheckpoint(ctx, cp); cpErr != nil {
			logging.Err(cpErr).Int64("user_id", user.ID).Msg("Failed to record poll failure on checkpoint")
		}
		_ = e.store.FinishJobRun(ctx, run, models.StatusError, err)
		metrics.SyncErrors.WithLabelValues(models.JobKindPoll).Inc()
		return inserted, skipped, err
	}

	cp.Status = models.CheckpointIdle
	cp.LastError = nil
	if err := e.store.UpdateCheckpoint(ctx, cp); err != nil {
		_ = e.store.FinishJobRun(ctx, run, models.StatusError, err)
		return inserted, skipped, err
	}
	if err := e.store.FinishJobRun(ctx, run, models.StatusSuccess, nil); err != nil {
		return inserted, skipped, err
	}
	return inserted, skipped, nil
}

func (e *Engine) pollOnce(ctx context.Context, user *models.User, cp *models.SyncCheckpoint, run *models.JobRun) (int, int, error) {
	token := e.tokens.TokenFor(user)

	page, err := e.client.GetRecentlyPlayed(ctx, token, e.cfg.PageSize, nil, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("recent history fetch failed: %w", err)
	}
	run.Fetched = len(page.Items)
	if len(page.Items) == 0 {
		return 0, 0, nil
	}

	inserted, skipped, err := e.store.IngestPlays(ctx, user.ID, playInputsFromItems(page.Items))
	if err != nil {
		return 0, 0, err
	}
	run.Inserted = inserted
	run.Skipped = skipped
	metrics.SyncRecords.WithLabelValues(models.JobKindPoll, "inserted").Add(float64(inserted))
	metrics.SyncRecords.WithLabelValues(models.JobKindPoll, "skipped").Add(float64(skipped))

	if newest := newestPlayedAt(page.Items); cp.NewestPlayedAt == nil || newest.After(*cp.NewestPlayedAt) {
		cp.NewestPlayedAt = &newest
	}
	done := time.Now().UTC()
	cp.LastPollCompletedAt = &done

	logging.Debug().
		Int64("user_id", user.ID).
		Int("inserted", inserted).
		Int("skipped", skipped).
		Msg("Poll pass finished")

	return inserted, skipped, nil
}
