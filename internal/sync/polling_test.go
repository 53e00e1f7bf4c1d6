// Soundkeep - Listening History Sync and Archive Ingestion
// Copyright 2026 Soundkeep contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundkeep/soundkeep

package sync

import (
	"context"
	"testing"
	"time"

	"github.com/soundkeep/soundkeep/internal/models"
	"github.com/soundkeep/soundkeep/internal/spotify"
)

func TestPollUserIdempotence(t *testing.T) {
	// The same two-item page served twice: first call inserts both,
	// second call skips both.
	page := func() *spotify.RecentlyPlayedPage {
		return historyPage(
			historyItem(baseTime, "Artist", "T1"),
			historyItem(baseTime.Add(-time.Minute), "Artist", "T2"),
		)
	}
	client := &scriptedClient{responses: []scriptedResponse{
		{page: page()},
		{page: page()},
	}}

	store := newFakeStore(*testUser())
	engine := NewEngine(store, client, staticTokens{}, testSyncConfig())

	inserted, skipped, err := engine.PollUser(context.Background(), testUser())
	if err != nil {
		t.Fatalf("first poll failed: %v", err)
	}
	if inserted != 2 || skipped != 0 {
		t.Errorf("first poll: expected (2, 0), got (%d, %d)", inserted, skipped)
	}

	inserted, skipped, err = engine.PollUser(context.Background(), testUser())
	if err != nil {
		t.Fatalf("second poll failed: %v", err)
	}
	if inserted != 0 || skipped != 2 {
		t.Errorf("second poll: expected (0, 2), got (%d, %d)", inserted, skipped)
	}

	runs := store.runsOfKind(models.JobKindPoll)
	if len(runs) != 2 {
		t.Fatalf("expected 2 poll runs, got %d", len(runs))
	}
	for _, run := range runs {
		if run.Status != models.StatusSuccess {
			t.Errorf("run status: expected success, got %q", run.Status)
		}
	}
	if store.checkpoint(1).LastPollCompletedAt == nil {
		t.Error("last-poll-complete should advance for a non-empty page")
	}
}

func TestPollUserEmptyPageIsSilent(t *testing.T) {
	client := &scriptedClient{}
	store := newFakeStore(*testUser())
	engine := NewEngine(store, client, staticTokens{}, testSyncConfig())

	inserted, skipped, err := engine.PollUser(context.Background(), testUser())
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if inserted != 0 || skipped != 0 {
		t.Errorf("expected (0, 0), got (%d, %d)", inserted, skipped)
	}

	cp := store.checkpoint(1)
	if cp.Status != models.CheckpointIdle {
		t.Errorf("status: expected idle, got %q", cp.Status)
	}
	if cp.LastPollStartedAt == nil {
		t.Error("poll start should be recorded even for an empty page")
	}
	if cp.LastPollCompletedAt != nil {
		t.Errorf("last-poll-complete must not advance on an empty page, got %v", cp.LastPollCompletedAt)
	}
	if cp.NewestPlayedAt != nil {
		t.Errorf("newest watermark should stay unset, got %v", cp.NewestPlayedAt)
	}
}

func TestPollUserNewestWatermarkIsMonotonic(t *testing.T) {
	store := newFakeStore(*testUser())
	newest := baseTime.Add(time.Hour)
	store.checkpoints[1] = &models.SyncCheckpoint{
		UserID:         1,
		Status:         models.CheckpointIdle,
		NewestPlayedAt: &newest,
	}

	// The page only has items older than the stored watermark.
	client := &scriptedClient{responses: []scriptedResponse{
		{page: historyPage(historyItem(baseTime, "Artist", "Old"))},
	}}
	engine := NewEngine(store, client, staticTokens{}, testSyncConfig())

	if _, _, err := engine.PollUser(context.Background(), testUser()); err != nil {
		t.Fatalf("poll failed: %v", err)
	}

	cp := store.checkpoint(1)
	if cp.NewestPlayedAt == nil || !cp.NewestPlayedAt.Equal(newest) {
		t.Errorf("watermark moved backward: expected %v, got %v", newest, cp.NewestPlayedAt)
	}
}

func TestPollUserFailureRecordsError(t *testing.T) {
	client := &scriptedClient{responses: []scriptedResponse{
		{err: &spotify.RateLimitError{RetryAfter: time.Second}},
	}}
	store := newFakeStore(*testUser())
	engine := NewEngine(store, client, staticTokens{}, testSyncConfig())

	_, _, err := engine.PollUser(context.Background(), testUser())
	if err == nil {
		t.Fatal("polling treats exhausted rate limits as a failed invocation")
	}

	cp := store.checkpoint(1)
	if cp.Status != models.CheckpointError || cp.LastError == nil {
		t.Errorf("checkpoint should record the failure, got status=%q", cp.Status)
	}
}
