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

func TestRunCycleOneUserFailureDoesNotHaltOthers(t *testing.T) {
	// Two already-backfilled users polled with concurrency 1: the first
	// user's fetch blows up, the second must still be polled.
	done := baseTime
	userA := models.User{ID: 1, SpotifyUserID: "a", RefreshToken: "r"}
	userB := models.User{ID: 2, SpotifyUserID: "b", RefreshToken: "r"}
	store := newFakeStore(userA, userB)
	for _, id := range []int64{1, 2} {
		store.checkpoints[id] = &models.SyncCheckpoint{
			UserID:                 id,
			Status:                 models.CheckpointIdle,
			InitialSyncCompletedAt: &done,
		}
	}

	client := &scriptedClient{responses: []scriptedResponse{
		{err: &spotify.ServerError{Status: 500}},
		{page: historyPage(historyItem(baseTime, "Artist", "T1"))},
	}}

	cfg := testSyncConfig()
	engine := NewEngine(store, client, staticTokens{}, cfg)
	scheduler := NewScheduler(store, engine, cfg)

	scheduler.runCycle(context.Background())

	if client.calls != 2 {
		t.Fatalf("expected both users polled, got %d calls", client.calls)
	}
	if cp := store.checkpoint(1); cp.Status != models.CheckpointError {
		t.Errorf("user 1: expected error status, got %q", cp.Status)
	}
	if cp := store.checkpoint(2); cp.Status != models.CheckpointIdle || cp.LastError != nil {
		t.Errorf("user 2: expected clean idle checkpoint, got %+v", cp)
	}
}

func TestDispatchRoutesByBackfillState(t *testing.T) {
	done := baseTime
	fresh := models.User{ID: 1, SpotifyUserID: "fresh", RefreshToken: "r"}
	backfilled := models.User{ID: 2, SpotifyUserID: "done", RefreshToken: "r"}
	store := newFakeStore(fresh, backfilled)
	store.checkpoints[2] = &models.SyncCheckpoint{
		UserID:                 2,
		Status:                 models.CheckpointIdle,
		InitialSyncCompletedAt: &done,
	}

	client := &scriptedClient{}
	cfg := testSyncConfig()
	engine := NewEngine(store, client, staticTokens{}, cfg)
	scheduler := NewScheduler(store, engine, cfg)

	scheduler.runCycle(context.Background())

	if runs := store.runsOfKind(models.JobKindInitialSync); len(runs) != 1 ||
		runs[0].UserID == nil || *runs[0].UserID != 1 {
		t.Errorf("expected one initial sync run for user 1, got %+v", runs)
	}
	if runs := store.runsOfKind(models.JobKindPoll); len(runs) != 1 ||
		runs[0].UserID == nil || *runs[0].UserID != 2 {
		t.Errorf("expected one poll run for user 2, got %+v", runs)
	}
}

func TestDispatchPollsEveryoneWhenInitialDisabled(t *testing.T) {
	store := newFakeStore(models.User{ID: 1, SpotifyUserID: "u", RefreshToken: "r"})
	client := &scriptedClient{}

	cfg := testSyncConfig()
	cfg.InitialEnabled = false
	engine := NewEngine(store, client, staticTokens{}, cfg)
	scheduler := NewScheduler(store, engine, cfg)

	scheduler.runCycle(context.Background())

	if runs := store.runsOfKind(models.JobKindInitialSync); len(runs) != 0 {
		t.Errorf("expected no initial sync runs, got %d", len(runs))
	}
	if runs := store.runsOfKind(models.JobKindPoll); len(runs) != 1 {
		t.Errorf("expected one poll run, got %d", len(runs))
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	store := newFakeStore()
	cfg := testSyncConfig()
	cfg.Interval = time.Hour
	engine := NewEngine(store, &scriptedClient{}, staticTokens{}, cfg)
	scheduler := NewScheduler(store, engine, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- scheduler.Serve(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("scheduler did not stop promptly after cancellation")
	}
}
