// Soundkeep - Listening History Sync and Archive Ingestion
// Copyright 2026 Soundkeep contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundkeep/soundkeep

package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soundkeep/soundkeep/internal/config"
	"github.com/soundkeep/soundkeep/internal/models"
	"github.com/soundkeep/soundkeep/internal/spotify"
)

// fakeStore is an in-memory Store with the same dedup semantics as the real
// repository: a (user, played_at, track) triple inserts once and skips after.
type fakeStore struct {
	mu          sync.Mutex
	users       []models.User
	checkpoints map[int64]*models.SyncCheckpoint
	runs        []*models.JobRun
	plays       map[string]bool
	ingestErr   error
}

func newFakeStore(users ...models.User) *fakeStore {
	return &fakeStore{
		users:       users,
		checkpoints: make(map[int64]*models.SyncCheckpoint),
		plays:       make(map[string]bool),
	}
}

func (s *fakeStore) ListSyncEligibleUsers(_ context.Context) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.User, len(s.users))
	copy(out, s.users)
	return out, nil
}

func (s *fakeStore) GetOrCreateCheckpoint(_ context.Context, userID int64) (*models.SyncCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cp, ok := s.checkpoints[userID]; ok {
		clone := *cp
		return &clone, nil
	}
	cp := &models.SyncCheckpoint{UserID: userID, Status: models.CheckpointIdle}
	s.checkpoints[userID] = cp
	clone := *cp
	return &clone, nil
}

func (s *fakeStore) UpdateCheckpoint(_ context.Context, cp *models.SyncCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *cp
	s.checkpoints[cp.UserID] = &clone
	return nil
}

func (s *fakeStore) IngestPlays(_ context.Context, userID int64, plays []models.PlayInput) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ingestErr != nil {
		return 0, 0, s.ingestErr
	}
	inserted, skipped := 0, 0
	for _, p := range plays {
		key := fmt.Sprintf("%d|%d|%s", userID, p.PlayedAt.UnixMilli(), p.Track.Name)
		if s.plays[key] {
			skipped++
			continue
		}
		s.plays[key] = true
		inserted++
	}
	return inserted, skipped, nil
}

func (s *fakeStore) StartJobRun(_ context.Context, kind string, userID *int64, importJobID *uuid.UUID) (*models.JobRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := &models.JobRun{
		ID:          uuid.New(),
		Kind:        kind,
		UserID:      userID,
		ImportJobID: importJobID,
		Status:      models.StatusRunning,
		StartedAt:   time.Now().UTC(),
	}
	s.runs = append(s.runs, run)
	return run, nil
}

func (s *fakeStore) FinishJobRun(_ context.Context, run *models.JobRun, status string, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.Status != models.StatusRunning {
		return fmt.Errorf("job run %s already finalized", run.ID)
	}
	now := time.Now().UTC()
	run.Status = status
	run.FinishedAt = &now
	if runErr != nil {
		msg := models.TruncateError(runErr)
		run.Error = &msg
	}
	return nil
}

func (s *fakeStore) checkpoint(userID int64) *models.SyncCheckpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoints[userID]
}

func (s *fakeStore) runsOfKind(kind string) []*models.JobRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.JobRun
	for _, r := range s.runs {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// scriptedClient replays a fixed sequence of pages and errors. Once the
// script is exhausted it serves empty pages.
type scriptedClient struct {
	mu        sync.Mutex
	responses []scriptedResponse
	calls     int
	cursors   []*time.Time
}

type scriptedResponse struct {
	page *spotify.RecentlyPlayedPage
	err  error
}

func (c *scriptedClient) GetRecentlyPlayed(_ context.Context, _ spotify.TokenFunc, _ int, before, _ *time.Time) (*spotify.RecentlyPlayedPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.cursors = append(c.cursors, before)
	if len(c.responses) == 0 {
		return &spotify.RecentlyPlayedPage{}, nil
	}
	next := c.responses[0]
	c.responses = c.responses[1:]
	return next.page, next.err
}

type staticTokens struct{}

func (staticTokens) TokenFor(_ *models.User) spotify.TokenFunc {
	return func(_ context.Context, _ bool) (string, error) { return "test-token", nil }
}

func testSyncConfig() *config.SyncConfig {
	return &config.SyncConfig{
		Enabled:        true,
		InitialEnabled: true,
		Interval:       time.Minute,
		Concurrency:    1,
		MaxRequests:    10,
		PageSize:       2,
	}
}

func historyPage(items ...spotify.PlayHistoryItem) *spotify.RecentlyPlayedPage {
	return &spotify.RecentlyPlayedPage{Items: items, Limit: 50}
}

func historyItem(playedAt time.Time, artist, track string) spotify.PlayHistoryItem {
	return spotify.PlayHistoryItem{
		PlayedAt: playedAt,
		Track: spotify.TrackObject{
			ID:      "id-" + track,
			Name:    track,
			Artists: []spotify.ArtistObject{{ID: "id-" + artist, Name: artist}},
		},
	}
}
