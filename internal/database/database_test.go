// Soundkeep - Listening History Sync and Archive Ingestion
// Copyright 2026 Soundkeep contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundkeep/soundkeep

package database

import (
	"context"
	"testing"
	"time"

	"github.com/soundkeep/soundkeep/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewInMemory()
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close database: %v", err)
		}
	})
	return db
}

func createTestUser(t *testing.T, db *DB, spotifyUserID string) *models.User {
	t.Helper()
	user := &models.User{
		SpotifyUserID: spotifyUserID,
		DisplayName:   "Test User",
		AccessToken:   "access",
		RefreshToken:  "refresh",
	}
	if err := db.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return user
}

func strPtr(s string) *string { return &s }

func apiPlay(playedAt time.Time, artist, track, spotifyTrackID string) models.PlayInput {
	return models.PlayInput{
		Track:    models.TrackInput{Name: track, SpotifyID: strPtr(spotifyTrackID)},
		Artists:  []models.ArtistInput{{Name: artist, SpotifyID: strPtr("artist-" + artist)}},
		PlayedAt: playedAt,
		Source:   models.SourceAPI,
	}
}

func TestCreateAndGetUser(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, "spotify-abc")

	if user.ID == 0 {
		t.Fatal("user ID should be assigned")
	}
	got, err := db.GetUser(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got.SpotifyUserID != "spotify-abc" {
		t.Errorf("spotify_user_id: expected %q, got %q", "spotify-abc", got.SpotifyUserID)
	}
	if got.RefreshToken != "refresh" {
		t.Errorf("refresh_token: expected %q, got %q", "refresh", got.RefreshToken)
	}
}

func TestListSyncEligibleUsersExcludesPaused(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	active := createTestUser(t, db, "active")
	paused := createTestUser(t, db, "paused")

	// A user without a refresh token has not finished the handshake.
	pending := &models.User{SpotifyUserID: "pending"}
	if err := db.CreateUser(ctx, pending); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	cp, err := db.GetOrCreateCheckpoint(ctx, paused.ID)
	if err != nil {
		t.Fatalf("GetOrCreateCheckpoint failed: %v", err)
	}
	cp.Status = models.CheckpointPaused
	if err := db.UpdateCheckpoint(ctx, cp); err != nil {
		t.Fatalf("UpdateCheckpoint failed: %v", err)
	}

	users, err := db.ListSyncEligibleUsers(ctx)
	if err != nil {
		t.Fatalf("ListSyncEligibleUsers failed: %v", err)
	}
	if len(users) != 1 || users[0].ID != active.ID {
		t.Errorf("expected only the active user, got %+v", users)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "cp-user")

	cp, err := db.GetOrCreateCheckpoint(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetOrCreateCheckpoint failed: %v", err)
	}
	if cp.Status != models.CheckpointIdle {
		t.Errorf("new checkpoint status: expected idle, got %q", cp.Status)
	}

	started := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	oldest := started.Add(-48 * time.Hour)
	cp.Status = models.CheckpointSyncing
	cp.InitialSyncStartedAt = &started
	cp.OldestPlayedAt = &oldest
	if err := db.UpdateCheckpoint(ctx, cp); err != nil {
		t.Fatalf("UpdateCheckpoint failed: %v", err)
	}

	got, err := db.GetCheckpoint(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetCheckpoint failed: %v", err)
	}
	if got.Status != models.CheckpointSyncing {
		t.Errorf("status: expected syncing, got %q", got.Status)
	}
	if got.InitialSyncStartedAt == nil || !got.InitialSyncStartedAt.Equal(started) {
		t.Errorf("started: expected %v, got %v", started, got.InitialSyncStartedAt)
	}
	if got.OldestPlayedAt == nil || !got.OldestPlayedAt.Equal(oldest) {
		t.Errorf("oldest: expected %v, got %v", oldest, got.OldestPlayedAt)
	}
	if got.InitialSyncCompletedAt != nil {
		t.Error("completion should stay unset")
	}
}

func TestIngestPlaysDeduplicates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "dedup-user")

	playedAt := time.Date(2026, 8, 15, 20, 0, 0, 0, time.UTC)
	batch := []models.PlayInput{
		apiPlay(playedAt, "Artist", "Track", "track-1"),
		apiPlay(playedAt.Add(time.Minute), "Artist", "Other", "track-2"),
	}

	inserted, skipped, err := db.IngestPlays(ctx, user.ID, batch)
	if err != nil {
		t.Fatalf("IngestPlays failed: %v", err)
	}
	if inserted != 2 || skipped != 0 {
		t.Errorf("first batch: expected (2, 0), got (%d, %d)", inserted, skipped)
	}

	inserted, skipped, err = db.IngestPlays(ctx, user.ID, batch)
	if err != nil {
		t.Fatalf("IngestPlays failed: %v", err)
	}
	if inserted != 0 || skipped != 2 {
		t.Errorf("replayed batch: expected (0, 2), got (%d, %d)", inserted, skipped)
	}

	count, err := db.CountPlays(ctx, user.ID)
	if err != nil {
		t.Fatalf("CountPlays failed: %v", err)
	}
	if count != 2 {
		t.Errorf("plays: expected 2, got %d", count)
	}
}

func TestCatalogDualKeyConvergence(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "catalog-user")

	// First seen through an archive: only the content-derived key exists.
	archive := models.PlayInput{
		Track: models.TrackInput{
			Name:       "song title",
			ArchiveKey: strPtr("artist|song title"),
		},
		Artists:  []models.ArtistInput{{Name: "artist", ArchiveKey: strPtr("artist")}},
		PlayedAt: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
		Source:   models.SourceArchive,
	}
	if _, _, err := db.IngestPlays(ctx, user.ID, []models.PlayInput{archive}); err != nil {
		t.Fatalf("archive ingest failed: %v", err)
	}

	// Later seen through the API with a different display casing and a
	// spotify key: same row, both keys, api-authoritative name.
	api := models.PlayInput{
		Track: models.TrackInput{
			Name:       "Song Title",
			SpotifyID:  strPtr("sp-track"),
			ArchiveKey: strPtr("artist|song title"),
		},
		Artists:  []models.ArtistInput{{Name: "Artist", SpotifyID: strPtr("sp-artist"), ArchiveKey: strPtr("artist")}},
		PlayedAt: time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC),
		Source:   models.SourceAPI,
	}
	if _, _, err := db.IngestPlays(ctx, user.ID, []models.PlayInput{api}); err != nil {
		t.Fatalf("api ingest failed: %v", err)
	}

	track, err := db.GetTrackByName(ctx, "Song Title")
	if err != nil {
		t.Fatalf("GetTrackByName failed: %v", err)
	}
	if track.SpotifyID == nil || *track.SpotifyID != "sp-track" {
		t.Errorf("track spotify key: got %v", track.SpotifyID)
	}
	if track.ArchiveKey == nil || *track.ArchiveKey != "artist|song title" {
		t.Errorf("track archive key: got %v", track.ArchiveKey)
	}

	var trackCount int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM tracks`).Scan(&trackCount); err != nil {
		t.Fatalf("count tracks failed: %v", err)
	}
	if trackCount != 1 {
		t.Errorf("tracks: expected converged single row, got %d", trackCount)
	}

	artist, err := db.GetArtistByName(ctx, "Artist")
	if err != nil {
		t.Fatalf("GetArtistByName failed: %v", err)
	}
	if artist.SpotifyID == nil || *artist.SpotifyID != "sp-artist" {
		t.Errorf("artist spotify key: got %v", artist.SpotifyID)
	}
}

func TestCatalogArchiveNeverOverwritesAPIName(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "authority-user")

	api := apiPlay(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), "Artist", "Proper Name", "sp-1")
	api.Track.ArchiveKey = strPtr("artist|proper name")
	if _, _, err := db.IngestPlays(ctx, user.ID, []models.PlayInput{api}); err != nil {
		t.Fatalf("api ingest failed: %v", err)
	}

	archive := models.PlayInput{
		Track: models.TrackInput{
			Name:       "proper name (lowercased export)",
			ArchiveKey: strPtr("artist|proper name"),
		},
		Artists:  []models.ArtistInput{{Name: "artist", ArchiveKey: strPtr("artist")}},
		PlayedAt: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
		Source:   models.SourceArchive,
	}
	if _, _, err := db.IngestPlays(ctx, user.ID, []models.PlayInput{archive}); err != nil {
		t.Fatalf("archive ingest failed: %v", err)
	}

	if _, err := db.GetTrackByName(ctx, "Proper Name"); err != nil {
		t.Errorf("api-sourced name must survive archive updates: %v", err)
	}
}

func TestCatalogNameFallbackOnlyForKeylessInputs(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "fallback-user")

	keyless := models.PlayInput{
		Track:    models.TrackInput{Name: "Ambiguous"},
		Artists:  []models.ArtistInput{{Name: "Someone"}},
		PlayedAt: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC),
		Source:   models.SourceArchive,
	}
	if _, _, err := db.IngestPlays(ctx, user.ID, []models.PlayInput{keyless}); err != nil {
		t.Fatalf("keyless ingest failed: %v", err)
	}

	// A keyed input with the same name but unmatched keys is a distinct
	// identity and must create a second row.
	keyed := apiPlay(time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC), "Someone Else", "Ambiguous", "sp-other")
	if _, _, err := db.IngestPlays(ctx, user.ID, []models.PlayInput{keyed}); err != nil {
		t.Fatalf("keyed ingest failed: %v", err)
	}

	var trackCount int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM tracks WHERE name = 'Ambiguous'`).Scan(&trackCount); err != nil {
		t.Fatalf("count tracks failed: %v", err)
	}
	if trackCount != 2 {
		t.Errorf("expected 2 distinct tracks, got %d", trackCount)
	}

	// A second keyless input with the same name matches the keyless row.
	if _, _, err := db.IngestPlays(ctx, user.ID, []models.PlayInput{keyless}); err != nil {
		t.Fatalf("repeat keyless ingest failed: %v", err)
	}
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM tracks WHERE name = 'Ambiguous'`).Scan(&trackCount); err != nil {
		t.Fatalf("count tracks failed: %v", err)
	}
	if trackCount != 2 {
		t.Errorf("keyless rematch should not add rows, got %d", trackCount)
	}
}

func TestImportJobClaimIsCompareAndSwap(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "claim-user")

	job, err := db.CreateImportJob(ctx, user.ID, "/tmp/export.zip", 1024)
	if err != nil {
		t.Fatalf("CreateImportJob failed: %v", err)
	}

	claimed, err := db.ClaimImportJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if !claimed {
		t.Fatal("first claim should win")
	}

	claimed, err = db.ClaimImportJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	if claimed {
		t.Error("second claim must lose")
	}

	earliest := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	latest := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	if err := db.CompleteImportJob(ctx, job.ID, "extended", 42, &earliest, &latest); err != nil {
		t.Fatalf("CompleteImportJob failed: %v", err)
	}

	got, err := db.GetImportJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetImportJob failed: %v", err)
	}
	if got.Status != models.StatusSuccess || got.RecordsIngested != 42 {
		t.Errorf("job: expected success with 42 ingested, got %+v", got)
	}
	if got.Format == nil || *got.Format != "extended" {
		t.Errorf("format: got %v", got.Format)
	}

	// Terminal jobs never reappear in the pending queue.
	pending, err := db.ListPendingImportJobs(ctx, 10)
	if err != nil {
		t.Fatalf("ListPendingImportJobs failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected empty pending queue, got %d", len(pending))
	}
}

func TestJobRunFinalizedExactlyOnce(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "run-user")

	run, err := db.StartJobRun(ctx, models.JobKindPoll, &user.ID, nil)
	if err != nil {
		t.Fatalf("StartJobRun failed: %v", err)
	}
	run.Fetched = 5
	run.Inserted = 3
	run.Skipped = 2

	if err := db.FinishJobRun(ctx, run, models.StatusSuccess, nil); err != nil {
		t.Fatalf("FinishJobRun failed: %v", err)
	}
	if err := db.FinishJobRun(ctx, run, models.StatusError, nil); err == nil {
		t.Error("second finalization must be rejected")
	}

	got, err := db.GetJobRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetJobRun failed: %v", err)
	}
	if got.Status != models.StatusSuccess {
		t.Errorf("status: expected success, got %q", got.Status)
	}
	if got.Fetched != 5 || got.Inserted != 3 || got.Skipped != 2 {
		t.Errorf("counters: got fetched=%d inserted=%d skipped=%d", got.Fetched, got.Inserted, got.Skipped)
	}
	if got.FinishedAt == nil {
		t.Error("finished_at should be set")
	}
}
