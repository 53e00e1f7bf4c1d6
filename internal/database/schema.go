// Soundkeep - Listening History Sync and Archive Ingestion
// Copyright 2026 Soundkeep contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundkeep/soundkeep

package database

import (
	"context"
	"fmt"
	"time"
)

// createTables creates all tables and identifier sequences. All columns are
// defined in the initial CREATE TABLE statements; there is no ALTER-based
// migration path yet.
func (db *DB) createTables() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	queries := []string{
		`CREATE SEQUENCE IF NOT EXISTS seq_users START 1`,
		`CREATE SEQUENCE IF NOT EXISTS seq_artists START 1`,
		`CREATE SEQUENCE IF NOT EXISTS seq_tracks START 1`,
		`CREATE SEQUENCE IF NOT EXISTS seq_plays START 1`,

		`CREATE TABLE IF NOT EXISTS users (
			id BIGINT PRIMARY KEY DEFAULT nextval('seq_users'),
			spotify_user_id TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL DEFAULT '',
			access_token TEXT NOT NULL DEFAULT '',
			refresh_token TEXT NOT NULL DEFAULT '',
			token_expires_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS sync_checkpoints (
			user_id BIGINT PRIMARY KEY,
			status TEXT NOT NULL DEFAULT 'idle',
			initial_sync_started_at TIMESTAMP,
			initial_sync_completed_at TIMESTAMP,
			oldest_played_at TIMESTAMP,
			last_poll_started_at TIMESTAMP,
			last_poll_completed_at TIMESTAMP,
			newest_played_at TIMESTAMP,
			last_error TEXT,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS job_runs (
			id UUID PRIMARY KEY,
			kind TEXT NOT NULL,
			user_id BIGINT,
			import_job_id UUID,
			status TEXT NOT NULL DEFAULT 'running',
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP,
			fetched INTEGER NOT NULL DEFAULT 0,
			inserted INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0,
			error TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS import_jobs (
			id UUID PRIMARY KEY,
			user_id BIGINT NOT NULL,
			file_path TEXT NOT NULL,
			file_size BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			format TEXT,
			records_ingested INTEGER NOT NULL DEFAULT 0,
			earliest_played_at TIMESTAMP,
			latest_played_at TIMESTAMP,
			error TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS artists (
			id BIGINT PRIMARY KEY DEFAULT nextval('seq_artists'),
			name TEXT NOT NULL,
			spotify_id TEXT,
			archive_key TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS tracks (
			id BIGINT PRIMARY KEY DEFAULT nextval('seq_tracks'),
			name TEXT NOT NULL,
			album TEXT,
			duration_ms INTEGER,
			spotify_id TEXT,
			archive_key TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS track_artists (
			track_id BIGINT NOT NULL,
			artist_id BIGINT NOT NULL,
			position INTEGER NOT NULL,
			PRIMARY KEY (track_id, position)
		)`,

		`CREATE TABLE IF NOT EXISTS plays (
			id BIGINT PRIMARY KEY DEFAULT nextval('seq_plays'),
			user_id BIGINT NOT NULL,
			track_id BIGINT NOT NULL,
			played_at TIMESTAMP NOT NULL,
			ms_played INTEGER,
			source TEXT NOT NULL,
			context TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, query := range queries {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return nil
}

// createIndexes creates the uniqueness and lookup indexes. The plays dedup
// index enforces the (user, played-at, track) activity-event invariant.
func (db *DB) createIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	queries := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_plays_dedup ON plays(user_id, played_at, track_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_artists_spotify_id ON artists(spotify_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_artists_archive_key ON artists(archive_key)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tracks_spotify_id ON tracks(spotify_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tracks_archive_key ON tracks(archive_key)`,
		`CREATE INDEX IF NOT EXISTS idx_plays_user_played ON plays(user_id, played_at)`,
		`CREATE INDEX IF NOT EXISTS idx_import_jobs_status ON import_jobs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_job_runs_kind ON job_runs(kind, started_at)`,
	}

	for _, query := range queries {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
	}

	return nil
}
