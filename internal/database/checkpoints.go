// Soundkeep - Listening History Sync and Archive Ingestion
// Copyright 2026 Soundkeep contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundkeep/soundkeep

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/soundkeep/soundkeep/internal/models"
)

// GetCheckpoint retrieves a user's sync checkpoint, or ErrNotFound if the
// user has never been synced.
func (db *DB) GetCheckpoint(ctx context.Context, userID int64) (*models.SyncCheckpoint, error) {
	query := `
		SELECT user_id, status, initial_sync_started_at, initial_sync_completed_at,
		       oldest_played_at, last_poll_started_at, last_poll_completed_at,
		       newest_played_at, last_error, updated_at
		FROM sync_checkpoints WHERE user_id = ?
	`
	cp, err := scanCheckpoint(db.conn.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get checkpoint for user %d: %w", userID, err)
	}
	return cp, nil
}

// GetOrCreateCheckpoint retrieves a user's checkpoint, creating an idle one
// lazily on the first sync attempt.
func (db *DB) GetOrCreateCheckpoint(ctx context.Context, userID int64) (*models.SyncCheckpoint, error) {
	cp, err := db.GetCheckpoint(ctx, userID)
	if err == nil {
		return cp, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	query := `INSERT INTO sync_checkpoints (user_id, status, updated_at) VALUES (?, ?, ?)`
	if _, err := db.conn.ExecContext(ctx, query, userID, models.CheckpointIdle, now); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint for user %d: %w", userID, err)
	}

	return &models.SyncCheckpoint{
		UserID:    userID,
		Status:    models.CheckpointIdle,
		UpdatedAt: now,
	}, nil
}

// UpdateCheckpoint writes the full checkpoint row. Checkpoints have a
// single writer per user per cycle, so a whole-row update is safe.
func (db *DB) UpdateCheckpoint(ctx context.Context, cp *models.SyncCheckpoint) error {
	cp.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE sync_checkpoints
		SET status = ?, initial_sync_started_at = ?, initial_sync_completed_at = ?,
		    oldest_played_at = ?, last_poll_started_at = ?, last_poll_completed_at = ?,
		    newest_played_at = ?, last_error = ?, updated_at = ?
		WHERE user_id = ?
	`
	result, err := db.conn.ExecContext(ctx, query,
		cp.Status, cp.InitialSyncStartedAt, cp.InitialSyncCompletedAt,
		cp.OldestPlayedAt, cp.LastPollStartedAt, cp.LastPollCompletedAt,
		cp.NewestPlayedAt, cp.LastError, cp.UpdatedAt, cp.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to update checkpoint for user %d: %w", cp.UserID, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("checkpoint for user %d does not exist", cp.UserID)
	}
	return nil
}

func scanCheckpoint(row rowScanner) (*models.SyncCheckpoint, error) {
	var cp models.SyncCheckpoint
	var initStarted, initCompleted, oldest, pollStarted, pollCompleted, newest sql.NullTime
	var lastError sql.NullString

	err := row.Scan(&cp.UserID, &cp.Status, &initStarted, &initCompleted,
		&oldest, &pollStarted, &pollCompleted, &newest, &lastError, &cp.UpdatedAt)
	if err != nil {
		return nil, err
	}

	cp.InitialSyncStartedAt = timePtr(initStarted)
	cp.InitialSyncCompletedAt = timePtr(initCompleted)
	cp.OldestPlayedAt = timePtr(oldest)
	cp.LastPollStartedAt = timePtr(pollStarted)
	cp.LastPollCompletedAt = timePtr(pollCompleted)
	cp.NewestPlayedAt = timePtr(newest)
	if lastError.Valid {
		s := lastError.String
		cp.LastError = &s
	}
	return &cp, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
