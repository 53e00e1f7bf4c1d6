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

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// CreateUser inserts a user row and returns it with the assigned ID.
// User rows are normally created by the web layer after the authorization
// handshake; this method also backs tests and local tooling.
func (db *DB) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (spotify_user_id, display_name, access_token, refresh_token, token_expires_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id, created_at
	`
	err := db.conn.QueryRowContext(ctx, query,
		user.SpotifyUserID, user.DisplayName, user.AccessToken, user.RefreshToken, user.TokenExpiresAt,
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by internal ID.
func (db *DB) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	query := `
		SELECT id, spotify_user_id, display_name, access_token, refresh_token, token_expires_at, created_at
		FROM users WHERE id = ?
	`
	user, err := scanUser(db.conn.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user %d: %w", userID, err)
	}
	return user, nil
}

// ListSyncEligibleUsers returns users that have completed the authorization
// handshake (non-empty refresh token), excluding users whose checkpoint is
// paused.
func (db *DB) ListSyncEligibleUsers(ctx context.Context) ([]models.User, error) {
	query := `
		SELECT u.id, u.spotify_user_id, u.display_name, u.access_token, u.refresh_token, u.token_expires_at, u.created_at
		FROM users u
		LEFT JOIN sync_checkpoints c ON c.user_id = u.id
		WHERE u.refresh_token <> ''
		  AND (c.status IS NULL OR c.status <> ?)
		ORDER BY u.id
	`
	rows, err := db.conn.QueryContext(ctx, query, models.CheckpointPaused)
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

// UpdateUserTokens persists refreshed credentials so a restart does not
// force another refresh round-trip.
func (db *DB) UpdateUserTokens(ctx context.Context, userID int64, accessToken, refreshToken string, expiresAt *time.Time) error {
	query := `
		UPDATE users SET access_token = ?, refresh_token = ?, token_expires_at = ?
		WHERE id = ?
	`
	if _, err := db.conn.ExecContext(ctx, query, accessToken, refreshToken, expiresAt, userID); err != nil {
		return fmt.Errorf("failed to update tokens for user %d: %w", userID, err)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	var expiresAt sql.NullTime
	err := row.Scan(&user.ID, &user.SpotifyUserID, &user.DisplayName,
		&user.AccessToken, &user.RefreshToken, &expiresAt, &user.CreatedAt)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		user.TokenExpiresAt = &t
	}
	return &user, nil
}
