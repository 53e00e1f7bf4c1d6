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

	"github.com/google/uuid"

	"github.com/soundkeep/soundkeep/internal/models"
)

// StartJobRun opens an audit record for one engine invocation. The run is
// created with status running and must be finalized exactly once with
// FinishJobRun.
func (db *DB) StartJobRun(ctx context.Context, kind string, userID *int64, importJobID *uuid.UUID) (*models.JobRun, error) {
	run := &models.JobRun{
		ID:          uuid.New(),
		Kind:        kind,
		UserID:      userID,
		ImportJobID: importJobID,
		Status:      models.StatusRunning,
		StartedAt:   time.Now().UTC(),
	}

	query := `
		INSERT INTO job_runs (id, kind, user_id, import_job_id, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := db.conn.ExecContext(ctx, query,
		run.ID, run.Kind, run.UserID, run.ImportJobID, run.Status, run.StartedAt); err != nil {
		return nil, fmt.Errorf("failed to start job run: %w", err)
	}
	return run, nil
}

// FinishJobRun finalizes a run with its terminal status and counters.
// Runs are immutable after finalization; a second call is rejected.
func (db *DB) FinishJobRun(ctx context.Context, run *models.JobRun, status string, runErr error) error {
	now := time.Now().UTC()
	run.Status = status
	run.FinishedAt = &now
	if runErr != nil {
		msg := models.TruncateError(runErr)
		run.Error = &msg
	}

	query := `
		UPDATE job_runs
		SET status = ?, finished_at = ?, fetched = ?, inserted = ?, skipped = ?, error = ?
		WHERE id = ? AND status = ?
	`
	result, err := db.conn.ExecContext(ctx, query,
		run.Status, run.FinishedAt, run.Fetched, run.Inserted, run.Skipped, run.Error,
		run.ID, models.StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to finish job run %s: %w", run.ID, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("job run %s already finalized", run.ID)
	}
	return nil
}

// GetJobRun retrieves one audit record by ID.
func (db *DB) GetJobRun(ctx context.Context, id uuid.UUID) (*models.JobRun, error) {
	query := `
		SELECT id, kind, user_id, import_job_id, status, started_at, finished_at,
		       fetched, inserted, skipped, error
		FROM job_runs WHERE id = ?
	`
	var run models.JobRun
	var userID sql.NullInt64
	var importJobID *uuid.UUID
	var finishedAt sql.NullTime
	var errMsg sql.NullString

	err := db.conn.QueryRowContext(ctx, query, id).Scan(
		&run.ID, &run.Kind, &userID, &importJobID, &run.Status, &run.StartedAt,
		&finishedAt, &run.Fetched, &run.Inserted, &run.Skipped, &errMsg,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job run %s: %w", id, err)
	}

	if userID.Valid {
		v := userID.Int64
		run.UserID = &v
	}
	run.ImportJobID = importJobID
	run.FinishedAt = timePtr(finishedAt)
	if errMsg.Valid {
		s := errMsg.String
		run.Error = &s
	}
	return &run, nil
}
