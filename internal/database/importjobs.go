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

// CreateImportJob registers an uploaded archive for asynchronous processing.
func (db *DB) CreateImportJob(ctx context.Context, userID int64, filePath string, fileSize int64) (*models.ImportJob, error) {
	now := time.Now().UTC()
	job := &models.ImportJob{
		ID:        uuid.New(),
		UserID:    userID,
		FilePath:  filePath,
		FileSize:  fileSize,
		Status:    models.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	query := `
		INSERT INTO import_jobs (id, user_id, file_path, file_size, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := db.conn.ExecContext(ctx, query,
		job.ID, job.UserID, job.FilePath, job.FileSize, job.Status, job.CreatedAt, job.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to create import job: %w", err)
	}
	return job, nil
}

// GetImportJob retrieves one import job by ID.
func (db *DB) GetImportJob(ctx context.Context, id uuid.UUID) (*models.ImportJob, error) {
	query := `
		SELECT id, user_id, file_path, file_size, status, format, records_ingested,
		       earliest_played_at, latest_played_at, error, created_at, updated_at
		FROM import_jobs WHERE id = ?
	`
	job, err := scanImportJob(db.conn.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get import job %s: %w", id, err)
	}
	return job, nil
}

// ListPendingImportJobs returns pending jobs in creation order, oldest first.
func (db *DB) ListPendingImportJobs(ctx context.Context, limit int) ([]*models.ImportJob, error) {
	query := `
		SELECT id, user_id, file_path, file_size, status, format, records_ingested,
		       earliest_played_at, latest_played_at, error, created_at, updated_at
		FROM import_jobs
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT ?
	`
	rows, err := db.conn.QueryContext(ctx, query, models.StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending import jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*models.ImportJob
	for rows.Next() {
		job, err := scanImportJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan import job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClaimImportJob attempts the pending->processing transition for a job. The
// update is conditional on the current status, so exactly one of several
// concurrent claimants wins; the losers observe claimed == false and move on.
func (db *DB) ClaimImportJob(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE import_jobs
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	result, err := db.conn.ExecContext(ctx, query,
		models.StatusProcessing, time.Now().UTC(), id, models.StatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to claim import job %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result for import job %s: %w", id, err)
	}
	return n == 1, nil
}

// CompleteImportJob finalizes a processing job as successful, recording the
// detected format, the ingested count, and the time span of the archive.
func (db *DB) CompleteImportJob(ctx context.Context, id uuid.UUID, format string, ingested int, earliest, latest *time.Time) error {
	query := `
		UPDATE import_jobs
		SET status = ?, format = ?, records_ingested = ?,
		    earliest_played_at = ?, latest_played_at = ?, error = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`
	result, err := db.conn.ExecContext(ctx, query,
		models.StatusSuccess, format, ingested, earliest, latest, time.Now().UTC(),
		id, models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to complete import job %s: %w", id, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("import job %s is not in processing state", id)
	}
	return nil
}

// FailImportJob finalizes a processing job with a truncated error message.
func (db *DB) FailImportJob(ctx context.Context, id uuid.UUID, jobErr error) error {
	msg := models.TruncateError(jobErr)
	query := `
		UPDATE import_jobs
		SET status = ?, error = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	result, err := db.conn.ExecContext(ctx, query,
		models.StatusError, msg, time.Now().UTC(), id, models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to fail import job %s: %w", id, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("import job %s is not in processing state", id)
	}
	return nil
}

func scanImportJob(row rowScanner) (*models.ImportJob, error) {
	var job models.ImportJob
	var format, errMsg sql.NullString
	var earliest, latest sql.NullTime

	err := row.Scan(
		&job.ID, &job.UserID, &job.FilePath, &job.FileSize, &job.Status,
		&format, &job.RecordsIngested, &earliest, &latest, &errMsg,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if format.Valid {
		s := format.String
		job.Format = &s
	}
	job.EarliestPlayedAt = timePtr(earliest)
	job.LatestPlayedAt = timePtr(latest)
	if errMsg.Valid {
		s := errMsg.String
		job.Error = &s
	}
	return &job, nil
}
