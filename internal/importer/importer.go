// Soundkeep - Listening History Sync and Archive Ingestion
// Copyright 2026 Soundkeep contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundkeep/soundkeep

// Package importer processes uploaded export archives: it claims pending
// import jobs, streams their contents through the archive parser, and
// ingests the normalized records batch by batch.
package importer

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soundkeep/soundkeep/internal/archive"
	"github.com/soundkeep/soundkeep/internal/config"
	"github.com/soundkeep/soundkeep/internal/logging"
	"github.com/soundkeep/soundkeep/internal/metrics"
	"github.com/soundkeep/soundkeep/internal/models"
)

// pendingBatchLimit bounds how many jobs one pass picks up.
const pendingBatchLimit = 100

// Store is the persistence surface the importer needs. Implemented by
// database.DB.
type Store interface {
	ListPendingImportJobs(ctx context.Context, limit int) ([]*models.ImportJob, error)
	ClaimImportJob(ctx context.Context, id uuid.UUID) (bool, error)
	CompleteImportJob(ctx context.Context, id uuid.UUID, format string, ingested int, earliest, latest *time.Time) error
	FailImportJob(ctx context.Context, id uuid.UUID, jobErr error) error
	StartJobRun(ctx context.Context, kind string, userID *int64, importJobID *uuid.UUID) (*models.JobRun, error)
	FinishJobRun(ctx context.Context, run *models.JobRun, status string, runErr error) error
	IngestPlays(ctx context.Context, userID int64, plays []models.PlayInput) (inserted, skipped int, err error)
}

// Importer drives archive import jobs to a terminal state.
type Importer struct {
	store Store
	cfg   *config.ImportConfig
}

// New creates an importer.
func New(store Store, cfg *config.ImportConfig) *Importer {
	return &Importer{store: store, cfg: cfg}
}

// ProcessPendingImports claims and processes every currently pending job,
// returning how many this instance actually processed. Jobs claimed by a
// concurrent instance are skipped silently; one job's failure never stops
// the rest.
func (im *Importer) ProcessPendingImports(ctx context.Context) (int, error) {
	jobs, err := im.store.ListPendingImportJobs(ctx, pendingBatchLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending imports: %w", err)
	}

	processed := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}

		claimed, err := im.store.ClaimImportJob(ctx, job.ID)
		if err != nil {
			logging.Err(err).Str("job_id", job.ID.String()).Msg("Failed to claim import job")
			continue
		}
		if !claimed {
			continue
		}

		im.processJob(ctx, job)
		processed++
	}
	return processed, nil
}

// processJob runs one claimed job to a terminal state. All failures are
// recorded on the job and its run; nothing propagates.
func (im *Importer) processJob(ctx context.Context, job *models.ImportJob) {
	run, err := im.store.StartJobRun(ctx, models.JobKindArchiveImport, &job.UserID, &job.ID)
	if err != nil {
		logging.Err(err).Str("job_id", job.ID.String()).Msg("Failed to open import job run")
		_ = im.store.FailImportJob(ctx, job.ID, err)
		return
	}

	fail := func(jobErr error) {
		logging.Err(jobErr).
			Str("job_id", job.ID.String()).
			Str("file", job.FilePath).
			Msg("Archive import failed")
		if err := im.store.FailImportJob(ctx, job.ID, jobErr); err != nil {
			logging.Err(err).Str("job_id", job.ID.String()).Msg("Failed to mark import job failed")
		}
		_ = im.store.FinishJobRun(ctx, run, models.StatusError, jobErr)
		metrics.ImportJobs.WithLabelValues(models.StatusError).Inc()
	}

	info, err := os.Stat(job.FilePath)
	if err != nil {
		fail(fmt.Errorf("archive file unavailable: %w", err))
		return
	}
	if im.cfg.MaxFileSize > 0 && info.Size() > im.cfg.MaxFileSize {
		fail(fmt.Errorf("archive is %d bytes, exceeds limit of %d", info.Size(), im.cfg.MaxFileSize))
		return
	}

	parser := &archive.Parser{
		BatchSize:  im.cfg.BatchSize,
		MaxRecords: im.cfg.MaxRecords,
	}

	var inserted, skipped int
	var earliest, latest *time.Time

	result, err := parser.ParseFile(ctx, job.FilePath, func(batch []models.NormalizedPlay) error {
		metrics.ImportBatchSize.Observe(float64(len(batch)))
		ins, skp, err := im.store.IngestPlays(ctx, job.UserID, playInputsFromRecords(batch))
		if err != nil {
			return err
		}
		inserted += ins
		skipped += skp
		metrics.ImportRecords.WithLabelValues("inserted").Add(float64(ins))
		metrics.ImportRecords.WithLabelValues("skipped").Add(float64(skp))

		for _, rec := range batch {
			playedAt := rec.PlayedAt
			if earliest == nil || playedAt.Before(*earliest) {
				earliest = &playedAt
			}
			if latest == nil || playedAt.After(*latest) {
				latest = &playedAt
			}
		}
		return nil
	})
	if err != nil {
		fail(err)
		return
	}

	run.Fetched = result.Records + result.Discarded
	run.Inserted = inserted
	run.Skipped = skipped + result.Discarded

	if err := im.store.CompleteImportJob(ctx, job.ID, string(result.Format), inserted, earliest, latest); err != nil {
		fail(err)
		return
	}
	_ = im.store.FinishJobRun(ctx, run, models.StatusSuccess, nil)
	metrics.ImportJobs.WithLabelValues(models.StatusSuccess).Inc()

	logging.Info().
		Str("job_id", job.ID.String()).
		Str("format", string(result.Format)).
		Int("records", result.Records).
		Int("discarded", result.Discarded).
		Int("inserted", inserted).
		Int("skipped", skipped).
		Msg("Archive import completed")
}

// playInputsFromRecords converts normalized archive records into repository
// inputs. Archive identity keys are derived from lowercased names so the
// same artist or track always resolves to one catalog row regardless of
// which export it came from.
func playInputsFromRecords(records []models.NormalizedPlay) []models.PlayInput {
	inputs := make([]models.PlayInput, 0, len(records))
	for _, rec := range records {
		artistKey := archiveKey(rec.ArtistName)
		trackKey := archiveKey(rec.ArtistName + "|" + rec.TrackName)

		track := models.TrackInput{
			Name:       rec.TrackName,
			Album:      rec.AlbumName,
			SpotifyID:  rec.SpotifyTrackID,
			ArchiveKey: &trackKey,
		}

		inputs = append(inputs, models.PlayInput{
			Track:    track,
			Artists:  []models.ArtistInput{{Name: rec.ArtistName, ArchiveKey: &artistKey}},
			PlayedAt: rec.PlayedAt,
			MsPlayed: rec.MsPlayed,
			Source:   models.SourceArchive,
		})
	}
	return inputs
}

// archiveKey canonicalizes a name into a stable content-derived identity.
func archiveKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
