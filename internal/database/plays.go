// Soundkeep - Listening History Sync and Archive Ingestion
// Copyright 2026 Soundkeep contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundkeep/soundkeep

package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/soundkeep/soundkeep/internal/logging"
	"github.com/soundkeep/soundkeep/internal/metrics"
	"github.com/soundkeep/soundkeep/internal/models"
)

// IngestPlays writes one batch of play events for a user. The whole batch
// runs in a single transaction under the catalog mutex, so concurrent engines
// cannot race on get-or-create of the same artist or track. Returns how many
// plays were inserted and how many were skipped as duplicates.
//
// Re-observing a (user, played_at, track) triple is a skip, never an error;
// the same batch can be ingested any number of times with the same end state.
func (db *DB) IngestPlays(ctx context.Context, userID int64, plays []models.PlayInput) (inserted, skipped int, err error) {
	if len(plays) == 0 {
		return 0, 0, nil
	}

	db.catalogMu.Lock()
	defer db.catalogMu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin ingest transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, play := range plays {
		var artistIDs []int64
		for _, artist := range play.Artists {
			artistID, err := db.upsertArtistTx(ctx, tx, artist, play.Source)
			if err != nil {
				metrics.DBQueryErrors.WithLabelValues("upsert_artist").Inc()
				return 0, 0, err
			}
			artistIDs = append(artistIDs, artistID)
		}

		trackID, err := db.upsertTrackTx(ctx, tx, play.Track, play.Source)
		if err != nil {
			metrics.DBQueryErrors.WithLabelValues("upsert_track").Inc()
			return 0, 0, err
		}
		if len(artistIDs) > 0 {
			if err := db.linkTrackArtistsTx(ctx, tx, trackID, artistIDs); err != nil {
				metrics.DBQueryErrors.WithLabelValues("link_track_artists").Inc()
				return 0, 0, err
			}
		}

		ok, err := insertPlayTx(ctx, tx, userID, trackID, play)
		if err != nil {
			metrics.DBQueryErrors.WithLabelValues("insert_play").Inc()
			return 0, 0, err
		}
		if ok {
			inserted++
		} else {
			skipped++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit ingest transaction: %w", err)
	}

	logging.Debug().
		Int64("user_id", userID).
		Int("inserted", inserted).
		Int("skipped", skipped).
		Msg("Ingested play batch")

	return inserted, skipped, nil
}

// insertPlayTx writes one play row. ON CONFLICT DO NOTHING against the dedup
// index turns duplicates into zero affected rows, which is how we tell an
// insert from a skip.
func insertPlayTx(ctx context.Context, tx *sql.Tx, userID, trackID int64, play models.PlayInput) (bool, error) {
	result, err := tx.ExecContext(ctx, `
		INSERT INTO plays (user_id, track_id, played_at, ms_played, source, context)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, userID, trackID, play.PlayedAt.UTC(), play.MsPlayed, play.Source, play.Context)
	if err != nil {
		return false, fmt.Errorf("failed to insert play: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return n > 0, nil
}

// CountPlays returns the number of stored plays for a user.
func (db *DB) CountPlays(ctx context.Context, userID int64) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM plays WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count plays for user %d: %w", userID, err)
	}
	return count, nil
}
