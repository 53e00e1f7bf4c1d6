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

// Catalog upserts implement a dual-key identity model: rows may carry a
// spotify_id (from the live API), an archive_key (derived from export
// content), or both. Matching order is spotify_id, then archive_key, then an
// exact-name fallback used only for inputs that carry no key at all. A match
// fills in whichever key the row was missing, so an artist first seen in an
// archive and later seen through the API converges on one row.
//
// Metadata authority: api-sourced inputs always refresh the display fields;
// archive-sourced inputs refresh them only while the row has never been seen
// through the API (spotify_id IS NULL).

type catalogRow struct {
	id        int64
	spotifyID sql.NullString
	archiveKy sql.NullString
}

// upsertArtistTx resolves an artist input to a catalog row ID inside an open
// transaction, creating the row if nothing matches. Callers must hold
// db.catalogMu for the lifetime of the transaction.
func (db *DB) upsertArtistTx(ctx context.Context, tx *sql.Tx, in models.ArtistInput, source string) (int64, error) {
	row, err := findCatalogRow(ctx, tx, "artists", in.SpotifyID, in.ArchiveKey, in.Name)
	if err != nil {
		return 0, fmt.Errorf("failed to match artist %q: %w", in.Name, err)
	}

	if row == nil {
		var id int64
		err := tx.QueryRowContext(ctx,
			`INSERT INTO artists (name, spotify_id, archive_key) VALUES (?, ?, ?) RETURNING id`,
			in.Name, in.SpotifyID, in.ArchiveKey,
		).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("failed to insert artist %q: %w", in.Name, err)
		}
		return id, nil
	}

	spotifyID, archiveKey := mergeKeys(row, in.SpotifyID, in.ArchiveKey)
	if source == models.SourceAPI || !row.spotifyID.Valid {
		_, err = tx.ExecContext(ctx,
			`UPDATE artists SET name = ?, spotify_id = ?, archive_key = ?, updated_at = ? WHERE id = ?`,
			in.Name, spotifyID, archiveKey, time.Now().UTC(), row.id)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE artists SET spotify_id = ?, archive_key = ?, updated_at = ? WHERE id = ?`,
			spotifyID, archiveKey, time.Now().UTC(), row.id)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to update artist %q: %w", in.Name, err)
	}
	return row.id, nil
}

// upsertTrackTx resolves a track input to a catalog row ID inside an open
// transaction. Same matching and authority rules as upsertArtistTx.
func (db *DB) upsertTrackTx(ctx context.Context, tx *sql.Tx, in models.TrackInput, source string) (int64, error) {
	row, err := findCatalogRow(ctx, tx, "tracks", in.SpotifyID, in.ArchiveKey, in.Name)
	if err != nil {
		return 0, fmt.Errorf("failed to match track %q: %w", in.Name, err)
	}

	if row == nil {
		var id int64
		err := tx.QueryRowContext(ctx,
			`INSERT INTO tracks (name, album, duration_ms, spotify_id, archive_key)
			 VALUES (?, ?, ?, ?, ?) RETURNING id`,
			in.Name, in.Album, in.DurationMs, in.SpotifyID, in.ArchiveKey,
		).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("failed to insert track %q: %w", in.Name, err)
		}
		return id, nil
	}

	spotifyID, archiveKey := mergeKeys(row, in.SpotifyID, in.ArchiveKey)
	if source == models.SourceAPI || !row.spotifyID.Valid {
		_, err = tx.ExecContext(ctx,
			`UPDATE tracks SET name = ?, album = ?, duration_ms = ?,
			         spotify_id = ?, archive_key = ?, updated_at = ?
			 WHERE id = ?`,
			in.Name, in.Album, in.DurationMs, spotifyID, archiveKey, time.Now().UTC(), row.id)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE tracks SET spotify_id = ?, archive_key = ?, updated_at = ? WHERE id = ?`,
			spotifyID, archiveKey, time.Now().UTC(), row.id)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to update track %q: %w", in.Name, err)
	}
	return row.id, nil
}

// linkTrackArtistsTx records the ordered artist credits for a track. Existing
// credits are replaced wholesale; ordering comes from the input slice.
func (db *DB) linkTrackArtistsTx(ctx context.Context, tx *sql.Tx, trackID int64, artistIDs []int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM track_artists WHERE track_id = ?`, trackID); err != nil {
		return fmt.Errorf("failed to clear track artists for track %d: %w", trackID, err)
	}
	for i, artistID := range artistIDs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO track_artists (track_id, artist_id, position) VALUES (?, ?, ?)`,
			trackID, artistID, i)
		if err != nil {
			return fmt.Errorf("failed to link artist %d to track %d: %w", artistID, trackID, err)
		}
	}
	return nil
}

// GetArtistByName looks up an artist by display name. Intended for tests and
// ad-hoc inspection; matching during ingestion goes through the keyed paths.
func (db *DB) GetArtistByName(ctx context.Context, name string) (*models.Artist, error) {
	var a models.Artist
	var spotifyID, archiveKey sql.NullString
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, name, spotify_id, archive_key, created_at, updated_at
		 FROM artists WHERE name = ?`, name,
	).Scan(&a.ID, &a.Name, &spotifyID, &archiveKey, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get artist %q: %w", name, err)
	}
	a.SpotifyID = nullStringPtr(spotifyID)
	a.ArchiveKey = nullStringPtr(archiveKey)
	return &a, nil
}

// GetTrackByName looks up a track by display name.
func (db *DB) GetTrackByName(ctx context.Context, name string) (*models.Track, error) {
	var t models.Track
	var album, spotifyID, archiveKey sql.NullString
	var durationMs sql.NullInt64
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, name, album, duration_ms, spotify_id, archive_key, created_at, updated_at
		 FROM tracks WHERE name = ?`, name,
	).Scan(&t.ID, &t.Name, &album, &durationMs, &spotifyID, &archiveKey, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get track %q: %w", name, err)
	}
	t.Album = nullStringPtr(album)
	if durationMs.Valid {
		v := int(durationMs.Int64)
		t.DurationMs = &v
	}
	t.SpotifyID = nullStringPtr(spotifyID)
	t.ArchiveKey = nullStringPtr(archiveKey)
	return &t, nil
}

// findCatalogRow matches an input against an existing catalog row, trying
// spotify_id, then archive_key. The name fallback applies only to keyless
// inputs: a keyed input that misses on both keys is a new identity even when
// a same-named row exists.
func findCatalogRow(ctx context.Context, tx *sql.Tx, table string, spotifyID, archiveKey *string, name string) (*catalogRow, error) {
	query := `SELECT id, spotify_id, archive_key FROM ` + table + ` WHERE `

	scan := func(clause string, arg any) (*catalogRow, error) {
		var row catalogRow
		err := tx.QueryRowContext(ctx, query+clause, arg).Scan(&row.id, &row.spotifyID, &row.archiveKy)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &row, nil
	}

	if spotifyID != nil {
		row, err := scan("spotify_id = ?", *spotifyID)
		if row != nil || err != nil {
			return row, err
		}
	}
	if archiveKey != nil {
		row, err := scan("archive_key = ?", *archiveKey)
		if row != nil || err != nil {
			return row, err
		}
	}
	if spotifyID == nil && archiveKey == nil {
		return scan("name = ?", name)
	}
	return nil, nil
}

// mergeKeys keeps existing keys and fills gaps from the input; a key already
// on the row is never overwritten.
func mergeKeys(row *catalogRow, spotifyID, archiveKey *string) (*string, *string) {
	outSpotify := spotifyID
	if row.spotifyID.Valid {
		s := row.spotifyID.String
		outSpotify = &s
	}
	outArchive := archiveKey
	if row.archiveKy.Valid {
		s := row.archiveKy.String
		outArchive = &s
	}
	return outSpotify, outArchive
}

func nullStringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
