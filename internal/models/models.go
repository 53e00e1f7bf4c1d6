// Soundkeep - Listening History Sync and Archive Ingestion
// Copyright 2026 Soundkeep contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundkeep/soundkeep

// Package models defines the persistent and transient data types shared by
// the sync engines, the archive importer, and the database layer.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Checkpoint status values. A paused checkpoint freezes both initial sync
// and polling for that user; error records the last engine failure.
const (
	CheckpointIdle    = "idle"
	CheckpointPaused  = "paused"
	CheckpointSyncing = "syncing"
	CheckpointError   = "error"
)

// Job run kinds.
const (
	JobKindInitialSync   = "initial_sync"
	JobKindPoll          = "poll"
	JobKindArchiveImport = "archive_import"
)

// Job run and import job status values.
const (
	StatusRunning    = "running"
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusSuccess    = "success"
	StatusError      = "error"
)

// Play sources, ordered by authority: api-sourced metadata wins over
// archive-sourced metadata when both have been seen for the same track.
const (
	SourceAPI     = "api"
	SourceArchive = "archive"
)

// User is an account that has (or is completing) the external authorization
// handshake. A non-empty RefreshToken marks the handshake as complete and
// makes the user eligible for sync scheduling.
type User struct {
	ID             int64
	SpotifyUserID  string
	DisplayName    string
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt *time.Time
	CreatedAt      time.Time
}

// SyncCheckpoint is the durable per-user progress record for the sync
// engines. At most one row exists per user; it is created lazily on the
// first sync attempt.
type SyncCheckpoint struct {
	UserID                 int64
	Status                 string
	InitialSyncStartedAt   *time.Time
	InitialSyncCompletedAt *time.Time
	OldestPlayedAt         *time.Time
	LastPollStartedAt      *time.Time
	LastPollCompletedAt    *time.Time
	NewestPlayedAt         *time.Time
	LastError              *string
	UpdatedAt              time.Time
}

// InitialSyncDone reports whether the one-time historical backfill has
// finished for this user. Once set, the user is permanently routed to
// polling.
func (c *SyncCheckpoint) InitialSyncDone() bool {
	return c.InitialSyncCompletedAt != nil
}

// JobRun is an append-only audit record of one engine invocation.
// It is opened with status running and finalized exactly once.
type JobRun struct {
	ID          uuid.UUID
	Kind        string
	UserID      *int64
	ImportJobID *uuid.UUID
	Status      string
	StartedAt   time.Time
	FinishedAt  *time.Time
	Fetched     int
	Inserted    int
	Skipped     int
	Error       *string
}

// ImportJob tracks one uploaded archive through its lifecycle. The
// pending->processing transition is a compare-and-swap claim; processing
// ends in a terminal success or error state.
type ImportJob struct {
	ID               uuid.UUID
	UserID           int64
	FilePath         string
	FileSize         int64
	Status           string
	Format           *string
	RecordsIngested  int
	EarliestPlayedAt *time.Time
	LatestPlayedAt   *time.Time
	Error            *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Artist is a durable catalog entity. SpotifyID comes from the live API,
// ArchiveKey is derived from archive content; either key alone is enough to
// match an existing row and both may coexist.
type Artist struct {
	ID         int64
	Name       string
	SpotifyID  *string
	ArchiveKey *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Track is a durable catalog entity with the same dual-key identity model
// as Artist.
type Track struct {
	ID         int64
	Name       string
	Album      *string
	DurationMs *int
	SpotifyID  *string
	ArchiveKey *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Play is one activity event. The (UserID, PlayedAt, TrackID) triple is
// unique; re-observing it is a skip, never an error.
type Play struct {
	ID        int64
	UserID    int64
	TrackID   int64
	PlayedAt  time.Time
	MsPlayed  *int
	Source    string
	Context   *string
	CreatedAt time.Time
}

// NormalizedPlay is the canonical value object produced by the archive
// normalizers and consumed immediately by the repository. It has no
// identity beyond its fields.
type NormalizedPlay struct {
	TrackName      string
	ArtistName     string
	AlbumName      *string
	MsPlayed       *int
	PlayedAt       time.Time
	SpotifyTrackID *string
}

// ArtistInput describes an artist reference arriving from either source,
// ready for catalog upsert.
type ArtistInput struct {
	Name       string
	SpotifyID  *string
	ArchiveKey *string
}

// TrackInput describes a track reference arriving from either source.
type TrackInput struct {
	Name       string
	Album      *string
	DurationMs *int
	SpotifyID  *string
	ArchiveKey *string
}

// PlayInput is one activity event plus the catalog references it carries.
// Source must be SourceAPI or SourceArchive; it decides metadata authority
// during upsert.
type PlayInput struct {
	Track    TrackInput
	Artists  []ArtistInput
	PlayedAt time.Time
	MsPlayed *int
	Source   string
	Context  *string
}

// TruncateError shortens an error message for storage on checkpoint and job
// rows. Messages are capped so a pathological upstream error cannot bloat
// the row.
func TruncateError(err error) string {
	const maxLen = 500
	msg := err.Error()
	if len(msg) > maxLen {
		return msg[:maxLen]
	}
	return msg
}
