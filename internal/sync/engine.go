// Soundkeep - Listening History Sync and Archive Ingestion
// Copyright 2026 Soundkeep contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundkeep/soundkeep

// Package sync implements the per-user history engines: the one-time initial
// backfill that pages backward through the live API, the ongoing poller that
// catches new plays, and the scheduler that dispatches both under bounded
// concurrency.
package sync

import (
	"context"

	"github.com/google/uuid"

	"github.com/soundkeep/soundkeep/internal/config"
	"github.com/soundkeep/soundkeep/internal/models"
	"github.com/soundkeep/soundkeep/internal/spotify"
)

// Store is the persistence surface the engines need. Implemented by
// database.DB; tests substitute an in-memory fake.
type Store interface {
	ListSyncEligibleUsers(ctx context.Context) ([]models.User, error)
	GetOrCreateCheckpoint(ctx context.Context, userID int64) (*models.SyncCheckpoint, error)
	UpdateCheckpoint(ctx context.Context, cp *models.SyncCheckpoint) error
	IngestPlays(ctx context.Context, userID int64, plays []models.PlayInput) (inserted, skipped int, err error)
	StartJobRun(ctx context.Context, kind string, userID *int64, importJobID *uuid.UUID) (*models.JobRun, error)
	FinishJobRun(ctx context.Context, run *models.JobRun, status string, runErr error) error
}

// TokenProvider hands out per-user token closures. Implemented by
// spotify.TokenManager.
type TokenProvider interface {
	TokenFor(user *models.User) spotify.TokenFunc
}

// Engine runs initial sync and polling for individual users. Safe for
// concurrent use across distinct users; the scheduler guarantees no user is
// dispatched twice in the same cycle.
type Engine struct {
	store  Store
	client spotify.HistoryClient
	tokens TokenProvider
	cfg    *config.SyncConfig
}

// NewEngine wires an engine from its collaborators.
func NewEngine(store Store, client spotify.HistoryClient, tokens TokenProvider, cfg *config.SyncConfig) *Engine {
	return &Engine{
		store:  store,
		client: client,
		tokens: tokens,
		cfg:    cfg,
	}
}

// playInputsFromItems converts one API page into repository inputs. Items
// carry full catalog identity, so every reference gets its spotify key; the
// API does not report listen duration, so MsPlayed stays nil.
func playInputsFromItems(items []spotify.PlayHistoryItem) []models.PlayInput {
	inputs := make([]models.PlayInput, 0, len(items))
	for _, item := range items {
		track := models.TrackInput{Name: item.Track.Name}
		if item.Track.ID != "" {
			id := item.Track.ID
			track.SpotifyID = &id
		}
		if item.Track.Album.Name != "" {
			album := item.Track.Album.Name
			track.Album = &album
		}
		if item.Track.DurationMs > 0 {
			d := item.Track.DurationMs
			track.DurationMs = &d
		}

		artists := make([]models.ArtistInput, 0, len(item.Track.Artists))
		for _, a := range item.Track.Artists {
			in := models.ArtistInput{Name: a.Name}
			if a.ID != "" {
				id := a.ID
				in.SpotifyID = &id
			}
			artists = append(artists, in)
		}

		input := models.PlayInput{
			Track:    track,
			Artists:  artists,
			PlayedAt: item.PlayedAt.UTC(),
			Source:   models.SourceAPI,
		}
		if item.Context != nil && item.Context.URI != "" {
			uri := item.Context.URI
			input.Context = &uri
		}
		inputs = append(inputs, input)
	}
	return inputs
}
