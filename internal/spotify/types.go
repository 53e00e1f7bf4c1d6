// Soundkeep - Listening History Sync and Archive Ingestion
// Copyright 2026 Soundkeep contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundkeep/soundkeep

package spotify

import "time"

// RecentlyPlayedPage is one page of the recently-played endpoint. Items are
// ordered newest first; Cursors.Before is the millisecond timestamp to pass
// as the next page's before parameter.
type RecentlyPlayedPage struct {
	Items   []PlayHistoryItem `json:"items"`
	Next    string            `json:"next"`
	Cursors *PageCursors      `json:"cursors"`
	Limit   int               `json:"limit"`
}

// PageCursors carries pagination cursors as millisecond epoch strings.
type PageCursors struct {
	After  string `json:"after"`
	Before string `json:"before"`
}

// PlayHistoryItem is one playback event as reported by the live API.
type PlayHistoryItem struct {
	Track    TrackObject  `json:"track"`
	PlayedAt time.Time    `json:"played_at"`
	Context  *PlayContext `json:"context"`
}

// TrackObject is the track metadata embedded in a history item.
type TrackObject struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	DurationMs int            `json:"duration_ms"`
	Album      AlbumObject    `json:"album"`
	Artists    []ArtistObject `json:"artists"`
	URI        string         `json:"uri"`
}

// AlbumObject is the album metadata embedded in a track.
type AlbumObject struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ArtistObject is one credited artist on a track, in credit order.
type ArtistObject struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PlayContext describes where playback happened (playlist, album, ...).
type PlayContext struct {
	Type string `json:"type"`
	URI  string `json:"uri"`
}
