// Soundkeep - Listening History Sync and Archive Ingestion
// Copyright 2026 Soundkeep contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundkeep/soundkeep

package archive

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/soundkeep/soundkeep/internal/models"
)

// normalizeFunc decodes the next record from dec and converts it to a
// NormalizedPlay, reporting false for records that cannot become a play.
type normalizeFunc func(dec *json.Decoder) (models.NormalizedPlay, bool, error)

// normalizers maps each archive format to its decoder. Built once at package
// init and never mutated.
var normalizers = map[Format]normalizeFunc{
	FormatSimple:   decodeSimple,
	FormatExtended: decodeExtended,
}

func decodeSimple(dec *json.Decoder) (models.NormalizedPlay, bool, error) {
	var rec simpleRecord
	if err := dec.Decode(&rec); err != nil {
		return models.NormalizedPlay{}, false, err
	}
	play, ok := normalizeSimple(rec)
	return play, ok, nil
}

func decodeExtended(dec *json.Decoder) (models.NormalizedPlay, bool, error) {
	var rec extendedRecord
	if err := dec.Decode(&rec); err != nil {
		return models.NormalizedPlay{}, false, err
	}
	play, ok := normalizeExtended(rec)
	return play, ok, nil
}

// simpleTimeLayout is the minute-resolution timestamp of the account-data
// export. Values carry no zone and are treated as UTC.
const simpleTimeLayout = "2006-01-02 15:04"

const trackURIPrefix = "spotify:track:"

// simpleRecord is one entry of a StreamingHistory*.json file.
type simpleRecord struct {
	EndTime    string `json:"endTime"`
	ArtistName string `json:"artistName"`
	TrackName  string `json:"trackName"`
	MsPlayed   int    `json:"msPlayed"`
}

// extendedRecord is one entry of an extended export file. The export also
// carries ip_addr_decrypted, user_agent_decrypted, and username fields;
// those are deliberately absent here so they are dropped at decode time and
// never reach storage.
type extendedRecord struct {
	Ts              string  `json:"ts"`
	MsPlayed        int     `json:"ms_played"`
	TrackName       *string `json:"master_metadata_track_name"`
	AlbumArtistName *string `json:"master_metadata_album_artist_name"`
	AlbumAlbumName  *string `json:"master_metadata_album_album_name"`
	SpotifyTrackURI *string `json:"spotify_track_uri"`
}

// normalizeSimple converts one simple record, reporting false for records
// that cannot become a play (missing track, artist, or timestamp).
func normalizeSimple(rec simpleRecord) (models.NormalizedPlay, bool) {
	if rec.TrackName == "" || rec.ArtistName == "" {
		return models.NormalizedPlay{}, false
	}
	playedAt, err := time.ParseInLocation(simpleTimeLayout, rec.EndTime, time.UTC)
	if err != nil {
		return models.NormalizedPlay{}, false
	}
	ms := rec.MsPlayed
	return models.NormalizedPlay{
		TrackName:  rec.TrackName,
		ArtistName: rec.ArtistName,
		MsPlayed:   &ms,
		PlayedAt:   playedAt,
	}, true
}

// normalizeExtended converts one extended record. Podcast and video entries
// have null track metadata and are dropped here.
func normalizeExtended(rec extendedRecord) (models.NormalizedPlay, bool) {
	if rec.TrackName == nil || *rec.TrackName == "" ||
		rec.AlbumArtistName == nil || *rec.AlbumArtistName == "" {
		return models.NormalizedPlay{}, false
	}
	playedAt, err := time.Parse(time.RFC3339, rec.Ts)
	if err != nil {
		return models.NormalizedPlay{}, false
	}

	out := models.NormalizedPlay{
		TrackName:  *rec.TrackName,
		ArtistName: *rec.AlbumArtistName,
		PlayedAt:   playedAt.UTC(),
	}
	ms := rec.MsPlayed
	out.MsPlayed = &ms
	if rec.AlbumAlbumName != nil && *rec.AlbumAlbumName != "" {
		album := *rec.AlbumAlbumName
		out.AlbumName = &album
	}
	if rec.SpotifyTrackURI != nil {
		if id := strings.TrimPrefix(*rec.SpotifyTrackURI, trackURIPrefix); id != *rec.SpotifyTrackURI && id != "" {
			out.SpotifyTrackID = &id
		}
	}
	return out, true
}
