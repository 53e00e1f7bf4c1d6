// Soundkeep - Listening History Sync and Archive Ingestion
// Copyright 2026 Soundkeep contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundkeep/soundkeep

// Package archive parses user data export ZIPs into normalized play records.
//
// Two export formats are supported. The account-data export carries
// StreamingHistory*.json files with minute-resolution timestamps and only
// artist and track names. The extended export carries
// Streaming_History_Audio_*.json (or endsong_*.json) files with full
// second-resolution timestamps, album names, and track URIs. Detection works
// purely from entry names, so a file never has to be opened to classify the
// archive.
package archive

import (
	"archive/zip"
	"errors"
	"path"
	"strings"
)

// Format identifies which export layout an archive uses.
type Format string

const (
	// FormatSimple is the account-data export (StreamingHistory*.json).
	FormatSimple Format = "simple"

	// FormatExtended is the extended streaming history export
	// (Streaming_History_Audio_*.json or endsong_*.json).
	FormatExtended Format = "extended"
)

// ErrUnknownFormat means the archive contains no recognizable history files.
var ErrUnknownFormat = errors.New("archive contains no recognized streaming history files")

// DetectFormat classifies an opened archive by its entry names. When an
// archive somehow carries both layouts the extended one wins, since it is a
// superset of the simple data.
func DetectFormat(r *zip.Reader) (Format, error) {
	var hasSimple bool
	for _, f := range r.File {
		switch matchEntry(f.Name) {
		case FormatExtended:
			return FormatExtended, nil
		case FormatSimple:
			hasSimple = true
		}
	}
	if hasSimple {
		return FormatSimple, nil
	}
	return "", ErrUnknownFormat
}

// matchEntry classifies a single ZIP entry name, returning "" for entries
// that are not history files (directories, PDFs, playlists, ...).
func matchEntry(name string) Format {
	base := path.Base(name)
	if !strings.HasSuffix(base, ".json") {
		return ""
	}
	switch {
	case strings.HasPrefix(base, "Streaming_History_Audio"),
		strings.HasPrefix(base, "endsong"):
		return FormatExtended
	case strings.HasPrefix(base, "StreamingHistory"):
		return FormatSimple
	default:
		return ""
	}
}
