// Soundkeep - Listening History Sync and Archive Ingestion
// Copyright 2026 Soundkeep contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundkeep/soundkeep

package archive

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/soundkeep/soundkeep/internal/logging"
	"github.com/soundkeep/soundkeep/internal/models"
)

// BatchFunc receives one bounded batch of normalized records. Returning an
// error aborts the parse; the error propagates unchanged to the caller.
type BatchFunc func(batch []models.NormalizedPlay) error

// Parser streams an export ZIP without ever materializing a whole history
// file: each JSON array is walked token by token and records are handed to
// the callback in batches of at most BatchSize.
type Parser struct {
	// BatchSize bounds the number of records per callback.
	BatchSize int

	// MaxRecords is a hard cap on normalized records per archive; parsing
	// stops cleanly once it is reached. 0 means no cap.
	MaxRecords int
}

// Result summarizes one completed parse.
type Result struct {
	Format    Format
	Records   int // normalized records delivered
	Discarded int // records dropped as unusable
}

// ParseFile opens the archive at path and streams its history records. The
// callback sees full batches plus one final partial batch; record order
// follows entry name order within the archive.
func (p *Parser) ParseFile(ctx context.Context, path string, fn BatchFunc) (*Result, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() { _ = zr.Close() }()
	return p.Parse(ctx, &zr.Reader, fn)
}

// Parse streams history records from an already opened archive.
func (p *Parser) Parse(ctx context.Context, zr *zip.Reader, fn BatchFunc) (*Result, error) {
	format, err := DetectFormat(zr)
	if err != nil {
		return nil, err
	}

	normalize, ok := normalizers[format]
	if !ok {
		return nil, ErrUnknownFormat
	}

	entries := historyEntries(zr, format)
	result := &Result{Format: format}
	batch := make([]models.NormalizedPlay, 0, p.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		capped, err := p.parseEntry(ctx, entry, normalize, result, &batch, fn)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", entry.Name, err)
		}
		if capped {
			logging.Warn().
				Str("entry", entry.Name).
				Int("max_records", p.MaxRecords).
				Msg("Archive record cap reached, remaining entries skipped")
			break
		}
	}

	if err := flush(); err != nil {
		return nil, err
	}
	return result, nil
}

// parseEntry streams one JSON array file. Returns capped == true when the
// record cap was hit mid-entry.
func (p *Parser) parseEntry(ctx context.Context, entry *zip.File, normalize normalizeFunc, result *Result, batch *[]models.NormalizedPlay, fn BatchFunc) (capped bool, err error) {
	rc, err := entry.Open()
	if err != nil {
		return false, err
	}
	defer func() { _ = rc.Close() }()

	dec := json.NewDecoder(rc)
	if err := expectDelim(dec, '['); err != nil {
		return false, err
	}

	for dec.More() {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		play, ok, err := normalize(dec)
		if err != nil {
			return false, err
		}
		if !ok {
			result.Discarded++
			continue
		}

		*batch = append(*batch, play)
		result.Records++
		if len(*batch) >= p.BatchSize {
			if err := fn(*batch); err != nil {
				return false, err
			}
			*batch = (*batch)[:0]
		}
		if p.MaxRecords > 0 && result.Records >= p.MaxRecords {
			return true, nil
		}
	}
	return false, expectDelim(dec, ']')
}

// historyEntries returns the archive's history files for the detected
// format, ordered by name so multi-file exports stream chronologically.
func historyEntries(zr *zip.Reader, format Format) []*zip.File {
	var entries []*zip.File
	for _, f := range zr.File {
		if matchEntry(f.Name) == format {
			entries = append(entries, f)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return fmt.Errorf("unexpected end of JSON, want %q", want)
		}
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("unexpected JSON token %v, want %q", tok, want)
	}
	return nil
}
