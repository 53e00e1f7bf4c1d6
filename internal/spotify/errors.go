// Soundkeep - Listening History Sync and Archive Ingestion
// Copyright 2026 Soundkeep contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundkeep/soundkeep

package spotify

import (
	"errors"
	"fmt"
	"time"
)

// AuthError means the access token was rejected and a refresh did not help.
// The user's authorization is gone; re-running the sync will not fix it until
// the user completes the handshake again.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authorization rejected: %v", e.Err)
	}
	return "authorization rejected"
}

func (e *AuthError) Unwrap() error { return e.Err }

// RateLimitError means the retry budget for HTTP 429 responses was exhausted.
// The sync engines treat this as a pause signal, not a failure: progress so
// far is kept and the run resumes on a later cycle.
type RateLimitError struct {
	// RetryAfter is the last wait the client observed or computed. When the
	// response carried no Retry-After header this holds the exponential
	// backoff for the failing attempt.
	RetryAfter time.Duration

	// fromHeader is set when RetryAfter came from a Retry-After header; the
	// retry loop then honors it as-is instead of computing a backoff.
	fromHeader bool
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// ServerError means the upstream returned 5xx on every retry attempt.
type ServerError struct {
	Status int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("upstream server error (HTTP %d)", e.Status)
}

// RequestError is any other non-retryable 4xx response.
type RequestError struct {
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request rejected (HTTP %d): %s", e.Status, e.Body)
}

// IsRateLimited reports whether err is a retry-budget-exhausted rate limit.
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// IsAuthFailure reports whether err is a terminal authorization failure.
func IsAuthFailure(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
