// Soundkeep - Listening History Sync and Archive Ingestion
// Copyright 2026 Soundkeep contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundkeep/soundkeep

// Package spotify provides the outbound client for the listening-history API:
// paged recently-played fetches with rate limit handling, token refresh on
// auth failure, and circuit breaker protection.
package spotify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/soundkeep/soundkeep/internal/config"
	"github.com/soundkeep/soundkeep/internal/logging"
	"github.com/soundkeep/soundkeep/internal/metrics"
)

// maxBackoff caps a single retry wait regardless of attempt count or what
// the Retry-After header asks for.
const maxBackoff = 60 * time.Second

// TokenFunc supplies a bearer token for one user. When force is true the
// caller has just seen HTTP 401 with this token and the implementation must
// obtain a fresh one instead of returning a cached value.
type TokenFunc func(ctx context.Context, force bool) (string, error)

// HistoryClient is the fetch surface the sync engines depend on. It is
// satisfied by Client and by the circuit breaker wrapper.
type HistoryClient interface {
	GetRecentlyPlayed(ctx context.Context, token TokenFunc, limit int, before, after *time.Time) (*RecentlyPlayedPage, error)
}

// Client talks to the listening-history API.
//
// Resilience behavior per request:
//   - HTTP 429: wait per Retry-After, else exponential backoff, then retry
//   - HTTP 5xx: exponential backoff, then retry
//   - HTTP 401: force one token refresh, retry once, then give up
//   - other 4xx: fail immediately, no retry
//
// A weighted semaphore bounds in-flight requests across all users and an
// optional client-side rate limiter paces them. Safe for concurrent use.
type Client struct {
	baseURL        string
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	sem            *semaphore.Weighted
	limiter        *rate.Limiter
}

// NewClient creates a history API client from configuration.
func NewClient(cfg *config.SpotifyConfig) *Client {
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return &Client{
		baseURL:        cfg.BaseURL,
		client:         &http.Client{Timeout: cfg.Timeout},
		retryAttempts:  cfg.RetryAttempts,
		retryBaseDelay: cfg.RetryBaseDelay,
		sem:            semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		limiter:        limiter,
	}
}

// GetRecentlyPlayed fetches one page of playback history. Exactly one of
// before/after is normally set; both nil fetches the newest page. Cursors use
// millisecond epoch values and pages hold at most 50 items.
func (c *Client) GetRecentlyPlayed(ctx context.Context, token TokenFunc, limit int, before, after *time.Time) (*RecentlyPlayedPage, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire request slot: %w", err)
	}
	defer c.sem.Release(1)

	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	if before != nil {
		params.Set("before", strconv.FormatInt(before.UnixMilli(), 10))
	}
	if after != nil {
		params.Set("after", strconv.FormatInt(after.UnixMilli(), 10))
	}
	reqURL := c.baseURL + "/me/player/recently-played?" + params.Encode()

	var refreshed bool
	for attempt := 0; attempt <= c.retryAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		accessToken, err := token(ctx, false)
		if err != nil {
			return nil, fmt.Errorf("failed to obtain access token: %w", err)
		}

		page, retry, err := c.doPage(ctx, reqURL, accessToken)
		if err == nil {
			return page, nil
		}
		if !retry {
			return nil, err
		}

		switch e := err.(type) {
		case *AuthError:
			// One forced refresh per request, then the failure is terminal.
			// The refresh retry does not consume a backoff attempt.
			if refreshed {
				metrics.APIRequests.WithLabelValues("auth_error").Inc()
				return nil, e
			}
			refreshed = true
			if _, ferr := token(ctx, true); ferr != nil {
				return nil, fmt.Errorf("failed to refresh access token: %w", ferr)
			}
			metrics.APIRetries.WithLabelValues("auth_refresh").Inc()
			attempt--
			continue

		case *RateLimitError:
			if !e.fromHeader {
				e.RetryAfter = c.backoff(attempt)
			}
			if attempt == c.retryAttempts {
				metrics.APIRequests.WithLabelValues("rate_limited").Inc()
				return nil, e
			}
			metrics.APIRetries.WithLabelValues("rate_limit").Inc()
			if werr := c.wait(ctx, e.RetryAfter); werr != nil {
				return nil, werr
			}
			continue

		case *ServerError:
			if attempt == c.retryAttempts {
				metrics.APIRequests.WithLabelValues("server_error").Inc()
				return nil, e
			}
			metrics.APIRetries.WithLabelValues("server_error").Inc()
			if werr := c.wait(ctx, c.backoff(attempt)); werr != nil {
				return nil, werr
			}
			continue

		default:
			return nil, err
		}
	}

	return nil, fmt.Errorf("retry budget exhausted after %d attempts", c.retryAttempts)
}

// doPage performs a single request. The retry flag tells the caller whether
// the error class is eligible for another attempt.
func (c *Client) doPage(ctx context.Context, reqURL, accessToken string) (page *RecentlyPlayedPage, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.APIRequests.WithLabelValues("network_error").Inc()
		return nil, false, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.APIRequestDuration.Observe(time.Since(start).Seconds())

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out RecentlyPlayedPage
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			metrics.APIRequests.WithLabelValues("decode_error").Inc()
			return nil, false, fmt.Errorf("failed to decode history page: %w", err)
		}
		metrics.APIRequests.WithLabelValues("success").Inc()
		return &out, false, nil

	case resp.StatusCode == http.StatusUnauthorized:
		drain(resp.Body)
		return nil, true, &AuthError{}

	case resp.StatusCode == http.StatusTooManyRequests:
		delay, fromHeader := c.retryAfter(resp)
		drain(resp.Body)
		logging.Warn().Dur("retry_after", delay).Bool("from_header", fromHeader).Msg("History API rate limited")
		return nil, true, &RateLimitError{RetryAfter: delay, fromHeader: fromHeader}

	case resp.StatusCode >= 500:
		drain(resp.Body)
		return nil, true, &ServerError{Status: resp.StatusCode}

	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		metrics.APIRequests.WithLabelValues("client_error").Inc()
		return nil, false, &RequestError{Status: resp.StatusCode, Body: string(body)}
	}
}

// retryAfter reads the Retry-After header in seconds. When the header is
// absent or unparseable the returned delay is the backoff base; the retry
// loop replaces it with the exponential backoff for the failing attempt.
func (c *Client) retryAfter(resp *http.Response) (time.Duration, bool) {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds >= 0 {
			return capBackoff(time.Duration(seconds) * time.Second), true
		}
	}
	return c.retryBaseDelay, false
}

func (c *Client) backoff(attempt int) time.Duration {
	return capBackoff(c.retryBaseDelay * time.Duration(1<<uint(attempt)))
}

func capBackoff(d time.Duration) time.Duration {
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func (c *Client) wait(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func drain(body io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
}
