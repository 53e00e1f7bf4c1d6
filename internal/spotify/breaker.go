// Soundkeep - Listening History Sync and Archive Ingestion
// Copyright 2026 Soundkeep contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundkeep/soundkeep

package spotify

import (
	"context"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/soundkeep/soundkeep/internal/logging"
	"github.com/soundkeep/soundkeep/internal/metrics"
)

// BreakerClient wraps a HistoryClient with a circuit breaker so a degraded
// upstream sheds load instead of tying up every sync worker in retries.
//
// Rate limit and auth errors do not count as breaker failures: a 429 is the
// upstream telling us to slow down, not that it is broken, and an auth error
// is one user's problem.
type BreakerClient struct {
	inner HistoryClient
	cb    *gobreaker.CircuitBreaker[*RecentlyPlayedPage]
	name  string
}

// NewBreakerClient wraps inner with circuit breaker protection. The breaker
// opens at a 60% failure rate over at least 10 requests, stays open for two
// minutes, then probes with up to 3 half-open requests.
func NewBreakerClient(inner HistoryClient) *BreakerClient {
	const name = "history-api"
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[*RecentlyPlayedPage](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", stateToString(from)).
				Str("to", stateToString(to)).
				Msg("Circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, stateToString(from), stateToString(to)).Inc()
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return IsRateLimited(err) || IsAuthFailure(err)
		},
	})

	return &BreakerClient{inner: inner, cb: cb, name: name}
}

// GetRecentlyPlayed delegates to the wrapped client under breaker protection.
func (b *BreakerClient) GetRecentlyPlayed(ctx context.Context, token TokenFunc, limit int, before, after *time.Time) (*RecentlyPlayedPage, error) {
	return b.cb.Execute(func() (*RecentlyPlayedPage, error) {
		return b.inner.GetRecentlyPlayed(ctx, token, limit, before, after)
	})
}

func stateToString(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
