// Soundkeep - Listening History Sync and Archive Ingestion
// Copyright 2026 Soundkeep contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundkeep/soundkeep

package spotify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/soundkeep/soundkeep/internal/config"
	"github.com/soundkeep/soundkeep/internal/logging"
	"github.com/soundkeep/soundkeep/internal/models"
)

// expirySlack refreshes tokens slightly before their recorded expiry so a
// request never goes out with a token about to lapse mid-flight.
const expirySlack = 30 * time.Second

// TokenStore persists refreshed credentials. Implemented by database.DB.
type TokenStore interface {
	UpdateUserTokens(ctx context.Context, userID int64, accessToken, refreshToken string, expiresAt *time.Time) error
}

// TokenManager exchanges refresh tokens for access tokens and persists the
// result. One manager serves all users; per-user serialization happens in the
// TokenFunc closures it hands out.
type TokenManager struct {
	oauth *oauth2.Config
	store TokenStore
}

// NewTokenManager creates a manager backed by the given credential store.
func NewTokenManager(cfg *config.SpotifyConfig, store TokenStore) *TokenManager {
	return &TokenManager{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL: cfg.TokenURL,
			},
		},
		store: store,
	}
}

// TokenFor returns a TokenFunc bound to one user. The closure serves the
// stored access token while it is fresh, and exchanges the refresh token
// when forced or when the stored token has expired. Refreshed credentials
// are written back to the store before being returned.
func (m *TokenManager) TokenFor(user *models.User) TokenFunc {
	var mu sync.Mutex
	accessToken := user.AccessToken
	refreshToken := user.RefreshToken
	expiresAt := user.TokenExpiresAt

	return func(ctx context.Context, force bool) (string, error) {
		mu.Lock()
		defer mu.Unlock()

		if !force && accessToken != "" && !tokenExpired(expiresAt) {
			return accessToken, nil
		}

		tok, err := m.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
		if err != nil {
			return "", &AuthError{Err: fmt.Errorf("token refresh failed for user %d: %w", user.ID, err)}
		}

		accessToken = tok.AccessToken
		// The provider may rotate the refresh token; keep the old one when
		// the response omits it.
		if tok.RefreshToken != "" {
			refreshToken = tok.RefreshToken
		}
		if !tok.Expiry.IsZero() {
			exp := tok.Expiry.UTC()
			expiresAt = &exp
		}

		if err := m.store.UpdateUserTokens(ctx, user.ID, accessToken, refreshToken, expiresAt); err != nil {
			// The token is still valid for this run; persistence failure
			// only costs a refresh on the next one.
			logging.Err(err).Int64("user_id", user.ID).Msg("Failed to persist refreshed tokens")
		}

		return accessToken, nil
	}
}

func tokenExpired(expiresAt *time.Time) bool {
	if expiresAt == nil {
		return false
	}
	return time.Now().Add(expirySlack).After(*expiresAt)
}
