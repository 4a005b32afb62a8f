package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ekilie/ekilisync/internal/models"
	"github.com/ekilie/ekilisync/internal/repository"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

var (
	ErrNoRefreshToken        = errors.New("no refresh token stored")
	ErrRefreshTokenExpired   = errors.New("refresh token expired")
	ErrRefreshRejected       = errors.New("refresh rejected by server")
	ErrMalformedRefreshReply = errors.New("malformed refresh response")
)

const maxRefreshBody = 1 << 20

// TokenRefresher exchanges the stored refresh token for a new token pair.
// Concurrent callers share a single in-flight refresh call.
type TokenRefresher struct {
	tokens     *repository.TokenRepository
	validator  *TokenValidator
	httpClient *http.Client
	refreshURL string
	logger     *logrus.Logger
	group      singleflight.Group
}

// NewTokenRefresher creates a refresher posting to refreshURL with httpClient,
// which must not itself refresh tokens.
func NewTokenRefresher(
	tokens *repository.TokenRepository,
	validator *TokenValidator,
	httpClient *http.Client,
	refreshURL string,
	logger *logrus.Logger,
) *TokenRefresher {
	return &TokenRefresher{
		tokens:     tokens,
		validator:  validator,
		httpClient: httpClient,
		refreshURL: refreshURL,
		logger:     logger,
	}
}

// Refresh returns a fresh access token. On any failure the stored tokens are
// left untouched. A caller whose ctx ends stops waiting; the shared refresh
// keeps running for the other callers.
func (r *TokenRefresher) Refresh(ctx context.Context) (string, error) {
	// The shared call must not die with whichever caller happened to start it.
	shared := context.WithoutCancel(ctx)

	ch := r.group.DoChan("refresh", func() (interface{}, error) {
		return r.refresh(shared)
	})

	select {
	case res := <-ch:
		if res.Shared {
			r.logger.Debug("Joined in-flight token refresh")
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *TokenRefresher) refresh(ctx context.Context) (string, error) {
	refreshToken, err := r.tokens.RefreshToken(ctx)
	if err != nil {
		return "", err
	}
	if refreshToken == "" {
		return "", ErrNoRefreshToken
	}
	if r.validator.IsExpired(refreshToken) {
		return "", ErrRefreshTokenExpired
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.refreshURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("failed to build refresh request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+refreshToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.WithError(err).Warn("Token refresh failed")
		return "", fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRefreshBody))
	if err != nil {
		return "", fmt.Errorf("failed to read refresh response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		r.logger.WithField("status", resp.StatusCode).Warn("Token refresh rejected")
		return "", fmt.Errorf("%w: status %d", ErrRefreshRejected, resp.StatusCode)
	}

	var payload models.RefreshTokenResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedRefreshReply, err)
	}
	if payload.Token == "" {
		return "", fmt.Errorf("%w: missing token", ErrMalformedRefreshReply)
	}

	// A server that does not rotate refresh tokens omits refresh_token; the
	// stored one stays valid in that case.
	if err := r.tokens.SaveTokens(ctx, models.TokenPair{
		AccessToken:  payload.Token,
		RefreshToken: payload.RefreshToken,
	}); err != nil {
		r.logger.WithError(err).Error("Failed to persist refreshed tokens")
		return "", err
	}

	r.logger.Debug("Access token refreshed")
	return payload.Token, nil
}
