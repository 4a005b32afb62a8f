package middleware

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
)

// ErrSessionExpired is returned when a request needed a refresh and the refresh failed.
var ErrSessionExpired = errors.New("token expired and refresh failed")

// TokenSource reads the current access token; "" means none is stored.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

type ExpiryChecker interface {
	IsExpired(token string) bool
}

type retryKey struct{}

// WithRetried marks ctx as belonging to a request that already had its one
// refresh-triggered retry.
func WithRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retryKey{}, true)
}

// Retried reports whether ctx carries the retry marker.
func Retried(ctx context.Context) bool {
	v, _ := ctx.Value(retryKey{}).(bool)
	return v
}

// AuthTransport attaches the bearer token to outgoing requests, refreshes it
// before sending when it is known to be expired, and on a 401 refreshes and
// resends the request exactly once.
type AuthTransport struct {
	base      http.RoundTripper
	tokens    TokenSource
	refresher Refresher
	validator ExpiryChecker
	logger    *logrus.Logger

	// OnSessionExpired runs whenever a refresh fails; typically it sends the
	// user back to the login screen.
	OnSessionExpired func()
}

func NewAuthTransport(
	base http.RoundTripper,
	tokens TokenSource,
	refresher Refresher,
	validator ExpiryChecker,
	logger *logrus.Logger,
) *AuthTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &AuthTransport{
		base:      base,
		tokens:    tokens,
		refresher: refresher,
		validator: validator,
		logger:    logger,
	}
}

func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	token, err := t.tokens.AccessToken(ctx)
	if err != nil {
		closeBody(req)
		return nil, fmt.Errorf("failed to read access token: %w", err)
	}

	if token != "" && t.validator.IsExpired(token) {
		t.logger.WithField("path", req.URL.Path).Debug("Access token expired, refreshing before request")

		token, err = t.refresher.Refresh(ctx)
		if err != nil {
			closeBody(req)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, t.sessionExpired(err)
		}
	}

	resp, err := t.base.RoundTrip(authorize(ctx, req, token))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized || Retried(ctx) {
		return resp, nil
	}

	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		t.logger.WithField("path", req.URL.Path).Warn("Cannot replay request body, returning 401")
		return resp, nil
	}

	drain(resp)

	retryCtx := WithRetried(ctx)
	token, err = t.refresher.Refresh(retryCtx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, t.sessionExpired(err)
	}

	retry := authorize(retryCtx, req, token)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to replay request body: %w", err)
		}
		retry.Body = body
	}

	t.logger.WithField("path", req.URL.Path).Debug("Retrying request with refreshed token")
	return t.base.RoundTrip(retry)
}

func (t *AuthTransport) sessionExpired(cause error) error {
	t.logger.WithError(cause).Warn("Session expired, refresh failed")
	if t.OnSessionExpired != nil {
		t.OnSessionExpired()
	}
	return fmt.Errorf("%w: %v", ErrSessionExpired, cause)
}

// authorize clones req onto ctx with the bearer header set for token. RoundTrippers
// must not modify the caller's request.
func authorize(ctx context.Context, req *http.Request, token string) *http.Request {
	out := req.Clone(ctx)
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	}
	return out
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}
