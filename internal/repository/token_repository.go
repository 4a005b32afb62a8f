package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ekilie/ekilisync/internal/models"
	"github.com/sirupsen/logrus"
)

// Token store keys, relative to the namespace.
const (
	KeyAccessToken  = "access-token"
	KeyRefreshToken = "refresh-token"
	KeyUser         = "user"
	KeyOnboarded    = "user-onboarded"
)

// ErrCorruptUser is returned when the cached identity cannot be decoded.
var ErrCorruptUser = errors.New("cached user is corrupt")

// TokenRepository is the client's token store: access and refresh tokens, the
// cached identity and the onboarding flag.
type TokenRepository struct {
	store     Store
	namespace string
	logger    *logrus.Logger
}

func NewTokenRepository(store Store, namespace string, logger *logrus.Logger) *TokenRepository {
	return &TokenRepository{
		store:     store,
		namespace: namespace,
		logger:    logger,
	}
}

func (r *TokenRepository) key(name string) string {
	return r.namespace + name
}

func (r *TokenRepository) get(ctx context.Context, name string) (string, error) {
	v, err := r.store.Get(ctx, r.key(name))
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	return v, nil
}

// AccessToken returns the stored access token, or "" when there is none.
func (r *TokenRepository) AccessToken(ctx context.Context) (string, error) {
	return r.get(ctx, KeyAccessToken)
}

// RefreshToken returns the stored refresh token, or "" when there is none.
func (r *TokenRepository) RefreshToken(ctx context.Context) (string, error) {
	return r.get(ctx, KeyRefreshToken)
}

// Tokens returns both stored tokens.
func (r *TokenRepository) Tokens(ctx context.Context) (models.TokenPair, error) {
	access, err := r.AccessToken(ctx)
	if err != nil {
		return models.TokenPair{}, err
	}
	refresh, err := r.RefreshToken(ctx)
	if err != nil {
		return models.TokenPair{}, err
	}
	return models.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// SaveTokens writes the non-empty tokens of pair in one atomic write.
func (r *TokenRepository) SaveTokens(ctx context.Context, pair models.TokenPair) error {
	values := r.tokenValues(pair)
	if len(values) == 0 {
		return nil
	}

	if err := r.store.SetMany(ctx, values); err != nil {
		return fmt.Errorf("failed to save tokens: %w", err)
	}
	return nil
}

// SaveSession writes tokens and identity together. Unlike SaveTokens it starts a
// new session, so a pair without a refresh token removes the stored one.
func (r *TokenRepository) SaveSession(ctx context.Context, pair models.TokenPair, user models.CachedUser) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	if pair.RefreshToken == "" {
		if err := r.store.Delete(ctx, r.key(KeyRefreshToken)); err != nil {
			return fmt.Errorf("failed to drop previous refresh token: %w", err)
		}
	}

	values := r.tokenValues(pair)
	values[r.key(KeyUser)] = string(data)

	if err := r.store.SetMany(ctx, values); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (r *TokenRepository) tokenValues(pair models.TokenPair) map[string]string {
	values := make(map[string]string, 3)
	if pair.AccessToken != "" {
		values[r.key(KeyAccessToken)] = pair.AccessToken
	}
	if pair.RefreshToken != "" {
		values[r.key(KeyRefreshToken)] = pair.RefreshToken
	}
	return values
}

// ClearTokens removes both tokens and leaves the identity in place.
func (r *TokenRepository) ClearTokens(ctx context.Context) error {
	if err := r.store.Delete(ctx, r.key(KeyAccessToken), r.key(KeyRefreshToken)); err != nil {
		return fmt.Errorf("failed to clear tokens: %w", err)
	}
	return nil
}

// CachedUser returns the stored identity, nil when none is stored, or
// ErrCorruptUser when the stored value cannot be decoded.
func (r *TokenRepository) CachedUser(ctx context.Context) (*models.CachedUser, error) {
	data, err := r.get(ctx, KeyUser)
	if err != nil || data == "" {
		return nil, err
	}

	var user models.CachedUser
	if err := json.Unmarshal([]byte(data), &user); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptUser, err)
	}
	return &user, nil
}

func (r *TokenRepository) SaveUser(ctx context.Context, user models.CachedUser) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	if err := r.store.Set(ctx, r.key(KeyUser), string(data)); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// Onboarded reports the onboarding flag and whether it has ever been written.
func (r *TokenRepository) Onboarded(ctx context.Context) (onboarded bool, known bool, err error) {
	v, err := r.get(ctx, KeyOnboarded)
	if err != nil || v == "" {
		return false, false, err
	}
	return v == "true", true, nil
}

func (r *TokenRepository) SetOnboarded(ctx context.Context, onboarded bool) error {
	v := "false"
	if onboarded {
		v = "true"
	}

	if err := r.store.Set(ctx, r.key(KeyOnboarded), v); err != nil {
		return fmt.Errorf("failed to save onboarding flag: %w", err)
	}
	return nil
}

// ClearSession removes tokens and identity and resets the onboarding flag.
func (r *TokenRepository) ClearSession(ctx context.Context) error {
	keys := []string{r.key(KeyAccessToken), r.key(KeyRefreshToken), r.key(KeyUser)}
	if err := r.store.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}

	if err := r.SetOnboarded(ctx, false); err != nil {
		return err
	}

	r.logger.Debug("Session storage cleared")
	return nil
}
