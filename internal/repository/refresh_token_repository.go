package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ekilie/ekilisync/internal/models"
	"github.com/sirupsen/logrus"
)

// RefreshTokenRepository records spent refresh token ids on the reference backend.
type RefreshTokenRepository struct {
	store  Store
	logger *logrus.Logger
}

func NewRefreshTokenRepository(store Store, logger *logrus.Logger) *RefreshTokenRepository {
	return &RefreshTokenRepository{
		store:  store,
		logger: logger,
	}
}

func revokedKey(jti string) string {
	return "revoked_token:" + jti
}

// MarkRevoked marks a token id as revoked.
func (r *RefreshTokenRepository) MarkRevoked(ctx context.Context, token models.RevokedToken) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal revoked token: %w", err)
	}

	if err := r.store.Set(ctx, revokedKey(token.JTI), string(data)); err != nil {
		r.logger.WithError(err).Error("Failed to mark token as revoked")
		return fmt.Errorf("failed to mark token as revoked: %w", err)
	}
	return nil
}

// IsRevoked checks for a revocation marker.
func (r *RefreshTokenRepository) IsRevoked(ctx context.Context, jti string) (bool, error) {
	_, err := r.store.Get(ctx, revokedKey(jti))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
