package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ekilie/ekilisync/internal/models"
	"github.com/ekilie/ekilisync/internal/repository"
	"github.com/sirupsen/logrus"
)

var ErrRefreshTokenRevoked = errors.New("refresh token has been revoked")

// RefreshTokenService rotates refresh tokens: each one can be exchanged once.
type RefreshTokenService struct {
	jwt     *JWTService
	revoked *repository.RefreshTokenRepository
	logger  *logrus.Logger
}

func NewRefreshTokenService(jwtService *JWTService, revoked *repository.RefreshTokenRepository, logger *logrus.Logger) *RefreshTokenService {
	return &RefreshTokenService{
		jwt:     jwtService,
		revoked: revoked,
		logger:  logger,
	}
}

// Rotate validates refreshToken, revokes it and returns the claims it carried so
// the caller can issue a new pair.
func (s *RefreshTokenService) Rotate(ctx context.Context, refreshToken string) (*Claims, error) {
	claims, err := s.jwt.VerifyToken(refreshToken, TokenTypeRefresh)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh token: %w", err)
	}

	revoked, err := s.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to check refresh token revocation")
		return nil, fmt.Errorf("failed to check refresh token: %w", err)
	}
	if revoked {
		s.logger.WithField("subject", claims.Subject).Warn("Revoked refresh token presented")
		return nil, ErrRefreshTokenRevoked
	}

	if err := s.Revoke(ctx, claims); err != nil {
		return nil, err
	}

	return claims, nil
}

func (s *RefreshTokenService) Revoke(ctx context.Context, claims *Claims) error {
	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	return s.revoked.MarkRevoked(ctx, models.RevokedToken{
		JTI:       claims.ID,
		Subject:   claims.Subject,
		RevokedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
	})
}

// RevokeToken revokes a raw refresh token; invalid tokens are ignored.
func (s *RefreshTokenService) RevokeToken(ctx context.Context, refreshToken string) error {
	claims, err := s.jwt.VerifyToken(refreshToken, TokenTypeRefresh)
	if err != nil {
		return nil
	}
	return s.Revoke(ctx, claims)
}
