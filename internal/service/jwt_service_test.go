package service

import (
	"context"
	"testing"
	"time"

	"github.com/ekilie/ekilisync/internal/config"
	"github.com/ekilie/ekilisync/internal/models"
	"github.com/ekilie/ekilisync/internal/repository"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newJWTService(t *testing.T) *JWTService {
	t.Helper()
	s, err := NewJWTService(&config.JWTConfig{
		SecretKey:     testSecret,
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 24 * time.Hour,
	}, quietLogger())
	require.NoError(t, err)
	return s
}

func testAccount() *models.Account {
	return &models.Account{ID: "u-1", Name: "Amina", Email: "amina@x.io", Role: "user", Verified: true}
}

func TestNewJWTService_ShortSecret(t *testing.T) {
	_, err := NewJWTService(&config.JWTConfig{SecretKey: "short"}, quietLogger())
	require.Error(t, err)
}

func TestJWTService_GenerateAndVerify(t *testing.T) {
	s := newJWTService(t)

	issued, err := s.GenerateTokenPair(testAccount())
	require.NoError(t, err)
	require.NotEqual(t, issued.Pair.AccessToken, issued.Pair.RefreshToken)

	claims, err := s.VerifyToken(issued.Pair.AccessToken, TokenTypeAccess)
	require.NoError(t, err)
	require.Equal(t, "u-1", claims.Subject)
	require.Equal(t, "amina@x.io", claims.Email)
	require.NotEmpty(t, claims.ID)

	_, err = s.VerifyToken(issued.Pair.AccessToken, TokenTypeRefresh)
	require.ErrorIs(t, err, ErrWrongTokenType)

	// The client-side validator reads the same exp claim.
	require.False(t, NewTokenValidator().IsExpired(issued.Pair.AccessToken))
}

func TestJWTService_RejectsExpired(t *testing.T) {
	s := newJWTService(t)
	issued, err := s.GenerateTokenPair(testAccount())
	require.NoError(t, err)

	s.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = s.VerifyToken(issued.Pair.AccessToken, TokenTypeAccess)
	require.Error(t, err)
}

func TestJWTService_RejectsForeignSignature(t *testing.T) {
	s := newJWTService(t)
	foreign := signClaims(t, map[string]interface{}{
		"sub":  "u-1",
		"type": TokenTypeAccess,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	_, err := s.VerifyToken(foreign, TokenTypeAccess)
	require.Error(t, err)
}

func TestRefreshTokenService_RotateOnce(t *testing.T) {
	ctx := context.Background()
	jwtService := newJWTService(t)
	revoked := repository.NewRefreshTokenRepository(repository.NewMemoryStore(), quietLogger())
	s := NewRefreshTokenService(jwtService, revoked, quietLogger())

	issued, err := jwtService.GenerateTokenPair(testAccount())
	require.NoError(t, err)

	claims, err := s.Rotate(ctx, issued.Pair.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, "amina@x.io", claims.Email)

	_, err = s.Rotate(ctx, issued.Pair.RefreshToken)
	require.ErrorIs(t, err, ErrRefreshTokenRevoked)
}

func TestRefreshTokenService_RejectsAccessToken(t *testing.T) {
	jwtService := newJWTService(t)
	revoked := repository.NewRefreshTokenRepository(repository.NewMemoryStore(), quietLogger())
	s := NewRefreshTokenService(jwtService, revoked, quietLogger())

	issued, err := jwtService.GenerateTokenPair(testAccount())
	require.NoError(t, err)

	_, err = s.Rotate(context.Background(), issued.Pair.AccessToken)
	require.ErrorIs(t, err, ErrWrongTokenType)
}
