package repository

import (
	"context"
	"testing"
	"time"

	"github.com/ekilie/ekilisync/internal/models"
	"github.com/stretchr/testify/require"
)

func TestAccountRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository(NewMemoryStore(), quietLogger())

	account := &models.Account{ID: "u-1", Name: "Amina", Email: "  Amina@X.io ", Role: "user"}
	require.NoError(t, repo.Create(ctx, account))
	require.Equal(t, "amina@x.io", account.Email)
	require.False(t, account.CreatedAt.IsZero())

	got, err := repo.GetByEmail(ctx, "AMINA@x.io")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "u-1", got.ID)

	err = repo.Create(ctx, &models.Account{ID: "u-2", Email: "amina@x.io"})
	require.ErrorIs(t, err, ErrAccountExists)
}

func TestAccountRepository_GetMissing(t *testing.T) {
	repo := NewAccountRepository(NewMemoryStore(), quietLogger())

	got, err := repo.GetByEmail(context.Background(), "nobody@x.io")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestOTPRepository_PurposesAreSeparate(t *testing.T) {
	ctx := context.Background()
	repo := NewOTPRepository(NewMemoryStore(), quietLogger())

	require.NoError(t, repo.Store(ctx, models.OTPData{
		OTPHash:   "hash",
		Email:     "a@x.io",
		Purpose:   models.OTPPurposeVerify,
		ExpiresAt: time.Now().Add(time.Minute),
	}))

	_, err := repo.Get(ctx, models.OTPPurposeReset, "a@x.io")
	require.ErrorIs(t, err, ErrOTPNotFound)

	got, err := repo.Get(ctx, models.OTPPurposeVerify, "A@X.io")
	require.NoError(t, err)
	require.Equal(t, "hash", got.OTPHash)

	require.NoError(t, repo.Delete(ctx, models.OTPPurposeVerify, "a@x.io"))
	_, err = repo.Get(ctx, models.OTPPurposeVerify, "a@x.io")
	require.ErrorIs(t, err, ErrOTPNotFound)
}

func TestRefreshTokenRepository_Revocation(t *testing.T) {
	ctx := context.Background()
	repo := NewRefreshTokenRepository(NewMemoryStore(), quietLogger())

	revoked, err := repo.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.False(t, revoked)

	require.NoError(t, repo.MarkRevoked(ctx, models.RevokedToken{JTI: "jti-1", Subject: "u-1", RevokedAt: time.Now()}))

	revoked, err = repo.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.True(t, revoked)
}
