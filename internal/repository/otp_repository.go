package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ekilie/ekilisync/internal/models"
	"github.com/sirupsen/logrus"
)

var ErrOTPNotFound = errors.New("OTP not found or expired")

// OTPRepository stores hashed one-time codes per purpose and email.
type OTPRepository struct {
	store  Store
	logger *logrus.Logger
}

func NewOTPRepository(store Store, logger *logrus.Logger) *OTPRepository {
	return &OTPRepository{
		store:  store,
		logger: logger,
	}
}

func otpKey(purpose models.OTPPurpose, email string) string {
	return fmt.Sprintf("otp:%s:%s", purpose, normalizeEmail(email))
}

func (r *OTPRepository) Store(ctx context.Context, otpData models.OTPData) error {
	data, err := json.Marshal(otpData)
	if err != nil {
		return fmt.Errorf("failed to marshal OTP data: %w", err)
	}

	if err := r.store.Set(ctx, otpKey(otpData.Purpose, otpData.Email), string(data)); err != nil {
		r.logger.WithError(err).Error("Failed to store OTP")
		return fmt.Errorf("failed to store OTP: %w", err)
	}
	return nil
}

func (r *OTPRepository) Get(ctx context.Context, purpose models.OTPPurpose, email string) (*models.OTPData, error) {
	data, err := r.store.Get(ctx, otpKey(purpose, email))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrOTPNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get OTP: %w", err)
	}

	var otpData models.OTPData
	if err := json.Unmarshal([]byte(data), &otpData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal OTP data: %w", err)
	}
	return &otpData, nil
}

func (r *OTPRepository) Delete(ctx context.Context, purpose models.OTPPurpose, email string) error {
	if err := r.store.Delete(ctx, otpKey(purpose, email)); err != nil {
		return fmt.Errorf("failed to delete OTP: %w", err)
	}
	return nil
}
