package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ekilie/ekilisync/internal/models"
	"github.com/sirupsen/logrus"
)

var ErrAccountExists = errors.New("account already exists")

// AccountRepository stores the reference backend's accounts keyed by email.
type AccountRepository struct {
	store  Store
	logger *logrus.Logger
}

func NewAccountRepository(store Store, logger *logrus.Logger) *AccountRepository {
	return &AccountRepository{
		store:  store,
		logger: logger,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// GetByEmail returns nil without an error when no account exists.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	account := &models.Account{Email: normalizeEmail(email)}

	data, err := r.store.Get(ctx, account.StoreKey())
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		r.logger.WithError(err).Error("Failed to get account")
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	if err := json.Unmarshal([]byte(data), account); err != nil {
		r.logger.WithError(err).Error("Failed to unmarshal account")
		return nil, fmt.Errorf("failed to unmarshal account: %w", err)
	}
	return account, nil
}

func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	account.Email = normalizeEmail(account.Email)

	existing, err := r.GetByEmail(ctx, account.Email)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAccountExists
	}

	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	return r.put(ctx, account)
}

func (r *AccountRepository) Update(ctx context.Context, account *models.Account) error {
	account.UpdatedAt = time.Now().UTC()
	return r.put(ctx, account)
}

func (r *AccountRepository) put(ctx context.Context, account *models.Account) error {
	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}

	if err := r.store.Set(ctx, account.StoreKey(), string(data)); err != nil {
		r.logger.WithError(err).Error("Failed to store account")
		return fmt.Errorf("failed to store account: %w", err)
	}
	return nil
}
