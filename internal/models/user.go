package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

const DefaultRole = "user"

// CachedUser is the identity snapshot kept next to the tokens so a session can be
// restored without a network round trip.
type CachedUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// User is the account representation returned by the API.
type User struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	DisplayName string         `json:"display_name,omitempty"`
	Email       string         `json:"email"`
	Role        string         `json:"role"`
	Roles       []string       `json:"roles,omitempty"`
	IsActive    bool           `json:"is_active"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// UnmarshalJSON accepts the id as "id" or "ID", numeric or string, and roles as
// either plain strings or {"name": ...} objects.
func (u *User) UnmarshalJSON(data []byte) error {
	type alias User
	var raw struct {
		alias
		ID      json.RawMessage   `json:"id"`
		UpperID json.RawMessage   `json:"ID"`
		Roles   []json.RawMessage `json:"roles"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*u = User(raw.alias)

	id, err := rawID(raw.ID)
	if err != nil {
		return fmt.Errorf("invalid user id: %w", err)
	}
	if id == "" {
		if id, err = rawID(raw.UpperID); err != nil {
			return fmt.Errorf("invalid user id: %w", err)
		}
	}
	u.ID = id

	u.Roles = u.Roles[:0]
	for _, r := range raw.Roles {
		if name := roleName(r); name != "" {
			u.Roles = append(u.Roles, name)
		}
	}
	if len(u.Roles) == 0 {
		u.Roles = nil
	}

	if u.Role == "" {
		u.Role = DefaultRole
		if len(u.Roles) > 0 {
			u.Role = u.Roles[0]
		}
	}

	return nil
}

// Cached returns the minimal identity persisted in the token store.
func (u User) Cached() CachedUser {
	return CachedUser{
		ID:    u.ID,
		Name:  u.Name,
		Email: u.Email,
		Role:  u.Role,
	}
}

func rawID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

func roleName(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Name
	}
	return ""
}

// Account is the reference backend's stored user record.
type Account struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	Role         string    `json:"role"`
	Verified     bool      `json:"verified"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// StoreKey returns the key the account is stored under.
func (a *Account) StoreKey() string {
	return "account:" + a.Email
}

// Public returns the API representation of the account.
func (a *Account) Public() User {
	return User{
		ID:        a.ID,
		Name:      a.Name,
		Email:     a.Email,
		Role:      a.Role,
		Roles:     []string{a.Role},
		IsActive:  a.Verified,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}
