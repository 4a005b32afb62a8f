package models

import "time"

// TokenPair is the credential pair held by the client.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// AuthResponse is returned by /login (with tokens) and /register (without).
type AuthResponse struct {
	Message      string `json:"message"`
	User         *User  `json:"user"`
	Token        string `json:"token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Tokens returns the pair carried by a login response.
func (r *AuthResponse) Tokens() TokenPair {
	return TokenPair{AccessToken: r.Token, RefreshToken: r.RefreshToken}
}

// RefreshTokenResponse is returned by /auth/refresh.
type RefreshTokenResponse struct {
	Token                 string `json:"token"`
	RefreshToken          string `json:"refresh_token"`
	RefreshTokenExpiresAt string `json:"refresh_token_expires_at,omitempty"`
}

// RevokedToken marks a refresh token id as spent on the reference backend.
type RevokedToken struct {
	JTI       string    `json:"jti"`
	Subject   string    `json:"subject"`
	RevokedAt time.Time `json:"revoked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
