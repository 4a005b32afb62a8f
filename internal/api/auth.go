package api

import (
	"context"
	"net/http"

	"github.com/ekilie/ekilisync/internal/models"
)

func (c *Client) Register(ctx context.Context, req models.RegisterRequest) (*models.AuthResponse, error) {
	var resp models.AuthResponse
	if err := c.do(ctx, c.anon, http.MethodPost, "register", nil, req, &resp); err != nil {
		return nil, err
	}
	if resp.User == nil {
		return nil, ErrInvalidResponse
	}
	return &resp, nil
}

// Login exchanges credentials for a token pair and the account's identity.
func (c *Client) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	var resp models.AuthResponse
	if err := c.do(ctx, c.anon, http.MethodPost, "login", nil, req, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" || resp.User == nil {
		return nil, ErrInvalidResponse
	}
	return &resp, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, c.authed, http.MethodPost, "logout", nil, nil, nil)
}

func (c *Client) SendVerificationEmail(ctx context.Context, email string) (*models.MessageResponse, error) {
	return c.message(ctx, "auth/send-verification", models.SendVerificationRequest{Email: email})
}

func (c *Client) VerifyAccount(ctx context.Context, req models.VerifyOTPRequest) (*models.MessageResponse, error) {
	return c.message(ctx, "auth/verify", req)
}

func (c *Client) ForgotPassword(ctx context.Context, email string) (*models.MessageResponse, error) {
	return c.message(ctx, "auth/forgot-password", models.ForgotPasswordRequest{Email: email})
}

func (c *Client) VerifyResetCode(ctx context.Context, req models.VerifyResetCodeRequest) (*models.MessageResponse, error) {
	return c.message(ctx, "auth/verify-reset-code", req)
}

func (c *Client) ResetPassword(ctx context.Context, req models.ResetPasswordRequest) (*models.MessageResponse, error) {
	return c.message(ctx, "auth/reset-password", req)
}

func (c *Client) message(ctx context.Context, path string, in interface{}) (*models.MessageResponse, error) {
	var resp models.MessageResponse
	if err := c.do(ctx, c.anon, http.MethodPost, path, nil, in, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetCurrentUser fetches the signed-in account.
func (c *Client) GetCurrentUser(ctx context.Context) (*models.User, error) {
	var user models.User
	if err := c.do(ctx, c.authed, http.MethodGet, "users/me", nil, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) UpdateCurrentUser(ctx context.Context, req models.UpdateUserRequest) (*models.User, error) {
	var user models.User
	if err := c.do(ctx, c.authed, http.MethodPut, "users/me/edit", nil, req, &user); err != nil {
		return nil, err
	}
	return &user, nil
}
