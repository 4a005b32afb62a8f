package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ekilie/ekilisync/internal/middleware"
	"github.com/ekilie/ekilisync/internal/models"
	"github.com/ekilie/ekilisync/internal/repository"
	"github.com/ekilie/ekilisync/internal/service"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

type AuthHandlers struct {
	otpService          *service.OTPService
	jwtService          *service.JWTService
	refreshTokenService *service.RefreshTokenService
	accountRepo         *repository.AccountRepository
	validate            *validator.Validate
	logger              *logrus.Logger
}

func NewAuthHandlers(
	otpService *service.OTPService,
	jwtService *service.JWTService,
	refreshTokenService *service.RefreshTokenService,
	accountRepo *repository.AccountRepository,
	logger *logrus.Logger,
) *AuthHandlers {
	return &AuthHandlers{
		otpService:          otpService,
		jwtService:          jwtService,
		refreshTokenService: refreshTokenService,
		accountRepo:         accountRepo,
		validate:            validator.New(),
		logger:              logger,
	}
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type dataResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if !h.decode(w, r, &req, "ConfirmPassword") {
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.WithError(err).Error("Failed to hash password")
		respondWithError(w, http.StatusInternalServerError, "REGISTRATION_FAILED", "Failed to create account")
		return
	}

	account := &models.Account{
		ID:           uuid.New().String(),
		Name:         strings.TrimSpace(req.Name),
		Email:        req.Email,
		PasswordHash: string(hash),
		Role:         models.DefaultRole,
	}

	if err := h.accountRepo.Create(r.Context(), account); err != nil {
		if errors.Is(err, repository.ErrAccountExists) {
			respondWithError(w, http.StatusConflict, "ACCOUNT_EXISTS", "An account with this email already exists")
			return
		}
		h.logger.WithError(err).Error("Failed to create account")
		respondWithError(w, http.StatusInternalServerError, "REGISTRATION_FAILED", "Failed to create account")
		return
	}

	if _, err := h.otpService.GenerateOTP(r.Context(), models.OTPPurposeVerify, account.Email); err != nil {
		h.logger.WithError(err).Error("Failed to generate verification code")
	}

	user := account.Public()
	respondWithJSON(w, http.StatusCreated, models.AuthResponse{
		Message: "Registration successful. Please verify your email.",
		User:    &user,
	})
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	account, err := h.accountRepo.GetByEmail(r.Context(), req.Email)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load account")
		respondWithError(w, http.StatusInternalServerError, "LOGIN_FAILED", "Failed to sign in")
		return
	}
	if account == nil || bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.Password)) != nil {
		respondWithError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
		return
	}
	if !account.Verified {
		respondWithError(w, http.StatusForbidden, "NOT_VERIFIED", "Please verify your email before signing in")
		return
	}

	issued, err := h.jwtService.GenerateTokenPair(account)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "TOKEN_GENERATION_FAILED", "Failed to generate tokens")
		return
	}

	user := account.Public()
	respondWithJSON(w, http.StatusOK, models.AuthResponse{
		Message:      "Login successful",
		User:         &user,
		Token:        issued.Pair.AccessToken,
		RefreshToken: issued.Pair.RefreshToken,
	})
}

// RefreshToken exchanges the bearer refresh token for a new pair. The presented
// token is revoked, so each refresh token works once.
func (h *AuthHandlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	refreshToken, ok := middleware.BearerToken(r)
	if !ok {
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		refreshToken = req.RefreshToken
	}

	if refreshToken == "" {
		respondWithError(w, http.StatusUnauthorized, "MISSING_TOKEN", "Refresh token is required")
		return
	}

	claims, err := h.refreshTokenService.Rotate(r.Context(), refreshToken)
	if err != nil {
		h.logger.WithError(err).Debug("Refresh rejected")
		respondWithError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired refresh token")
		return
	}

	account, err := h.accountRepo.GetByEmail(r.Context(), claims.Email)
	if err != nil || account == nil {
		respondWithError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Account no longer exists")
		return
	}

	issued, err := h.jwtService.GenerateTokenPair(account)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "TOKEN_GENERATION_FAILED", "Failed to generate tokens")
		return
	}

	respondWithJSON(w, http.StatusOK, models.RefreshTokenResponse{
		Token:                 issued.Pair.AccessToken,
		RefreshToken:          issued.Pair.RefreshToken,
		RefreshTokenExpiresAt: issued.RefreshExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.ClaimsFromContext(r.Context()); !ok {
		respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
		return
	}

	// The refresh token is optional; when present it is revoked too.
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	if req.RefreshToken != "" {
		if err := h.refreshTokenService.RevokeToken(r.Context(), req.RefreshToken); err != nil {
			h.logger.WithError(err).Warn("Failed to revoke refresh token on logout")
		}
	}

	respondWithJSON(w, http.StatusOK, models.MessageResponse{Success: true, Message: "Logged out successfully"})
}

func (h *AuthHandlers) SendVerification(w http.ResponseWriter, r *http.Request) {
	var req models.SendVerificationRequest
	if !h.decode(w, r, &req) {
		return
	}

	account, err := h.accountRepo.GetByEmail(r.Context(), req.Email)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "VERIFICATION_FAILED", "Failed to send verification code")
		return
	}
	if account == nil {
		respondWithError(w, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "No account with this email")
		return
	}
	if account.Verified {
		respondWithError(w, http.StatusBadRequest, "ALREADY_VERIFIED", "Account is already verified")
		return
	}

	if _, err := h.otpService.GenerateOTP(r.Context(), models.OTPPurposeVerify, account.Email); err != nil {
		respondWithError(w, http.StatusInternalServerError, "VERIFICATION_FAILED", "Failed to send verification code")
		return
	}

	respondWithJSON(w, http.StatusOK, models.MessageResponse{Success: true, Message: "Verification code sent"})
}

func (h *AuthHandlers) Verify(w http.ResponseWriter, r *http.Request) {
	var req models.VerifyOTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	account, ok := h.checkOTP(w, r, models.OTPPurposeVerify, req.Email, req.OTP, true)
	if !ok {
		return
	}

	account.Verified = true
	if err := h.accountRepo.Update(r.Context(), account); err != nil {
		h.logger.WithError(err).Error("Failed to mark account verified")
		respondWithError(w, http.StatusInternalServerError, "VERIFICATION_FAILED", "Failed to verify account")
		return
	}

	respondWithJSON(w, http.StatusOK, models.MessageResponse{Success: true, Message: "Account verified successfully"})
}

// ForgotPassword always answers with success so the endpoint does not reveal
// which emails have accounts.
func (h *AuthHandlers) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req models.ForgotPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	account, err := h.accountRepo.GetByEmail(r.Context(), req.Email)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load account")
	}
	if account != nil {
		if _, err := h.otpService.GenerateOTP(r.Context(), models.OTPPurposeReset, account.Email); err != nil {
			h.logger.WithError(err).Error("Failed to generate reset code")
		}
	}

	respondWithJSON(w, http.StatusOK, models.MessageResponse{
		Success: true,
		Message: "If an account exists for this email, a reset code has been sent",
	})
}

func (h *AuthHandlers) VerifyResetCode(w http.ResponseWriter, r *http.Request) {
	var req models.VerifyResetCodeRequest
	if !h.decode(w, r, &req) {
		return
	}

	if _, ok := h.checkOTP(w, r, models.OTPPurposeReset, req.Email, req.OTP, false); !ok {
		return
	}

	respondWithJSON(w, http.StatusOK, models.MessageResponse{Success: true, Message: "Reset code is valid"})
}

func (h *AuthHandlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req models.ResetPasswordRequest
	if !h.decode(w, r, &req, "ConfirmPassword") {
		return
	}

	account, ok := h.checkOTP(w, r, models.OTPPurposeReset, req.Email, req.OTP, true)
	if !ok {
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "RESET_FAILED", "Failed to reset password")
		return
	}

	account.PasswordHash = string(hash)
	if err := h.accountRepo.Update(r.Context(), account); err != nil {
		h.logger.WithError(err).Error("Failed to update password")
		respondWithError(w, http.StatusInternalServerError, "RESET_FAILED", "Failed to reset password")
		return
	}

	respondWithJSON(w, http.StatusOK, models.MessageResponse{Success: true, Message: "Password reset successfully"})
}

func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	account, ok := h.currentAccount(w, r)
	if !ok {
		return
	}

	respondWithJSON(w, http.StatusOK, dataResponse{Success: true, Data: account.Public()})
}

func (h *AuthHandlers) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateUserRequest
	if !h.decode(w, r, &req) {
		return
	}

	account, ok := h.currentAccount(w, r)
	if !ok {
		return
	}

	if name := strings.TrimSpace(req.Name); name != "" {
		account.Name = name
	} else if name := strings.TrimSpace(req.DisplayName); name != "" {
		account.Name = name
	}
	if req.Email != "" && !strings.EqualFold(req.Email, account.Email) {
		respondWithError(w, http.StatusBadRequest, "EMAIL_CHANGE_UNSUPPORTED", "Email cannot be changed")
		return
	}

	if err := h.accountRepo.Update(r.Context(), account); err != nil {
		h.logger.WithError(err).Error("Failed to update account")
		respondWithError(w, http.StatusInternalServerError, "UPDATE_FAILED", "Failed to update profile")
		return
	}

	respondWithJSON(w, http.StatusOK, dataResponse{Success: true, Data: account.Public()})
}

func (h *AuthHandlers) currentAccount(w http.ResponseWriter, r *http.Request) (*models.Account, bool) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
		return nil, false
	}

	account, err := h.accountRepo.GetByEmail(r.Context(), claims.Email)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load account")
		respondWithError(w, http.StatusInternalServerError, "INTERNAL", "Failed to load account")
		return nil, false
	}
	if account == nil {
		respondWithError(w, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "Account not found")
		return nil, false
	}
	return account, true
}

// checkOTP verifies otp against email's account and writes the error response
// when it fails.
func (h *AuthHandlers) checkOTP(w http.ResponseWriter, r *http.Request, purpose models.OTPPurpose, email, otp string, consume bool) (*models.Account, bool) {
	account, err := h.accountRepo.GetByEmail(r.Context(), email)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load account")
		respondWithError(w, http.StatusInternalServerError, "INTERNAL", "Failed to verify code")
		return nil, false
	}
	if account == nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_OTP", "Invalid or expired code")
		return nil, false
	}

	err = h.otpService.VerifyOTP(r.Context(), purpose, account.Email, strings.TrimSpace(otp), consume)
	switch {
	case err == nil:
		return account, true
	case errors.Is(err, service.ErrOTPMaxAttempts):
		respondWithError(w, http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS", "Too many attempts, request a new code")
	case errors.Is(err, service.ErrOTPExpired), errors.Is(err, service.ErrOTPNotFound), errors.Is(err, service.ErrOTPInvalid):
		respondWithError(w, http.StatusBadRequest, "INVALID_OTP", "Invalid or expired code")
	default:
		h.logger.WithError(err).Error("Failed to verify code")
		respondWithError(w, http.StatusInternalServerError, "INTERNAL", "Failed to verify code")
	}
	return nil, false
}

// decode reads and validates a JSON body, skipping the named client-only fields.
func (h *AuthHandlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}, except ...string) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return false
	}

	var err error
	if len(except) > 0 {
		err = h.validate.StructExcept(dst, except...)
	} else {
		err = h.validate.Struct(dst)
	}
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "VALIDATION_FAILED", validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return "Invalid " + strings.ToLower(fe.Field()) + ": failed " + fe.Tag() + " check"
	}
	return "Validation failed"
}

func respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, status int, code, message string) {
	respondWithJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
