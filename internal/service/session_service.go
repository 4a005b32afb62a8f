package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ekilie/ekilisync/internal/models"
	"github.com/ekilie/ekilisync/internal/repository"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

// Navigation targets.
const (
	RouteHome   = "/"
	RouteLogin  = "/login"
	RouteVerify = "/verify"
)

// Navigator moves the front-end to a route, replacing the current screen.
type Navigator interface {
	Replace(route string)
}

// AuthAPI is the subset of the API client the session drives.
type AuthAPI interface {
	Register(ctx context.Context, req models.RegisterRequest) (*models.AuthResponse, error)
	Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error)
	Logout(ctx context.Context) error
	SendVerificationEmail(ctx context.Context, email string) (*models.MessageResponse, error)
	VerifyAccount(ctx context.Context, req models.VerifyOTPRequest) (*models.MessageResponse, error)
	ForgotPassword(ctx context.Context, email string) (*models.MessageResponse, error)
	VerifyResetCode(ctx context.Context, req models.VerifyResetCodeRequest) (*models.MessageResponse, error)
	ResetPassword(ctx context.Context, req models.ResetPasswordRequest) (*models.MessageResponse, error)
	UpdateCurrentUser(ctx context.Context, req models.UpdateUserRequest) (*models.User, error)
}

type OnboardingStatus int

const (
	OnboardingLoading OnboardingStatus = iota
	Onboarded
	NotOnboarded
)

func (o OnboardingStatus) String() string {
	switch o {
	case Onboarded:
		return "onboarded"
	case NotOnboarded:
		return "not_onboarded"
	default:
		return "loading"
	}
}

// Phase is the navigation-relevant summary of a State.
type Phase int

const (
	PhaseInitializing Phase = iota
	PhaseAuthenticated
	PhaseNeedsOnboarding
	PhaseReadyForAuth
)

func (p Phase) String() string {
	switch p {
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseNeedsOnboarding:
		return "needs_onboarding"
	case PhaseReadyForAuth:
		return "ready_for_auth"
	default:
		return "initializing"
	}
}

type State struct {
	User            *models.CachedUser
	IsAuthenticated bool
	IsLoading       bool
	Onboarding      OnboardingStatus
}

func (s State) Phase() Phase {
	switch {
	case s.IsLoading || s.Onboarding == OnboardingLoading:
		return PhaseInitializing
	case s.IsAuthenticated:
		return PhaseAuthenticated
	case s.Onboarding == Onboarded:
		return PhaseReadyForAuth
	default:
		return PhaseNeedsOnboarding
	}
}

// SessionService owns the client-side session: it derives the state from the
// token store and moves it through sign-in, sign-up and sign-out.
type SessionService struct {
	api       AuthAPI
	tokens    *repository.TokenRepository
	navigator Navigator
	validate  *validator.Validate
	logger    *logrus.Logger

	mu    sync.RWMutex
	state State
}

func NewSessionService(api AuthAPI, tokens *repository.TokenRepository, navigator Navigator, logger *logrus.Logger) *SessionService {
	return &SessionService{
		api:       api,
		tokens:    tokens,
		navigator: navigator,
		validate:  newValidator(),
		logger:    logger,
		state: State{
			IsLoading:  true,
			Onboarding: OnboardingLoading,
		},
	}
}

// State returns a snapshot of the current session.
func (s *SessionService) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.state
	if st.User != nil {
		u := *st.User
		st.User = &u
	}
	return st
}

func (s *SessionService) Phase() Phase {
	return s.State().Phase()
}

func (s *SessionService) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *SessionService) update(fn func(*State)) {
	s.mu.Lock()
	fn(&s.state)
	s.mu.Unlock()
}

// Initialize restores the session from the token store. A corrupt cached
// identity counts as no identity.
func (s *SessionService) Initialize(ctx context.Context) error {
	onboarded, _, err := s.tokens.Onboarded(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to read onboarding flag")
	}

	status := NotOnboarded
	if onboarded {
		status = Onboarded
	}

	user, authenticated, err := s.loadIdentity(ctx)
	if err != nil {
		s.setState(State{Onboarding: status})
		return err
	}

	s.setState(State{
		User:            user,
		IsAuthenticated: authenticated,
		Onboarding:      status,
	})

	s.logger.WithFields(logrus.Fields{
		"authenticated": authenticated,
		"onboarding":    status.String(),
	}).Debug("Session initialized")
	return nil
}

// loadIdentity reads the cached identity and reports whether it, together with
// an access token, forms an authenticated session.
func (s *SessionService) loadIdentity(ctx context.Context) (*models.CachedUser, bool, error) {
	token, err := s.tokens.AccessToken(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to read access token")
		return nil, false, err
	}

	user, err := s.tokens.CachedUser(ctx)
	if errors.Is(err, repository.ErrCorruptUser) {
		s.logger.WithError(err).Warn("Ignoring corrupt cached user")
		user, err = nil, nil
	}
	if err != nil {
		s.logger.WithError(err).Error("Failed to read cached user")
		return nil, false, err
	}

	return user, token != "" && user != nil, nil
}

func (s *SessionService) SignIn(ctx context.Context, req models.LoginRequest) error {
	req.Email = strings.TrimSpace(req.Email)
	if err := validateInput(s.validate, req); err != nil {
		return err
	}

	resp, err := s.api.Login(ctx, req)
	if err != nil {
		s.logger.WithError(err).Warn("Sign in failed")
		return err
	}

	user := resp.User.Cached()
	if err := s.tokens.SaveSession(ctx, resp.Tokens(), user); err != nil {
		s.logger.WithError(err).Error("Failed to persist session")
		return err
	}

	if err := s.tokens.SetOnboarded(ctx, true); err != nil {
		s.logger.WithError(err).Warn("Failed to persist onboarding flag")
	}

	s.setState(State{
		User:            &user,
		IsAuthenticated: true,
		Onboarding:      Onboarded,
	})

	s.logger.WithField("user_id", user.ID).Info("Signed in")
	s.navigator.Replace(RouteHome)
	return nil
}

// SignUp registers an account. The account still has to be verified and signed
// into, so the session stays unauthenticated.
func (s *SessionService) SignUp(ctx context.Context, req models.RegisterRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if err := validateInput(s.validate, req); err != nil {
		return err
	}

	resp, err := s.api.Register(ctx, req)
	if err != nil {
		s.logger.WithError(err).Warn("Sign up failed")
		return err
	}

	if err := s.tokens.ClearTokens(ctx); err != nil {
		s.logger.WithError(err).Error("Failed to clear tokens")
		return err
	}

	user := resp.User.Cached()
	if err := s.tokens.SaveUser(ctx, user); err != nil {
		s.logger.WithError(err).Error("Failed to persist user")
		return err
	}

	if err := s.tokens.SetOnboarded(ctx, true); err != nil {
		s.logger.WithError(err).Warn("Failed to persist onboarding flag")
	}

	s.setState(State{
		User:       &user,
		Onboarding: Onboarded,
	})

	s.logger.WithField("email", user.Email).Info("Registered, awaiting verification")
	s.navigator.Replace(RouteVerify)
	return nil
}

func (s *SessionService) SendVerificationEmail(ctx context.Context, email string) error {
	req := models.SendVerificationRequest{Email: strings.TrimSpace(email)}
	if err := validateInput(s.validate, req); err != nil {
		return err
	}

	if _, err := s.api.SendVerificationEmail(ctx, req.Email); err != nil {
		s.logger.WithError(err).Warn("Failed to send verification email")
		return err
	}
	return nil
}

// VerifyAccount confirms the emailed code. It does not sign the user in.
func (s *SessionService) VerifyAccount(ctx context.Context, req models.VerifyOTPRequest) error {
	req.Email = strings.TrimSpace(req.Email)
	req.OTP = strings.TrimSpace(req.OTP)
	if err := validateInput(s.validate, req); err != nil {
		return err
	}

	if _, err := s.api.VerifyAccount(ctx, req); err != nil {
		s.logger.WithError(err).Warn("Account verification failed")
		return err
	}

	return s.RefreshUserData(ctx)
}

func (s *SessionService) ForgotPassword(ctx context.Context, email string) error {
	req := models.ForgotPasswordRequest{Email: strings.TrimSpace(email)}
	if err := validateInput(s.validate, req); err != nil {
		return err
	}

	if _, err := s.api.ForgotPassword(ctx, req.Email); err != nil {
		s.logger.WithError(err).Warn("Forgot password request failed")
		return err
	}
	return nil
}

func (s *SessionService) VerifyResetCode(ctx context.Context, req models.VerifyResetCodeRequest) error {
	req.Email = strings.TrimSpace(req.Email)
	req.OTP = strings.TrimSpace(req.OTP)
	if err := validateInput(s.validate, req); err != nil {
		return err
	}

	if _, err := s.api.VerifyResetCode(ctx, req); err != nil {
		s.logger.WithError(err).Warn("Reset code verification failed")
		return err
	}
	return nil
}

func (s *SessionService) ResetPassword(ctx context.Context, req models.ResetPasswordRequest) error {
	req.Email = strings.TrimSpace(req.Email)
	req.OTP = strings.TrimSpace(req.OTP)
	if err := validateInput(s.validate, req); err != nil {
		return err
	}

	if _, err := s.api.ResetPassword(ctx, req); err != nil {
		s.logger.WithError(err).Warn("Password reset failed")
		return err
	}

	s.navigator.Replace(RouteLogin)
	return nil
}

// SignOut ends the session. The server call is best effort; local state is
// cleared regardless of its outcome.
func (s *SessionService) SignOut(ctx context.Context) error {
	if err := s.api.Logout(ctx); err != nil {
		s.logger.WithError(err).Warn("Server logout failed, clearing local session anyway")
	}

	clearErr := s.tokens.ClearSession(ctx)
	if clearErr != nil {
		s.logger.WithError(clearErr).Error("Failed to clear session storage")
	}

	s.setState(State{Onboarding: NotOnboarded})

	s.logger.Info("Signed out")
	s.navigator.Replace(RouteLogin)

	if clearErr != nil {
		return fmt.Errorf("failed to clear session: %w", clearErr)
	}
	return nil
}

// RefreshUserData reloads the identity from the token store.
func (s *SessionService) RefreshUserData(ctx context.Context) error {
	user, authenticated, err := s.loadIdentity(ctx)
	if err != nil {
		return err
	}

	s.update(func(st *State) {
		st.User = user
		st.IsAuthenticated = authenticated
	})
	return nil
}

// UpdateProfile edits the signed-in account and caches the result.
func (s *SessionService) UpdateProfile(ctx context.Context, req models.UpdateUserRequest) error {
	if err := validateInput(s.validate, req); err != nil {
		return err
	}

	updated, err := s.api.UpdateCurrentUser(ctx, req)
	if err != nil {
		s.logger.WithError(err).Warn("Profile update failed")
		return err
	}

	user := updated.Cached()
	if err := s.tokens.SaveUser(ctx, user); err != nil {
		s.logger.WithError(err).Error("Failed to persist user")
		return err
	}

	s.update(func(st *State) {
		st.User = &user
	})
	return nil
}

func (s *SessionService) CompleteOnboarding(ctx context.Context) error {
	if err := s.tokens.SetOnboarded(ctx, true); err != nil {
		return err
	}

	s.update(func(st *State) {
		st.Onboarding = Onboarded
	})
	return nil
}
