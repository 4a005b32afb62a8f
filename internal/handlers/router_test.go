package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ekilie/ekilisync/internal/api"
	"github.com/ekilie/ekilisync/internal/config"
	"github.com/ekilie/ekilisync/internal/handlers"
	"github.com/ekilie/ekilisync/internal/middleware"
	"github.com/ekilie/ekilisync/internal/models"
	"github.com/ekilie/ekilisync/internal/repository"
	"github.com/ekilie/ekilisync/internal/service"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

type routes struct {
	mu    sync.Mutex
	stack []string
}

func (r *routes) Replace(route string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stack = append(r.stack, route)
}

func (r *routes) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.stack) == 0 {
		return ""
	}
	return r.stack[len(r.stack)-1]
}

// env is a reference backend plus a client session talking to it.
type env struct {
	srv     *httptest.Server
	base    string
	hook    *test.Hook
	tokens  *repository.TokenRepository
	client  *api.Client
	session *service.SessionService
	nav     *routes
}

func newEnv(t *testing.T) *env {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	hook := test.NewLocal(logger)

	store := repository.NewMemoryStore()
	jwtService, err := service.NewJWTService(&config.JWTConfig{
		SecretKey:     "0123456789abcdef0123456789abcdef",
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: time.Hour,
	}, logger)
	require.NoError(t, err)

	otpService := service.NewOTPService(
		repository.NewOTPRepository(store, logger),
		&config.OTPConfig{Length: 6, Expiry: 10 * time.Minute, MaxAttempts: 5},
		logger,
	)
	refreshTokenService := service.NewRefreshTokenService(jwtService, repository.NewRefreshTokenRepository(store, logger), logger)

	router := handlers.NewRouter(
		handlers.NewAuthHandlers(otpService, jwtService, refreshTokenService, repository.NewAccountRepository(store, logger), logger),
		handlers.NewPostHandlers(logger),
		middleware.NewAuthMiddleware(jwtService, logger),
		logger,
	)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	e := &env{
		srv:    srv,
		base:   srv.URL + "/api/v1",
		hook:   hook,
		tokens: repository.NewTokenRepository(repository.NewMemoryStore(), "ekili-sync:", logger),
		nav:    &routes{},
	}

	refreshURL, err := api.ResolveURL(e.base, api.RefreshPath)
	require.NoError(t, err)

	validator := service.NewTokenValidator()
	refresher := service.NewTokenRefresher(e.tokens, validator, http.DefaultClient, refreshURL, logger)
	transport := middleware.NewAuthTransport(nil, e.tokens, refresher, validator, logger)
	transport.OnSessionExpired = func() { e.nav.Replace(service.RouteLogin) }

	e.client, err = api.NewClient(e.base, http.DefaultClient, &http.Client{Transport: transport}, logger)
	require.NoError(t, err)

	e.session = service.NewSessionService(e.client, e.tokens, e.nav, logger)
	require.NoError(t, e.session.Initialize(context.Background()))

	return e
}

// otp returns the most recent code logged for email and purpose.
func (e *env) otp(t *testing.T, purpose models.OTPPurpose, email string) string {
	t.Helper()
	entries := e.hook.AllEntries()
	for i := len(entries) - 1; i >= 0; i-- {
		d := entries[i].Data
		if d["email"] == email && d["purpose"] == purpose {
			if code, ok := d["otp"].(string); ok {
				return code
			}
		}
	}
	t.Fatalf("no %s code logged for %s", purpose, email)
	return ""
}

func (e *env) post(t *testing.T, path, bearer string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, e.base+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *env) register(t *testing.T, email, password string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, e.session.SignUp(ctx, models.RegisterRequest{
		Name:            "Amina Juma",
		Email:           email,
		Password:        password,
		ConfirmPassword: password,
	}))
	require.NoError(t, e.session.VerifyAccount(ctx, models.VerifyOTPRequest{
		Email: email,
		OTP:   e.otp(t, models.OTPPurposeVerify, email),
	}))
}

func TestHealth(t *testing.T) {
	e := newEnv(t)

	resp, err := http.Get(e.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	e := newEnv(t)

	resp, err := http.Get(e.base + "/posts")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var body handlers.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "UNAUTHORIZED", body.Code)
	require.NotEmpty(t, body.Error)
}

func TestSessionLifecycle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.Equal(t, service.PhaseNeedsOnboarding, e.session.Phase())

	require.NoError(t, e.session.SignUp(ctx, models.RegisterRequest{
		Name:            "Amina Juma",
		Email:           "amina@ekilie.com",
		Password:        "bongo-flava-2024",
		ConfirmPassword: "bongo-flava-2024",
	}))
	require.Equal(t, service.RouteVerify, e.nav.last())
	require.Equal(t, service.PhaseReadyForAuth, e.session.Phase())

	// Unverified accounts cannot sign in.
	err := e.session.SignIn(ctx, models.LoginRequest{Email: "amina@ekilie.com", Password: "bongo-flava-2024"})
	require.True(t, api.IsStatus(err, http.StatusForbidden))

	require.NoError(t, e.session.VerifyAccount(ctx, models.VerifyOTPRequest{
		Email: "amina@ekilie.com",
		OTP:   e.otp(t, models.OTPPurposeVerify, "amina@ekilie.com"),
	}))
	require.False(t, e.session.State().IsAuthenticated)

	err = e.session.SignIn(ctx, models.LoginRequest{Email: "amina@ekilie.com", Password: "wrong-password"})
	require.True(t, api.IsStatus(err, http.StatusUnauthorized))
	require.False(t, e.session.State().IsAuthenticated)

	require.NoError(t, e.session.SignIn(ctx, models.LoginRequest{Email: "amina@ekilie.com", Password: "bongo-flava-2024"}))
	st := e.session.State()
	require.True(t, st.IsAuthenticated)
	require.Equal(t, "amina@ekilie.com", st.User.Email)
	require.Equal(t, service.RouteHome, e.nav.last())

	me, err := e.client.GetCurrentUser(ctx)
	require.NoError(t, err)
	require.Equal(t, st.User.ID, me.ID)

	require.NoError(t, e.session.UpdateProfile(ctx, models.UpdateUserRequest{Name: "Amina J."}))
	require.Equal(t, "Amina J.", e.session.State().User.Name)

	require.NoError(t, e.session.SignOut(ctx))
	require.Equal(t, service.PhaseNeedsOnboarding, e.session.Phase())
	require.Equal(t, service.RouteLogin, e.nav.last())

	pair, err := e.tokens.Tokens(ctx)
	require.NoError(t, err)
	require.Empty(t, pair.AccessToken)
	require.Empty(t, pair.RefreshToken)
}

func TestRefreshRotation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.register(t, "baraka@ekilie.com", "nyimbo-za-pwani")
	require.NoError(t, e.session.SignIn(ctx, models.LoginRequest{Email: "baraka@ekilie.com", Password: "nyimbo-za-pwani"}))

	before, err := e.tokens.Tokens(ctx)
	require.NoError(t, err)

	// An unreadable access token counts as expired and forces a refresh first.
	require.NoError(t, e.tokens.SaveTokens(ctx, models.TokenPair{AccessToken: "stale"}))

	_, err = e.client.GetPosts(ctx, models.ListPostsParams{})
	require.NoError(t, err)

	after, err := e.tokens.Tokens(ctx)
	require.NoError(t, err)
	require.NotEqual(t, "stale", after.AccessToken)
	require.NotEqual(t, before.RefreshToken, after.RefreshToken)

	// The spent refresh token is rejected.
	resp := e.post(t, "/auth/refresh", before.RefreshToken, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// An access token is not a refresh token.
	resp = e.post(t, "/auth/refresh", after.AccessToken, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPosts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.register(t, "amina@ekilie.com", "bongo-flava-2024")
	require.NoError(t, e.session.SignIn(ctx, models.LoginRequest{Email: "amina@ekilie.com", Password: "bongo-flava-2024"}))

	first, err := e.client.CreatePost(ctx, models.CreatePostRequest{Type: "text", Text: "Habari za asubuhi"})
	require.NoError(t, err)
	require.Equal(t, e.session.State().User.ID, first.UserID)

	second, err := e.client.CreatePost(ctx, models.CreatePostRequest{
		Type:     "audio",
		AudioURL: "https://cdn.ekilie.com/a/taarab.m4a",
		Duration: 42,
	})
	require.NoError(t, err)

	require.NoError(t, e.client.LikePost(ctx, first.ID))
	require.NoError(t, e.client.PlayPost(ctx, second.ID, 30))

	comment, err := e.client.AddComment(ctx, first.ID, models.AddCommentRequest{Text: "Safi sana"})
	require.NoError(t, err)
	require.Equal(t, first.ID, comment.PostID)

	got, err := e.client.GetPost(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.LikeCount)
	require.Equal(t, 1, got.CommentCount)

	posts, err := e.client.GetPosts(ctx, models.ListPostsParams{Search: "habari"})
	require.NoError(t, err)
	require.Len(t, posts, 1)
	require.Equal(t, first.ID, posts[0].ID)

	posts, err = e.client.GetPosts(ctx, models.ListPostsParams{Limit: 1})
	require.NoError(t, err)
	require.Len(t, posts, 1)

	updated, err := e.client.UpdatePost(ctx, first.ID, models.UpdatePostRequest{Text: "Habari za jioni"})
	require.NoError(t, err)
	require.Equal(t, "Habari za jioni", updated.Text)

	require.NoError(t, e.client.DeletePost(ctx, second.ID))
	_, err = e.client.GetPost(ctx, second.ID)
	require.True(t, api.IsStatus(err, http.StatusNotFound))
}

func TestPostOwnership(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.register(t, "amina@ekilie.com", "bongo-flava-2024")
	require.NoError(t, e.session.SignIn(ctx, models.LoginRequest{Email: "amina@ekilie.com", Password: "bongo-flava-2024"}))
	post, err := e.client.CreatePost(ctx, models.CreatePostRequest{Text: "Yangu"})
	require.NoError(t, err)
	require.NoError(t, e.session.SignOut(ctx))

	e.register(t, "baraka@ekilie.com", "nyimbo-za-pwani")
	require.NoError(t, e.session.SignIn(ctx, models.LoginRequest{Email: "baraka@ekilie.com", Password: "nyimbo-za-pwani"}))

	err = e.client.DeletePost(ctx, post.ID)
	require.True(t, api.IsStatus(err, http.StatusForbidden))
}

func TestPasswordReset(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.register(t, "amina@ekilie.com", "bongo-flava-2024")

	require.NoError(t, e.session.ForgotPassword(ctx, "amina@ekilie.com"))
	code := e.otp(t, models.OTPPurposeReset, "amina@ekilie.com")

	require.NoError(t, e.session.VerifyResetCode(ctx, models.VerifyResetCodeRequest{Email: "amina@ekilie.com", OTP: code}))
	require.NoError(t, e.session.ResetPassword(ctx, models.ResetPasswordRequest{
		Email:           "amina@ekilie.com",
		OTP:             code,
		NewPassword:     "mpya-kabisa-2025",
		ConfirmPassword: "mpya-kabisa-2025",
	}))
	require.Equal(t, service.RouteLogin, e.nav.last())

	// The code is spent once the password has been reset.
	err := e.session.ResetPassword(ctx, models.ResetPasswordRequest{
		Email:           "amina@ekilie.com",
		OTP:             code,
		NewPassword:     "jaribio-la-pili",
		ConfirmPassword: "jaribio-la-pili",
	})
	require.Error(t, err)

	err = e.session.SignIn(ctx, models.LoginRequest{Email: "amina@ekilie.com", Password: "bongo-flava-2024"})
	require.True(t, api.IsStatus(err, http.StatusUnauthorized))
	require.NoError(t, e.session.SignIn(ctx, models.LoginRequest{Email: "amina@ekilie.com", Password: "mpya-kabisa-2025"}))
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	e := newEnv(t)

	// Unknown addresses get the same answer as known ones.
	require.NoError(t, e.session.ForgotPassword(context.Background(), "nobody@ekilie.com"))
}

func TestRegisterDuplicate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.register(t, "amina@ekilie.com", "bongo-flava-2024")

	err := e.session.SignUp(ctx, models.RegisterRequest{
		Name:            "Amina",
		Email:           "AMINA@ekilie.com",
		Password:        "another-password",
		ConfirmPassword: "another-password",
	})

	var se *api.ServerError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusConflict, se.StatusCode)
	require.Equal(t, "An account with this email already exists", se.Message)
}

func TestListPostsClampsPageSize(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.register(t, "amina@ekilie.com", "bongo-flava-2024")
	require.NoError(t, e.session.SignIn(ctx, models.LoginRequest{Email: "amina@ekilie.com", Password: "bongo-flava-2024"}))
	_, err := e.client.CreatePost(ctx, models.CreatePostRequest{Text: "Habari"})
	require.NoError(t, err)
	_, err = e.client.CreatePost(ctx, models.CreatePostRequest{Text: "Mambo"})
	require.NoError(t, err)

	access, err := e.tokens.AccessToken(ctx)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, e.base+"/posts?limit=9223372036854775807&offset=1", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+access)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Data []models.Post `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Data, 1)
}
