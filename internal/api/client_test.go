package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ekilie/ekilisync/internal/middleware"
	"github.com/ekilie/ekilisync/internal/models"
	"github.com/ekilie/ekilisync/internal/repository"
	"github.com/ekilie/ekilisync/internal/service"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func jwtExpiringAt(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "42",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-signing-key"))
	require.NoError(t, err)
	return token
}

func postsQuery() models.ListPostsParams {
	return models.ListPostsParams{Limit: 10}
}

func newClient(t *testing.T, base string, authed *http.Client) *Client {
	t.Helper()
	c, err := NewClient(base, http.DefaultClient, authed, quietLogger())
	require.NoError(t, err)
	return c
}

// session wires the same refresh-aware pipeline the CLI uses against base.
type session struct {
	client  *Client
	tokens  *repository.TokenRepository
	expired int32
}

func newSession(t *testing.T, base string) *session {
	t.Helper()

	s := &session{
		tokens: repository.NewTokenRepository(repository.NewMemoryStore(), "ekili-sync:", quietLogger()),
	}

	refreshURL, err := ResolveURL(base, RefreshPath)
	require.NoError(t, err)

	validator := service.NewTokenValidator()
	refresher := service.NewTokenRefresher(s.tokens, validator, http.DefaultClient, refreshURL, quietLogger())
	transport := middleware.NewAuthTransport(nil, s.tokens, refresher, validator, quietLogger())
	transport.OnSessionExpired = func() { atomic.AddInt32(&s.expired, 1) }

	s.client = newClient(t, base, &http.Client{Transport: transport})
	return s
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{base: "http://localhost:8080/api/v1", want: "http://localhost:8080/api/v1/auth/refresh"},
		{base: "http://localhost:8080/api/v1/", want: "http://localhost:8080/api/v1/auth/refresh"},
		{base: "https://api.ekilie.com", want: "https://api.ekilie.com/auth/refresh"},
	}

	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			got, err := ResolveURL(tt.base, RefreshPath)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestClient_ExpiredTokenRefreshedBeforeRequest(t *testing.T) {
	var refreshCalls int32
	var gotAuth atomic.Value

	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshCalls, 1)
		writeJSON(w, http.StatusOK, map[string]string{"token": "new", "refresh_token": "new-r"})
	}).Methods(http.MethodPost)
	api.HandleFunc("/posts", func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, []models.Post{{ID: "p-1", Type: "audio"}})
	}).Methods(http.MethodGet)

	srv := httptest.NewServer(r)
	defer srv.Close()

	s := newSession(t, srv.URL+"/api/v1")
	ctx := context.Background()
	require.NoError(t, s.tokens.SaveTokens(ctx, models.TokenPair{
		AccessToken:  jwtExpiringAt(t, time.Now().Add(-time.Second)),
		RefreshToken: jwtExpiringAt(t, time.Now().Add(time.Hour)),
	}))

	posts, err := s.client.GetPosts(ctx, models.ListPostsParams{})
	require.NoError(t, err)
	require.Len(t, posts, 1)

	require.Equal(t, int32(1), atomic.LoadInt32(&refreshCalls))
	require.Equal(t, "Bearer new", gotAuth.Load())

	pair, err := s.tokens.Tokens(ctx)
	require.NoError(t, err)
	require.Equal(t, models.TokenPair{AccessToken: "new", RefreshToken: "new-r"}, pair)
}

func TestClient_SessionExpired(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid refresh token", "code": "UNAUTHORIZED"})
	})
	r.HandleFunc("/users/me", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid or expired token"})
	})

	srv := httptest.NewServer(r)
	defer srv.Close()

	s := newSession(t, srv.URL)
	ctx := context.Background()
	require.NoError(t, s.tokens.SaveTokens(ctx, models.TokenPair{
		AccessToken:  jwtExpiringAt(t, time.Now().Add(time.Hour)),
		RefreshToken: jwtExpiringAt(t, time.Now().Add(time.Hour)),
	}))

	_, err := s.client.GetCurrentUser(ctx)

	var se *SessionExpiredError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "Your session has expired. Please sign in again.", err.Error())
	require.Equal(t, int32(1), atomic.LoadInt32(&s.expired))
}

func TestClient_SecondUnauthorizedIsServerError(t *testing.T) {
	var hits int32
	r := mux.NewRouter()
	r.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"token": "new"})
	})
	r.HandleFunc("/posts/{id}", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid or expired token"})
	})

	srv := httptest.NewServer(r)
	defer srv.Close()

	s := newSession(t, srv.URL)
	ctx := context.Background()
	require.NoError(t, s.tokens.SaveTokens(ctx, models.TokenPair{
		AccessToken:  jwtExpiringAt(t, time.Now().Add(time.Hour)),
		RefreshToken: jwtExpiringAt(t, time.Now().Add(time.Hour)),
	}))

	_, err := s.client.GetPost(ctx, "p-1")

	require.True(t, IsStatus(err, http.StatusUnauthorized))
	require.Equal(t, "Invalid or expired token", err.Error())
	require.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestClient_UnwrapsDataEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    map[string]interface{}{"ID": 42, "name": "Amina", "email": "amina@x.io"},
		})
	}))
	defer srv.Close()

	user, err := newClient(t, srv.URL, http.DefaultClient).GetCurrentUser(context.Background())
	require.NoError(t, err)
	require.Equal(t, "42", user.ID)
	require.Equal(t, "Amina", user.Name)
	require.Equal(t, models.DefaultRole, user.Role)
}

func TestClient_LoginRejectsInvalidStructure(t *testing.T) {
	tests := []struct {
		name string
		body interface{}
	}{
		{name: "missing token", body: map[string]interface{}{"user": map[string]interface{}{"id": "1"}}},
		{name: "missing user", body: map[string]interface{}{"token": "t"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, tt.body)
			}))
			defer srv.Close()

			_, err := newClient(t, srv.URL, http.DefaultClient).Login(context.Background(), models.LoginRequest{
				Email:    "amina@x.io",
				Password: "secret123",
			})
			require.ErrorIs(t, err, ErrInvalidResponse)
			require.Equal(t, "Invalid response structure from server", err.Error())
		})
	}
}

func TestClient_ServerErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "Email already registered", "code": "CONFLICT"})
	}))
	defer srv.Close()

	_, err := newClient(t, srv.URL, http.DefaultClient).Register(context.Background(), models.RegisterRequest{
		Name:     "Amina",
		Email:    "amina@x.io",
		Password: "secret123",
	})

	var se *ServerError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusConflict, se.StatusCode)
	require.Equal(t, "Email already registered", se.Message)
}

func TestClient_RequestShapes(t *testing.T) {
	type seen struct {
		method string
		path   string
		query  string
		body   map[string]interface{}
	}
	var (
		mu   sync.Mutex
		last seen
	)
	lastSeen := func() seen {
		mu.Lock()
		defer mu.Unlock()
		return last
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := seen{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, body: map[string]interface{}{}}
		_ = json.NewDecoder(r.Body).Decode(&got.body)
		mu.Lock()
		last = got
		mu.Unlock()

		if r.URL.Path == "/posts" && r.Method == http.MethodGet {
			writeJSON(w, http.StatusOK, []models.Post{})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "ok"})
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, http.DefaultClient)
	ctx := context.Background()

	_, err := c.GetPosts(ctx, models.ListPostsParams{Limit: 5, Offset: 10, Sort: "popular", Search: "bongo"})
	require.NoError(t, err)
	require.Equal(t, "limit=5&offset=10&search=bongo&sort=popular", lastSeen().query)

	_, err = c.Register(ctx, models.RegisterRequest{Name: "Amina", Email: "amina@x.io", Password: "secret123", ConfirmPassword: "secret123"})
	require.ErrorIs(t, err, ErrInvalidResponse)
	got := lastSeen()
	require.Equal(t, "/register", got.path)
	require.NotContains(t, got.body, "ConfirmPassword")
	require.Equal(t, "secret123", got.body["password"])

	require.NoError(t, c.PlayPost(ctx, "p-9", 12.5))
	got = lastSeen()
	require.Equal(t, http.MethodPost, got.method)
	require.Equal(t, "/posts/p-9/play", got.path)
	require.Equal(t, 12.5, got.body["duration"])

	msg, err := c.ForgotPassword(ctx, "amina@x.io")
	require.NoError(t, err)
	require.Equal(t, "ok", msg.Message)
	got = lastSeen()
	require.Equal(t, "/auth/forgot-password", got.path)
	require.Equal(t, "amina@x.io", got.body["email"])
}
