package handlers

import (
	"net/http"

	"github.com/ekilie/ekilisync/internal/middleware"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// NewRouter mounts the API under /api/v1.
func NewRouter(
	authHandlers *AuthHandlers,
	postHandlers *PostHandlers,
	authMiddleware *middleware.AuthMiddleware,
	logger *logrus.Logger,
) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.CORSMiddleware)
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.RecoverMiddleware(logger))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/register", authHandlers.Register).Methods(http.MethodPost)
	api.HandleFunc("/login", authHandlers.Login).Methods(http.MethodPost)

	auth := api.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/refresh", authHandlers.RefreshToken).Methods(http.MethodPost)
	auth.HandleFunc("/send-verification", authHandlers.SendVerification).Methods(http.MethodPost)
	auth.HandleFunc("/verify", authHandlers.Verify).Methods(http.MethodPost)
	auth.HandleFunc("/forgot-password", authHandlers.ForgotPassword).Methods(http.MethodPost)
	auth.HandleFunc("/verify-reset-code", authHandlers.VerifyResetCode).Methods(http.MethodPost)
	auth.HandleFunc("/reset-password", authHandlers.ResetPassword).Methods(http.MethodPost)

	protected := api.NewRoute().Subrouter()
	protected.Use(authMiddleware.RequireAuth)

	protected.HandleFunc("/logout", authHandlers.Logout).Methods(http.MethodPost)
	protected.HandleFunc("/users/me", authHandlers.Me).Methods(http.MethodGet)
	protected.HandleFunc("/users/me/edit", authHandlers.UpdateMe).Methods(http.MethodPut)

	protected.HandleFunc("/posts", postHandlers.List).Methods(http.MethodGet)
	protected.HandleFunc("/posts", postHandlers.Create).Methods(http.MethodPost)
	protected.HandleFunc("/posts/{id}", postHandlers.Get).Methods(http.MethodGet)
	protected.HandleFunc("/posts/{id}", postHandlers.Update).Methods(http.MethodPut)
	protected.HandleFunc("/posts/{id}", postHandlers.Delete).Methods(http.MethodDelete)
	protected.HandleFunc("/posts/{id}/like", postHandlers.Like).Methods(http.MethodPost)
	protected.HandleFunc("/posts/{id}/comments", postHandlers.AddComment).Methods(http.MethodPost)
	protected.HandleFunc("/posts/{id}/play", postHandlers.Play).Methods(http.MethodPost)

	return router
}
