package handlers

import (
	"net/http"

	"github.com/careerpilot/careerpilot/internal/middleware"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func NewRouter(
	authHandlers *AuthHandlers,
	userHandlers *UserHandlers,
	authMiddleware *middleware.AuthMiddleware,
	allowedOrigin string,
	logger *logrus.Logger,
) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.CORSMiddleware(allowedOrigin))
	router.Use(middleware.LoggingMiddleware(logger))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet, http.MethodOptions)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	auth := router.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/send-otp", authHandlers.SendOTP).Methods(http.MethodPost, http.MethodOptions)
	auth.HandleFunc("/verify-otp", authHandlers.VerifyOTP).Methods(http.MethodPost, http.MethodOptions)
	auth.HandleFunc("/register", authHandlers.Register).Methods(http.MethodPost, http.MethodOptions)
	auth.HandleFunc("/login", authHandlers.Login).Methods(http.MethodPost, http.MethodOptions)
	auth.HandleFunc("/reset-password", authHandlers.ResetPassword).Methods(http.MethodPost, http.MethodOptions)
	auth.HandleFunc("/refresh", authHandlers.RefreshToken).Methods(http.MethodPost, http.MethodOptions)
	auth.Handle("/logout", authMiddleware.RequireAuth(http.HandlerFunc(authHandlers.Logout))).Methods(http.MethodPost, http.MethodOptions)

	user := router.PathPrefix("/user").Subrouter()
	user.Use(authMiddleware.RequireAuth)
	user.HandleFunc("/profile", userHandlers.GetProfile).Methods(http.MethodGet, http.MethodOptions)
	user.HandleFunc("/profile", userHandlers.UpdateProfile).Methods(http.MethodPatch)

	return router
}
