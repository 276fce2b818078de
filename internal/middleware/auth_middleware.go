package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/careerpilot/careerpilot/internal/service"
	"github.com/sirupsen/logrus"
)

type contextKey string

const claimsKey contextKey = "claims"

type AuthMiddleware struct {
	jwtService *service.JWTService
	logger     *logrus.Logger
}

func NewAuthMiddleware(jwtService *service.JWTService, logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		jwtService: jwtService,
		logger:     logger,
	}
}

// RequireAuth accepts only access tokens sent as "Bearer <token>".
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			respondUnauthorized(w, "Missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			respondUnauthorized(w, "Invalid authorization header format")
			return
		}

		claims, err := m.jwtService.VerifyToken(parts[1])
		if err != nil {
			m.logger.WithError(err).Debug("Token verification failed")
			respondUnauthorized(w, "Invalid or expired token")
			return
		}

		if claims.Type != service.TokenTypeAccess {
			respondUnauthorized(w, "Invalid token type")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

func WithClaims(ctx context.Context, claims *service.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

func ClaimsFromContext(ctx context.Context) (*service.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*service.Claims)
	return claims, ok && claims != nil
}

func respondUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
