package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/careerpilot/careerpilot/internal/config"
	"github.com/careerpilot/careerpilot/internal/service"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(buf *bytes.Buffer) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(buf)
	return logger
}

func TestRequireAuth(t *testing.T) {
	var buf bytes.Buffer
	logger := testLogger(&buf)
	jwtService, err := service.NewJWTService(&config.JWTConfig{
		SecretKey:     "0123456789abcdef0123456789abcdef",
		AccessExpiry:  time.Minute,
		RefreshExpiry: time.Hour,
		ResetExpiry:   time.Minute,
	}, logger)
	require.NoError(t, err)

	pair, _, _, err := jwtService.GenerateTokenPair("user-1", "a@x.com", "")
	require.NoError(t, err)
	resetToken, err := jwtService.GenerateResetToken("user-1", "a@x.com")
	require.NoError(t, err)

	var seen *service.Claims
	handler := NewAuthMiddleware(jwtService, logger).RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"refresh token", "Bearer " + pair.RefreshToken, http.StatusUnauthorized},
		{"reset token", "Bearer " + resetToken, http.StatusUnauthorized},
		{"access token", "Bearer " + pair.AccessToken, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/user/profile", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Nil(t, seen)
				assert.Contains(t, rec.Body.String(), `"error"`)
				return
			}
			require.NotNil(t, seen)
			assert.Equal(t, "user-1", seen.UserID())
		})
	}
}

func TestClaimsFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := ClaimsFromContext(req.Context())
	assert.False(t, ok)
}

func TestCORSMiddleware(t *testing.T) {
	called := false
	handler := CORSMiddleware("https://app.careerpilot.dev")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/auth/send-otp", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.careerpilot.dev", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.False(t, called)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/send-otp", nil))
	assert.True(t, called)
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	handler := LoggingMiddleware(testLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), `"path":"/health"`)
}
