package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/careerpilot/careerpilot/internal/middleware"
	"github.com/careerpilot/careerpilot/internal/models"
	"github.com/careerpilot/careerpilot/internal/service"
	"github.com/sirupsen/logrus"
)

type AuthHandlers struct {
	otpService          *service.OTPService
	accountService      *service.AccountService
	jwtService          *service.JWTService
	refreshTokenService *service.RefreshTokenService
	logger              *logrus.Logger
}

func NewAuthHandlers(
	otpService *service.OTPService,
	accountService *service.AccountService,
	jwtService *service.JWTService,
	refreshTokenService *service.RefreshTokenService,
	logger *logrus.Logger,
) *AuthHandlers {
	return &AuthHandlers{
		otpService:          otpService,
		accountService:      accountService,
		jwtService:          jwtService,
		refreshTokenService: refreshTokenService,
		logger:              logger,
	}
}

type SendOTPRequest struct {
	Email string `json:"email" validate:"required,email,mailbox"`
	Type  string `json:"type" validate:"required,oneof=verify reset"`
}

type VerifyOTPRequest struct {
	Email string `json:"email" validate:"required,email,mailbox"`
	Code  string `json:"code" validate:"required,len=6"`
	Type  string `json:"type,omitempty" validate:"omitempty,oneof=verify reset"`
}

type VerifyOTPResponse struct {
	Message    string `json:"message"`
	ResetToken string `json:"reset_token,omitempty"`
}

type RegisterRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email,mailbox"`
	Password string `json:"password" validate:"required,min=6"`
	Phone    string `json:"phone,omitempty" validate:"omitempty,max=32"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,mailbox"`
	Password string `json:"password" validate:"required,min=6"`
}

type LoginResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	User         UserResponse `json:"user"`
}

type ResetPasswordRequest struct {
	ResetToken string `json:"reset_token" validate:"required"`
	Password   string `json:"password" validate:"required,min=6"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

type RefreshTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// SendOTP handles POST /auth/send-otp.
func (h *AuthHandlers) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req SendOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if err := validateRequest(req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := h.otpService.Issue(r.Context(), req.Email, models.Purpose(req.Type))
	var dispatchErr *service.DispatchError
	switch {
	case err == nil:
		respondWithJSON(w, http.StatusOK, MessageResponse{Message: "OTP sent successfully"})
	case errors.Is(err, service.ErrUserNotFound):
		respondWithError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, service.ErrRateLimited):
		respondWithError(w, http.StatusTooManyRequests, "Too many OTP requests")
	case errors.As(err, &dispatchErr):
		// Already logged with dispatch_failed by the service.
		respondWithError(w, http.StatusInternalServerError, "Failed to send OTP")
	default:
		h.logger.WithError(err).Error("Failed to issue OTP")
		respondWithError(w, http.StatusInternalServerError, "Failed to send OTP")
	}
}

// VerifyOTP handles POST /auth/verify-otp.
func (h *AuthHandlers) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if err := validateRequest(req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	// An empty type searches both purposes.
	result, err := h.otpService.Verify(r.Context(), req.Email, req.Code, models.Purpose(req.Type))
	switch {
	case err == nil:
		respondWithJSON(w, http.StatusOK, VerifyOTPResponse{
			Message:    "OTP verified successfully",
			ResetToken: result.ResetToken,
		})
	case errors.Is(err, service.ErrUserNotFound):
		respondWithError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, service.ErrInvalidOrExpired):
		respondWithError(w, http.StatusBadRequest, "Invalid or expired OTP")
	default:
		h.logger.WithError(err).Error("Failed to verify OTP")
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// Register handles POST /auth/register. The client follows up with
// send-otp to verify the address.
func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.Phone = strings.TrimSpace(req.Phone)
	if err := validateRequest(req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.accountService.Register(r.Context(), service.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Phone:    req.Phone,
	})
	if err != nil {
		if errors.Is(err, service.ErrUserExists) {
			respondWithError(w, http.StatusConflict, "User already exists")
			return
		}
		h.logger.WithError(err).Error("Failed to register user")
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "User created successfully",
		"user":    newUserResponse(user),
	})
}

// Login handles POST /auth/login with email and password.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if err := validateRequest(req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.accountService.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			respondWithError(w, http.StatusUnauthorized, "Invalid email or password")
			return
		}
		h.logger.WithError(err).Error("Failed to authenticate user")
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	tokenPair, err := h.issueTokens(r, user.ID, user.Email, "")
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to generate tokens")
		return
	}

	respondWithJSON(w, http.StatusOK, LoginResponse{
		AccessToken:  tokenPair.AccessToken,
		RefreshToken: tokenPair.RefreshToken,
		TokenType:    tokenPair.TokenType,
		ExpiresIn:    tokenPair.ExpiresIn,
		User:         newUserResponse(user),
	})
}

// ResetPassword handles POST /auth/reset-password with the grant returned by
// verify-otp for a reset code.
func (h *AuthHandlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	if err := validateRequest(req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.accountService.ResetPassword(r.Context(), req.ResetToken, req.Password); err != nil {
		if errors.Is(err, service.ErrInvalidResetToken) {
			respondWithError(w, http.StatusBadRequest, "Invalid or expired reset token")
			return
		}
		h.logger.WithError(err).Error("Failed to reset password")
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, MessageResponse{Message: "Password reset successfully"})
}

func (h *AuthHandlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	if err := validateRequest(req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	claims, err := h.jwtService.VerifyTokenOfType(req.RefreshToken, service.TokenTypeRefresh)
	if err != nil {
		respondWithError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	tokenData, err := h.refreshTokenService.Get(r.Context(), claims.JTI)
	if err != nil {
		if !errors.Is(err, service.ErrRefreshTokenNotFound) {
			h.logger.WithError(err).Error("Failed to load refresh token")
			respondWithError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		respondWithError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	// A revoked token coming back means it leaked: retire the whole family.
	if tokenData.Revoked {
		if err := h.refreshTokenService.RevokeFamily(r.Context(), tokenData.FamilyID); err != nil {
			h.logger.WithError(err).Error("Failed to revoke token family")
		}
		h.logger.WithField("user_id", tokenData.UserID).Warn("Revoked refresh token reused")
		respondWithError(w, http.StatusUnauthorized, "Refresh token has been revoked")
		return
	}

	if err := h.refreshTokenService.Revoke(r.Context(), claims.JTI); err != nil {
		h.logger.WithError(err).Warn("Failed to revoke old refresh token")
	}

	tokenPair, err := h.issueTokens(r, claims.UserID(), claims.Email, tokenData.FamilyID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to generate tokens")
		return
	}

	respondWithJSON(w, http.StatusOK, RefreshTokenResponse{
		AccessToken:  tokenPair.AccessToken,
		RefreshToken: tokenPair.RefreshToken,
		TokenType:    tokenPair.TokenType,
		ExpiresIn:    tokenPair.ExpiresIn,
	})
}

// Logout requires an access token; the refresh token in the body, if any,
// is revoked.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	// The body is optional; an empty one only ends the access token's use
	// on the client.
	var req LogoutRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	if req.RefreshToken != "" {
		refreshClaims, err := h.jwtService.VerifyTokenOfType(req.RefreshToken, service.TokenTypeRefresh)
		if err == nil && refreshClaims.UserID() == claims.UserID() {
			if err := h.refreshTokenService.Revoke(r.Context(), refreshClaims.JTI); err != nil && !errors.Is(err, service.ErrRefreshTokenNotFound) {
				h.logger.WithError(err).Warn("Failed to revoke refresh token on logout")
			}
		}
	}

	respondWithJSON(w, http.StatusOK, MessageResponse{Message: "Logged out successfully"})
}

func (h *AuthHandlers) issueTokens(r *http.Request, userID, email, familyID string) (*models.TokenPair, error) {
	tokenPair, refreshClaims, familyID, err := h.jwtService.GenerateTokenPair(userID, email, familyID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to generate tokens")
		return nil, err
	}

	if err := h.refreshTokenService.Store(
		r.Context(),
		refreshClaims.JTI,
		userID,
		email,
		familyID,
		refreshClaims.RegisteredClaims.ExpiresAt.Time,
	); err != nil {
		h.logger.WithError(err).Error("Failed to store refresh token")
		return nil, err
	}

	return tokenPair, nil
}
