package service

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/careerpilot/careerpilot/internal/config"
	"github.com/careerpilot/careerpilot/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
	TokenTypeReset   = "reset"
)

type JWTService struct {
	secretKey     []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	resetExpiry   time.Duration
	logger        *logrus.Logger
}

func NewJWTService(cfg *config.JWTConfig, logger *logrus.Logger) (*JWTService, error) {
	secretKey := []byte(cfg.SecretKey)
	if len(secretKey) < 32 {
		return nil, fmt.Errorf("secret key must be at least 32 bytes")
	}

	return &JWTService{
		secretKey:     secretKey,
		accessExpiry:  cfg.AccessExpiry,
		refreshExpiry: cfg.RefreshExpiry,
		resetExpiry:   cfg.ResetExpiry,
		logger:        logger,
	}, nil
}

type Claims struct {
	Email string `json:"email"`
	Type  string `json:"type"`
	JTI   string `json:"jti"`
	jwt.RegisteredClaims
}

// UserID is the token subject.
func (c *Claims) UserID() string {
	return c.Subject
}

func (s *JWTService) sign(userID, email, tokenType string, expiry time.Duration, now time.Time) (string, *Claims, error) {
	jti := uuid.New().String()
	claims := &Claims{
		Email: email,
		Type:  tokenType,
		JTI:   jti,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			ID:        jti,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secretKey)
	if err != nil {
		s.logger.WithError(err).WithField("type", tokenType).Error("Failed to sign token")
		return "", nil, fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}

	return signed, claims, nil
}

// GenerateTokenPair issues an access and a refresh token. An empty familyID
// starts a new refresh token family. The refresh claims are returned so the
// caller can track the refresh token.
func (s *JWTService) GenerateTokenPair(userID, email, familyID string) (*models.TokenPair, *Claims, string, error) {
	now := time.Now()

	if familyID == "" {
		familyID = uuid.New().String()
	}

	accessToken, _, err := s.sign(userID, email, TokenTypeAccess, s.accessExpiry, now)
	if err != nil {
		return nil, nil, "", err
	}

	refreshToken, refreshClaims, err := s.sign(userID, email, TokenTypeRefresh, s.refreshExpiry, now)
	if err != nil {
		return nil, nil, "", err
	}

	return &models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessExpiry.Seconds()),
	}, refreshClaims, familyID, nil
}

// GenerateResetToken issues the short-lived grant handed out after a reset
// code has been verified.
func (s *JWTService) GenerateResetToken(userID, email string) (string, error) {
	token, _, err := s.sign(userID, email, TokenTypeReset, s.resetExpiry, time.Now())
	return token, err
}

func (s *JWTService) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}

// VerifyTokenOfType is VerifyToken plus a check of the type claim.
func (s *JWTService) VerifyTokenOfType(tokenString, tokenType string) (*Claims, error) {
	claims, err := s.VerifyToken(tokenString)
	if err != nil {
		return nil, err
	}

	if claims.Type != tokenType {
		return nil, fmt.Errorf("token is not a %s token", tokenType)
	}

	return claims, nil
}

func GenerateSecretKey() (string, error) {
	key := make([]byte, 32) // 256 bits
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(key), nil
}
