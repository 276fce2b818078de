package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/careerpilot/careerpilot/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var ErrRefreshTokenNotFound = errors.New("refresh token not found")

type RefreshTokenService struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRefreshTokenService(client *redis.Client, logger *logrus.Logger) *RefreshTokenService {
	return &RefreshTokenService{
		client: client,
		logger: logger,
	}
}

func refreshKey(jti string) string {
	return fmt.Sprintf("refresh_token:%s", jti)
}

func revokedKey(jti string) string {
	return fmt.Sprintf("revoked_token:%s", jti)
}

func familyKey(familyID string) string {
	return fmt.Sprintf("refresh_family:%s", familyID)
}

func userFamiliesKey(userID string) string {
	return fmt.Sprintf("user_families:%s", userID)
}

func (s *RefreshTokenService) Store(ctx context.Context, jti, userID, email, familyID string, expiresAt time.Time) error {
	tokenData := models.RefreshTokenData{
		JTI:       jti,
		UserID:    userID,
		Email:     email,
		FamilyID:  familyID,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
		Revoked:   false,
	}

	dataJSON, err := json.Marshal(tokenData)
	if err != nil {
		return fmt.Errorf("failed to marshal token data: %w", err)
	}

	ttl := time.Until(expiresAt)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, refreshKey(jti), dataJSON, ttl)
	pipe.SAdd(ctx, familyKey(familyID), jti)
	pipe.Expire(ctx, familyKey(familyID), ttl)
	pipe.SAdd(ctx, userFamiliesKey(userID), familyID)
	pipe.Expire(ctx, userFamiliesKey(userID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.WithError(err).Error("Failed to store refresh token")
		return fmt.Errorf("failed to store refresh token: %w", err)
	}

	return nil
}

func (s *RefreshTokenService) Get(ctx context.Context, jti string) (*models.RefreshTokenData, error) {
	dataJSON, err := s.client.Get(ctx, refreshKey(jti)).Result()
	if err == redis.Nil {
		return nil, ErrRefreshTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	var tokenData models.RefreshTokenData
	if err := json.Unmarshal([]byte(dataJSON), &tokenData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token data: %w", err)
	}

	return &tokenData, nil
}

func (s *RefreshTokenService) Revoke(ctx context.Context, jti string) error {
	tokenData, err := s.Get(ctx, jti)
	if err != nil {
		return err
	}

	tokenData.Revoked = true
	dataJSON, err := json.Marshal(tokenData)
	if err != nil {
		return fmt.Errorf("failed to marshal token data: %w", err)
	}

	ttl := time.Until(tokenData.ExpiresAt)
	if ttl <= 0 {
		return s.client.Del(ctx, refreshKey(jti)).Err()
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, refreshKey(jti), dataJSON, ttl)
	pipe.Set(ctx, revokedKey(jti), "1", ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	return nil
}

func (s *RefreshTokenService) IsRevoked(ctx context.Context, jti string) (bool, error) {
	exists, err := s.client.Exists(ctx, revokedKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

// RevokeFamily revokes every token descended from the same login. It is
// used when a revoked refresh token is presented again.
func (s *RefreshTokenService) RevokeFamily(ctx context.Context, familyID string) error {
	jtis, err := s.client.SMembers(ctx, familyKey(familyID)).Result()
	if err != nil {
		return fmt.Errorf("failed to list token family: %w", err)
	}

	for _, jti := range jtis {
		if err := s.Revoke(ctx, jti); err != nil && !errors.Is(err, ErrRefreshTokenNotFound) {
			s.logger.WithError(err).WithField("jti", jti).Warn("Failed to revoke token in family")
		}
	}

	return nil
}

// RevokeUser revokes every refresh token family of the user, signing them out
// everywhere.
func (s *RefreshTokenService) RevokeUser(ctx context.Context, userID string) error {
	families, err := s.client.SMembers(ctx, userFamiliesKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("failed to list user token families: %w", err)
	}

	for _, familyID := range families {
		if err := s.RevokeFamily(ctx, familyID); err != nil {
			return err
		}
	}

	return s.client.Del(ctx, userFamiliesKey(userID)).Err()
}
