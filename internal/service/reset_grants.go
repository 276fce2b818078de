package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResetGrants remembers spent password reset grants until they expire, so
// each grant changes the password at most once.
type ResetGrants struct {
	client *redis.Client
}

func NewResetGrants(client *redis.Client) *ResetGrants {
	return &ResetGrants{client: client}
}

func resetUsedKey(jti string) string {
	return fmt.Sprintf("reset_used:%s", jti)
}

// Claim marks the grant as spent. It reports false when the grant was spent
// before or has already expired.
func (g *ResetGrants) Claim(ctx context.Context, jti string, expiresAt time.Time) (bool, error) {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return false, nil
	}

	ok, err := g.client.SetNX(ctx, resetUsedKey(jti), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim reset grant: %w", err)
	}
	return ok, nil
}
