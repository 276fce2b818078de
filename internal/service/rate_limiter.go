package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RateLimiter decides whether another code may be issued for (user, purpose).
// Release lifts the cooldown taken by Allow when the request then failed, so
// the user can retry at once. The window count is kept.
type RateLimiter interface {
	Allow(ctx context.Context, userID, purpose string) error
	Release(ctx context.Context, userID, purpose string) error
}

// RedisRateLimiter enforces a cooldown between two requests and a maximum
// number of requests per window. Going over the maximum blocks the pair for
// three windows.
type RedisRateLimiter struct {
	client   *redis.Client
	cooldown time.Duration
	window   time.Duration
	max      int
	logger   *logrus.Logger
}

func NewRedisRateLimiter(client *redis.Client, cooldown, window time.Duration, max int, logger *logrus.Logger) *RedisRateLimiter {
	return &RedisRateLimiter{
		client:   client,
		cooldown: cooldown,
		window:   window,
		max:      max,
		logger:   logger,
	}
}

func cooldownKey(userID, purpose string) string {
	return fmt.Sprintf("otp:last:%s:%s", userID, purpose)
}

func (l *RedisRateLimiter) Allow(ctx context.Context, userID, purpose string) error {
	blockKey := fmt.Sprintf("otp:block:%s:%s", userID, purpose)
	lastKey := cooldownKey(userID, purpose)
	countKey := fmt.Sprintf("otp:count:%s:%s", userID, purpose)

	blocked, err := l.client.Exists(ctx, blockKey).Result()
	if err != nil {
		return fmt.Errorf("failed to check OTP block: %w", err)
	}
	if blocked > 0 {
		return ErrRateLimited
	}

	if l.cooldown > 0 {
		ok, err := l.client.SetNX(ctx, lastKey, "1", l.cooldown).Result()
		if err != nil {
			return fmt.Errorf("failed to set OTP cooldown: %w", err)
		}
		if !ok {
			return ErrRateLimited
		}
	}

	if l.max <= 0 || l.window <= 0 {
		return nil
	}

	count, err := l.client.Incr(ctx, countKey).Result()
	if err != nil {
		return fmt.Errorf("failed to count OTP requests: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, countKey, l.window).Err(); err != nil {
			return fmt.Errorf("failed to expire OTP counter: %w", err)
		}
	}

	if int(count) > l.max {
		if err := l.client.Set(ctx, blockKey, "1", l.window*3).Err(); err != nil {
			return fmt.Errorf("failed to block OTP requests: %w", err)
		}
		l.logger.WithFields(logrus.Fields{
			"user_id": userID,
			"purpose": purpose,
		}).Warn("OTP requests blocked")
		return ErrRateLimited
	}

	return nil
}

func (l *RedisRateLimiter) Release(ctx context.Context, userID, purpose string) error {
	if err := l.client.Del(ctx, cooldownKey(userID, purpose)).Err(); err != nil {
		return fmt.Errorf("failed to release OTP cooldown: %w", err)
	}
	return nil
}
