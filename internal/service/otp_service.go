package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/careerpilot/careerpilot/internal/config"
	"github.com/careerpilot/careerpilot/internal/models"
	"github.com/careerpilot/careerpilot/internal/repository"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
)

type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, userID string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	UpdateProfile(ctx context.Context, userID string, update models.ProfileUpdate) error
}

type OTPStore interface {
	Replace(ctx context.Context, rec *models.OTPRecord, invalidate []models.Purpose) error
	FindActive(ctx context.Context, userID string, purpose models.Purpose, code string, now time.Time) (*models.OTPRecord, error)
	Consume(ctx context.Context, rec *models.OTPRecord, now time.Time, markEmailVerified bool) error
}

// OTPSender delivers a code to the user's mailbox.
type OTPSender interface {
	Send(ctx context.Context, to, code string, purpose models.Purpose) error
}

type VerifyResult struct {
	Purpose models.Purpose
	// ResetToken is set for reset codes only.
	ResetToken string
}

// Used when the service is built without a dispatch backoff.
const defaultDispatchBackoff = 200 * time.Millisecond

type OTPService struct {
	users   UserStore
	otps    OTPStore
	sender  OTPSender
	limiter RateLimiter
	jwt     *JWTService
	cfg     *config.OTPConfig
	logger  *logrus.Logger

	now      func() time.Time
	generate func() (string, error)
}

// NewOTPService wires issuance and verification. limiter may be nil.
func NewOTPService(
	users UserStore,
	otps OTPStore,
	sender OTPSender,
	limiter RateLimiter,
	jwtService *JWTService,
	cfg *config.OTPConfig,
	logger *logrus.Logger,
) *OTPService {
	return &OTPService{
		users:    users,
		otps:     otps,
		sender:   sender,
		limiter:  limiter,
		jwt:      jwtService,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		generate: GenerateCode,
	}
}

// Issue invalidates the pending codes of (user, purpose), stores a fresh one
// and mails it. The code itself never leaves this method except through the
// sender.
func (s *OTPService) Issue(ctx context.Context, email string, purpose models.Purpose) (err error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return ErrUserNotFound
	}

	if s.limiter != nil {
		if err := s.limiter.Allow(ctx, user.ID, string(purpose)); err != nil {
			return err
		}
		defer func() {
			if err == nil {
				return
			}
			if rerr := s.limiter.Release(context.WithoutCancel(ctx), user.ID, string(purpose)); rerr != nil {
				s.logger.WithError(rerr).WithField("user_id", user.ID).Warn("Failed to release OTP cooldown")
			}
		}()
	}

	code, err := s.generate()
	if err != nil {
		return fmt.Errorf("failed to generate OTP: %w", err)
	}

	now := s.now().UTC()
	rec := &models.OTPRecord{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Purpose:   purpose,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.Expiry),
	}

	invalidate := []models.Purpose{purpose}
	if s.cfg.InvalidateAllPurposes {
		invalidate = models.Purposes
	}

	// A concurrent issuance for the same pair makes the pointer swap fail;
	// the loser simply tries again on top of the winner.
	backoff := retry.WithMaxRetries(2, retry.NewExponential(20*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := s.otps.Replace(ctx, rec, invalidate)
		if errors.Is(err, repository.ErrConcurrentIssue) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to store OTP: %w", err)
	}
	otpIssued.WithLabelValues(string(purpose)).Inc()

	if err := s.dispatch(ctx, user.Email, code, purpose); err != nil {
		otpDispatchFailures.WithLabelValues(string(purpose)).Inc()
		s.logger.WithError(err).WithFields(logrus.Fields{
			"user_id":         user.ID,
			"purpose":         purpose,
			"otp_id":          rec.ID,
			"dispatch_failed": true,
		}).Error("OTP stored but email could not be delivered")
		return &DispatchError{Err: err}
	}

	s.logger.WithFields(logrus.Fields{
		"user_id": user.ID,
		"purpose": purpose,
		"otp_id":  rec.ID,
	}).Info("OTP issued")

	return nil
}

func (s *OTPService) dispatch(ctx context.Context, to, code string, purpose models.Purpose) error {
	start := time.Now()
	defer func() {
		otpDispatchDuration.Observe(time.Since(start).Seconds())
	}()

	retries := uint64(0)
	if s.cfg.DispatchAttempts > 1 {
		retries = uint64(s.cfg.DispatchAttempts - 1)
	}
	base := s.cfg.DispatchBackoff
	if base <= 0 {
		base = defaultDispatchBackoff
	}

	attempt := 0
	backoff := retry.WithMaxRetries(retries, retry.NewExponential(base))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := s.sender.Send(ctx, to, code, purpose); err != nil {
			s.logger.WithError(err).WithField("attempt", attempt).Warn("OTP email attempt failed")
			return retry.RetryableError(err)
		}
		return nil
	})
}

// Verify consumes the newest active code matching code. When purpose is
// empty both purposes are searched. Wrong, expired, used and never-issued
// codes all yield ErrInvalidOrExpired.
func (s *OTPService) Verify(ctx context.Context, email, code string, purpose models.Purpose) (*VerifyResult, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	purposes := models.Purposes
	if purpose != "" {
		purposes = []models.Purpose{purpose}
	}

	now := s.now().UTC()
	var match *models.OTPRecord
	for _, p := range purposes {
		rec, err := s.otps.FindActive(ctx, user.ID, p, code, now)
		if err != nil {
			return nil, fmt.Errorf("failed to look up OTP: %w", err)
		}
		if rec != nil && (match == nil || rec.CreatedAt.After(match.CreatedAt)) {
			match = rec
		}
	}

	if match == nil {
		otpVerifications.WithLabelValues("rejected").Inc()
		return nil, ErrInvalidOrExpired
	}

	err = s.otps.Consume(ctx, match, now, match.Purpose == models.PurposeVerify)
	if errors.Is(err, repository.ErrOTPNotActive) {
		otpVerifications.WithLabelValues("rejected").Inc()
		return nil, ErrInvalidOrExpired
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume OTP: %w", err)
	}
	otpVerifications.WithLabelValues("accepted").Inc()

	result := &VerifyResult{Purpose: match.Purpose}
	if match.Purpose == models.PurposeReset {
		token, err := s.jwt.GenerateResetToken(user.ID, user.Email)
		if err != nil {
			return nil, err
		}
		result.ResetToken = token
	}

	s.logger.WithFields(logrus.Fields{
		"user_id": user.ID,
		"purpose": match.Purpose,
		"otp_id":  match.ID,
	}).Info("OTP verified")

	return result, nil
}
