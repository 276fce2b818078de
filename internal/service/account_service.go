package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/careerpilot/careerpilot/internal/models"
	"github.com/careerpilot/careerpilot/internal/repository"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

type ResetGrantStore interface {
	Claim(ctx context.Context, jti string, expiresAt time.Time) (bool, error)
}

type SessionRevoker interface {
	RevokeUser(ctx context.Context, userID string) error
}

// AccountService covers credential signup, login, password reset and the
// profile of the signed-in user.
type AccountService struct {
	users    UserStore
	jwt      *JWTService
	grants   ResetGrantStore
	sessions SessionRevoker
	logger   *logrus.Logger
	cost     int
}

func NewAccountService(
	users UserStore,
	jwtService *JWTService,
	grants ResetGrantStore,
	sessions SessionRevoker,
	logger *logrus.Logger,
) *AccountService {
	return &AccountService{
		users:    users,
		jwt:      jwtService,
		grants:   grants,
		sessions: sessions,
		logger:   logger,
		cost:     bcrypt.DefaultCost,
	}
}

type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Phone    string
}

func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Email:        models.NormalizeEmail(in.Email),
		Name:         strings.TrimSpace(in.Name),
		Phone:        strings.TrimSpace(in.Phone),
		PasswordHash: string(hash),
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return nil, ErrUserExists
		}
		return nil, err
	}

	s.logger.WithField("user_id", user.ID).Info("User registered")
	return user, nil
}

// Authenticate checks email and password. Unknown emails, OAuth-only
// accounts and wrong passwords all return ErrInvalidCredentials.
func (s *AccountService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil || user.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

// ResetPassword sets a new password for the owner of a reset grant obtained
// from a verified reset code. A grant works once; afterwards every refresh
// token of the user is revoked.
func (s *AccountService) ResetPassword(ctx context.Context, resetToken, password string) error {
	claims, err := s.jwt.VerifyTokenOfType(resetToken, TokenTypeReset)
	if err != nil || claims.ExpiresAt == nil {
		s.logger.WithError(err).Debug("Reset token rejected")
		return ErrInvalidResetToken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	fresh, err := s.grants.Claim(ctx, claims.JTI, claims.ExpiresAt.Time)
	if err != nil {
		return err
	}
	if !fresh {
		s.logger.WithField("user_id", claims.UserID()).Warn("Spent reset grant presented again")
		return ErrInvalidResetToken
	}

	if err := s.users.UpdatePassword(ctx, claims.UserID(), string(hash)); err != nil {
		if errors.Is(err, repository.ErrUserMissing) {
			return ErrInvalidResetToken
		}
		return err
	}

	if err := s.sessions.RevokeUser(ctx, claims.UserID()); err != nil {
		s.logger.WithError(err).WithField("user_id", claims.UserID()).Error("Failed to revoke sessions after password reset")
	}

	s.logger.WithField("user_id", claims.UserID()).Info("Password reset")
	return nil
}

func (s *AccountService) Profile(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (s *AccountService) UpdateProfile(ctx context.Context, userID string, update models.ProfileUpdate) (*models.User, error) {
	if update.IsEmpty() {
		return s.Profile(ctx, userID)
	}

	if err := s.users.UpdateProfile(ctx, userID, update); err != nil {
		if errors.Is(err, repository.ErrUserMissing) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return s.Profile(ctx, userID)
}
