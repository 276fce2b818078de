package service

import (
	"errors"
	"fmt"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidOrExpired   = errors.New("invalid or expired OTP")
	ErrRateLimited        = errors.New("too many OTP requests")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidResetToken  = errors.New("invalid or expired reset token")
)

// DispatchError reports that a code was stored but could not be delivered.
type DispatchError struct {
	Err error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("failed to dispatch OTP: %v", e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
