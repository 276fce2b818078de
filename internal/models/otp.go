package models

import (
	"fmt"
	"time"
)

// Purpose tells why a code was issued. Invalidation and lookup are scoped to
// (user, purpose).
type Purpose string

const (
	PurposeVerify Purpose = "verify"
	PurposeReset  Purpose = "reset"
)

var Purposes = []Purpose{PurposeVerify, PurposeReset}

func ParsePurpose(s string) (Purpose, error) {
	switch Purpose(s) {
	case PurposeVerify, PurposeReset:
		return Purpose(s), nil
	}
	return "", fmt.Errorf("unknown OTP purpose %q", s)
}

type OTPRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Purpose   Purpose   `json:"purpose"`
	Code      string    `json:"-"`
	Used      bool      `json:"used"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// IsActive reports whether the record can still be matched by verification.
func (r *OTPRecord) IsActive(now time.Time) bool {
	return !r.Used && now.Before(r.ExpiresAt)
}
