package repository

import (
	"context"
	"sync"
	"time"

	"github.com/careerpilot/careerpilot/internal/models"
	"github.com/google/uuid"
)

type otpPartition struct {
	userID  string
	purpose models.Purpose
}

// MemoryStore keeps users and OTP records in process memory behind a single
// mutex. It backs STORE_DRIVER=memory and the tests, and serves the same
// methods as UserRepository and OTPRepository.
type MemoryStore struct {
	mu      sync.Mutex
	users   map[string]*models.User
	byEmail map[string]string
	otps    map[otpPartition][]*models.OTPRecord
	active  map[otpPartition]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*models.User),
		byEmail: make(map[string]string),
		otps:    make(map[otpPartition][]*models.OTPRecord),
		active:  make(map[otpPartition]string),
	}
}

func copyUser(u *models.User) *models.User {
	c := *u
	if u.EmailVerifiedAt != nil {
		t := *u.EmailVerifiedAt
		c.EmailVerifiedAt = &t
	}
	if u.Profile != nil {
		profile := *u.Profile
		profile.Skills = append([]string(nil), u.Profile.Skills...)
		c.Profile = &profile
	}
	return &c
}

func (s *MemoryStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[models.NormalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	return copyUser(s.users[id]), nil
}

func (s *MemoryStore) GetByID(ctx context.Context, userID string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	return copyUser(u), nil
}

func (s *MemoryStore) Create(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Email = models.NormalizeEmail(user.Email)
	if _, ok := s.byEmail[user.Email]; ok {
		return ErrUserExists
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if _, ok := s.users[user.ID]; ok {
		return ErrUserExists
	}

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	s.users[user.ID] = copyUser(user)
	s.byEmail[user.Email] = user.ID
	return nil
}

func (s *MemoryStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return ErrUserMissing
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) UpdateProfile(ctx context.Context, userID string, update models.ProfileUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return ErrUserMissing
	}
	update.Apply(u)
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Replace(ctx context.Context, rec *models.OTPRecord, invalidate []models.Purpose) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, purpose := range invalidate {
		for _, r := range s.otps[otpPartition{rec.UserID, purpose}] {
			r.Used = true
		}
	}

	p := otpPartition{rec.UserID, rec.Purpose}
	c := *rec
	s.otps[p] = append(s.otps[p], &c)
	s.active[p] = rec.ID
	return nil
}

func (s *MemoryStore) FindActive(ctx context.Context, userID string, purpose models.Purpose, code string, now time.Time) (*models.OTPRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *models.OTPRecord
	for _, r := range s.otps[otpPartition{userID, purpose}] {
		if r.Code != code || !r.IsActive(now) {
			continue
		}
		if best == nil || !r.CreatedAt.Before(best.CreatedAt) {
			best = r
		}
	}
	if best == nil {
		return nil, nil
	}
	c := *best
	return &c, nil
}

func (s *MemoryStore) Consume(ctx context.Context, rec *models.OTPRecord, now time.Time, markEmailVerified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := otpPartition{rec.UserID, rec.Purpose}
	if s.active[p] != rec.ID {
		return ErrOTPNotActive
	}

	var stored *models.OTPRecord
	for _, r := range s.otps[p] {
		if r.ID == rec.ID {
			stored = r
			break
		}
	}
	if stored == nil || !stored.IsActive(now) {
		return ErrOTPNotActive
	}

	var user *models.User
	if markEmailVerified {
		u, ok := s.users[rec.UserID]
		if !ok {
			return ErrOTPNotActive
		}
		user = u
	}

	stored.Used = true
	if user != nil && user.EmailVerifiedAt == nil {
		t := now.UTC()
		user.EmailVerifiedAt = &t
		user.UpdatedAt = t
	}
	return nil
}

// PendingCount returns how many records of (user, purpose) are still unused
// and unexpired.
func (s *MemoryStore) PendingCount(userID string, purpose models.Purpose, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, r := range s.otps[otpPartition{userID, purpose}] {
		if r.IsActive(now) {
			n++
		}
	}
	return n
}

// RecordCount returns how many records were ever stored for the user.
func (s *MemoryStore) RecordCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for p, recs := range s.otps {
		if p.userID == userID {
			n += len(recs)
		}
	}
	return n
}
