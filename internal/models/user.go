package models

import (
	"strings"
	"time"
)

type User struct {
	ID              string         `json:"id" dynamodbav:"id"`
	Email           string         `json:"email" dynamodbav:"email"`
	Name            string         `json:"name,omitempty" dynamodbav:"name,omitempty"`
	Phone           string         `json:"phone,omitempty" dynamodbav:"phone,omitempty"`
	PasswordHash    string         `json:"-" dynamodbav:"password_hash,omitempty"`
	EmailVerifiedAt *time.Time     `json:"email_verified_at,omitempty" dynamodbav:"email_verified_at,omitempty"`
	Profile         *CareerProfile `json:"profile,omitempty" dynamodbav:"profile,omitempty"`
	CreatedAt       time.Time      `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" dynamodbav:"updated_at"`
}

// CareerProfile holds what the user told us about their job search. The JSON
// names are the ones the web client sends.
type CareerProfile struct {
	TargetCompany   string   `json:"targetCompany,omitempty" dynamodbav:"target_company,omitempty"`
	YearsExperience int      `json:"yearsExperience,omitempty" dynamodbav:"years_experience,omitempty"`
	Location        string   `json:"location,omitempty" dynamodbav:"location,omitempty"`
	Skills          []string `json:"skills,omitempty" dynamodbav:"skills,omitempty"`
	Onboarded       bool     `json:"onboarded" dynamodbav:"onboarded"`
}

// ProfileUpdate is a partial update of a user. Nil fields are left alone.
type ProfileUpdate struct {
	Name            *string
	Phone           *string
	TargetCompany   *string
	YearsExperience *int
	Location        *string
	Skills          []string
	Onboarded       *bool
}

func (p ProfileUpdate) IsEmpty() bool {
	return p.Name == nil && p.Phone == nil && !p.TouchesCareer()
}

// TouchesCareer reports whether any CareerProfile field is set.
func (p ProfileUpdate) TouchesCareer() bool {
	return p.TargetCompany != nil || p.YearsExperience != nil || p.Location != nil ||
		p.Skills != nil || p.Onboarded != nil
}

// Apply writes the set fields into u, creating the career profile on first use.
func (p ProfileUpdate) Apply(u *User) {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Phone != nil {
		u.Phone = *p.Phone
	}
	if !p.TouchesCareer() {
		return
	}
	if u.Profile == nil {
		u.Profile = &CareerProfile{}
	}
	if p.TargetCompany != nil {
		u.Profile.TargetCompany = *p.TargetCompany
	}
	if p.YearsExperience != nil {
		u.Profile.YearsExperience = *p.YearsExperience
	}
	if p.Location != nil {
		u.Profile.Location = *p.Location
	}
	if p.Skills != nil {
		u.Profile.Skills = append([]string(nil), p.Skills...)
	}
	if p.Onboarded != nil {
		u.Profile.Onboarded = *p.Onboarded
	}
}

func (u *User) GetPK() string {
	return "USER#" + u.ID
}

func (u *User) GetSK() string {
	return "PROFILE"
}

func (u *User) IsEmailVerified() bool {
	return u.EmailVerifiedAt != nil
}

// NormalizeEmail is applied to every email before it is stored or looked up,
// making the unique email index case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
