package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/careerpilot/careerpilot/internal/middleware"
	"github.com/careerpilot/careerpilot/internal/models"
	"github.com/careerpilot/careerpilot/internal/service"
	"github.com/sirupsen/logrus"
)

type UserHandlers struct {
	accountService *service.AccountService
	logger         *logrus.Logger
}

func NewUserHandlers(accountService *service.AccountService, logger *logrus.Logger) *UserHandlers {
	return &UserHandlers{
		accountService: accountService,
		logger:         logger,
	}
}

type UserResponse struct {
	ID              string                `json:"id"`
	Email           string                `json:"email"`
	Name            string                `json:"name,omitempty"`
	Phone           string                `json:"phone,omitempty"`
	EmailVerifiedAt *time.Time            `json:"email_verified_at,omitempty"`
	Profile         *models.CareerProfile `json:"profile"`
}

func newUserResponse(u *models.User) UserResponse {
	return UserResponse{
		ID:              u.ID,
		Email:           u.Email,
		Name:            u.Name,
		Phone:           u.Phone,
		EmailVerifiedAt: u.EmailVerifiedAt,
		Profile:         u.Profile,
	}
}

// UpdateProfileRequest is a partial update: absent fields keep their value.
type UpdateProfileRequest struct {
	Name            *string  `json:"name" validate:"omitnil,min=1,max=100"`
	Phone           *string  `json:"phone" validate:"omitnil,max=32"`
	TargetCompany   *string  `json:"targetCompany" validate:"omitnil,max=200"`
	YearsExperience *int     `json:"yearsExperience" validate:"omitnil,min=0,max=80"`
	Location        *string  `json:"location" validate:"omitnil,max=200"`
	Skills          []string `json:"skills" validate:"omitempty,max=50,dive,max=100"`
	Onboarded       *bool    `json:"onboarded"`
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	return &t
}

func (h *UserHandlers) GetProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	user, err := h.accountService.Profile(r.Context(), claims.UserID())
	if err != nil {
		h.respondProfileError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]UserResponse{"user": newUserResponse(user)})
}

func (h *UserHandlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req UpdateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	req.Name = trimmed(req.Name)
	req.Phone = trimmed(req.Phone)
	req.TargetCompany = trimmed(req.TargetCompany)
	req.Location = trimmed(req.Location)
	if err := validateRequest(req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.accountService.UpdateProfile(r.Context(), claims.UserID(), models.ProfileUpdate{
		Name:            req.Name,
		Phone:           req.Phone,
		TargetCompany:   req.TargetCompany,
		YearsExperience: req.YearsExperience,
		Location:        req.Location,
		Skills:          req.Skills,
		Onboarded:       req.Onboarded,
	})
	if err != nil {
		h.respondProfileError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]UserResponse{"user": newUserResponse(user)})
}

func (h *UserHandlers) respondProfileError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrUserNotFound) {
		respondWithError(w, http.StatusNotFound, "User not found")
		return
	}
	h.logger.WithError(err).Error("Failed to load profile")
	respondWithError(w, http.StatusInternalServerError, "Internal server error")
}
