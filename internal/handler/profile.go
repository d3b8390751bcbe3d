package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/msomdec/chatgate/internal/domain"
	"github.com/msomdec/chatgate/internal/service"
)

// ProfileHandler serves the profile JSON API.
type ProfileHandler struct {
	profiles *service.ProfileService
}

// NewProfileHandler creates a new ProfileHandler.
func NewProfileHandler(profiles *service.ProfileService) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

// HandleGet returns the caller's profile.
// GET /api/profile
func (h *ProfileHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	principalID := PrincipalFromContext(r.Context())

	rec, err := h.profiles.Get(r.Context(), principalID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		slog.Error("get profile", "principal", principalID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, toProfileDTO(rec))
}

type onboardingRequest struct {
	DisplayName string `json:"displayName"`
	GenderTag   string `json:"genderTag"`
}

// HandleCompleteOnboarding is the JSON twin of the onboarding form.
// POST /api/onboarding
// Body: {"displayName":"...","genderTag":"female"}
func (h *ProfileHandler) HandleCompleteOnboarding(w http.ResponseWriter, r *http.Request) {
	principalID := PrincipalFromContext(r.Context())

	var req onboardingRequest
	if err := readJSON(w, r, &req); err != nil {
		writeReadError(w, err)
		return
	}

	rec, err := h.profiles.CompleteOnboarding(r.Context(), principalID, req.DisplayName, req.GenderTag)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidInput):
			writeError(w, http.StatusUnprocessableEntity, userMessage(err))
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "profile not found")
		default:
			slog.Error("complete onboarding", "principal", principalID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, toProfileDTO(rec))
}
