package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/msomdec/chatgate/internal/domain"
	"github.com/msomdec/chatgate/internal/service"
	"github.com/msomdec/chatgate/internal/view"
)

// ScreenHandler serves the named screens the router can navigate to.
type ScreenHandler struct {
	identity *service.IdentityService
	profiles *service.ProfileService
}

// NewScreenHandler creates a new ScreenHandler.
func NewScreenHandler(identity *service.IdentityService, profiles *service.ProfileService) *ScreenHandler {
	return &ScreenHandler{identity: identity, profiles: profiles}
}

// HandleScreen returns a handler rendering a static named screen.
func (h *ScreenHandler) HandleScreen(screen domain.Screen) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view.ScreenPage(screen).Render(r.Context(), w)
	}
}

// HandleOnboarding renders the onboarding form.
// GET /onboarding
func (h *ScreenHandler) HandleOnboarding(w http.ResponseWriter, r *http.Request) {
	view.OnboardingPage("", service.GenderTags).Render(r.Context(), w)
}

// HandleCompleteOnboarding saves the onboarding answers and sends the
// client to the default screen.
// POST /onboarding
func (h *ScreenHandler) HandleCompleteOnboarding(w http.ResponseWriter, r *http.Request) {
	principalID, err := h.identity.ValidateToken(deviceToken(r))
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		view.OnboardingPage("We could not recognise this device. Restart the app and try again.", service.GenderTags).Render(r.Context(), w)
		return
	}

	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		view.OnboardingPage("Invalid form submission.", service.GenderTags).Render(r.Context(), w)
		return
	}

	_, err = h.profiles.CompleteOnboarding(r.Context(), principalID, r.FormValue("display_name"), r.FormValue("gender"))
	switch {
	case err == nil:
		http.Redirect(w, r, string(domain.RouteHome), http.StatusSeeOther)
	case errors.Is(err, domain.ErrInvalidInput):
		w.WriteHeader(http.StatusUnprocessableEntity)
		view.OnboardingPage(userMessage(err), service.GenderTags).Render(r.Context(), w)
	default:
		slog.Error("complete onboarding", "principal", principalID, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		view.OnboardingPage("Something went wrong. Please try again.", service.GenderTags).Render(r.Context(), w)
	}
}

// userMessage strips the sentinel prefix from a validation error.
func userMessage(err error) string {
	msg, _ := strings.CutPrefix(err.Error(), domain.ErrInvalidInput.Error()+": ")
	return msg
}
