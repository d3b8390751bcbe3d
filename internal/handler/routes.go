package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/msomdec/chatgate/internal/bootstrap"
	"github.com/msomdec/chatgate/internal/domain"
	"github.com/msomdec/chatgate/internal/service"
)

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Orchestrator   *bootstrap.Orchestrator
	Sessions       *bootstrap.Registry
	Identity       *service.IdentityService
	Profiles       *service.ProfileService
	CookieSecure   bool
	DeviceTokenTTL time.Duration
	CORSOrigins    []string
}

// RegisterRoutes sets up all HTTP routes on the given mux.
func RegisterRoutes(mux *http.ServeMux, deps Deps) {
	cookies := cookieWriter{secure: deps.CookieSecure, deviceTTL: deps.DeviceTokenTTL}
	boot := NewBootstrapHandler(deps.Orchestrator, deps.Sessions, deps.Profiles, cookies)
	screens := NewScreenHandler(deps.Identity, deps.Profiles)
	profiles := NewProfileHandler(deps.Profiles)

	mux.HandleFunc("GET /healthz", HandleHealthz)

	mux.HandleFunc("GET /{$}", boot.HandleApp)
	mux.HandleFunc("POST /bootstrap", boot.HandleBootstrap)

	mux.HandleFunc("GET /onboarding", screens.HandleOnboarding)
	mux.HandleFunc("POST /onboarding", screens.HandleCompleteOnboarding)
	for _, s := range domain.Screens {
		if s.Route == domain.RouteHome || s.Route == domain.RouteOnboarding {
			continue
		}
		mux.HandleFunc("GET "+string(s.Route), screens.HandleScreen(s))
	}

	api := http.NewServeMux()
	api.HandleFunc("POST /api/bootstrap", boot.HandleAPIBootstrap)
	api.Handle("GET /api/profile", RequirePrincipal(deps.Identity, http.HandlerFunc(profiles.HandleGet)))
	api.Handle("POST /api/onboarding", RequirePrincipal(deps.Identity, http.HandlerFunc(profiles.HandleCompleteOnboarding)))

	mux.Handle("/api/", cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", sessionHeader},
		ExposedHeaders:   []string{sessionHeader},
		AllowCredentials: true,
		MaxAge:           300,
	})(api))
}
