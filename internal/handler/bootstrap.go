package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/msomdec/chatgate/internal/bootstrap"
	"github.com/msomdec/chatgate/internal/domain"
	"github.com/msomdec/chatgate/internal/service"
	"github.com/msomdec/chatgate/internal/view"
	"github.com/starfederation/datastar-go/datastar"
)

// BootstrapHandler serves the cold-start flow: splash, loading indicator,
// and the routing decision.
type BootstrapHandler struct {
	orchestrator *bootstrap.Orchestrator
	sessions     *bootstrap.Registry
	profiles     *service.ProfileService
	cookies      cookieWriter
}

// NewBootstrapHandler creates a new BootstrapHandler.
func NewBootstrapHandler(orchestrator *bootstrap.Orchestrator, sessions *bootstrap.Registry, profiles *service.ProfileService, cookies cookieWriter) *BootstrapHandler {
	return &BootstrapHandler{orchestrator: orchestrator, sessions: sessions, profiles: profiles, cookies: cookies}
}

// HandleApp renders the entry screen for the current app session.
// GET /
func (h *BootstrapHandler) HandleApp(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	snap := sess.Snapshot()

	switch {
	case snap.State == bootstrap.StateIdle:
		view.SplashPage().Render(r.Context(), w)
	case snap.State.Loading():
		view.LoadingPage().Render(r.Context(), w)
	default:
		rec := h.current(r, snap)
		if !rec.IsOnboarded() {
			http.Redirect(w, r, string(domain.RouteOnboarding), http.StatusFound)
			return
		}
		view.HomePage(displayName(rec)).Render(r.Context(), w)
	}
}

// current re-reads the profile of a ready session so screens reflect writes
// made after the bootstrap, such as completing onboarding.
func (h *BootstrapHandler) current(r *http.Request, snap bootstrap.Snapshot) *domain.ProfileRecord {
	if snap.Principal.ID == "" {
		return snap.Record
	}
	rec, err := h.profiles.Get(r.Context(), snap.Principal.ID)
	if err != nil {
		slog.Warn("reload profile", "principal", snap.Principal.ID, "error", err)
		return snap.Record
	}
	return rec
}

// HandleBootstrap is the splash-dismissed signal. It runs (or joins) the
// session's bootstrap and streams the routing decision back over SSE.
// POST /bootstrap
func (h *BootstrapHandler) HandleBootstrap(w http.ResponseWriter, r *http.Request) {
	_, out, ok := h.proceed(w, r)
	if !ok {
		return
	}

	sse := datastar.NewSSE(w, r)

	// A caller that rejoins a finished run, such as a reloaded loading page,
	// still needs the decision. Replacing the location again adds no history.
	if out.Decision.Navigate {
		script := fmt.Sprintf("window.location.replace(%q)", string(out.Decision.Route))
		if err := sse.ExecuteScript(script); err != nil {
			slog.Error("send navigation", "error", err)
		}
		return
	}

	if err := sse.PatchElementTempl(view.HomeFragment(displayName(out.Snapshot.Record))); err != nil {
		slog.Error("patch home view", "error", err)
	}
}

// HandleAPIBootstrap is the JSON twin of HandleBootstrap for native
// clients.
// POST /api/bootstrap
// Response: {"sessionId":"...","state":"ready","route":"/onboarding","navigate":true,...}
func (h *BootstrapHandler) HandleAPIBootstrap(w http.ResponseWriter, r *http.Request) {
	sess, out, ok := h.proceed(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toBootstrapDTO(sess.ID, out))
}

// proceed fires the splash signal for the request's session and waits for
// the decision. A device token the client does not hold yet is written as a
// cookie before any body is sent, which also covers a client whose first
// request was abandoned by a reload.
func (h *BootstrapHandler) proceed(w http.ResponseWriter, r *http.Request) (*bootstrap.Session, bootstrap.Outcome, bool) {
	sess := h.session(w, r)
	sess.SetDevice(deviceCredential(r))
	sess.DismissSplash()

	out, err := h.orchestrator.Await(r.Context(), sess)
	if err != nil {
		slog.Debug("client left before bootstrap finished", "session", sess.ID, "error", err)
		return sess, bootstrap.Outcome{}, false
	}

	if p := out.Snapshot.Principal; p.Token != "" && p.Token != deviceToken(r) {
		h.cookies.setDevice(w, p.Token)
	}
	w.Header().Set(sessionHeader, sess.ID)
	return sess, out, true
}

// session returns the request's app session, starting a new one (and
// setting its cookie) when the request has none or it has expired.
func (h *BootstrapHandler) session(w http.ResponseWriter, r *http.Request) *bootstrap.Session {
	if id := sessionID(r); id != "" {
		if sess, ok := h.sessions.Get(id); ok {
			return sess
		}
	}
	sess := h.sessions.Create(deviceCredential(r))
	h.cookies.setSession(w, sess.ID)
	return sess
}

func displayName(rec *domain.ProfileRecord) string {
	if rec == nil {
		return ""
	}
	name, _ := rec.DisplayName.Get()
	return name
}
