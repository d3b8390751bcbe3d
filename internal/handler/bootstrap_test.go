package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/msomdec/chatgate/internal/domain"
	"github.com/msomdec/chatgate/internal/handler"
)

func postBootstrap(t *testing.T, client *http.Client, env *testEnv, token string) handler.BootstrapDTO {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/bootstrap", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("POST /api/bootstrap: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var dto handler.BootstrapDTO
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return dto
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func TestHandleApp_ShowsSplashOnColdStart(t *testing.T) {
	env := newTestEnv(t)
	client := newClient(t)

	resp, err := client.Get(env.server.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := readBody(t, resp)
	if !strings.Contains(body, "@post(`/bootstrap`)") {
		t.Fatalf("expected splash to post to /bootstrap, got %s", body)
	}

	var hasSession bool
	for _, c := range resp.Cookies() {
		if c.Name == "app_session" && c.Value != "" {
			hasSession = true
		}
	}
	if !hasSession {
		t.Fatal("expected an app_session cookie")
	}
	if env.sessions.Len() != 1 {
		t.Fatalf("expected 1 live session, got %d", env.sessions.Len())
	}
}

func TestAPIBootstrap_NewDeviceRoutesToOnboarding(t *testing.T) {
	env := newTestEnv(t)
	client := newClient(t)

	dto := postBootstrap(t, client, env, "")

	if dto.Route != string(domain.RouteOnboarding) || !dto.Navigate || !dto.Replace {
		t.Fatalf("expected replace-navigation to onboarding, got %+v", dto)
	}
	if !dto.Fresh || dto.State != "ready" || dto.Fallback {
		t.Fatalf("unexpected outcome flags: %+v", dto)
	}
	if dto.PrincipalID == "" || dto.DeviceToken == "" {
		t.Fatalf("expected a minted principal and token, got %+v", dto)
	}

	doc, err := env.store.Get(context.Background(), dto.PrincipalID)
	if err != nil {
		t.Fatalf("Get profile: %v", err)
	}
	rec := domain.DecodeProfile(dto.PrincipalID, doc)
	if code, _ := rec.OwnReferralCode.Get(); code != domain.OwnReferralCode(dto.PrincipalID) {
		t.Fatalf("expected referral code %q, got %q", domain.OwnReferralCode(dto.PrincipalID), code)
	}
}

func TestAPIBootstrap_SecondCallIsNotFresh(t *testing.T) {
	env := newTestEnv(t)
	client := newClient(t)

	first := postBootstrap(t, client, env, "")
	second := postBootstrap(t, client, env, "")

	if second.SessionID != first.SessionID {
		t.Fatalf("expected the same app session, got %q and %q", first.SessionID, second.SessionID)
	}
	if second.Fresh || second.Navigate {
		t.Fatalf("a repeated signal must not navigate again, got %+v", second)
	}
	if second.Route != first.Route || second.PrincipalID != first.PrincipalID {
		t.Fatalf("expected the same decision, got %+v and %+v", first, second)
	}
	if second.DeviceToken != "" {
		t.Fatal("only the fresh outcome should carry the device token")
	}
}

func TestAPIBootstrap_OnboardedDeviceStaysOnHome(t *testing.T) {
	env := newTestEnv(t)
	client := newClient(t)
	ctx := context.Background()

	principalID, token := mintToken(t, env.identity)
	legacy := domain.Document{
		domain.FieldDisplayName:        "Ana",
		domain.FieldOnboardingComplete: true,
	}
	if _, err := env.store.Create(ctx, principalID, legacy); err != nil {
		t.Fatalf("Create: %v", err)
	}

	dto := postBootstrap(t, client, env, token)

	if dto.PrincipalID != principalID {
		t.Fatalf("expected resumed principal %q, got %q", principalID, dto.PrincipalID)
	}
	if dto.Route != string(domain.RouteHome) || dto.Navigate {
		t.Fatalf("expected to stay on home, got %+v", dto)
	}

	doc, err := env.store.Get(ctx, principalID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	rec := domain.DecodeProfile(principalID, doc)
	if !rec.ReferralCount.Valid() || !rec.CreatedAt.Valid() || !rec.OwnReferralCode.Valid() {
		t.Fatalf("expected legacy profile to be backfilled, got %+v", rec)
	}
	if name, _ := rec.DisplayName.Get(); name != "Ana" {
		t.Fatalf("expected display name to be preserved, got %q", name)
	}
}

func TestBootstrapSSE_NavigatesToOnboarding(t *testing.T) {
	env := newTestEnv(t)
	client := newClient(t)

	resp, err := client.Post(env.server.URL+"/bootstrap", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST /bootstrap: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("expected an event stream, got %q", ct)
	}
	body := readBody(t, resp)
	if !strings.Contains(body, "window.location.replace") || !strings.Contains(body, "/onboarding") {
		t.Fatalf("expected a replace-navigation to onboarding, got %s", body)
	}

	var hasDevice bool
	for _, c := range resp.Cookies() {
		if c.Name == "device_token" && c.Value != "" && c.HttpOnly {
			hasDevice = true
		}
	}
	if !hasDevice {
		t.Fatal("expected an HttpOnly device_token cookie")
	}
}

func TestOnboardingFlow_NextColdStartLandsOnHome(t *testing.T) {
	env := newTestEnv(t)
	client := newClient(t)

	first := postBootstrap(t, client, env, "")
	if first.Route != string(domain.RouteOnboarding) {
		t.Fatalf("expected onboarding, got %+v", first)
	}

	form := url.Values{"display_name": {"Ana"}, "gender": {"female"}}
	resp, err := client.PostForm(env.server.URL+"/onboarding", form)
	if err != nil {
		t.Fatalf("POST /onboarding: %v", err)
	}
	body := readBody(t, resp)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "Welcome back, Ana!") {
		t.Fatalf("expected to land on home after onboarding, got %d: %s", resp.StatusCode, body)
	}

	// A fresh app session on the same device is a new cold start.
	fresh := newClient(t)
	second := postBootstrap(t, fresh, env, first.DeviceToken)
	if second.PrincipalID != first.PrincipalID {
		t.Fatalf("expected the same principal, got %q and %q", first.PrincipalID, second.PrincipalID)
	}
	if second.Route != string(domain.RouteHome) || second.Navigate {
		t.Fatalf("expected to stay on home, got %+v", second)
	}
}

func TestCompleteOnboarding_InvalidInput(t *testing.T) {
	env := newTestEnv(t)
	client := newClient(t)
	postBootstrap(t, client, env, "")

	form := url.Values{"display_name": {"   "}}
	resp, err := client.PostForm(env.server.URL+"/onboarding", form)
	if err != nil {
		t.Fatalf("POST /onboarding: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	if body := readBody(t, resp); !strings.Contains(body, "display name is required") {
		t.Fatalf("expected the validation message, got %s", body)
	}
}

func TestCompleteOnboarding_NoDevice(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.PostForm(env.server.URL+"/onboarding", url.Values{"display_name": {"Ana"}})
	if err != nil {
		t.Fatalf("POST /onboarding: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestNamedScreens(t *testing.T) {
	env := newTestEnv(t)

	for _, s := range domain.Screens {
		if s.Route == domain.RouteHome {
			continue
		}
		resp, err := http.Get(env.server.URL + string(s.Route))
		if err != nil {
			t.Fatalf("GET %s: %v", s.Route, err)
		}
		body := readBody(t, resp)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: expected 200, got %d", s.Route, resp.StatusCode)
		}
		if !strings.Contains(body, s.Title) {
			t.Fatalf("GET %s: expected title %q in body", s.Route, s.Title)
		}
	}
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/does-not-exist")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHandleApp_ReadySessionNotOnboardedRedirects(t *testing.T) {
	env := newTestEnv(t)
	client := newClient(t)
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	postBootstrap(t, client, env, "")

	resp, err := client.Get(env.server.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/onboarding" {
		t.Fatalf("expected redirect to /onboarding, got %q", loc)
	}
}

type sseResult struct {
	body string
	err  error
}

// postBootstrapSSE posts the splash signal in the background and delivers
// the event stream once it ends.
func postBootstrapSSE(client *http.Client, env *testEnv) <-chan sseResult {
	out := make(chan sseResult, 1)
	go func() {
		resp, err := client.Post(env.server.URL+"/bootstrap", "application/json", strings.NewReader("{}"))
		if err != nil {
			out <- sseResult{err: err}
			return
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		out <- sseResult{body: string(b), err: err}
	}()
	return out
}

func waitSSE(t *testing.T, ch <-chan sseResult) string {
	t.Helper()
	select {
	case res := <-ch:
		if res.err != nil {
			t.Fatalf("POST /bootstrap: %v", res.err)
		}
		return res.body
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the bootstrap stream")
	}
	return ""
}

// startInFlight opens the splash, dismisses it and blocks the run in
// identity, then checks that a reload shows the loading page.
func startInFlight(t *testing.T, env *testEnv, gate *gatedIdentity, client *http.Client) <-chan sseResult {
	t.Helper()
	resp, err := client.Get(env.server.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	resp.Body.Close()

	first := postBootstrapSSE(client, env)
	select {
	case <-gate.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("bootstrap never reached identity")
	}

	resp, err = client.Get(env.server.URL + "/")
	if err != nil {
		t.Fatalf("GET / while loading: %v", err)
	}
	body := readBody(t, resp)
	resp.Body.Close()
	if !strings.Contains(body, `class="loading"`) {
		t.Fatalf("expected the loading page during the run, got %s", body)
	}
	return first
}

func TestBootstrapSSE_RejoinNavigatesToOnboarding(t *testing.T) {
	gate := newGatedIdentity()
	env := newTestEnvWithIdentity(t, gate.wrap)
	client := newClient(t)

	first := startInFlight(t, env, gate, client)
	rejoin := postBootstrapSSE(client, env)
	close(gate.release)

	for name, body := range map[string]string{
		"first":  waitSSE(t, first),
		"rejoin": waitSSE(t, rejoin),
	} {
		if !strings.Contains(body, "window.location.replace") || !strings.Contains(body, "/onboarding") {
			t.Fatalf("%s: expected a replace-navigation to onboarding, got %s", name, body)
		}
	}

	u, err := url.Parse(env.server.URL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	var hasDevice bool
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == "device_token" && c.Value != "" {
			hasDevice = true
		}
	}
	if !hasDevice {
		t.Fatal("expected the device_token cookie after the rejoin")
	}
	if env.sessions.Len() != 1 {
		t.Fatalf("expected the rejoin to reuse the session, got %d sessions", env.sessions.Len())
	}
}

func TestBootstrapSSE_RejoinStaysOnHome(t *testing.T) {
	gate := newGatedIdentity()
	env := newTestEnvWithIdentity(t, gate.wrap)
	client := newClient(t)

	principalID, token := mintToken(t, env.identity)
	onboarded := domain.Document{
		domain.FieldDisplayName:        "Ana",
		domain.FieldOnboardingComplete: true,
	}
	if _, err := env.store.Create(context.Background(), principalID, onboarded); err != nil {
		t.Fatalf("Create: %v", err)
	}
	u, err := url.Parse(env.server.URL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	client.Jar.SetCookies(u, []*http.Cookie{{Name: "device_token", Value: token, Path: "/"}})

	first := startInFlight(t, env, gate, client)
	rejoin := postBootstrapSSE(client, env)
	close(gate.release)

	for name, body := range map[string]string{
		"first":  waitSSE(t, first),
		"rejoin": waitSSE(t, rejoin),
	} {
		if strings.Contains(body, "window.location.replace") {
			t.Fatalf("%s: expected to stay on home, got %s", name, body)
		}
		if !strings.Contains(body, "Welcome back, Ana!") {
			t.Fatalf("%s: expected the home view, got %s", name, body)
		}
	}
}
