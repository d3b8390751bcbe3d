package handler_test

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/msomdec/chatgate/internal/bootstrap"
	"github.com/msomdec/chatgate/internal/domain"
	"github.com/msomdec/chatgate/internal/handler"
	"github.com/msomdec/chatgate/internal/repository/sqlite"
	"github.com/msomdec/chatgate/internal/service"
)

const testSecret = "test-secret-for-handler-tests-0123456789"

type testEnv struct {
	server   *httptest.Server
	identity *service.IdentityService
	profiles *service.ProfileService
	store    *sqlite.ProfileStore
	sessions *bootstrap.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithIdentity(t, nil)
}

// newTestEnvWithIdentity is newTestEnv with the orchestrator's identity
// provider wrapped by wrap, when it is non-nil.
func newTestEnvWithIdentity(t *testing.T, wrap func(domain.IdentityProvider) domain.IdentityProvider) *testEnv {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := sqlite.New(dbPath)
	if err != nil {
		t.Fatalf("New DB: %v", err)
	}
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	identity, err := service.NewIdentityService(testSecret, 24*time.Hour, nil)
	if err != nil {
		t.Fatalf("NewIdentityService: %v", err)
	}
	store := db.Profiles()
	profiles := service.NewProfileService(store)
	sessions := bootstrap.NewRegistry(time.Hour)
	var provider domain.IdentityProvider = identity
	if wrap != nil {
		provider = wrap(identity)
	}
	orchestrator := bootstrap.NewOrchestrator(provider, service.NewProfileReconciler(store, "en"), bootstrap.Config{
		IdentityTimeout: 5 * time.Second,
		StoreTimeout:    5 * time.Second,
	})

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux, handler.Deps{
		Orchestrator:   orchestrator,
		Sessions:       sessions,
		Identity:       identity,
		Profiles:       profiles,
		DeviceTokenTTL: 24 * time.Hour,
		CORSOrigins:    []string{"https://app.example.com"},
	})

	srv := httptest.NewServer(handler.SecurityHeaders(mux))
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, identity: identity, profiles: profiles, store: store, sessions: sessions}
}

// newClient returns a cookie-keeping client, standing in for one installed
// app on one device.
func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar.New: %v", err)
	}
	return &http.Client{Jar: jar}
}

// mintToken acquires a fresh device token for requests that skip the
// bootstrap.
func mintToken(t *testing.T, identity *service.IdentityService) (principalID, token string) {
	t.Helper()
	p, err := identity.AcquireAnonymousPrincipal(context.Background(), domain.DeviceCredential{ClientKey: "127.0.0.1"})
	if err != nil {
		t.Fatalf("AcquireAnonymousPrincipal: %v", err)
	}
	return p.ID, p.Token
}

// gatedIdentity holds every acquisition until release is closed, so a test
// can observe a bootstrap in flight.
type gatedIdentity struct {
	next    domain.IdentityProvider
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedIdentity() *gatedIdentity {
	return &gatedIdentity{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedIdentity) wrap(next domain.IdentityProvider) domain.IdentityProvider {
	g.next = next
	return g
}

func (g *gatedIdentity) AcquireAnonymousPrincipal(ctx context.Context, device domain.DeviceCredential) (domain.Principal, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.next.AcquireAnonymousPrincipal(ctx, device)
}
