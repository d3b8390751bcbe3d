package bootstrap

import (
	"sync"
	"time"

	"github.com/msomdec/chatgate/internal/domain"
)

// State is a step of the bootstrap state machine.
type State int

const (
	StateIdle State = iota
	StateAuthenticating
	StateReconciling
	StateRouting
	StateReady
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthenticating:
		return "authenticating"
	case StateReconciling:
		return "reconciling"
	case StateRouting:
		return "routing"
	case StateReady:
		return "ready"
	}
	return "unknown"
}

// Loading reports whether the loading indicator should be visible.
func (s State) Loading() bool {
	return s != StateIdle && s != StateReady
}

// Session is the context of one app session: everything the orchestrator
// learns during a cold start lives here rather than in package state. A
// Session bootstraps at most once.
type Session struct {
	ID string

	mu        sync.Mutex
	device    domain.DeviceCredential
	state     State
	principal domain.Principal
	record    *domain.ProfileRecord
	decision  domain.RouteDecision
	err       error
	lastSeen  time.Time

	splashOnce sync.Once
	splash     chan struct{}
	done       chan struct{}
}

// NewSession creates an idle session.
func NewSession(id string, device domain.DeviceCredential) *Session {
	return &Session{
		ID:       id,
		device:   device,
		lastSeen: time.Now(),
		splash:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Snapshot is a consistent copy of a session's progress.
type Snapshot struct {
	State     State
	Principal domain.Principal
	Record    *domain.ProfileRecord
	Decision  domain.RouteDecision
	// Err is the failure that forced the onboarding fallback, if any.
	Err error
}

// Failed reports whether the bootstrap reached Ready through the fallback.
func (s Snapshot) Failed() bool { return s.Err != nil }

// Snapshot returns the current progress.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:     s.state,
		Principal: s.principal,
		Record:    s.record,
		Decision:  s.decision,
		Err:       s.err,
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetDevice replaces the device credential. It has no effect once the
// bootstrap has started.
func (s *Session) SetDevice(device domain.DeviceCredential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle {
		s.device = device
	}
}

// DismissSplash fires the splash-dismissed signal. Only the first call has
// an effect.
func (s *Session) DismissSplash() {
	s.splashOnce.Do(func() { close(s.splash) })
}

// SplashDismissed is closed once DismissSplash has been called.
func (s *Session) SplashDismissed() <-chan struct{} { return s.splash }

// Done is closed when the session reaches Ready.
func (s *Session) Done() <-chan struct{} { return s.done }

// begin moves Idle to Authenticating and reports whether this caller owns
// the bootstrap.
func (s *Session) begin() (domain.DeviceCredential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return domain.DeviceCredential{}, false
	}
	s.state = StateAuthenticating
	return s.device, true
}

func (s *Session) authenticated(p domain.Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.principal = p
	s.state = StateReconciling
}

func (s *Session) reconciled(rec *domain.ProfileRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = rec
	s.state = StateRouting
}

func (s *Session) finish(decision domain.RouteDecision, err error) {
	s.mu.Lock()
	s.decision = decision
	s.err = err
	s.state = StateReady
	s.mu.Unlock()
	close(s.done)
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen.Before(cutoff) && !s.state.Loading()
}
