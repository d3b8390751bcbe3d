package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/msomdec/chatgate/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Reconciler ensures a profile exists for a principal and returns it.
type Reconciler interface {
	Reconcile(ctx context.Context, principalID string) (*domain.ProfileRecord, error)
}

// Config bounds the calls the orchestrator makes to its collaborators. A
// zero duration disables the bound.
type Config struct {
	IdentityTimeout time.Duration
	StoreTimeout    time.Duration
}

// Orchestrator sequences identity acquisition, profile reconciliation and
// the routing decision for a Session.
type Orchestrator struct {
	identity   domain.IdentityProvider
	reconciler Reconciler
	cfg        Config
	tracer     trace.Tracer
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(identity domain.IdentityProvider, reconciler Reconciler, cfg Config) *Orchestrator {
	return &Orchestrator{
		identity:   identity,
		reconciler: reconciler,
		cfg:        cfg,
		tracer:     otel.Tracer("github.com/msomdec/chatgate/internal/bootstrap"),
	}
}

// Outcome is what a caller of Proceed gets back. Only the Fresh outcome
// should be acted on by navigating; later callers observe the decision that
// was already applied.
type Outcome struct {
	Decision domain.RouteDecision
	Fresh    bool
	Snapshot Snapshot
}

// Await blocks until the session's splash is dismissed, then proceeds.
func (o *Orchestrator) Await(ctx context.Context, s *Session) (Outcome, error) {
	select {
	case <-s.SplashDismissed():
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
	return o.Proceed(ctx, s)
}

// Proceed runs the bootstrap for s if it is idle. A run always reaches
// Ready: identity and store failures are logged and fall back to the
// onboarding route. Once started, a run is not cancelled by ctx; callers
// that find a run in flight wait for it and get Fresh=false.
func (o *Orchestrator) Proceed(ctx context.Context, s *Session) (Outcome, error) {
	device, owner := s.begin()
	if !owner {
		select {
		case <-s.Done():
			snap := s.Snapshot()
			return Outcome{Decision: snap.Decision, Snapshot: snap}, nil
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		}
	}

	o.run(context.WithoutCancel(ctx), s, device)

	snap := s.Snapshot()
	return Outcome{Decision: snap.Decision, Fresh: true, Snapshot: snap}, nil
}

func (o *Orchestrator) run(ctx context.Context, s *Session, device domain.DeviceCredential) {
	ctx, span := o.tracer.Start(ctx, "bootstrap", trace.WithAttributes(
		attribute.String("session.id", s.ID),
	))
	defer span.End()

	principal, err := o.authenticate(ctx, device)
	if err != nil {
		o.fallback(ctx, span, s, err)
		return
	}
	s.authenticated(principal)
	span.SetAttributes(
		attribute.String("principal.id", principal.ID),
		attribute.Bool("principal.minted", principal.Minted),
	)

	rec, err := o.reconcile(ctx, principal.ID)
	if err != nil {
		o.fallback(ctx, span, s, err)
		return
	}
	s.reconciled(rec)

	decision := domain.DecideRoute(rec)
	span.SetAttributes(attribute.String("route", string(decision.Route)))
	slog.Info("bootstrap ready",
		"session", s.ID,
		"principal", principal.ID,
		"route", decision.Route,
		"navigate", decision.Navigate,
	)
	s.finish(decision, nil)
}

// fallback routes to onboarding after a failed step. No error escapes the
// orchestrator.
func (o *Orchestrator) fallback(ctx context.Context, span trace.Span, s *Session, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	slog.WarnContext(ctx, "bootstrap failed, routing to onboarding", "session", s.ID, "error", err)
	s.finish(domain.DecideRoute(nil), err)
}

func (o *Orchestrator) authenticate(ctx context.Context, device domain.DeviceCredential) (domain.Principal, error) {
	ctx, span := o.tracer.Start(ctx, "bootstrap.authenticate")
	defer span.End()

	p, err := bounded(ctx, o.cfg.IdentityTimeout, func(ctx context.Context) (domain.Principal, error) {
		return o.identity.AcquireAnonymousPrincipal(ctx, device)
	})
	if err != nil {
		var idErr *domain.IdentityError
		if !errors.As(err, &idErr) {
			err = &domain.IdentityError{Err: err}
		}
		span.RecordError(err)
		return domain.Principal{}, err
	}
	return p, nil
}

func (o *Orchestrator) reconcile(ctx context.Context, principalID string) (*domain.ProfileRecord, error) {
	ctx, span := o.tracer.Start(ctx, "bootstrap.reconcile")
	defer span.End()

	rec, err := bounded(ctx, o.cfg.StoreTimeout, func(ctx context.Context) (*domain.ProfileRecord, error) {
		return o.reconciler.Reconcile(ctx, principalID)
	})
	if err != nil {
		var storeErr *domain.ProfileStoreError
		if !errors.As(err, &storeErr) {
			err = &domain.ProfileStoreError{Op: "reconcile", ID: principalID, Err: err}
		}
		span.RecordError(err)
		return nil, err
	}
	return rec, nil
}

// bounded runs fn with a deadline of d. It returns when fn does or when the
// deadline passes, whichever is first, so a collaborator that ignores its
// context cannot stall the state machine.
func bounded[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
