package bootstrap_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/msomdec/chatgate/internal/bootstrap"
	"github.com/msomdec/chatgate/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { tp.Shutdown(context.Background()) })
	return sr
}

func TestProceed_RecordsSpans(t *testing.T) {
	sr := recordSpans(t)
	identity := &fakeIdentity{principal: domain.Principal{ID: "u1"}}
	o := bootstrap.NewOrchestrator(identity, &fakeReconciler{}, bootstrap.Config{})

	if _, err := o.Proceed(context.Background(), bootstrap.NewSession("s1", domain.DeviceCredential{})); err != nil {
		t.Fatalf("Proceed: %v", err)
	}

	var names []string
	for _, s := range sr.Ended() {
		names = append(names, s.Name())
	}
	for _, want := range []string{"bootstrap", "bootstrap.authenticate", "bootstrap.reconcile"} {
		if !slices.Contains(names, want) {
			t.Fatalf("expected span %q, got %v", want, names)
		}
	}
}

func TestProceed_FailureMarksSpan(t *testing.T) {
	sr := recordSpans(t)
	identity := &fakeIdentity{err: errors.New("provider down")}
	o := bootstrap.NewOrchestrator(identity, &fakeReconciler{}, bootstrap.Config{})

	if _, err := o.Proceed(context.Background(), bootstrap.NewSession("s1", domain.DeviceCredential{})); err != nil {
		t.Fatalf("Proceed: %v", err)
	}

	for _, s := range sr.Ended() {
		if s.Name() == "bootstrap" {
			if s.Status().Code != codes.Error {
				t.Fatalf("expected error status, got %v", s.Status())
			}
			return
		}
	}
	t.Fatal("bootstrap span not recorded")
}
