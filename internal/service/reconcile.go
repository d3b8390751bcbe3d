package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/msomdec/chatgate/internal/domain"
)

// ProfileReconciler guarantees that exactly one profile document exists for
// a principal and that it carries every required field.
type ProfileReconciler struct {
	store    domain.ProfileStore
	language string
}

// NewProfileReconciler creates a new ProfileReconciler. language is the
// preferred language assigned to new and backfilled profiles.
func NewProfileReconciler(store domain.ProfileStore, language string) *ProfileReconciler {
	if language == "" {
		language = domain.DefaultLanguage
	}
	return &ProfileReconciler{store: store, language: language}
}

// Reconcile fetches the profile for principalID, creating it with defaults
// when absent or backfilling missing fields when present, and returns the
// resulting record. It never retries; every store failure is returned as a
// *domain.ProfileStoreError.
func (r *ProfileReconciler) Reconcile(ctx context.Context, principalID string) (*domain.ProfileRecord, error) {
	doc, err := r.store.Get(ctx, principalID)
	if errors.Is(err, domain.ErrNotFound) {
		return r.create(ctx, principalID)
	}
	if err != nil {
		return nil, &domain.ProfileStoreError{Op: "get", ID: principalID, Err: err}
	}

	rec := domain.DecodeProfile(principalID, doc)
	if len(BackfillPatch(doc, rec, r.language)) == 0 {
		return rec, nil
	}

	// The patch is recomputed against the locked document: a concurrent
	// bootstrap or an onboarding write may have filled fields since Get.
	var applied domain.Patch
	patched, err := r.store.Update(ctx, principalID, func(current domain.Document) domain.Patch {
		applied = BackfillPatch(current, domain.DecodeProfile(principalID, current), r.language)
		return applied
	})
	if err != nil {
		return nil, &domain.ProfileStoreError{Op: "patch", ID: principalID, Err: err}
	}
	if len(applied) > 0 {
		slog.Info("profile backfilled", "principal", principalID, "fields", applied.Keys())
	}
	return domain.DecodeProfile(principalID, patched), nil
}

func (r *ProfileReconciler) create(ctx context.Context, principalID string) (*domain.ProfileRecord, error) {
	created, err := r.store.Create(ctx, principalID, domain.NewProfileDocument(principalID, r.language))
	if err != nil {
		return nil, &domain.ProfileStoreError{Op: "create", ID: principalID, Err: err}
	}
	slog.Info("profile created", "principal", principalID)
	return domain.DecodeProfile(principalID, created), nil
}

// BackfillPatch computes the minimal patch that brings an existing profile
// up to the current schema. Fields that already hold a valid value are
// never included.
func BackfillPatch(doc domain.Document, rec *domain.ProfileRecord, language string) domain.Patch {
	patch := domain.Patch{}

	if _, ok := doc[domain.FieldID].(string); !ok {
		patch[domain.FieldID] = rec.ID
	}

	if code, ok := rec.OwnReferralCode.Get(); !ok || code == "" {
		patch[domain.FieldOwnReferralCode] = domain.OwnReferralCode(rec.ID)
	}

	if !rec.ReferralCount.Valid() {
		patch[domain.FieldReferralCount] = int64(0)
	}

	// Optional fields need an explicit null marker; wrong types are reset.
	nullable := []struct {
		key   string
		state domain.FieldState
	}{
		{domain.FieldDisplayName, rec.DisplayName.State},
		{domain.FieldGenderTag, rec.GenderTag.State},
		{domain.FieldInboundReferralCode, rec.InboundReferralCode.State},
		{domain.FieldPremiumUntil, rec.PremiumUntil.State},
	}
	for _, f := range nullable {
		if f.state == domain.FieldAbsent || f.state == domain.FieldInvalid {
			patch[f.key] = nil
		}
	}

	if !rec.PreferredLanguage.Valid() {
		patch[domain.FieldPreferredLanguage] = language
	}

	if !rec.OnboardingComplete.Valid() {
		patch[domain.FieldOnboardingComplete] = false
	}

	// createdAt is only ever assigned once; a malformed value is left alone.
	if st := rec.CreatedAt.State; st == domain.FieldAbsent || st == domain.FieldNull {
		patch[domain.FieldCreatedAt] = domain.ServerTimestamp
	}

	return patch
}
