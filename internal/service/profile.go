package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/msomdec/chatgate/internal/domain"
)

const maxDisplayNameLength = 40

// GenderTags lists the values accepted from the gender select screen.
var GenderTags = []string{"female", "male", "other"}

// ProfileService serves profile reads and the writes made by the onboarding
// screens once the bootstrap has handed over.
type ProfileService struct {
	store domain.ProfileStore
}

// NewProfileService creates a new ProfileService.
func NewProfileService(store domain.ProfileStore) *ProfileService {
	return &ProfileService{store: store}
}

// Get returns the decoded profile for a principal.
func (s *ProfileService) Get(ctx context.Context, principalID string) (*domain.ProfileRecord, error) {
	doc, err := s.store.Get(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return domain.DecodeProfile(principalID, doc), nil
}

// CompleteOnboarding records the onboarding answers and flips
// onboardingComplete so later cold starts land on the default screen.
func (s *ProfileService) CompleteOnboarding(ctx context.Context, principalID, displayName, genderTag string) (*domain.ProfileRecord, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, fmt.Errorf("%w: display name is required", domain.ErrInvalidInput)
	}
	if utf8.RuneCountInString(displayName) > maxDisplayNameLength {
		return nil, fmt.Errorf("%w: display name must be at most %d characters", domain.ErrInvalidInput, maxDisplayNameLength)
	}

	patch := domain.Patch{
		domain.FieldDisplayName:        displayName,
		domain.FieldOnboardingComplete: true,
	}
	if genderTag != "" {
		if !slices.Contains(GenderTags, genderTag) {
			return nil, fmt.Errorf("%w: unknown gender %q", domain.ErrInvalidInput, genderTag)
		}
		patch[domain.FieldGenderTag] = genderTag
	}

	doc, err := s.store.Patch(ctx, principalID, patch)
	if err != nil {
		return nil, fmt.Errorf("complete onboarding: %w", err)
	}
	return domain.DecodeProfile(principalID, doc), nil
}
