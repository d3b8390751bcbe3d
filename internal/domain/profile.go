package domain

import (
	"context"
	"strings"
	"time"
)

// Document field names as stored by every ProfileStore backend.
const (
	FieldID                  = "id"
	FieldDisplayName         = "displayName"
	FieldGenderTag           = "genderTag"
	FieldPreferredLanguage   = "preferredLanguage"
	FieldOnboardingComplete  = "onboardingComplete"
	FieldInboundReferralCode = "inboundReferralCode"
	FieldOwnReferralCode     = "ownReferralCode"
	FieldReferralCount       = "referralCount"
	FieldPremiumUntil        = "premiumUntil"
	FieldCreatedAt           = "createdAt"
)

// DefaultLanguage is the locale assigned to new profiles when no other
// default is configured.
const DefaultLanguage = "en"

// OwnReferralCodeLength is the number of principal id characters that make
// up a referral code.
const OwnReferralCodeLength = 6

// FieldState describes how a single document field was found.
type FieldState int

const (
	FieldAbsent  FieldState = iota // key missing from the document
	FieldNull                      // key present with an explicit null
	FieldInvalid                   // key present with a value of the wrong type
	FieldPresent                   // key present with a usable value
)

func (s FieldState) String() string {
	switch s {
	case FieldAbsent:
		return "absent"
	case FieldNull:
		return "null"
	case FieldInvalid:
		return "invalid"
	case FieldPresent:
		return "present"
	}
	return "unknown"
}

// Field is a tagged optional. Value is only meaningful when State is
// FieldPresent.
type Field[T any] struct {
	State FieldState
	Value T
}

// Valid reports whether the field holds a usable value.
func (f Field[T]) Valid() bool { return f.State == FieldPresent }

// Get returns the value and whether it is present.
func (f Field[T]) Get() (T, bool) { return f.Value, f.State == FieldPresent }

// Present wraps v as a present field.
func Present[T any](v T) Field[T] { return Field[T]{State: FieldPresent, Value: v} }

// ProfileRecord is the decoded view of a profile document, one per principal.
type ProfileRecord struct {
	ID                  string
	DisplayName         Field[string]
	GenderTag           Field[string]
	PreferredLanguage   Field[string]
	OnboardingComplete  Field[bool]
	InboundReferralCode Field[string]
	OwnReferralCode     Field[string]
	ReferralCount       Field[int64]
	PremiumUntil        Field[time.Time]
	CreatedAt           Field[time.Time]
}

// IsOnboarded reports whether the onboarding flow has finished. A missing
// or malformed flag counts as not onboarded.
func (p *ProfileRecord) IsOnboarded() bool {
	if p == nil {
		return false
	}
	done, ok := p.OnboardingComplete.Get()
	return ok && done
}

// OwnReferralCode derives a principal's referral code: the first
// OwnReferralCodeLength characters of the id, upper-cased. Shorter ids are
// used whole.
func OwnReferralCode(principalID string) string {
	code := []rune(principalID)
	if len(code) > OwnReferralCodeLength {
		code = code[:OwnReferralCodeLength]
	}
	return strings.ToUpper(string(code))
}

// NewProfileDocument builds the full default document for a principal that
// has no profile yet. Optional fields are explicit nulls and createdAt is
// left for the store to assign.
func NewProfileDocument(principalID, language string) Document {
	if language == "" {
		language = DefaultLanguage
	}
	return Document{
		FieldID:                  principalID,
		FieldDisplayName:         nil,
		FieldGenderTag:           nil,
		FieldPreferredLanguage:   language,
		FieldOnboardingComplete:  false,
		FieldInboundReferralCode: nil,
		FieldOwnReferralCode:     OwnReferralCode(principalID),
		FieldReferralCount:       int64(0),
		FieldPremiumUntil:        nil,
		FieldCreatedAt:           ServerTimestamp,
	}
}

// DecodeProfile reads a document into a ProfileRecord, classifying every
// field. The principal id is taken from the store key, not the document.
func DecodeProfile(principalID string, doc Document) *ProfileRecord {
	return &ProfileRecord{
		ID:                  principalID,
		DisplayName:         stringField(doc, FieldDisplayName),
		GenderTag:           stringField(doc, FieldGenderTag),
		PreferredLanguage:   stringField(doc, FieldPreferredLanguage),
		OnboardingComplete:  boolField(doc, FieldOnboardingComplete),
		InboundReferralCode: stringField(doc, FieldInboundReferralCode),
		OwnReferralCode:     stringField(doc, FieldOwnReferralCode),
		ReferralCount:       countField(doc, FieldReferralCount),
		PremiumUntil:        timeField(doc, FieldPremiumUntil),
		CreatedAt:           timeField(doc, FieldCreatedAt),
	}
}

// ProfileStore is a document store keyed by principal id.
//
// Create must be atomic per key: when a document already exists it returns
// ErrAlreadyExists and writes nothing. Update reads the current document
// under the store's per-key lock, passes it to fn and applies the patch fn
// returns; an empty patch writes nothing. Patch is Update with a fixed
// patch. Create, Update and Patch return the stored document with server
// timestamps resolved.
type ProfileStore interface {
	Get(ctx context.Context, id string) (Document, error)
	Create(ctx context.Context, id string, doc Document) (Document, error)
	Update(ctx context.Context, id string, fn func(current Document) Patch) (Document, error)
	Patch(ctx context.Context, id string, patch Patch) (Document, error)
}
