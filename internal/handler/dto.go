package handler

import (
	"time"

	"github.com/msomdec/chatgate/internal/bootstrap"
	"github.com/msomdec/chatgate/internal/domain"
)

// BootstrapDTO is the JSON representation of a bootstrap outcome.
type BootstrapDTO struct {
	SessionID   string `json:"sessionId"`
	State       string `json:"state"`
	Route       string `json:"route"`
	Navigate    bool   `json:"navigate"`
	Replace     bool   `json:"replace"`
	Fresh       bool   `json:"fresh"`
	PrincipalID string `json:"principalId,omitempty"`
	DeviceToken string `json:"deviceToken,omitempty"`
	Fallback    bool   `json:"fallback"`
}

// toBootstrapDTO only tells the caller to navigate when it is the one that
// ran the bootstrap, so a decision is acted on exactly once.
func toBootstrapDTO(sessionID string, out bootstrap.Outcome) BootstrapDTO {
	dto := BootstrapDTO{
		SessionID:   sessionID,
		State:       out.Snapshot.State.String(),
		Route:       string(out.Decision.Route),
		Navigate:    out.Decision.Navigate && out.Fresh,
		Replace:     out.Decision.Replace,
		Fresh:       out.Fresh,
		PrincipalID: out.Snapshot.Principal.ID,
		Fallback:    out.Snapshot.Failed(),
	}
	if out.Fresh {
		dto.DeviceToken = out.Snapshot.Principal.Token
	}
	return dto
}

// ProfileDTO is the JSON representation of a profile. Nullable and
// malformed fields are sent as null.
type ProfileDTO struct {
	ID                  string  `json:"id"`
	DisplayName         *string `json:"displayName"`
	GenderTag           *string `json:"genderTag"`
	PreferredLanguage   *string `json:"preferredLanguage"`
	OnboardingComplete  bool    `json:"onboardingComplete"`
	InboundReferralCode *string `json:"inboundReferralCode"`
	OwnReferralCode     *string `json:"ownReferralCode"`
	ReferralCount       int64   `json:"referralCount"`
	PremiumUntil        *string `json:"premiumUntil"`
	CreatedAt           *string `json:"createdAt"`
}

func toProfileDTO(p *domain.ProfileRecord) ProfileDTO {
	count, _ := p.ReferralCount.Get()
	return ProfileDTO{
		ID:                  p.ID,
		DisplayName:         optional(p.DisplayName),
		GenderTag:           optional(p.GenderTag),
		PreferredLanguage:   optional(p.PreferredLanguage),
		OnboardingComplete:  p.IsOnboarded(),
		InboundReferralCode: optional(p.InboundReferralCode),
		OwnReferralCode:     optional(p.OwnReferralCode),
		ReferralCount:       count,
		PremiumUntil:        optionalTime(p.PremiumUntil),
		CreatedAt:           optionalTime(p.CreatedAt),
	}
}

func optional(f domain.Field[string]) *string {
	v, ok := f.Get()
	if !ok {
		return nil
	}
	return &v
}

func optionalTime(f domain.Field[time.Time]) *string {
	v, ok := f.Get()
	if !ok {
		return nil
	}
	s := v.UTC().Format(time.RFC3339)
	return &s
}
