package domain

import "context"

// Principal is an anonymous identity. ID is stable for as long as the
// device keeps its Token.
type Principal struct {
	ID    string
	Token string
	// Minted is true when the principal was created by this call rather
	// than resumed from an existing device token.
	Minted bool
}

// DeviceCredential is what a client presents when asking for a principal.
type DeviceCredential struct {
	Token     string // previously issued device token, may be empty
	ClientKey string // rate-limit key, usually the remote address
}

// IdentityProvider acquires or resumes an anonymous principal.
type IdentityProvider interface {
	AcquireAnonymousPrincipal(ctx context.Context, device DeviceCredential) (Principal, error)
}
