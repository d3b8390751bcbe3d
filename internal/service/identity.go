package service

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/msomdec/chatgate/internal/domain"
	"golang.org/x/crypto/hkdf"
)

const tokenIssuer = "chatgate"

// IdentityService is the anonymous identity provider. A principal lives in
// a signed device token; presenting the token resumes the same principal,
// and a missing or invalid token mints a new one.
type IdentityService struct {
	signingKey []byte
	tokenTTL   time.Duration
	limiter    *MintLimiter
	now        func() time.Time
}

// NewIdentityService creates a new IdentityService. The token signing key is
// derived from secret with HKDF-SHA256. limiter may be nil to disable mint
// rate limiting.
func NewIdentityService(secret string, tokenTTL time.Duration, limiter *MintLimiter) (*IdentityService, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("%w: secret must be at least 32 characters", domain.ErrInvalidInput)
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("chatgate device token v1"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}

	return &IdentityService{
		signingKey: key,
		tokenTTL:   tokenTTL,
		limiter:    limiter,
		now:        time.Now,
	}, nil
}

// AcquireAnonymousPrincipal resumes the principal in device.Token or mints
// a new one. Every failure is a *domain.IdentityError.
func (s *IdentityService) AcquireAnonymousPrincipal(ctx context.Context, device domain.DeviceCredential) (domain.Principal, error) {
	if err := ctx.Err(); err != nil {
		return domain.Principal{}, &domain.IdentityError{Err: err}
	}

	if device.Token != "" {
		claims, err := s.parse(device.Token)
		if err == nil {
			return s.resume(device.Token, claims)
		}
		slog.Debug("device token rejected, minting new principal", "error", err)
	}

	if s.limiter != nil {
		if ok, wait := s.limiter.Reserve(device.ClientKey); !ok {
			slog.Warn("mint rate limited", "client", device.ClientKey, "retry_after", wait)
			return domain.Principal{}, &domain.IdentityError{Err: domain.ErrRateLimited}
		}
	}

	id := uuid.NewString()
	token, err := s.issue(id)
	if err != nil {
		return domain.Principal{}, &domain.IdentityError{Err: fmt.Errorf("issue token: %w", err)}
	}
	slog.Info("principal minted", "principal", id)
	return domain.Principal{ID: id, Token: token, Minted: true}, nil
}

// ValidateToken returns the principal id carried by a device token.
func (s *IdentityService) ValidateToken(token string) (string, error) {
	claims, err := s.parse(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// resume keeps the presented token unless it is past the midpoint of its
// lifetime, in which case a fresh one is issued for the same principal.
func (s *IdentityService) resume(token string, claims *jwt.RegisteredClaims) (domain.Principal, error) {
	p := domain.Principal{ID: claims.Subject, Token: token}

	if claims.ExpiresAt != nil && claims.ExpiresAt.Sub(s.now()) > s.tokenTTL/2 {
		return p, nil
	}

	refreshed, err := s.issue(claims.Subject)
	if err != nil {
		return domain.Principal{}, &domain.IdentityError{Err: fmt.Errorf("refresh token: %w", err)}
	}
	p.Token = refreshed
	return p, nil
}

func (s *IdentityService) issue(principalID string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   principalID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
}

func (s *IdentityService) parse(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return nil, domain.ErrUnauthorized
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", domain.ErrUnauthorized)
	}
	return claims, nil
}
