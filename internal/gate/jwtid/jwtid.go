// Package jwtid verifies HS256 bearer tokens that identify internal callers.
package jwtid

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"todoflow/internal/gate"
)

// Scheme is the Authorization scheme this verifier handles.
const Scheme = "Bearer"

// Claims identifies a caller. Subject is the caller identity.
type Claims struct {
	jwt.RegisteredClaims
}

// Service issues and validates caller tokens.
type Service struct {
	signingKey []byte
	issuer     string
	audience   string
	now        func() time.Time
}

func New(signingKey, issuer, audience string) *Service {
	return &Service{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		now:        time.Now,
	}
}

// WithClock returns a copy of s that reads time from now.
func (s *Service) WithClock(now func() time.Time) *Service {
	cp := *s
	cp.now = now
	return &cp
}

// Issue signs a token for subject that expires after ttl.
func (s *Service) Issue(subject string, ttl time.Duration) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.signingKey)
}

// Validate parses a raw token and checks signature, issuer, audience and expiry.
func (s *Service) Validate(raw string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (any, error) {
		return s.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, gate.Reject(gate.ReasonExpired, err)
		}
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, gate.Reject(gate.ReasonMalformed, err)
		}
		if errors.Is(err, jwt.ErrTokenInvalidIssuer) || errors.Is(err, jwt.ErrTokenInvalidAudience) {
			return nil, gate.Reject(gate.ReasonBadScope, err)
		}
		return nil, gate.Reject(gate.ReasonBadSignature, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, gate.Reject(gate.ReasonBadSignature, errors.New("invalid token claims"))
	}
	if claims.Subject == "" {
		return nil, gate.Reject(gate.ReasonUnknownCredential, errors.New("token has no subject"))
	}
	return claims, nil
}

// Verify implements gate.Verifier.
func (s *Service) Verify(_ context.Context, r *http.Request) (string, error) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), Scheme+" ")
	if !ok || strings.TrimSpace(raw) == "" {
		return "", gate.Reject(gate.ReasonMalformed, errors.New("bearer token is empty"))
	}
	claims, err := s.Validate(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}
