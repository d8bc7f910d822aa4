// ABOUTME: Authoritative JWT verification and token minting
// ABOUTME: HS256 only; signature is checked before any claim is trusted

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/plangate/internal/plan"
)

// MinSecretLength is the shortest HS256 secret accepted.
const MinSecretLength = 32

// Token errors. Every specific error matches ErrInvalidToken with errors.Is,
// so callers that must not leak which check failed can collapse them.
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrMalformedToken   = fmt.Errorf("%w: malformed", ErrInvalidToken)
	ErrInvalidSignature = fmt.Errorf("%w: signature invalid", ErrInvalidToken)
	ErrExpiredToken     = fmt.Errorf("%w: expired", ErrInvalidToken)
	ErrMissingClaim     = fmt.Errorf("%w: missing required claim", ErrInvalidToken)

	ErrWeakSecret = errors.New("jwt secret too short")
)

// ClaimSet is the identity payload of a bearer token.
type ClaimSet struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// tokenClaims is the wire form of a token's claims.
type tokenClaims struct {
	jwt.RegisteredClaims
	Tier string `json:"tier,omitempty"`
}

func (c *tokenClaims) claimSet() ClaimSet {
	var cs ClaimSet
	cs.Subject = c.Subject
	if c.IssuedAt != nil {
		cs.IssuedAt = c.IssuedAt.UTC()
	}
	if c.ExpiresAt != nil {
		cs.ExpiresAt = c.ExpiresAt.UTC()
	}
	return cs
}

// VerifiedIdentity is a subject whose token passed signature and expiry checks.
// It can only be obtained from JWTVerifier.Verify.
type VerifiedIdentity struct {
	claims ClaimSet
}

func (v VerifiedIdentity) Subject() string      { return v.claims.Subject }
func (v VerifiedIdentity) IssuedAt() time.Time  { return v.claims.IssuedAt }
func (v VerifiedIdentity) ExpiresAt() time.Time { return v.claims.ExpiresAt }
func (v VerifiedIdentity) Claims() ClaimSet     { return v.claims }

// IsZero reports whether v was not produced by a verifier.
func (v VerifiedIdentity) IsZero() bool { return v.claims.Subject == "" }

// TokenVerifier verifies bearer tokens.
type TokenVerifier interface {
	Verify(tokenString string) (VerifiedIdentity, error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs.
type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewJWTVerifier creates a verifier for the given secret.
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrWeakSecret, MinSecretLength, len(secret))
	}
	return &JWTVerifier{secret: secret, now: time.Now}, nil
}

// WithClock replaces the time source used for expiry checks and minting.
func (v *JWTVerifier) WithClock(now func() time.Time) *JWTVerifier {
	c := *v
	c.now = now
	return &c
}

// Verify validates the signature and expiry, then extracts the subject.
func (v *JWTVerifier) Verify(tokenString string) (VerifiedIdentity, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return VerifiedIdentity{}, classify(err)
	}

	if claims.Subject == "" {
		return VerifiedIdentity{}, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return VerifiedIdentity{claims: claims.claimSet()}, nil
}

// classify maps jwt library errors onto our sentinels.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return fmt.Errorf("%w: %v", ErrMissingClaim, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpiredToken
	default:
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
}

// TokenOption customizes a minted token.
type TokenOption func(*tokenClaims)

// WithTierHint embeds a non-authoritative tier claim. The gate never reads it;
// only the edge pre-router uses it for coarse routing.
func WithTierHint(tier plan.Tier) TokenOption {
	return func(c *tokenClaims) { c.Tier = string(tier) }
}

// Generate creates a signed token for subject that expires after ttl.
func (v *JWTVerifier) Generate(subject string, ttl time.Duration, opts ...TokenOption) (string, error) {
	now := v.now()
	claims := &tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	for _, opt := range opts {
		opt(claims)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
