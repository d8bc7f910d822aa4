// ABOUTME: Unverified structural decoding of bearer tokens for coarse routing
// ABOUTME: Results carry no authority and cannot be turned into a VerifiedIdentity

package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/plangate/internal/plan"
)

// UnverifiedClaims are claims read from a token whose signature was NOT checked.
// Use them for routing hints only. Nothing that authorizes accepts this type.
type UnverifiedClaims struct {
	Claims   ClaimSet
	TierHint string
}

// Expired reports whether the claimed expiry is at or before now.
// A token without an exp claim counts as expired.
func (u UnverifiedClaims) Expired(now time.Time) bool {
	return u.Claims.ExpiresAt.IsZero() || !now.Before(u.Claims.ExpiresAt)
}

// HintedTier parses the tier hint, if any.
func (u UnverifiedClaims) HintedTier() (plan.Tier, bool) {
	t, err := plan.ParseTier(u.TierHint)
	if err != nil {
		return "", false
	}
	return t, true
}

// UnsafeDecoder splits a token and decodes its claims without verifying the signature.
type UnsafeDecoder struct {
	parser *jwt.Parser
}

// NewUnsafeDecoder creates a decoder.
func NewUnsafeDecoder() *UnsafeDecoder {
	return &UnsafeDecoder{parser: jwt.NewParser()}
}

// Decode returns the token's claims. Only structural problems are reported.
func (d *UnsafeDecoder) Decode(tokenString string) (UnverifiedClaims, error) {
	claims := &tokenClaims{}
	if _, _, err := d.parser.ParseUnverified(tokenString, claims); err != nil {
		return UnverifiedClaims{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return UnverifiedClaims{Claims: claims.claimSet(), TierHint: claims.Tier}, nil
}
