// ABOUTME: Gate decision types: outcomes, stable reason codes, and the Decision record
// ABOUTME: Internal token failure reasons collapse to INVALID_TOKEN for external use

package gate

import (
	"errors"

	"github.com/2389/plangate/internal/auth"
	"github.com/2389/plangate/internal/plan"
	"github.com/2389/plangate/internal/store"
)

// Outcome is the result class of a gate evaluation.
type Outcome string

const (
	Allow                  Outcome = "allow"
	DenyUnauthenticated    Outcome = "deny_unauthenticated"
	DenyInsufficientTier   Outcome = "deny_insufficient_tier"
	DenyQuotaExceeded      Outcome = "deny_quota_exceeded"
	DenyServiceUnavailable Outcome = "deny_service_unavailable"
)

// Reason is a stable machine-readable code.
type Reason string

const (
	ReasonOK                   Reason = "OK"
	ReasonMissingToken         Reason = "MISSING_TOKEN"
	ReasonInvalidToken         Reason = "INVALID_TOKEN"
	ReasonMalformedToken       Reason = "MALFORMED_TOKEN"
	ReasonInvalidSignature     Reason = "INVALID_SIGNATURE"
	ReasonExpiredToken         Reason = "EXPIRED_TOKEN"
	ReasonAccountNotFound      Reason = "ACCOUNT_NOT_FOUND"
	ReasonSubscriptionInactive Reason = "SUBSCRIPTION_INACTIVE"
	ReasonInsufficientTier     Reason = "INSUFFICIENT_TIER"
	ReasonQuotaExceeded        Reason = "QUOTA_EXCEEDED"
	ReasonServiceUnavailable   Reason = "SERVICE_UNAVAILABLE"
)

// External collapses internal-only reasons so responses don't reveal which check failed.
func (r Reason) External() Reason {
	switch r {
	case ReasonMalformedToken, ReasonInvalidSignature, ReasonExpiredToken:
		return ReasonInvalidToken
	case ReasonSubscriptionInactive:
		return ReasonInsufficientTier
	default:
		return r
	}
}

// tokenReason maps a verifier error to its internal reason.
func tokenReason(err error) Reason {
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return ReasonExpiredToken
	case errors.Is(err, auth.ErrInvalidSignature):
		return ReasonInvalidSignature
	case errors.Is(err, auth.ErrMalformedToken), errors.Is(err, auth.ErrMissingClaim):
		return ReasonMalformedToken
	default:
		return ReasonInvalidToken
	}
}

// Decision is the outcome of one gate evaluation.
type Decision struct {
	Outcome       Outcome `json:"outcome"`
	Reason        Reason  `json:"reason"` // always external
	Cause         Reason  `json:"-"`      // internal detail, logged only
	CorrelationID string  `json:"correlationId"`

	AccountID          string    `json:"accountId,omitempty"`
	Tier               plan.Tier `json:"tier,omitempty"` // effective
	StoredTier         plan.Tier `json:"-"`
	SubscriptionActive bool      `json:"-"`
	RequiredTier       plan.Tier `json:"requiredTier,omitempty"`
	Path               string    `json:"path,omitempty"`
	Feature            string    `json:"feature,omitempty"`

	// Quota fields are set when a metered feature was checked. Limit and
	// Remaining are plan.Unlimited for unlimited tiers.
	Used      int `json:"used,omitempty"`
	Limit     int `json:"limit,omitempty"`
	Remaining int `json:"remaining,omitempty"`

	// Reservation is set when an allowed quota check took one use.
	Reservation *Reservation `json:"-"`

	Account *store.Account `json:"-"`
}

// Allowed reports whether the outcome is Allow.
func (d Decision) Allowed() bool { return d.Outcome == Allow }

// AuthContext builds the handler-facing identity for an allowed decision.
func (d Decision) AuthContext() *auth.AuthContext {
	if !d.Allowed() {
		return nil
	}
	return &auth.AuthContext{
		AccountID:          d.AccountID,
		Tier:               d.Tier,
		StoredTier:         d.StoredTier,
		SubscriptionActive: d.SubscriptionActive,
		Account:            d.Account,
	}
}

func (d Decision) deny(outcome Outcome, cause Reason) Decision {
	d.Outcome = outcome
	d.Cause = cause
	d.Reason = cause.External()
	return d
}
