// ABOUTME: Subscription status and activity rules
// ABOUTME: Computes the effective tier an account is entitled to at a given instant

package plan

import (
	"fmt"
	"time"
)

// SubscriptionStatus is the billing state of a subscription.
type SubscriptionStatus string

const (
	StatusActive    SubscriptionStatus = "active"
	StatusInactive  SubscriptionStatus = "inactive"
	StatusCancelled SubscriptionStatus = "cancelled"
)

// ParseStatus validates a subscription status string.
func ParseStatus(s string) (SubscriptionStatus, error) {
	switch st := SubscriptionStatus(s); st {
	case StatusActive, StatusInactive, StatusCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("unknown subscription status %q", s)
	}
}

// Subscription is the billing window attached to an account.
type Subscription struct {
	Status    SubscriptionStatus
	StartDate time.Time
	EndDate   *time.Time // nil means open-ended
}

// IsActive reports whether the subscription is active at now:
// status is active, it has started, and it has not ended.
func (s Subscription) IsActive(now time.Time) bool {
	if s.Status != StatusActive {
		return false
	}
	if s.StartDate.After(now) {
		return false
	}
	if s.EndDate != nil && !s.EndDate.After(now) {
		return false
	}
	return true
}

// EffectiveTier returns the tier an account may use at now.
// An inactive subscription forces basic regardless of the stored tier.
func EffectiveTier(stored Tier, sub Subscription, now time.Time) Tier {
	if !stored.Valid() || !sub.IsActive(now) {
		return TierBasic
	}
	return stored
}
