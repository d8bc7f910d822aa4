// ABOUTME: Account tier total order and tier sets
// ABOUTME: Provides ranking, parsing, and minimum-satisfying-tier lookup

package plan

import (
	"errors"
	"fmt"
	"strings"
)

// Tier is an ordered account classification.
type Tier string

const (
	TierBasic      Tier = "basic"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// ErrUnknownTier is returned when a tier name is not recognized.
var ErrUnknownTier = errors.New("unknown tier")

// AllTiers lists every tier in ascending order.
var AllTiers = []Tier{TierBasic, TierPro, TierEnterprise}

// Rank returns the position of the tier in the total order, or -1 if unknown.
func (t Tier) Rank() int {
	switch t {
	case TierBasic:
		return 0
	case TierPro:
		return 1
	case TierEnterprise:
		return 2
	default:
		return -1
	}
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool { return t.Rank() >= 0 }

// AtLeast reports whether t is at or above floor in the tier order.
// Unknown tiers are never at least anything.
func (t Tier) AtLeast(floor Tier) bool {
	if !t.Valid() || !floor.Valid() {
		return false
	}
	return t.Rank() >= floor.Rank()
}

// Title returns the display name used in user-facing messages ("Pro").
func (t Tier) Title() string {
	if t == "" {
		return ""
	}
	return strings.ToUpper(string(t[:1])) + string(t[1:])
}

// ParseTier parses a tier name case-insensitively.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
	return t, nil
}

// TierSet is a set of tiers.
type TierSet uint8

// NewTierSet builds a set from the given tiers. Unknown tiers are ignored.
func NewTierSet(tiers ...Tier) TierSet {
	var s TierSet
	for _, t := range tiers {
		if t.Valid() {
			s |= 1 << t.Rank()
		}
	}
	return s
}

// AtLeastSet returns the set of all tiers at or above floor.
func AtLeastSet(floor Tier) TierSet {
	var s TierSet
	for _, t := range AllTiers {
		if t.AtLeast(floor) {
			s |= 1 << t.Rank()
		}
	}
	return s
}

// Contains reports whether t is in the set.
func (s TierSet) Contains(t Tier) bool {
	if !t.Valid() {
		return false
	}
	return s&(1<<t.Rank()) != 0
}

// Empty reports whether the set has no tiers.
func (s TierSet) Empty() bool { return s == 0 }

// Min returns the lowest tier in the set by the total order.
// The second result is false for an empty set.
func (s TierSet) Min() (Tier, bool) {
	for _, t := range AllTiers {
		if s.Contains(t) {
			return t, true
		}
	}
	return "", false
}

// Tiers returns the members in ascending order.
func (s TierSet) Tiers() []Tier {
	var out []Tier
	for _, t := range AllTiers {
		if s.Contains(t) {
			out = append(out, t)
		}
	}
	return out
}

func (s TierSet) String() string {
	tiers := s.Tiers()
	names := make([]string, len(tiers))
	for i, t := range tiers {
		names[i] = string(t)
	}
	return "{" + strings.Join(names, ",") + "}"
}
