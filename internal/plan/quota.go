// ABOUTME: Per-tier usage quotas for metered features
// ABOUTME: Billing period keys and limit lookup for the quota check

package plan

import "time"

// Unlimited marks a feature with no usage ceiling for a tier.
const Unlimited = -1

// Quotas maps a metered feature key to its per-tier limit for one billing period.
type Quotas map[string]map[Tier]int

// Limit returns the limit for the feature at the tier. The second result is
// false when the feature is not metered at all.
// A metered feature with no entry for the tier has a limit of zero.
func (q Quotas) Limit(feature string, tier Tier) (int, bool) {
	limits, ok := q[feature]
	if !ok {
		return 0, false
	}
	return limits[tier], true
}

// DefaultQuotas returns the built-in monthly limits.
func DefaultQuotas() Quotas {
	return Quotas{
		"content_generation": {TierBasic: 5, TierPro: 100, TierEnterprise: Unlimited},
		"website_scrape":     {TierBasic: 3, TierPro: 50, TierEnterprise: 500},
	}
}

// Period returns the billing period key for now: the UTC calendar month.
func Period(now time.Time) string {
	return now.UTC().Format("2006-01")
}

// PeriodEnd returns the instant the period containing now ends.
func PeriodEnd(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}
