// Package plan defines account tiers, subscription activity, and the static
// feature access matrix used by the gate.
//
// # Tiers
//
// Tiers form a total order:
//
//	basic < pro < enterprise
//
// "Requires tier T" means "requires tier >= T" wherever hierarchy semantics apply.
// A rule's allowed set does not have to be contiguous; the minimum tier that
// satisfies a rule is the lowest tier present in its allowed set.
//
// # Subscriptions
//
// A stored tier is never sufficient on its own. EffectiveTier downgrades an
// account to basic whenever its subscription is not active at the given instant.
//
// # Access Matrix
//
// The Matrix is an ordered rule table. Patterns are slash-separated segments,
// each either a literal or "*" (exactly one segment), and match any path they are
// a segment prefix of:
//
//	/dashboard            matches /dashboard, /dashboard/crm, /dashboard/crm/42
//	/api/*/export         matches /api/crm/export, /api/websites/export/csv
//
// When several patterns match, the most specific wins: more literal segments
// first, then more segments, then the earlier table position.
//
// # Quotas
//
// Quotas map a metered feature key to a per-tier limit for one billing period.
// Billing periods are UTC calendar months keyed as "YYYY-MM".
package plan
