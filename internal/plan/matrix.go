// ABOUTME: Feature access matrix mapping path patterns to allowed tiers
// ABOUTME: Ordered rule table with most-specific-match lookup and deterministic tie-break

package plan

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRule is returned by NewMatrix for a rule that violates the table invariants.
var ErrInvalidRule = errors.New("invalid access rule")

// Rule maps a path pattern to the tiers allowed to use it.
type Rule struct {
	Pattern string
	Allowed TierSet
}

// MinTier returns the lowest tier that satisfies the rule.
func (r Rule) MinTier() Tier {
	t, _ := r.Allowed.Min()
	return t
}

type compiledRule struct {
	Rule
	segments []string
	literals int
	index    int
}

// Matrix is an immutable ordered rule table.
type Matrix struct {
	rules []compiledRule
}

// Verdict is the result of checking an effective tier against the matrix.
type Verdict struct {
	Allowed  bool
	Matched  bool // false when no rule covers the path
	Rule     Rule // zero when Matched is false
	Required Tier // minimum satisfying tier of the matched rule
}

// NewMatrix validates and compiles the rules. Order matters for tie-breaks.
func NewMatrix(rules []Rule) (*Matrix, error) {
	m := &Matrix{rules: make([]compiledRule, 0, len(rules))}
	seen := make(map[string]bool, len(rules))
	for i, r := range rules {
		if r.Allowed.Empty() {
			return nil, fmt.Errorf("%w: %q has no allowed tiers", ErrInvalidRule, r.Pattern)
		}
		if !strings.HasPrefix(r.Pattern, "/") {
			return nil, fmt.Errorf("%w: %q must start with /", ErrInvalidRule, r.Pattern)
		}
		segs := splitPath(r.Pattern)
		key := strings.Join(segs, "/")
		if seen[key] {
			return nil, fmt.Errorf("%w: duplicate pattern %q", ErrInvalidRule, r.Pattern)
		}
		seen[key] = true

		literals := 0
		for _, s := range segs {
			if s != "*" {
				literals++
			}
		}
		m.rules = append(m.rules, compiledRule{Rule: r, segments: segs, literals: literals, index: i})
	}
	return m, nil
}

// MustMatrix is NewMatrix that panics on error. Intended for static tables.
func MustMatrix(rules []Rule) *Matrix {
	m, err := NewMatrix(rules)
	if err != nil {
		panic(err)
	}
	return m
}

// Rules returns a copy of the table in its original order.
func (m *Matrix) Rules() []Rule {
	out := make([]Rule, len(m.rules))
	for i, r := range m.rules {
		out[i] = r.Rule
	}
	return out
}

// Match returns the most specific rule matching path.
func (m *Matrix) Match(path string) (Rule, bool) {
	segs := splitPath(path)
	var best *compiledRule
	for i := range m.rules {
		r := &m.rules[i]
		if !r.matches(segs) {
			continue
		}
		if best == nil || r.moreSpecificThan(best) {
			best = r
		}
	}
	if best == nil {
		return Rule{}, false
	}
	return best.Rule, true
}

// Check decides whether the effective tier may use path.
// A path no rule covers only requires basic.
func (m *Matrix) Check(effective Tier, path string) Verdict {
	rule, ok := m.Match(path)
	if !ok {
		return Verdict{
			Allowed:  effective.AtLeast(TierBasic),
			Matched:  false,
			Required: TierBasic,
		}
	}
	return Verdict{
		Allowed:  rule.Allowed.Contains(effective),
		Matched:  true,
		Rule:     rule,
		Required: rule.MinTier(),
	}
}

func (r *compiledRule) matches(path []string) bool {
	if len(r.segments) > len(path) {
		return false
	}
	for i, s := range r.segments {
		if s != "*" && s != path[i] {
			return false
		}
	}
	return true
}

func (r *compiledRule) moreSpecificThan(other *compiledRule) bool {
	if r.literals != other.literals {
		return r.literals > other.literals
	}
	if len(r.segments) != len(other.segments) {
		return len(r.segments) > len(other.segments)
	}
	return r.index < other.index
}

// splitPath normalizes a path into its non-empty segments.
func splitPath(p string) []string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	parts := strings.Split(p, "/")
	segs := parts[:0]
	for _, s := range parts {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// DefaultRules returns the built-in product access table.
func DefaultRules() []Rule {
	all := NewTierSet(TierBasic, TierPro, TierEnterprise)
	premium := NewTierSet(TierPro, TierEnterprise)
	enterprise := NewTierSet(TierEnterprise)
	return []Rule{
		{Pattern: "/dashboard", Allowed: all},
		{Pattern: "/dashboard/websites", Allowed: all},
		{Pattern: "/dashboard/content", Allowed: premium},
		{Pattern: "/dashboard/crm", Allowed: premium},
		{Pattern: "/dashboard/analytics", Allowed: premium},
		{Pattern: "/dashboard/ab-testing", Allowed: enterprise},
		{Pattern: "/api/websites", Allowed: all},
		{Pattern: "/api/ai", Allowed: premium},
		{Pattern: "/api/crm", Allowed: premium},
		{Pattern: "/api/experiments", Allowed: enterprise},
	}
}
