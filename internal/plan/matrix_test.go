// ABOUTME: Tests for the feature access matrix
// ABOUTME: Covers specificity, tie-break, wildcard segments, and minimum tier lookup

package plan

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMatrix_RejectsInvalidRules(t *testing.T) {
	tests := []struct {
		name  string
		rules []Rule
	}{
		{"empty tier set", []Rule{{Pattern: "/a", Allowed: 0}}},
		{"relative pattern", []Rule{{Pattern: "a", Allowed: AtLeastSet(TierBasic)}}},
		{"duplicate", []Rule{
			{Pattern: "/a/b", Allowed: AtLeastSet(TierBasic)},
			{Pattern: "/a/b/", Allowed: AtLeastSet(TierPro)},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMatrix(tt.rules)
			if !errors.Is(err, ErrInvalidRule) {
				t.Errorf("NewMatrix() error = %v, want ErrInvalidRule", err)
			}
		})
	}
}

func TestMatrix_MostSpecificWins(t *testing.T) {
	m := MustMatrix(DefaultRules())

	rule, ok := m.Match("/dashboard/ab-testing/variant/3")
	require.True(t, ok)
	assert.Equal(t, "/dashboard/ab-testing", rule.Pattern)

	rule, ok = m.Match("/dashboard/settings")
	require.True(t, ok)
	assert.Equal(t, "/dashboard", rule.Pattern)
}

func TestMatrix_SegmentBoundaries(t *testing.T) {
	m := MustMatrix([]Rule{
		{Pattern: "/api/ai", Allowed: NewTierSet(TierPro)},
	})

	_, ok := m.Match("/api/aiassistant")
	assert.False(t, ok, "prefix match must respect segment boundaries")

	_, ok = m.Match("/api/ai/generate?x=1")
	assert.True(t, ok)
}

func TestMatrix_LiteralBeatsWildcard(t *testing.T) {
	m := MustMatrix([]Rule{
		{Pattern: "/api/*/export", Allowed: NewTierSet(TierEnterprise)},
		{Pattern: "/api/crm/export", Allowed: NewTierSet(TierPro, TierEnterprise)},
	})

	rule, ok := m.Match("/api/crm/export")
	require.True(t, ok)
	assert.Equal(t, "/api/crm/export", rule.Pattern)

	rule, ok = m.Match("/api/websites/export/csv")
	require.True(t, ok)
	assert.Equal(t, "/api/*/export", rule.Pattern)
}

func TestMatrix_TieBreakUsesTableOrder(t *testing.T) {
	m := MustMatrix([]Rule{
		{Pattern: "/reports/*", Allowed: NewTierSet(TierPro)},
		{Pattern: "/*/weekly", Allowed: NewTierSet(TierEnterprise)},
	})

	// Both have one literal and two segments; the earlier rule wins.
	for i := 0; i < 10; i++ {
		rule, ok := m.Match("/reports/weekly")
		require.True(t, ok)
		assert.Equal(t, "/reports/*", rule.Pattern)
	}
}

func TestMatrix_CheckRequiredTierIsSetMinimum(t *testing.T) {
	m := MustMatrix([]Rule{
		{Pattern: "/beta", Allowed: NewTierSet(TierBasic, TierEnterprise)},
		{Pattern: "/crm", Allowed: NewTierSet(TierPro, TierEnterprise)},
	})

	v := m.Check(TierBasic, "/crm")
	assert.False(t, v.Allowed)
	assert.Equal(t, TierPro, v.Required)

	// Non-contiguous set: pro is excluded even though basic is allowed.
	v = m.Check(TierPro, "/beta")
	assert.False(t, v.Allowed)
	assert.Equal(t, TierBasic, v.Required)
}

func TestMatrix_UnmatchedPathRequiresBasic(t *testing.T) {
	m := MustMatrix(DefaultRules())

	v := m.Check(TierBasic, "/api/me")
	assert.True(t, v.Allowed)
	assert.False(t, v.Matched)
	assert.Equal(t, TierBasic, v.Required)
	assert.Equal(t, Rule{}, v.Rule)
}

func TestMatrix_HierarchyMonotonicity(t *testing.T) {
	m := MustMatrix(DefaultRules())

	for _, rule := range m.Rules() {
		required := rule.MinTier()
		contiguous := rule.Allowed == AtLeastSet(required)
		if !contiguous {
			continue
		}
		for _, tier := range AllTiers {
			v := m.Check(tier, rule.Pattern)
			if tier.AtLeast(required) {
				assert.True(t, v.Allowed, "%s at %s should be allowed", tier, rule.Pattern)
			} else {
				assert.False(t, v.Allowed, "%s at %s should be denied", tier, rule.Pattern)
				assert.Equal(t, required, v.Required)
			}
		}
	}
}
