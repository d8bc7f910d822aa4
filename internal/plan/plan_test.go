// ABOUTME: Tests for tiers, subscription activity, and quotas
// ABOUTME: Covers ordering, expiry override, and billing period boundaries

package plan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTier_Order(t *testing.T) {
	assert.True(t, TierEnterprise.AtLeast(TierPro))
	assert.True(t, TierPro.AtLeast(TierPro))
	assert.False(t, TierBasic.AtLeast(TierPro))
	assert.False(t, Tier("gold").AtLeast(TierBasic))
}

func TestParseTier(t *testing.T) {
	tier, err := ParseTier(" Enterprise ")
	require.NoError(t, err)
	assert.Equal(t, TierEnterprise, tier)

	_, err = ParseTier("premium")
	assert.ErrorIs(t, err, ErrUnknownTier)
}

func TestTierSet(t *testing.T) {
	s := NewTierSet(TierEnterprise, TierPro)
	lowest, ok := s.Min()
	require.True(t, ok)
	assert.Equal(t, TierPro, lowest)
	assert.Equal(t, "{pro,enterprise}", s.String())

	_, ok = TierSet(0).Min()
	assert.False(t, ok)
}

func TestSubscription_IsActive(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		sub  Subscription
		want bool
	}{
		{"active open-ended", Subscription{Status: StatusActive, StartDate: past}, true},
		{"active within window", Subscription{Status: StatusActive, StartDate: past, EndDate: &future}, true},
		{"ended", Subscription{Status: StatusActive, StartDate: past, EndDate: &past}, false},
		{"ends exactly now", Subscription{Status: StatusActive, StartDate: past, EndDate: &now}, false},
		{"starts exactly now", Subscription{Status: StatusActive, StartDate: now}, true},
		{"not started", Subscription{Status: StatusActive, StartDate: future}, false},
		{"cancelled", Subscription{Status: StatusCancelled, StartDate: past}, false},
		{"inactive", Subscription{Status: StatusInactive, StartDate: past}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sub.IsActive(now))
		})
	}
}

func TestEffectiveTier_ExpiredEnterpriseIsBasic(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	ended := now.AddDate(0, -1, 0)
	sub := Subscription{Status: StatusActive, StartDate: now.AddDate(-1, 0, 0), EndDate: &ended}

	assert.Equal(t, TierBasic, EffectiveTier(TierEnterprise, sub, now))

	sub.EndDate = nil
	assert.Equal(t, TierEnterprise, EffectiveTier(TierEnterprise, sub, now))
}

func TestQuotas_Limit(t *testing.T) {
	q := DefaultQuotas()

	limit, metered := q.Limit("content_generation", TierPro)
	assert.True(t, metered)
	assert.Equal(t, 100, limit)

	limit, _ = q.Limit("content_generation", TierEnterprise)
	assert.Equal(t, Unlimited, limit)

	_, metered = q.Limit("websites", TierBasic)
	assert.False(t, metered)
}

func TestPeriod(t *testing.T) {
	now := time.Date(2026, 12, 31, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "2026-12", Period(now))
	assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), PeriodEnd(now))
}
