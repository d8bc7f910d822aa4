// ABOUTME: Tests for the account audit log
// ABOUTME: Covers change diffing, append, and filtered listing

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/plangate/internal/plan"
)

func auditAccount(tier plan.Tier, status plan.SubscriptionStatus, end *time.Time) *Account {
	return &Account{
		ID:   "acct-1",
		Tier: tier,
		Subscription: plan.Subscription{
			Status:    status,
			StartDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			EndDate:   end,
		},
	}
}

func TestDiffAccount(t *testing.T) {
	end := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)

	created := DiffAccount("ops", nil, auditAccount(plan.TierPro, plan.StatusActive, nil))
	require.Len(t, created, 1)
	assert.Equal(t, AuditAccountCreated, created[0].Action)
	assert.Equal(t, "pro", created[0].Detail["tier"])

	same := DiffAccount("ops", auditAccount(plan.TierPro, plan.StatusActive, nil), auditAccount(plan.TierPro, plan.StatusActive, nil))
	assert.Empty(t, same)

	upgraded := DiffAccount("ops", auditAccount(plan.TierPro, plan.StatusActive, nil), auditAccount(plan.TierEnterprise, plan.StatusActive, nil))
	require.Len(t, upgraded, 1)
	assert.Equal(t, AuditTierChanged, upgraded[0].Action)
	assert.Equal(t, "enterprise", upgraded[0].Detail["to"])

	cancelled := DiffAccount("ops", auditAccount(plan.TierPro, plan.StatusActive, nil), auditAccount(plan.TierPro, plan.StatusCancelled, &end))
	require.Len(t, cancelled, 1)
	assert.Equal(t, AuditSubscriptionChanged, cancelled[0].Action)
	assert.Equal(t, "cancelled", cancelled[0].Detail["to_status"])
	assert.Equal(t, "2026-12-31T00:00:00Z", cancelled[0].Detail["to_end"])
}

func TestAuditLog_AppendAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []AuditEntry{
		{Actor: "ops", Action: AuditAccountCreated, AccountID: "acct-1", Timestamp: base},
		{Actor: "ops", Action: AuditTierChanged, AccountID: "acct-1", Timestamp: base.Add(500 * time.Millisecond), Detail: map[string]any{"from": "basic", "to": "pro"}},
		{Actor: "billing", Action: AuditSubscriptionChanged, AccountID: "acct-2", Timestamp: base.Add(2 * time.Second)},
	}
	for i := range entries {
		require.NoError(t, s.AppendAuditLog(ctx, &entries[i]))
		assert.NotEmpty(t, entries[i].ID)
	}

	all, err := s.ListAuditLog(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, AuditSubscriptionChanged, all[0].Action, "newest first")
	assert.Equal(t, AuditTierChanged, all[1].Action, "sub-second ordering")

	acct := "acct-1"
	mine, err := s.ListAuditLog(ctx, AuditFilter{AccountID: &acct})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "pro", mine[0].Detail["to"])
	assert.True(t, mine[0].Timestamp.Equal(base.Add(500*time.Millisecond)))

	action := AuditAccountCreated
	created, err := s.ListAuditLog(ctx, AuditFilter{Action: &action})
	require.NoError(t, err)
	assert.Len(t, created, 1)

	since := base.Add(time.Second)
	recent, err := s.ListAuditLog(ctx, AuditFilter{Since: &since})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "billing", recent[0].Actor)

	limited, err := s.ListAuditLog(ctx, AuditFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestNormalizeAuditLimit(t *testing.T) {
	assert.Equal(t, 100, normalizeAuditLimit(0))
	assert.Equal(t, 1000, normalizeAuditLimit(5000))
	assert.Equal(t, 25, normalizeAuditLimit(25))
}
