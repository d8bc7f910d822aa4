// ABOUTME: Audit log of account plan changes made through operator tooling
// ABOUTME: Records who changed which account's tier or subscription, and from what

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditAction is the kind of account change recorded.
type AuditAction string

const (
	AuditAccountCreated      AuditAction = "account_created"
	AuditTierChanged         AuditAction = "tier_changed"
	AuditSubscriptionChanged AuditAction = "subscription_changed"
)

// auditTimeFormat is fixed-width so ts sorts lexically.
const auditTimeFormat = "2006-01-02T15:04:05.000000000Z"

// AuditEntry is one recorded change.
type AuditEntry struct {
	ID        string // UUID v4
	Actor     string // operator or system that made the change
	Action    AuditAction
	AccountID string
	Timestamp time.Time
	Detail    map[string]any
}

// AuditFilter narrows ListAuditLog. Nil fields match everything.
type AuditFilter struct {
	AccountID *string
	Action    *AuditAction
	Since     *time.Time
	Limit     int // default 100, max 1000
}

// DiffAccount returns the audit entries describing the change from before to after.
// A nil before means the account is new.
func DiffAccount(actor string, before, after *Account) []AuditEntry {
	if before == nil {
		return []AuditEntry{{
			Actor:     actor,
			Action:    AuditAccountCreated,
			AccountID: after.ID,
			Detail: map[string]any{
				"tier":   string(after.Tier),
				"status": string(after.Subscription.Status),
			},
		}}
	}

	var out []AuditEntry
	if before.Tier != after.Tier {
		out = append(out, AuditEntry{
			Actor:     actor,
			Action:    AuditTierChanged,
			AccountID: after.ID,
			Detail:    map[string]any{"from": string(before.Tier), "to": string(after.Tier)},
		})
	}

	bs, as := before.Subscription, after.Subscription
	if bs.Status != as.Status || !bs.StartDate.Equal(as.StartDate) || !sameEnd(bs.EndDate, as.EndDate) {
		out = append(out, AuditEntry{
			Actor:     actor,
			Action:    AuditSubscriptionChanged,
			AccountID: after.ID,
			Detail: map[string]any{
				"from_status": string(bs.Status),
				"to_status":   string(as.Status),
				"from_end":    formatEnd(bs.EndDate),
				"to_end":      formatEnd(as.EndDate),
			},
		})
	}
	return out
}

func sameEnd(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func formatEnd(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// AppendAuditLog stores e, generating ID and Timestamp if unset.
func (s *SQLiteStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	var detailJSON *string
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling audit detail: %w", err)
		}
		str := string(data)
		detailJSON = &str
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO account_audit (audit_id, actor, action, account_id, ts, detail_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.Actor, string(e.Action), e.AccountID, e.Timestamp.UTC().Format(auditTimeFormat), detailJSON)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit log", "id", e.ID, "actor", e.Actor, "action", e.Action, "account_id", e.AccountID)
	return nil
}

// normalizeAuditLimit applies default (100) and cap (1000) to audit limit.
func normalizeAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// ListAuditLog returns matching entries, newest first.
func (s *SQLiteStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	var since, action *string
	if f.Since != nil {
		v := f.Since.UTC().Format(auditTimeFormat)
		since = &v
	}
	if f.Action != nil {
		v := string(*f.Action)
		action = &v
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT audit_id, actor, action, account_id, ts, detail_json
		FROM account_audit
		WHERE (? IS NULL OR account_id = ?)
		  AND (? IS NULL OR action = ?)
		  AND (? IS NULL OR ts >= ?)
		ORDER BY ts DESC, rowid DESC
		LIMIT ?
	`, f.AccountID, f.AccountID, action, action, since, since, normalizeAuditLimit(f.Limit))
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e          AuditEntry
			act, ts    string
			detailJSON *string
		)
		if err := rows.Scan(&e.ID, &e.Actor, &act, &e.AccountID, &ts, &detailJSON); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.Action = AuditAction(act)
		if e.Timestamp, err = time.Parse(auditTimeFormat, ts); err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		if detailJSON != nil {
			if err := json.Unmarshal([]byte(*detailJSON), &e.Detail); err != nil {
				return nil, fmt.Errorf("unmarshaling detail: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
