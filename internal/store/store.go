// ABOUTME: Store interfaces and data types for plangate persistence
// ABOUTME: Defines Account records and the account/usage collaborator interfaces

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/plangate/internal/plan"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Account is the authoritative identity record. The gate only reads it;
// tier and subscription are mutated by billing events elsewhere.
type Account struct {
	ID           string
	Email        string
	Tier         plan.Tier
	Subscription plan.Subscription
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AccountStore fetches and (for tooling) writes account records.
type AccountStore interface {
	// GetAccount returns ErrNotFound when the account does not exist.
	GetAccount(ctx context.Context, id string) (*Account, error)
	UpsertAccount(ctx context.Context, account *Account) error
}

// UsageStore tracks per-period usage counters for metered features.
type UsageStore interface {
	// GetUsage returns zero for a counter that was never incremented.
	GetUsage(ctx context.Context, accountID, feature, period string) (int, error)
	// IncrementUsage adds one and returns the new value.
	IncrementUsage(ctx context.Context, accountID, feature, period string) (int, error)
	// ReserveUsage atomically adds one only while the counter is below limit.
	// It returns the counter after the call and whether a use was reserved.
	ReserveUsage(ctx context.Context, accountID, feature, period string, limit int) (int, bool, error)
	// ReleaseUsage takes back one reserved use. The counter never goes below zero.
	ReleaseUsage(ctx context.Context, accountID, feature, period string) error
}

// Pinger is implemented by stores that can re-establish their connection.
type Pinger interface {
	Ping(ctx context.Context) error
}
