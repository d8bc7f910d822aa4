// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject persistence failures

package store

import (
	"context"
	"sync"
	"time"
)

// MockStore is an in-memory AccountStore and UsageStore for testing.
type MockStore struct {
	mu       sync.RWMutex
	accounts map[string]*Account // keyed by account ID
	usage    map[string]int      // keyed by "account:feature:period"

	failures   int
	failErr    error
	gets       int
	pings      int
	increments int
	releases   int
}

var (
	_ AccountStore = (*MockStore)(nil)
	_ UsageStore   = (*MockStore)(nil)
	_ Pinger       = (*MockStore)(nil)
)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		accounts: make(map[string]*Account),
		usage:    make(map[string]int),
	}
}

// FailNext makes the next n GetAccount calls return err.
func (m *MockStore) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = n
	m.failErr = err
}

// GetAccount retrieves an account by ID.
func (m *MockStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gets++
	if m.failures > 0 {
		m.failures--
		return nil, m.failErr
	}

	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy
	result := *a
	return &result, nil
}

// UpsertAccount stores a copy of the account.
func (m *MockStore) UpsertAccount(ctx context.Context, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	a := *account
	m.accounts[a.ID] = &a
	return nil
}

// DeleteAccount removes an account, simulating a deleted or revoked user.
func (m *MockStore) DeleteAccount(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, id)
}

// GetUsage returns the counter value.
func (m *MockStore) GetUsage(ctx context.Context, accountID, feature, period string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.usage[accountID+":"+feature+":"+period], nil
}

// IncrementUsage adds one to the counter.
func (m *MockStore) IncrementUsage(ctx context.Context, accountID, feature, period string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := accountID + ":" + feature + ":" + period
	m.usage[key]++
	m.increments++
	return m.usage[key], nil
}

// ReserveUsage adds one to the counter while it is below limit.
func (m *MockStore) ReserveUsage(ctx context.Context, accountID, feature, period string, limit int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := accountID + ":" + feature + ":" + period
	if m.usage[key] >= limit {
		return m.usage[key], false, nil
	}
	m.usage[key]++
	m.increments++
	return m.usage[key], true, nil
}

// ReleaseUsage takes one back from the counter, stopping at zero.
func (m *MockStore) ReleaseUsage(ctx context.Context, accountID, feature, period string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := accountID + ":" + feature + ":" + period
	if m.usage[key] > 0 {
		m.usage[key]--
		m.releases++
	}
	return nil
}

// SetUsage sets a counter directly.
func (m *MockStore) SetUsage(accountID, feature, period string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage[accountID+":"+feature+":"+period] = n
}

// Ping records a reconnect attempt.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pings++
	return nil
}

// Calls returns how many GetAccount, Ping and IncrementUsage calls were made.
func (m *MockStore) Calls() (gets, pings, increments int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gets, m.pings, m.increments
}

// Releases returns how many reserved uses were taken back.
func (m *MockStore) Releases() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.releases
}
