// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating the resolved account via context

package auth

import (
	"context"

	"github.com/2389/plangate/internal/plan"
	"github.com/2389/plangate/internal/store"
)

// AuthContext holds the identity and effective plan resolved for a request.
// It is attached by the handler decorators only after full verification.
type AuthContext struct {
	AccountID          string
	Tier               plan.Tier // effective tier used for every check
	StoredTier         plan.Tier // tier on the account record
	SubscriptionActive bool
	Account            *store.Account
}

// AtLeast reports whether the effective tier meets floor.
func (a *AuthContext) AtLeast(floor plan.Tier) bool {
	return a.Tier.AtLeast(floor)
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	auth, ok := ctx.Value(authContextKey{}).(*AuthContext)
	if !ok {
		return nil
	}
	return auth
}

// MustFromContext retrieves the AuthContext from the context, panicking if not present.
func MustFromContext(ctx context.Context) *AuthContext {
	auth := FromContext(ctx)
	if auth == nil {
		panic("auth: AuthContext not found in context")
	}
	return auth
}
