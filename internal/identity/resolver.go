// ABOUTME: Identity resolver that loads the current account for a verified subject
// ABOUTME: Re-reads every request, retries once on infrastructure errors, never caches

package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/plangate/internal/auth"
	"github.com/2389/plangate/internal/decisionlog"
	"github.com/2389/plangate/internal/store"
)

// DefaultRetryDelay is the pause before the single retry.
const DefaultRetryDelay = 100 * time.Millisecond

var (
	// ErrAccountNotFound means the subject has no account (deleted or never created).
	ErrAccountNotFound = errors.New("account not found")
	// ErrServiceUnavailable means the account store could not be reached after retrying.
	ErrServiceUnavailable = errors.New("account store unavailable")
)

// Observer receives resolver timings. metrics.Metrics implements it.
type Observer interface {
	ObserveResolve(outcome string, d time.Duration)
	IncResolveRetry()
}

type nopObserver struct{}

func (nopObserver) ObserveResolve(string, time.Duration) {}
func (nopObserver) IncResolveRetry()                     {}

// Config controls retry behavior.
type Config struct {
	RetryDelay time.Duration
	Timeout    time.Duration // per attempt; zero means no extra deadline
}

// Resolver fetches accounts for verified identities.
type Resolver struct {
	accounts store.AccountStore
	cfg      Config
	logger   *slog.Logger
	observer Observer
	sleep    func(context.Context, time.Duration) error
}

// NewResolver creates a resolver over accounts.
func NewResolver(accounts store.AccountStore, cfg Config, logger *slog.Logger) *Resolver {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		accounts: accounts,
		cfg:      cfg,
		logger:   logger.With("component", "resolver"),
		observer: nopObserver{},
		sleep:    sleepContext,
	}
}

// WithObserver attaches a metrics observer.
func (r *Resolver) WithObserver(o Observer) *Resolver {
	if o != nil {
		r.observer = o
	}
	return r
}

// Resolve returns the current account for id. Tier and subscription come from
// the store, never from the token.
func (r *Resolver) Resolve(ctx context.Context, id auth.VerifiedIdentity) (*store.Account, error) {
	return r.resolve(ctx, id, nil)
}

// ResolveRecorded is Resolve with decision log entries written to rec.
func (r *Resolver) ResolveRecorded(ctx context.Context, id auth.VerifiedIdentity, rec *decisionlog.Recorder) (*store.Account, error) {
	return r.resolve(ctx, id, rec)
}

func (r *Resolver) resolve(ctx context.Context, id auth.VerifiedIdentity, rec *decisionlog.Recorder) (*store.Account, error) {
	if rec == nil {
		rec = decisionlog.NewRecorder(nil, "resolver", decisionlog.CorrelationID(ctx))
	}
	if id.IsZero() {
		return nil, fmt.Errorf("%w: empty subject", ErrAccountNotFound)
	}
	subject := id.Subject()
	start := time.Now()

	acct, err := r.attempt(ctx, subject)
	if err == nil {
		r.found(rec, acct, start, 1)
		return acct, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, r.notFound(rec, subject, start)
	}
	if ctx.Err() != nil {
		rec.Warn("resolve_cancelled", map[string]any{"account_id": subject, "error": err.Error()})
		r.observer.ObserveResolve("cancelled", time.Since(start))
		return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, ctx.Err())
	}

	rec.Error("resolve_failed", map[string]any{"account_id": subject, "attempt": 1, "error": err.Error()})
	r.logger.Error("account lookup failed, retrying", "account_id", subject, "error", err)
	r.observer.IncResolveRetry()

	if err := r.sleep(ctx, r.cfg.RetryDelay); err != nil {
		r.observer.ObserveResolve("cancelled", time.Since(start))
		return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	if p, ok := r.accounts.(store.Pinger); ok {
		if perr := p.Ping(ctx); perr != nil {
			rec.Debug("reconnect_ping_failed", map[string]any{"error": perr.Error()})
		}
	}

	acct, err = r.attempt(ctx, subject)
	switch {
	case err == nil:
		r.found(rec, acct, start, 2)
		return acct, nil
	case errors.Is(err, store.ErrNotFound):
		return nil, r.notFound(rec, subject, start)
	}

	rec.Error("resolve_failed", map[string]any{"account_id": subject, "attempt": 2, "error": err.Error()})
	r.logger.Error("account lookup failed after retry", "account_id", subject, "error", err)
	r.observer.ObserveResolve("unavailable", time.Since(start))
	return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
}

func (r *Resolver) attempt(ctx context.Context, subject string) (*store.Account, error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}
	return r.accounts.GetAccount(ctx, subject)
}

func (r *Resolver) found(rec *decisionlog.Recorder, acct *store.Account, start time.Time, attempts int) {
	rec.Info("account_resolved", map[string]any{
		"account_id":  acct.ID,
		"stored_tier": string(acct.Tier),
		"sub_status":  string(acct.Subscription.Status),
		"attempts":    attempts,
	})
	r.observer.ObserveResolve("found", time.Since(start))
}

func (r *Resolver) notFound(rec *decisionlog.Recorder, subject string, start time.Time) error {
	rec.Warn("account_not_found", map[string]any{"account_id": subject})
	r.observer.ObserveResolve("not_found", time.Since(start))
	return fmt.Errorf("%w: %s: %w", ErrAccountNotFound, subject, store.ErrNotFound)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
