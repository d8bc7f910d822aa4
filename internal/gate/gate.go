// ABOUTME: Request gate composing token location, verification, account resolution, and plan checks
// ABOUTME: Every step appends a decision log entry tagged with the request's correlation id

package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/grpc/metadata"

	"github.com/2389/plangate/internal/auth"
	"github.com/2389/plangate/internal/decisionlog"
	"github.com/2389/plangate/internal/identity"
	"github.com/2389/plangate/internal/metrics"
	"github.com/2389/plangate/internal/plan"
	"github.com/2389/plangate/internal/store"
)

// Requirement is what a protected operation demands. Empty fields are not checked.
type Requirement struct {
	Path          string    // Access Matrix lookup
	MinTier       plan.Tier // tier floor
	RequireActive bool      // subscription must be active
	Feature       string    // metered feature key for the quota check
	PeekQuota     bool      // check the quota without reserving a use
}

// Deps are the gate's collaborators.
type Deps struct {
	Locator  *auth.Locator
	Verifier auth.TokenVerifier
	Resolver *identity.Resolver
	Matrix   *plan.Matrix
	Quotas   plan.Quotas
	Usage    store.UsageStore
	Sink     decisionlog.Sink
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Gate evaluates requests against the plan configuration.
type Gate struct {
	locator  *auth.Locator
	verifier auth.TokenVerifier
	resolver *identity.Resolver
	matrix   *plan.Matrix
	quotas   plan.Quotas
	usage    store.UsageStore
	sink     decisionlog.Sink
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a gate. Verifier and Resolver are required.
func New(d Deps) (*Gate, error) {
	if d.Verifier == nil {
		return nil, errors.New("gate: verifier is required")
	}
	if d.Resolver == nil {
		return nil, errors.New("gate: resolver is required")
	}
	if d.Locator == nil {
		d.Locator = auth.NewLocator(nil)
	}
	if d.Matrix == nil {
		d.Matrix = plan.MustMatrix(plan.DefaultRules())
	}
	if d.Quotas == nil {
		d.Quotas = plan.DefaultQuotas()
	}
	if d.Sink == nil {
		d.Sink = decisionlog.Discard
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New(false)
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Gate{
		locator:  d.Locator,
		verifier: d.Verifier,
		resolver: d.Resolver,
		matrix:   d.Matrix,
		quotas:   d.Quotas,
		usage:    d.Usage,
		sink:     d.Sink,
		metrics:  d.Metrics,
		logger:   d.Logger.With("component", "gate"),
		now:      time.Now,
	}, nil
}

// WithClock returns a gate that reads time from now. A JWTVerifier shares the clock.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	c := *g
	c.now = now
	if v, ok := g.verifier.(*auth.JWTVerifier); ok {
		c.verifier = v.WithClock(now)
	}
	return &c
}

// Matrix returns the Access Matrix in use.
func (g *Gate) Matrix() *plan.Matrix { return g.matrix }

// Locator returns the token locator in use.
func (g *Gate) Locator() *auth.Locator { return g.locator }

func (g *Gate) recorder(ctx context.Context) (context.Context, *decisionlog.Recorder) {
	ctx, id := decisionlog.EnsureCorrelationID(ctx)
	return ctx, decisionlog.NewRecorder(g.sink, "gate", id)
}

// Check locates the token on r and evaluates req.
func (g *Gate) Check(ctx context.Context, r *http.Request, req Requirement) Decision {
	ctx, rec := g.recorder(ctx)
	token, carrier, ok := g.locator.Locate(r)
	return g.finish(rec, g.check(ctx, rec, token, carrier, ok, req))
}

// CheckMetadata evaluates req for a gRPC call.
func (g *Gate) CheckMetadata(ctx context.Context, md metadata.MD, req Requirement) Decision {
	ctx, rec := g.recorder(ctx)
	token, carrier, ok := g.locator.LocateMetadata(md)
	return g.finish(rec, g.check(ctx, rec, token, carrier, ok, req))
}

// Evaluate checks r against the Access Matrix entry for featurePath.
func (g *Gate) Evaluate(ctx context.Context, r *http.Request, featurePath string) Decision {
	return g.Check(ctx, r, Requirement{Path: featurePath})
}

// EvaluateTier checks that r's account has an effective tier of at least floor.
func (g *Gate) EvaluateTier(ctx context.Context, r *http.Request, floor plan.Tier) Decision {
	return g.Check(ctx, r, Requirement{MinTier: floor})
}

// Authenticate verifies token and resolves its account. No plan checks are made.
func (g *Gate) Authenticate(ctx context.Context, token string) Decision {
	ctx, rec := g.recorder(ctx)
	return g.finish(rec, g.authenticate(ctx, rec, token))
}

// CheckQuota applies the quota for feature to a previously allowed decision,
// reserving one use when it allows.
func (g *Gate) CheckQuota(ctx context.Context, d Decision, feature string) Decision {
	if !d.Allowed() {
		return d
	}
	ctx, rec := g.recorder(decisionlog.WithCorrelationID(ctx, d.CorrelationID))
	return g.finish(rec, g.checkQuota(ctx, rec, d, feature, true))
}

func (g *Gate) check(ctx context.Context, rec *decisionlog.Recorder, token string, carrier auth.Carrier, found bool, req Requirement) Decision {
	if !found {
		rec.Warn("token_missing", nil)
		d := Decision{CorrelationID: rec.CorrelationID(), Path: req.Path, Feature: req.Feature}
		return d.deny(DenyUnauthenticated, ReasonMissingToken)
	}
	rec.Debug("token_located", map[string]any{"carrier": string(carrier)})

	d := g.authenticate(ctx, rec, token)
	d.Path, d.Feature = req.Path, req.Feature
	if !d.Allowed() {
		return d
	}

	if req.Path != "" {
		if d = g.checkPath(rec, d, req.Path); !d.Allowed() {
			return d
		}
	}
	if req.MinTier != "" || req.RequireActive {
		if d = g.checkTier(rec, d, req.MinTier, req.RequireActive); !d.Allowed() {
			return d
		}
	}
	if req.Feature != "" {
		d = g.checkQuota(ctx, rec, d, req.Feature, !req.PeekQuota)
	}
	return d
}

func (g *Gate) authenticate(ctx context.Context, rec *decisionlog.Recorder, token string) Decision {
	d := Decision{CorrelationID: rec.CorrelationID()}

	id, err := g.verifier.Verify(token)
	if err != nil {
		cause := tokenReason(err)
		rec.Warn("token_rejected", map[string]any{"reason": string(cause), "error": err.Error()})
		return d.deny(DenyUnauthenticated, cause)
	}
	rec.Debug("token_verified", map[string]any{
		"subject":    id.Subject(),
		"expires_at": id.ExpiresAt().Format(time.RFC3339),
	})

	acct, err := g.resolver.ResolveRecorded(ctx, id, rec.With("resolver"))
	switch {
	case errors.Is(err, identity.ErrAccountNotFound):
		d.AccountID = id.Subject()
		return d.deny(DenyUnauthenticated, ReasonAccountNotFound)
	case err != nil:
		d.AccountID = id.Subject()
		return d.deny(DenyServiceUnavailable, ReasonServiceUnavailable)
	}

	now := g.now()
	d.Outcome, d.Reason, d.Cause = Allow, ReasonOK, ReasonOK
	d.AccountID = acct.ID
	d.Account = acct
	d.StoredTier = acct.Tier
	d.SubscriptionActive = acct.Subscription.IsActive(now)
	d.Tier = plan.EffectiveTier(acct.Tier, acct.Subscription, now)
	if d.Tier != d.StoredTier {
		rec.Info("tier_downgraded", map[string]any{
			"stored_tier":    string(d.StoredTier),
			"effective_tier": string(d.Tier),
			"sub_status":     string(acct.Subscription.Status),
		})
	}
	return d
}

func (g *Gate) checkPath(rec *decisionlog.Recorder, d Decision, path string) Decision {
	v := g.matrix.Check(d.Tier, path)
	details := map[string]any{
		"path":     path,
		"matched":  v.Matched,
		"tier":     string(d.Tier),
		"required": string(v.Required),
	}
	if v.Matched {
		details["pattern"] = v.Rule.Pattern
		details["allowed"] = v.Rule.Allowed.String()
	}
	rec.Debug("matrix_lookup", details)
	if v.Allowed {
		return d
	}
	d.RequiredTier = v.Required
	cause := ReasonInsufficientTier
	if !d.SubscriptionActive && v.Rule.Allowed.Contains(d.StoredTier) {
		cause = ReasonSubscriptionInactive
	}
	return d.deny(DenyInsufficientTier, cause)
}

func (g *Gate) checkTier(rec *decisionlog.Recorder, d Decision, floor plan.Tier, requireActive bool) Decision {
	if floor == "" {
		floor = plan.TierBasic
	}
	if requireActive && floor == plan.TierBasic {
		floor = plan.TierPro
	}
	ok := d.Tier.AtLeast(floor) && (!requireActive || d.SubscriptionActive)
	rec.Debug("tier_check", map[string]any{
		"tier":           string(d.Tier),
		"required":       string(floor),
		"require_active": requireActive,
		"active":         d.SubscriptionActive,
	})
	if ok {
		return d
	}
	d.RequiredTier = floor
	cause := ReasonInsufficientTier
	if !d.SubscriptionActive && d.StoredTier.AtLeast(floor) {
		cause = ReasonSubscriptionInactive
	}
	return d.deny(DenyInsufficientTier, cause)
}

func (g *Gate) finish(rec *decisionlog.Recorder, d Decision) Decision {
	details := map[string]any{
		"outcome": string(d.Outcome),
		"reason":  string(d.Reason),
		"cause":   string(d.Cause),
	}
	if d.AccountID != "" {
		details["account_id"] = d.AccountID
	}
	if d.Tier != "" {
		details["tier"] = string(d.Tier)
	}
	if d.RequiredTier != "" {
		details["required_tier"] = string(d.RequiredTier)
	}
	if d.Path != "" {
		details["path"] = d.Path
	}
	if d.Feature != "" {
		details["feature"] = d.Feature
	}

	switch d.Outcome {
	case Allow:
		rec.Info("decision", details)
	case DenyServiceUnavailable:
		rec.Error("decision", details)
	case DenyUnauthenticated:
		rec.Warn("decision", details)
	default:
		rec.Info("decision", details)
	}
	g.metrics.RecordDecision(string(d.Outcome), string(d.Cause))
	return d
}

// RecordUsage increments the current period's counter for feature.
func (g *Gate) RecordUsage(ctx context.Context, accountID, feature string) (int, error) {
	if g.usage == nil {
		return 0, errors.New("gate: no usage store configured")
	}
	_, rec := g.recorder(ctx)
	period := plan.Period(g.now())
	n, err := g.usage.IncrementUsage(ctx, accountID, feature, period)
	if err != nil {
		rec.Error("usage_record_failed", map[string]any{"account_id": accountID, "feature": feature, "error": err.Error()})
		g.logger.Error("recording usage", "account_id", accountID, "feature", feature, "error", err)
		return 0, fmt.Errorf("recording usage for %s: %w", feature, err)
	}
	rec.Info("usage_recorded", map[string]any{"account_id": accountID, "feature": feature, "period": period, "count": n})
	g.metrics.RecordUsage(feature)
	return n, nil
}
