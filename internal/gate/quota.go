// ABOUTME: Quota check for metered features against the current billing period
// ABOUTME: An allowed check reserves the use atomically; callers commit or release it

package gate

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/plangate/internal/decisionlog"
	"github.com/2389/plangate/internal/plan"
)

// Reservation is one metered use taken at check time. It is kept by
// CommitUsage or handed back by ReleaseUsage.
type Reservation struct {
	AccountID string
	Feature   string
	Period    string
}

type reservationKey struct{}

// WithReservation attaches res to ctx for the wrapped handler's decorators.
func WithReservation(ctx context.Context, res Reservation) context.Context {
	return context.WithValue(ctx, reservationKey{}, res)
}

// ReservationFromContext returns the reservation attached by WithReservation.
func ReservationFromContext(ctx context.Context) (Reservation, bool) {
	res, ok := ctx.Value(reservationKey{}).(Reservation)
	return res, ok
}

func (g *Gate) checkQuota(ctx context.Context, rec *decisionlog.Recorder, d Decision, feature string, reserve bool) Decision {
	d.Feature = feature
	limit, metered := g.quotas.Limit(feature, d.Tier)
	if !metered {
		rec.Debug("quota_unmetered", map[string]any{"feature": feature})
		return d
	}
	if limit == plan.Unlimited {
		d.Limit, d.Remaining = plan.Unlimited, plan.Unlimited
		rec.Debug("quota_unlimited", map[string]any{"feature": feature, "tier": string(d.Tier)})
		return d
	}
	if g.usage == nil {
		rec.Error("quota_no_store", map[string]any{"feature": feature})
		return d.deny(DenyServiceUnavailable, ReasonServiceUnavailable)
	}

	period := plan.Period(g.now())
	var (
		used     int
		reserved bool
		err      error
	)
	if reserve {
		var count int
		count, reserved, err = g.usage.ReserveUsage(ctx, d.AccountID, feature, period, limit)
		used = count
		if reserved {
			used = count - 1
		}
	} else {
		used, err = g.usage.GetUsage(ctx, d.AccountID, feature, period)
	}
	if err != nil {
		rec.Error("quota_lookup_failed", map[string]any{"feature": feature, "error": err.Error()})
		return d.deny(DenyServiceUnavailable, ReasonServiceUnavailable)
	}

	d.Used, d.Limit = used, limit
	d.Remaining = max(limit-used, 0)
	rec.Debug("quota_check", map[string]any{
		"feature":  feature,
		"period":   period,
		"used":     used,
		"limit":    limit,
		"reserved": reserved,
	})
	if used >= limit {
		return d.deny(DenyQuotaExceeded, ReasonQuotaExceeded)
	}
	if reserved {
		d.Reservation = &Reservation{AccountID: d.AccountID, Feature: feature, Period: period}
	}
	return d
}

// CommitUsage keeps a reserved use once the metered operation has succeeded.
func (g *Gate) CommitUsage(ctx context.Context, res Reservation) {
	_, rec := g.recorder(ctx)
	rec.Info("usage_recorded", map[string]any{"account_id": res.AccountID, "feature": res.Feature, "period": res.Period})
	g.metrics.RecordUsage(res.Feature)
}

// ReleaseUsage hands back a reserved use after the metered operation failed.
func (g *Gate) ReleaseUsage(ctx context.Context, res Reservation) error {
	if g.usage == nil {
		return errors.New("gate: no usage store configured")
	}
	_, rec := g.recorder(ctx)
	if err := g.usage.ReleaseUsage(ctx, res.AccountID, res.Feature, res.Period); err != nil {
		rec.Error("usage_release_failed", map[string]any{"account_id": res.AccountID, "feature": res.Feature, "error": err.Error()})
		return fmt.Errorf("releasing usage for %s: %w", res.Feature, err)
	}
	rec.Info("usage_released", map[string]any{"account_id": res.AccountID, "feature": res.Feature, "period": res.Period})
	return nil
}
