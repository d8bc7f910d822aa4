// ABOUTME: HTTP handler decorators that run the gate before business handlers
// ABOUTME: Denials short-circuit with JSON errors or UI redirects; allowed requests carry AuthContext

package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/2389/plangate/internal/auth"
	"github.com/2389/plangate/internal/decisionlog"
	"github.com/2389/plangate/internal/edge"
	"github.com/2389/plangate/internal/gate"
	"github.com/2389/plangate/internal/plan"
)

// Decorators builds handler wrappers around a gate.
type Decorators struct {
	gate        *gate.Gate
	logger      *slog.Logger
	loginPath   string
	pricingPath string
}

// New creates decorators for g.
func New(g *gate.Gate, logger *slog.Logger) *Decorators {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decorators{
		gate:        g,
		logger:      logger.With("component", "middleware"),
		loginPath:   "/login",
		pricingPath: "/pricing",
	}
}

// Option adjusts a single decorator.
type Option func(*options)

type options struct {
	ui      bool
	feature string
}

// UI makes denials redirect the browser (to login or pricing) instead of returning JSON.
// Service outages still return JSON 503.
func UI() Option {
	return func(o *options) { o.ui = true }
}

// Quota adds a quota check for featureKey to decorators that do not name one.
// An allowed check reserves a use; wrap the handler in Metered so a failed
// response gives it back.
func Quota(featureKey string) Option {
	return func(o *options) { o.feature = featureKey }
}

func collect(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// RequireAuthenticated allows any verified token whose account exists.
func (m *Decorators) RequireAuthenticated(opts ...Option) func(http.Handler) http.Handler {
	return m.require(func(*http.Request) gate.Requirement { return gate.Requirement{} }, "", opts)
}

// RequireTierAtLeast allows accounts whose effective tier is floor or higher.
func (m *Decorators) RequireTierAtLeast(floor plan.Tier, opts ...Option) func(http.Handler) http.Handler {
	return m.require(func(*http.Request) gate.Requirement { return gate.Requirement{MinTier: floor} }, "", opts)
}

// RequireFeature checks the request path against the Access Matrix.
func (m *Decorators) RequireFeature(opts ...Option) func(http.Handler) http.Handler {
	return m.require(func(r *http.Request) gate.Requirement { return gate.Requirement{Path: r.URL.Path} }, "", opts)
}

// RequireActivePremiumFeature needs an active subscription at pro or above, and
// quota headroom when featureKey is metered.
func (m *Decorators) RequireActivePremiumFeature(featureKey string, opts ...Option) func(http.Handler) http.Handler {
	req := gate.Requirement{MinTier: plan.TierPro, RequireActive: true, Feature: featureKey}
	return m.require(func(*http.Request) gate.Requirement { return req }, featureKey, opts)
}

func (m *Decorators) require(build func(*http.Request) gate.Requirement, premiumFeature string, opts []Option) func(http.Handler) http.Handler {
	o := collect(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, _ := decisionlog.EnsureCorrelationID(r.Context())
			req := build(r)
			if req.Feature == "" {
				req.Feature = o.feature
			}
			d := m.gate.Check(ctx, r, req)
			w.Header().Set(decisionlog.HeaderCorrelationID, d.CorrelationID)

			if !d.Allowed() {
				m.deny(w, r, d, premiumFeature, o)
				return
			}
			ctx = auth.WithAuth(ctx, d.AuthContext())
			if d.Reservation != nil {
				ctx = gate.WithReservation(ctx, *d.Reservation)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Metered settles one use of featureKey once the wrapped handler returns.
// A use reserved by the gate is kept on success and released on a 4xx/5xx;
// without a reservation (unlimited tiers) the use is recorded on success.
// It must sit inside a decorator that attaches AuthContext.
func (m *Decorators) Metered(featureKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac := auth.FromContext(r.Context())
			if ac == nil {
				next.ServeHTTP(w, r)
				return
			}
			res, reserved := gate.ReservationFromContext(r.Context())
			reserved = reserved && res.Feature == featureKey && res.AccountID == ac.AccountID

			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)

			// Settling must not be lost if the client disconnects after the response.
			ctx := context.WithoutCancel(r.Context())
			failed := sw.status() >= http.StatusBadRequest
			switch {
			case reserved && failed:
				if err := m.gate.ReleaseUsage(ctx, res); err != nil {
					m.logger.Error("usage not released", "account_id", ac.AccountID, "feature", featureKey, "error", err)
				}
			case reserved:
				m.gate.CommitUsage(ctx, res)
			case failed:
				// nothing was taken
			default:
				if _, err := m.gate.RecordUsage(ctx, ac.AccountID, featureKey); err != nil {
					m.logger.Error("usage not recorded", "account_id", ac.AccountID, "feature", featureKey, "error", err)
				}
			}
		})
	}
}

// ErrorBody is the JSON shape of every denial.
type ErrorBody struct {
	Error         string    `json:"error"`
	ErrorCode     string    `json:"errorCode"`
	Message       string    `json:"message"`
	CorrelationID string    `json:"correlationId"`
	RequiredTier  plan.Tier `json:"requiredTier,omitempty"`
	CurrentTier   plan.Tier `json:"currentTier,omitempty"`
	Remaining     *int      `json:"remaining,omitempty"`
	Limit         *int      `json:"limit,omitempty"`
}

// Denial maps a non-allow decision onto an HTTP status and body.
func Denial(d gate.Decision, premiumFeature string) (int, ErrorBody) {
	body := ErrorBody{ErrorCode: string(d.Reason), CorrelationID: d.CorrelationID}

	switch d.Outcome {
	case gate.DenyUnauthenticated:
		if d.Reason == gate.ReasonInvalidToken {
			body.Error = "Invalid token"
			body.Message = "The presented token could not be accepted. Sign in again."
		} else {
			body.Error = "Authentication required"
			body.Message = "Sign in to continue."
		}
		return http.StatusUnauthorized, body

	case gate.DenyInsufficientTier:
		body.RequiredTier = d.RequiredTier
		body.CurrentTier = d.Tier
		if premiumFeature != "" {
			body.Error = "Premium subscription required for " + premiumFeature
			body.Message = "An active Pro or Enterprise subscription is required for " + premiumFeature + "."
		} else {
			body.Error = d.RequiredTier.Title() + " plan required"
			body.Message = fmt.Sprintf("Upgrade from %s to %s to use this feature.", d.Tier.Title(), d.RequiredTier.Title())
		}
		return http.StatusForbidden, body

	case gate.DenyQuotaExceeded:
		remaining, limit := d.Remaining, d.Limit
		body.Error = "Quota exceeded"
		body.Message = fmt.Sprintf("Monthly limit of %d reached for %s.", d.Limit, d.Feature)
		body.Remaining = &remaining
		body.Limit = &limit
		return http.StatusTooManyRequests, body

	default:
		body.Error = "Service unavailable"
		body.ErrorCode = string(gate.ReasonServiceUnavailable)
		body.Message = "Access could not be checked right now. Try again shortly."
		return http.StatusServiceUnavailable, body
	}
}

func (m *Decorators) deny(w http.ResponseWriter, r *http.Request, d gate.Decision, premiumFeature string, o options) {
	if o.ui {
		switch d.Outcome {
		case gate.DenyUnauthenticated:
			http.Redirect(w, r, edge.LoginURL(m.loginPath, r.URL.RequestURI()), http.StatusFound)
			return
		case gate.DenyInsufficientTier:
			feature := d.Path
			if feature == "" {
				feature = r.URL.Path
			}
			http.Redirect(w, r, UpgradeURL(m.pricingPath, d.RequiredTier, d.Tier, feature), http.StatusFound)
			return
		}
	}

	status, body := Denial(d, premiumFeature)
	writeJSON(w, status, body)
}

// UpgradeURL builds the pricing redirect for an insufficient-tier denial.
func UpgradeURL(pricingPath string, required, current plan.Tier, feature string) string {
	return fmt.Sprintf("%s?upgrade=%s&from=%s&feature=%s",
		pricingPath,
		url.QueryEscape(string(required)),
		url.QueryEscape(string(current)),
		strings.ReplaceAll(url.QueryEscape(feature), "%2F", "/"),
	)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusWriter captures the response status for Metered.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (s *statusWriter) WriteHeader(code int) {
	if s.code == 0 {
		s.code = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusWriter) Write(b []byte) (int, error) {
	if s.code == 0 {
		s.code = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusWriter) Unwrap() http.ResponseWriter { return s.ResponseWriter }

func (s *statusWriter) status() int {
	if s.code == 0 {
		return http.StatusOK
	}
	return s.code
}
