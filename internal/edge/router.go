// ABOUTME: Edge pre-router that makes coarse routing decisions from unverified claims
// ABOUTME: Redirects sessionless browser navigations to login; never authorizes anything

package edge

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/2389/plangate/internal/auth"
	"github.com/2389/plangate/internal/decisionlog"
	"github.com/2389/plangate/internal/plan"
)

// DefaultProtectedPrefixes are UI routes that need a plausible session.
var DefaultProtectedPrefixes = []string{"/dashboard"}

// Hint is what the edge learned about a request without verifying anything.
// Handler decorators ignore it; it only informs UI rendering and routing.
type Hint struct {
	claims auth.UnverifiedClaims
}

// Subject is the claimed, unverified subject.
func (h Hint) Subject() string { return h.claims.Claims.Subject }

// TierHint is the claimed, unverified tier.
func (h Hint) TierHint() (plan.Tier, bool) { return h.claims.HintedTier() }

type hintKey struct{}

// HintFromContext returns the hint attached by the router, if any.
func HintFromContext(ctx context.Context) (Hint, bool) {
	h, ok := ctx.Value(hintKey{}).(Hint)
	return h, ok
}

// Router runs ahead of the gate with only the unsafe decoder available.
type Router struct {
	locator   *auth.Locator
	decoder   *auth.UnsafeDecoder
	prefixes  []string
	loginPath string
	sink      decisionlog.Sink
	now       func() time.Time
}

// NewRouter creates an edge router guarding prefixes. Nil prefixes selects the defaults.
func NewRouter(locator *auth.Locator, prefixes []string, sink decisionlog.Sink) *Router {
	if locator == nil {
		locator = auth.NewLocator(nil)
	}
	if prefixes == nil {
		prefixes = DefaultProtectedPrefixes
	}
	if sink == nil {
		sink = decisionlog.Discard
	}
	return &Router{
		locator:   locator,
		decoder:   auth.NewUnsafeDecoder(),
		prefixes:  prefixes,
		loginPath: "/login",
		sink:      sink,
		now:       time.Now,
	}
}

// WithClock replaces the time source for the claimed-expiry check.
func (rt *Router) WithClock(now func() time.Time) *Router {
	c := *rt
	c.now = now
	return &c
}

// Middleware wraps next with the pre-routing check.
func (rt *Router) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, id := decisionlog.EnsureCorrelationID(r.Context())
		rec := decisionlog.NewRecorder(rt.sink, "edge", id)

		var (
			claims    auth.UnverifiedClaims
			plausible bool
		)
		if token, _, ok := rt.locator.Locate(r); ok {
			c, err := rt.decoder.Decode(token)
			switch {
			case err != nil:
				rec.Debug("decode_failed", map[string]any{"error": err.Error()})
			case c.Expired(rt.now()):
				rec.Debug("claimed_expired", map[string]any{"subject": c.Claims.Subject})
			default:
				claims, plausible = c, true
				ctx = context.WithValue(ctx, hintKey{}, Hint{claims: c})
			}
		}

		if !plausible && rt.protected(r.URL.Path) && isNavigation(r) {
			rec.Info("redirect_login", map[string]any{"path": r.URL.Path})
			http.Redirect(w, r, LoginURL(rt.loginPath, r.URL.RequestURI()), http.StatusFound)
			return
		}

		rec.Debug("pass", map[string]any{"path": r.URL.Path, "plausible_session": plausible, "claimed_subject": claims.Claims.Subject})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (rt *Router) protected(path string) bool {
	for _, p := range rt.prefixes {
		if path == p || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}

// isNavigation reports whether r looks like a browser page load.
func isNavigation(r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// LoginURL builds the login redirect carrying the original target.
func LoginURL(loginPath, next string) string {
	return loginPath + "?" + url.Values{"next": {next}}.Encode()
}
