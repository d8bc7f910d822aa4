// ABOUTME: Tests for the edge pre-router
// ABOUTME: Sessionless navigations redirect; forged hints pass through but grant nothing

package edge

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/plangate/internal/auth"
	"github.com/2389/plangate/internal/decisionlog"
	"github.com/2389/plangate/internal/plan"
)

var edgeNow = time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)

func mint(t *testing.T, secret string, ttl time.Duration, opts ...auth.TokenOption) string {
	t.Helper()
	v, err := auth.NewJWTVerifier([]byte(secret))
	require.NoError(t, err)
	tok, err := v.WithClock(func() time.Time { return edgeNow }).Generate("acct-1", ttl, opts...)
	require.NoError(t, err)
	return tok
}

func navigate(path string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	r.Header.Set("Sec-Fetch-Mode", "navigate")
	r.Header.Set("Accept", "text/html")
	return r
}

func newTestRouter(sink decisionlog.Sink) *Router {
	return NewRouter(auth.NewLocator([]string{"session"}), nil, sink).
		WithClock(func() time.Time { return edgeNow })
}

func TestRouter_RedirectsSessionlessNavigation(t *testing.T) {
	ring := decisionlog.NewRing(16)
	called := false
	h := newTestRouter(ring).Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, navigate("/dashboard/crm?tab=leads"))

	assert.False(t, called)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login?next=%2Fdashboard%2Fcrm%3Ftab%3Dleads", rec.Header().Get("Location"))
}

func TestRouter_ExpiredClaimRedirects(t *testing.T) {
	h := newTestRouter(nil).Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler reached")
	}))

	r := navigate("/dashboard")
	r.AddCookie(&http.Cookie{Name: "session", Value: mint(t, "edge-test-secret-32-bytes-long!!", -time.Minute)})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusFound, rec.Code)
}

func TestRouter_PassThrough(t *testing.T) {
	tests := []struct {
		name string
		req  *http.Request
	}{
		{"unprotected page", navigate("/pricing")},
		{"api call without session", httptest.NewRequest(http.MethodGet, "/dashboard/crm", nil)},
		{"post without session", func() *http.Request {
			r := navigate("/dashboard")
			r.Method = http.MethodPost
			return r
		}()},
		{"prefix lookalike", navigate("/dashboards")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := newTestRouter(nil).Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
			h.ServeHTTP(httptest.NewRecorder(), tt.req)
			assert.True(t, called)
		})
	}
}

func TestRouter_ForgedTokenPassesWithHintOnly(t *testing.T) {
	forged := mint(t, "attacker-secret-not-the-real-one!", time.Hour, auth.WithTierHint("enterprise"))

	var (
		hint    Hint
		hasHint bool
		ac      *auth.AuthContext
	)
	h := newTestRouter(nil).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hint, hasHint = HintFromContext(r.Context())
		ac = auth.FromContext(r.Context())
	}))

	r := navigate("/dashboard/ab-testing")
	r.Header.Set("Authorization", "Bearer "+forged)
	h.ServeHTTP(httptest.NewRecorder(), r)

	require.True(t, hasHint)
	assert.Equal(t, "acct-1", hint.Subject())
	tier, ok := hint.TierHint()
	assert.True(t, ok)
	assert.Equal(t, plan.TierEnterprise, tier)
	assert.Nil(t, ac, "edge must not attach an auth context")
}

func TestRouter_LogsWithCorrelationID(t *testing.T) {
	ring := decisionlog.NewRing(16)
	h := decisionlog.Middleware(newTestRouter(ring).Middleware(http.NotFoundHandler()))

	r := navigate("/dashboard")
	r.Header.Set(decisionlog.HeaderCorrelationID, "edge-req")
	h.ServeHTTP(httptest.NewRecorder(), r)

	trail := ring.ByCorrelation("edge-req")
	require.Len(t, trail, 1)
	assert.Equal(t, "redirect_login", trail[0].Action)
	assert.Equal(t, "edge", trail[0].Component)
}
