// ABOUTME: Demo HTTP handlers that sit behind the gate decorators
// ABOUTME: Each reads the AuthContext attached by the decorator and never re-checks access

package server

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"

	"github.com/2389/plangate/internal/auth"
)

// MeResponse is the JSON response for GET /api/me.
type MeResponse struct {
	AccountID          string `json:"accountId"`
	Email              string `json:"email,omitempty"`
	Tier               string `json:"tier"`
	StoredTier         string `json:"storedTier"`
	SubscriptionActive bool   `json:"subscriptionActive"`
}

// FeatureResponse is the JSON response for the demo feature endpoints.
type FeatureResponse struct {
	AccountID string `json:"accountId"`
	Feature   string `json:"feature"`
	Status    string `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func feature(w http.ResponseWriter, r *http.Request, status int, name, state string) {
	ac := auth.MustFromContext(r.Context())
	writeJSON(w, status, FeatureResponse{AccountID: ac.AccountID, Feature: name, Status: state})
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady pings every backing store the gate depends on.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("readiness check failed", "store", "sqlite", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	if s.redis != nil {
		if err := s.redis.Ping(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", "store", "redis", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("usage store unavailable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())
	resp := MeResponse{
		AccountID:          ac.AccountID,
		Tier:               string(ac.Tier),
		StoredTier:         string(ac.StoredTier),
		SubscriptionActive: ac.SubscriptionActive,
	}
	if ac.Account != nil {
		resp.Email = ac.Account.Email
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListWebsites(w http.ResponseWriter, r *http.Request) {
	feature(w, r, http.StatusOK, "websites", "listed")
}

func (s *Server) handleScrapeWebsite(w http.ResponseWriter, r *http.Request) {
	feature(w, r, http.StatusAccepted, "website_scrape", "queued")
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	feature(w, r, http.StatusOK, "content_generation", "generated")
}

func (s *Server) handleContacts(w http.ResponseWriter, r *http.Request) {
	feature(w, r, http.StatusOK, "crm", "listed")
}

func (s *Server) handleExperiments(w http.ResponseWriter, r *http.Request) {
	feature(w, r, http.StatusOK, "ab_testing", "listed")
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())
	page(w, "Dashboard", fmt.Sprintf("Signed in as %s on the %s plan. Viewing %s.",
		html.EscapeString(ac.AccountID), html.EscapeString(ac.Tier.Title()), html.EscapeString(r.URL.Path)))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	page(w, "Sign in", "Sign in to continue to "+html.EscapeString(r.URL.Query().Get("next"))+".")
}

func (s *Server) handlePricing(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page(w, "Pricing", fmt.Sprintf("Upgrade from %s to %s to use %s.",
		html.EscapeString(q.Get("from")), html.EscapeString(q.Get("upgrade")), html.EscapeString(q.Get("feature"))))
}

func page(w http.ResponseWriter, title, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprintf(w, "<!doctype html><title>%s</title><h1>%s</h1><p>%s</p>\n", title, title, body)
}
