// ABOUTME: Token locator for HTTP requests
// ABOUTME: Authorization bearer header wins, then configured cookies in order

package auth

import (
	"net/http"
	"strings"
)

// DefaultCookieNames are searched when no cookie list is configured.
var DefaultCookieNames = []string{"__session", "session", "auth_token"}

// Carrier names where a token was found.
type Carrier string

const (
	CarrierNone   Carrier = ""
	CarrierHeader Carrier = "header"
	CarrierCookie Carrier = "cookie"
)

// Locator finds a candidate bearer token on an inbound request.
type Locator struct {
	CookieNames []string
}

// NewLocator creates a locator that checks cookieNames in order.
func NewLocator(cookieNames []string) *Locator {
	if len(cookieNames) == 0 {
		cookieNames = DefaultCookieNames
	}
	names := make([]string, len(cookieNames))
	copy(names, cookieNames)
	return &Locator{CookieNames: names}
}

// extractBearerToken returns the token from an Authorization header value,
// or "" when the header is absent, not bearer-scheme, or empty.
func extractBearerToken(authHeader string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(authHeader), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Locate returns the first token found. Absence is reported with ok=false, never an error.
func (l *Locator) Locate(r *http.Request) (token string, carrier Carrier, ok bool) {
	if t := extractBearerToken(r.Header.Get("Authorization")); t != "" {
		return t, CarrierHeader, true
	}
	for _, name := range l.CookieNames {
		c, err := r.Cookie(name)
		if err != nil {
			continue
		}
		if v := strings.TrimSpace(c.Value); v != "" {
			return v, CarrierCookie, true
		}
	}
	return "", CarrierNone, false
}
