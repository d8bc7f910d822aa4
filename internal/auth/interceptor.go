// ABOUTME: Token locator for gRPC metadata
// ABOUTME: Mirrors the HTTP order: authorization key first, then cookie values

package auth

import (
	"net/http"
	"strings"

	"google.golang.org/grpc/metadata"
)

// LocateMetadata finds a token in incoming gRPC metadata using the same
// precedence as Locate.
func (l *Locator) LocateMetadata(md metadata.MD) (token string, carrier Carrier, ok bool) {
	for _, v := range md.Get("authorization") {
		if t := extractBearerToken(v); t != "" {
			return t, CarrierHeader, true
		}
	}

	var cookies []*http.Cookie
	for _, line := range md.Get("cookie") {
		parsed, err := http.ParseCookie(line)
		if err != nil {
			continue
		}
		cookies = append(cookies, parsed...)
	}
	for _, name := range l.CookieNames {
		for _, c := range cookies {
			if c.Name == name && strings.TrimSpace(c.Value) != "" {
				return strings.TrimSpace(c.Value), CarrierCookie, true
			}
		}
	}
	return "", CarrierNone, false
}
