// ABOUTME: Tests for token location on HTTP requests and gRPC metadata
// ABOUTME: Covers header precedence, cookie order, and absence handling

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/grpc/metadata"
)

func TestLocator_Locate(t *testing.T) {
	loc := NewLocator([]string{"first", "second"})

	tests := []struct {
		name        string
		header      string
		cookies     map[string]string
		wantToken   string
		wantCarrier Carrier
		wantOK      bool
	}{
		{
			name:   "nothing",
			wantOK: false,
		},
		{
			name:        "bearer header",
			header:      "Bearer tok-h",
			wantToken:   "tok-h",
			wantCarrier: CarrierHeader,
			wantOK:      true,
		},
		{
			name:        "lowercase scheme",
			header:      "bearer tok-h",
			wantToken:   "tok-h",
			wantCarrier: CarrierHeader,
			wantOK:      true,
		},
		{
			name:        "header beats cookie",
			header:      "Bearer tok-h",
			cookies:     map[string]string{"first": "tok-c"},
			wantToken:   "tok-h",
			wantCarrier: CarrierHeader,
			wantOK:      true,
		},
		{
			name:        "basic auth falls through to cookie",
			header:      "Basic dXNlcjpwYXNz",
			cookies:     map[string]string{"second": "tok-2"},
			wantToken:   "tok-2",
			wantCarrier: CarrierCookie,
			wantOK:      true,
		},
		{
			name:        "empty bearer falls through",
			header:      "Bearer ",
			cookies:     map[string]string{"first": "tok-1"},
			wantToken:   "tok-1",
			wantCarrier: CarrierCookie,
			wantOK:      true,
		},
		{
			name:        "cookie order is configured order",
			cookies:     map[string]string{"second": "tok-2", "first": "tok-1"},
			wantToken:   "tok-1",
			wantCarrier: CarrierCookie,
			wantOK:      true,
		},
		{
			name:        "empty cookie skipped",
			cookies:     map[string]string{"first": "", "second": "tok-2"},
			wantToken:   "tok-2",
			wantCarrier: CarrierCookie,
			wantOK:      true,
		},
		{
			name:    "unknown cookie ignored",
			cookies: map[string]string{"other": "tok-x"},
			wantOK:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			for _, name := range []string{"other", "second", "first"} {
				if v, ok := tt.cookies[name]; ok {
					req.AddCookie(&http.Cookie{Name: name, Value: v})
				}
			}

			token, carrier, ok := loc.Locate(req)
			if ok != tt.wantOK || token != tt.wantToken || carrier != tt.wantCarrier {
				t.Errorf("Locate() = (%q, %q, %v), want (%q, %q, %v)",
					token, carrier, ok, tt.wantToken, tt.wantCarrier, tt.wantOK)
			}
		})
	}
}

func TestLocator_Deterministic(t *testing.T) {
	loc := NewLocator(nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer header-token")
	req.AddCookie(&http.Cookie{Name: "session", Value: "cookie-token"})

	for i := 0; i < 50; i++ {
		if token, _, _ := loc.Locate(req); token != "header-token" {
			t.Fatalf("iteration %d: Locate() = %q, want header-token", i, token)
		}
	}
}

func TestNewLocator_CopiesNames(t *testing.T) {
	names := []string{"a"}
	loc := NewLocator(names)
	names[0] = "b"
	if loc.CookieNames[0] != "a" {
		t.Errorf("CookieNames mutated through caller slice")
	}
}

func TestLocator_LocateMetadata(t *testing.T) {
	loc := NewLocator([]string{"first", "second"})

	md := metadata.Pairs("authorization", "Bearer tok-h", "cookie", "first=tok-c")
	if token, carrier, _ := loc.LocateMetadata(md); token != "tok-h" || carrier != CarrierHeader {
		t.Errorf("LocateMetadata() = (%q, %q), want header token", token, carrier)
	}

	md = metadata.Pairs("cookie", "other=x; second=tok-2", "cookie", "first=tok-1")
	if token, carrier, _ := loc.LocateMetadata(md); token != "tok-1" || carrier != CarrierCookie {
		t.Errorf("LocateMetadata() = (%q, %q), want first cookie", token, carrier)
	}

	if _, _, ok := loc.LocateMetadata(metadata.MD{}); ok {
		t.Error("LocateMetadata() on empty metadata reported a token")
	}
}
