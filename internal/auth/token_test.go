// ABOUTME: Unit tests for JWT token verification and generation
// ABOUTME: Tests valid tokens, distinct failure classes, and secret length checks

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// testSecret is a 32-byte secret that meets MinSecretLength requirement.
var testSecret = []byte("plangate-test-secret-32-bytes!!!")

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestVerifier(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewJWTVerifier() error = %v", err)
	}
	return v.WithClock(func() time.Time { return fixedNow })
}

func TestJWTVerifier_ValidToken(t *testing.T) {
	verifier := newTestVerifier(t)

	token, err := verifier.Generate("acct-123", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	id, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if id.Subject() != "acct-123" {
		t.Errorf("Subject() = %q, want %q", id.Subject(), "acct-123")
	}
	if !id.ExpiresAt().Equal(fixedNow.Add(time.Hour)) {
		t.Errorf("ExpiresAt() = %v, want %v", id.ExpiresAt(), fixedNow.Add(time.Hour))
	}
	if !id.IssuedAt().Equal(fixedNow) {
		t.Errorf("IssuedAt() = %v, want %v", id.IssuedAt(), fixedNow)
	}
}

func TestNewJWTVerifier_RejectsShortSecret(t *testing.T) {
	_, err := NewJWTVerifier([]byte("short"))
	if !errors.Is(err, ErrWeakSecret) {
		t.Errorf("NewJWTVerifier() error = %v, want ErrWeakSecret", err)
	}
}

func TestJWTVerifier_FailureClasses(t *testing.T) {
	verifier := newTestVerifier(t)

	other, err := NewJWTVerifier([]byte("a-completely-different-secret-32b"))
	if err != nil {
		t.Fatal(err)
	}
	other = other.WithClock(func() time.Time { return fixedNow })
	forged, _ := other.Generate("acct-123", time.Hour)

	expired, _ := verifier.WithClock(func() time.Time { return fixedNow.Add(-2 * time.Hour) }).
		Generate("acct-123", time.Hour)

	endsNow, _ := verifier.Generate("acct-123", 0)

	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "acct-123"}).
		SignedString(testSecret)

	noSub, _ := verifier.Generate("", time.Hour)

	hs512, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub": "acct-123",
		"exp": fixedNow.Add(time.Hour).Unix(),
	}).SignedString(testSecret)

	unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "acct-123",
		"exp": fixedNow.Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty token", "", ErrMalformedToken},
		{"garbage token", "not-a-jwt-token", ErrMalformedToken},
		{"three junk segments", "header.payload.signature", ErrMalformedToken},
		{"wrong secret", forged, ErrInvalidSignature},
		{"other hmac alg", hs512, ErrInvalidSignature},
		{"alg none", unsigned, ErrInvalidSignature},
		{"expired", expired, ErrExpiredToken},
		{"expires exactly now", endsNow, ErrExpiredToken},
		{"missing exp", noExp, ErrMissingClaim},
		{"missing sub", noSub, ErrMissingClaim},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := verifier.Verify(tt.token)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Verify() error = %v, want %v", err, tt.want)
			}
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v does not collapse to ErrInvalidToken", err)
			}
			if !id.IsZero() {
				t.Errorf("Verify() returned identity %q on failure", id.Subject())
			}
		})
	}
}

func TestJWTVerifier_ExpiredWithBadSignatureIsSignatureError(t *testing.T) {
	verifier := newTestVerifier(t)
	other, _ := NewJWTVerifier([]byte("a-completely-different-secret-32b"))
	old := other.WithClock(func() time.Time { return fixedNow.Add(-48 * time.Hour) })
	token, _ := old.Generate("acct-123", time.Hour)

	_, err := verifier.Verify(token)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("Verify() error = %v, want ErrInvalidSignature", err)
	}
}

func TestJWTVerifier_TierHintIsIgnored(t *testing.T) {
	verifier := newTestVerifier(t)
	token, _ := verifier.Generate("acct-123", time.Hour, WithTierHint("enterprise"))

	id, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if id.Claims() != (ClaimSet{Subject: "acct-123", IssuedAt: fixedNow, ExpiresAt: fixedNow.Add(time.Hour)}) {
		t.Errorf("Claims() = %+v", id.Claims())
	}
}
