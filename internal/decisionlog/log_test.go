// ABOUTME: Tests for the decision log ring buffer, recorder, and export
// ABOUTME: Covers wraparound, correlation filtering, and concurrent appends

package decisionlog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_Wraparound(t *testing.T) {
	ring := NewRing(3)
	drops := 0
	ring.OnDrop(func() { drops++ })

	for i := 0; i < 5; i++ {
		ring.Append(Entry{Action: fmt.Sprintf("a%d", i)})
	}

	got := ring.Snapshot()
	require.Len(t, got, 3)
	assert.Equal(t, "a2", got[0].Action)
	assert.Equal(t, "a4", got[2].Action)
	assert.Equal(t, uint64(2), ring.Dropped())
	assert.Equal(t, 2, drops)
	assert.Equal(t, 3, ring.Len())
}

func TestRing_PartialFill(t *testing.T) {
	ring := NewRing(10)
	ring.Append(Entry{Action: "only"})

	assert.Equal(t, 1, ring.Len())
	assert.Equal(t, "only", ring.Snapshot()[0].Action)
	assert.Equal(t, uint64(0), ring.Dropped())
}

func TestRing_ByCorrelation(t *testing.T) {
	ring := NewRing(16)
	a := NewRecorder(ring, "gate", "req-a")
	b := NewRecorder(ring, "gate", "req-b")

	a.Debug("locate", nil)
	b.Warn("locate", map[string]any{"reason": "MISSING_TOKEN"})
	a.With("resolver").Info("resolve", nil)

	trail := ring.ByCorrelation("req-a")
	require.Len(t, trail, 2)
	assert.Equal(t, "gate", trail[0].Component)
	assert.Equal(t, "resolver", trail[1].Component)
	assert.Empty(t, ring.ByCorrelation("req-c"))
}

func TestRing_ConcurrentAppend(t *testing.T) {
	ring := NewRing(64)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			rec := NewRecorder(ring, "gate", fmt.Sprintf("req-%d", g))
			for i := 0; i < 100; i++ {
				rec.Info("step", nil)
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 64, ring.Len())
	assert.Equal(t, uint64(800-64), ring.Dropped())
}

func TestSlogSink_UsesLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	rec := NewRecorder(NewSlogSink(logger), "resolver", "req-1")

	rec.Debug("hidden", nil)
	rec.Warn("account_not_found", map[string]any{"account_id": "acct-9"})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "account_not_found", line["msg"])
	assert.Equal(t, "req-1", line["correlation_id"])
	assert.Equal(t, "acct-9", line["account_id"])
}

func TestMiddleware_AssignsAndEchoesID(t *testing.T) {
	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "upstream-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "upstream-42", seen)
	assert.Equal(t, "upstream-42", rec.Header().Get(HeaderCorrelationID))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.NotEqual(t, "upstream-42", seen)
}

func TestEnsureCorrelationID(t *testing.T) {
	ctx, id := EnsureCorrelationID(context.Background())
	require.NotEmpty(t, id)

	_, again := EnsureCorrelationID(ctx)
	assert.Equal(t, id, again)
}

func TestExportHandler(t *testing.T) {
	const operatorToken = "operator-token-0123456789abcdef01"
	ring := NewRing(8)
	NewRecorder(ring, "gate", "req-a").Info("decision", map[string]any{"outcome": "allow"})
	NewRecorder(ring, "gate", "req-b").Warn("decision", nil)

	get := func(handler http.Handler, token string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/debug/decisions?correlation_id=req-a", nil)
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)
		return rec
	}

	rec := get(ExportHandler(ring, operatorToken), operatorToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Entries []Entry `json:"entries"`
		Count   int     `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "req-a", body.Entries[0].CorrelationID)

	rec = httptest.NewRecorder()
	ExportHandler(ring, operatorToken).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/debug/decisions", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestExportHandler_RequiresOperatorToken(t *testing.T) {
	ring := NewRing(8)
	NewRecorder(ring, "gate", "req-a").Warn("token_rejected", map[string]any{"reason": "EXPIRED_TOKEN"})

	tests := []struct {
		name       string
		configured string
		header     string
	}{
		{"anonymous", "operator-token-0123456789abcdef01", ""},
		{"wrong token", "operator-token-0123456789abcdef01", "Bearer not-the-operator-token"},
		{"basic auth scheme", "operator-token-0123456789abcdef01", "Basic b3A6cHc="},
		{"no token configured", "", "Bearer "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/debug/decisions?correlation_id=req-a", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			ExportHandler(ring, tt.configured).ServeHTTP(rec, r)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.NotContains(t, rec.Body.String(), "EXPIRED_TOKEN")
		})
	}
}
