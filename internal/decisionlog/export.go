// ABOUTME: Operator-only HTTP export of the decision log as a flat JSON list
// ABOUTME: Requires the configured operator bearer token; supports per-request trails by correlation id

package decisionlog

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// ExportHandler serves the ring's entries as JSON to callers presenting
// "Authorization: Bearer <operatorToken>". An empty operatorToken rejects everyone.
// With ?correlation_id=ID only that request's trail is returned.
func ExportHandler(ring *Ring, operatorToken string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
			return
		}
		if !operator(r, operatorToken) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="decisions"`)
			http.Error(w, `{"error":"operator token required"}`, http.StatusUnauthorized)
			return
		}

		var entries []Entry
		if id := r.URL.Query().Get("correlation_id"); id != "" {
			entries = ring.ByCorrelation(id)
		} else {
			entries = ring.Snapshot()
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"entries":  entries,
			"count":    len(entries),
			"capacity": ring.Cap(),
			"dropped":  ring.Dropped(),
		})
	})
}

func operator(r *http.Request, want string) bool {
	if want == "" {
		return false
	}
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
