// ABOUTME: Tests for the plangate operator commands and logger setup
// ABOUTME: Drives token, account, and check against a temp config and SQLite file

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/plangate/internal/auth"
	"github.com/2389/plangate/internal/config"
)

const cliSecret = "cli-test-secret-0123456789abcdef"

func useConfig(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gate.yaml")
	content := "database:\n  path: \"" + filepath.Join(dir, "gate.db") + "\"\n" +
		"auth:\n  jwt_secret: \"" + cliSecret + "\"\n  token_ttl: \"2h\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	t.Setenv("PLANGATE_CONFIG", path)
}

func mint(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, runToken(args, &out))
	return strings.TrimSpace(out.String())
}

type report struct {
	Decision struct {
		Outcome      string `json:"outcome"`
		Reason       string `json:"reason"`
		AccountID    string `json:"accountId"`
		Tier         string `json:"tier"`
		RequiredTier string `json:"requiredTier"`
	} `json:"decision"`
	Cause string `json:"cause"`
	Trail []struct {
		Action string `json:"action"`
	} `json:"trail"`
}

func check(t *testing.T, args ...string) report {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, runCheck(context.Background(), args, &out))
	var r report
	require.NoError(t, json.Unmarshal(out.Bytes(), &r), out.String())
	return r
}

func TestRunToken(t *testing.T) {
	useConfig(t)
	tok := mint(t, "--account", "acct-1", "--tier-hint", "pro")

	v, err := auth.NewJWTVerifier([]byte(cliSecret))
	require.NoError(t, err)
	id, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "acct-1", id.Subject())
	assert.InDelta(t, 7200, id.ExpiresAt().Sub(id.IssuedAt()).Seconds(), 1)

	hinted, err := auth.NewUnsafeDecoder().Decode(tok)
	require.NoError(t, err)
	tier, ok := hinted.HintedTier()
	assert.True(t, ok)
	assert.Equal(t, "pro", string(tier))
}

func TestRunToken_Errors(t *testing.T) {
	useConfig(t)
	if err := runToken(nil, &bytes.Buffer{}); err == nil {
		t.Error("runToken() without --account should fail")
	}
	if err := runToken([]string{"--account", "a", "--tier-hint", "gold"}, &bytes.Buffer{}); err == nil {
		t.Error("runToken() with an unknown tier hint should fail")
	}
}

func TestRunAccountThenCheck(t *testing.T) {
	useConfig(t)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, runAccount(ctx, []string{"--id", "acct-pro", "--tier", "pro", "--email", "p@example.com"}, &out))
	assert.Contains(t, out.String(), "tier=pro status=active (active now)")

	tok := mint(t, "--account", "acct-pro")

	r := check(t, "--token", tok, "--path", "/dashboard/crm")
	assert.Equal(t, "allow", r.Decision.Outcome)
	assert.Equal(t, "acct-pro", r.Decision.AccountID)
	require.NotEmpty(t, r.Trail)
	assert.Equal(t, "decision", r.Trail[len(r.Trail)-1].Action)

	r = check(t, "--token", tok, "--path", "/dashboard/ab-testing")
	assert.Equal(t, "deny_insufficient_tier", r.Decision.Outcome)
	assert.Equal(t, "enterprise", r.Decision.RequiredTier)
}

func TestRunCheck_LapsedSubscription(t *testing.T) {
	useConfig(t)
	ctx := context.Background()
	require.NoError(t, runAccount(ctx, []string{"--id", "acct-lapsed", "--tier", "pro", "--start", "2020-01-01", "--end", "2021-01-01"}, &bytes.Buffer{}))

	r := check(t, "--token", mint(t, "--account", "acct-lapsed"), "--path", "/dashboard/crm")
	assert.Equal(t, "deny_insufficient_tier", r.Decision.Outcome)
	assert.Equal(t, "INSUFFICIENT_TIER", r.Decision.Reason)
	assert.Equal(t, "SUBSCRIPTION_INACTIVE", r.Cause)
	assert.Equal(t, "basic", r.Decision.Tier)
}

func TestRunCheck_NoToken(t *testing.T) {
	useConfig(t)
	r := check(t, "--path", "/dashboard")
	assert.Equal(t, "deny_unauthenticated", r.Decision.Outcome)
	assert.Equal(t, "MISSING_TOKEN", r.Cause)
}

func TestRunAccount_Errors(t *testing.T) {
	useConfig(t)
	ctx := context.Background()
	tests := [][]string{
		{"--tier", "pro"},
		{"--id", "a", "--tier", "gold"},
		{"--id", "a", "--tier", "pro", "--status", "paused"},
		{"--id", "a", "--tier", "pro", "--end", "next year"},
	}
	for _, args := range tests {
		if err := runAccount(ctx, args, &bytes.Buffer{}); err == nil {
			t.Errorf("runAccount(%v) should fail", args)
		}
	}
}

func TestColorLogger(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "info"}, &buf)
	logger.With("component", "gate").WithGroup("req").Info("decision", "outcome", "allow")
	logger.Debug("hidden")

	line := buf.String()
	assert.Contains(t, line, "INF decision component=gate req.outcome=allow")
	assert.NotContains(t, line, "hidden")
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf).Warn("resolver retry", "attempt", 2)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "resolver retry", rec["msg"])
	assert.Equal(t, slog.LevelWarn.String(), rec["level"])
}

func TestRunAccount_RecordsHistory(t *testing.T) {
	useConfig(t)
	ctx := context.Background()

	require.NoError(t, runAccount(ctx, []string{"--id", "acct-h", "--tier", "basic", "--actor", "alice"}, &bytes.Buffer{}))
	require.NoError(t, runAccount(ctx, []string{"--id", "acct-h", "--tier", "pro", "--actor", "billing"}, &bytes.Buffer{}))

	var out bytes.Buffer
	require.NoError(t, runHistory(ctx, []string{"--id", "acct-h"}, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "tier_changed")
	assert.Contains(t, lines[0], "billing")
	assert.Contains(t, lines[1], "account_created")

	out.Reset()
	require.NoError(t, runHistory(ctx, []string{"--id", "nobody"}, &out))
	assert.Contains(t, out.String(), "no changes recorded")
}
