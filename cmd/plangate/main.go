// ABOUTME: Entry point for the plangate server and its operator commands
// ABOUTME: Serves the gate, mints tokens, seeds accounts, and explains decisions

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/plangate/internal/auth"
	"github.com/2389/plangate/internal/config"
	"github.com/2389/plangate/internal/decisionlog"
	"github.com/2389/plangate/internal/gate"
	"github.com/2389/plangate/internal/plan"
	"github.com/2389/plangate/internal/server"
	"github.com/2389/plangate/internal/store"
)

// Version is set at build time.
var version = "dev"

const banner = `
       _                         _
 _ __ | | __ _ _ __   __ _  __ _| |_ ___
| '_ \| |/ _' | '_ \ / _' |/ _' | __/ _ \
| |_) | | (_| | | | | (_| | (_| | ||  __/
| .__/|_|\__,_|_| |_|\__, |\__,_|\__\___|
|_|                  |___/
`

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: plangate <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                              Start the HTTP (and gRPC) server")
	fmt.Fprintln(w, "  token --account ID [--ttl 1h]      Mint a session token")
	fmt.Fprintln(w, "  account --id ID --tier TIER        Create or update an account")
	fmt.Fprintln(w, "  check --token T --path P           Explain the gate decision for a path")
	fmt.Fprintln(w, "  history --id ID                    Show recorded plan changes for an account")
	fmt.Fprintln(w, "  health                             Check server readiness")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stdout)
		os.Exit(1)
	}

	loadDotEnv()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "token":
		err = runToken(args, os.Stdout)
	case "account":
		err = runAccount(ctx, args, os.Stdout)
	case "check":
		err = runCheck(ctx, args, os.Stdout)
	case "history":
		err = runHistory(ctx, args, os.Stdout)
	case "health":
		err = runHealth(ctx)
	case "help", "-h", "--help":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadDotEnv loads ./.env when present. Existing variables win.
func loadDotEnv() {
	if _, err := os.Stat(".env"); err != nil {
		return
	}
	if err := godotenv.Load(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: reading .env: %v\n", err)
	}
}

func loadConfig() (*config.Config, string, error) {
	path := config.DefaultPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Usage:     ")
	if cfg.Redis.Enabled {
		cyan.Print("redis ")
		gray.Print(cfg.Redis.Addr)
	} else {
		fmt.Print("sqlite")
	}
	fmt.Println()
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   %s\n", cfg.Metrics.Path)
	}
	if len(cfg.Access.Rules) == 0 {
		yellow.Println("    ! using the built-in access matrix")
	}
	fmt.Println()

	logger.Info("starting plangate",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
	)

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	return srv.Run(ctx)
}

// runToken mints a signed session token for an account.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	account := fs.String("account", "", "account ID (token subject)")
	ttl := fs.Duration("ttl", 0, "token lifetime (defaults to auth.token_ttl)")
	hint := fs.String("tier-hint", "", "unverified tier hint for edge routing")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *account == "" {
		return errors.New("--account is required")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if *ttl == 0 {
		*ttl = cfg.Auth.TokenTTL
	}

	var opts []auth.TokenOption
	if *hint != "" {
		t, err := plan.ParseTier(*hint)
		if err != nil {
			return fmt.Errorf("--tier-hint: %w", err)
		}
		opts = append(opts, auth.WithTierHint(t))
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(*account, *ttl, opts...)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Fprintln(out, token)
	return nil
}

// runAccount upserts an account record directly in the store.
func runAccount(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("account", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	id := fs.String("id", "", "account ID")
	email := fs.String("email", "", "contact email")
	tierName := fs.String("tier", "", "basic, pro, or enterprise")
	statusName := fs.String("status", string(plan.StatusActive), "active, inactive, or cancelled")
	start := fs.String("start", "", "subscription start date (YYYY-MM-DD, default today)")
	end := fs.String("end", "", "subscription end date (YYYY-MM-DD, default open-ended)")
	actor := fs.String("actor", defaultActor(), "who is making the change (recorded in the audit log)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("--id is required")
	}

	tier, err := plan.ParseTier(*tierName)
	if err != nil {
		return fmt.Errorf("--tier: %w", err)
	}
	status, err := plan.ParseStatus(*statusName)
	if err != nil {
		return fmt.Errorf("--status: %w", err)
	}

	sub := plan.Subscription{Status: status, StartDate: time.Now().UTC().Truncate(24 * time.Hour)}
	if *start != "" {
		if sub.StartDate, err = time.Parse(time.DateOnly, *start); err != nil {
			return fmt.Errorf("--start: %w", err)
		}
	}
	if *end != "" {
		e, err := time.Parse(time.DateOnly, *end)
		if err != nil {
			return fmt.Errorf("--end: %w", err)
		}
		sub.EndDate = &e
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := store.NewSQLiteStore(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	before, err := s.GetAccount(ctx, *id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("reading account: %w", err)
	}
	acct := &store.Account{ID: *id, Email: *email, Tier: tier, Subscription: sub}
	if before != nil && acct.Email == "" {
		acct.Email = before.Email
	}
	if err := s.UpsertAccount(ctx, acct); err != nil {
		return fmt.Errorf("saving account: %w", err)
	}
	for _, e := range store.DiffAccount(*actor, before, acct) {
		if err := s.AppendAuditLog(ctx, &e); err != nil {
			return fmt.Errorf("recording change: %w", err)
		}
	}

	active := "inactive"
	if sub.IsActive(time.Now()) {
		active = "active"
	}
	fmt.Fprintf(out, "account %s: tier=%s status=%s (%s now)\n", *id, tier, status, active)
	return nil
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}

// runHistory prints the audit log for an account, newest first.
func runHistory(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	id := fs.String("id", "", "account ID")
	limit := fs.Int("limit", 20, "maximum entries")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("--id is required")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := store.NewSQLiteStore(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	entries, err := s.ListAuditLog(ctx, store.AuditFilter{AccountID: id, Limit: *limit})
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintf(out, "no changes recorded for %s\n", *id)
		return nil
	}
	for _, e := range entries {
		detail, _ := json.Marshal(e.Detail)
		fmt.Fprintf(out, "%s  %-20s  %-10s  %s\n", e.Timestamp.Format(time.RFC3339), e.Action, e.Actor, detail)
	}
	return nil
}

// checkReport is printed by the check command.
type checkReport struct {
	Decision gate.Decision       `json:"decision"`
	Cause    gate.Reason         `json:"cause"`
	Trail    []decisionlog.Entry `json:"trail"`
}

// runCheck runs the gate once against the configured store and prints the decision and its trail.
func runCheck(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	token := fs.String("token", "", "session token")
	path := fs.String("path", "", "request path to check against the access matrix")
	feature := fs.String("feature", "", "metered feature to check quota for")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" && *feature == "" {
		return errors.New("--path or --feature is required")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := store.NewSQLiteStore(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	ring := decisionlog.NewRing(256)
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	g, err := server.NewGate(cfg, server.Parts{Accounts: s, Usage: s, Sink: ring}, quiet)
	if err != nil {
		return err
	}

	target := *path
	if target == "" {
		target = "/"
	}
	r, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if *token != "" {
		r.Header.Set("Authorization", "Bearer "+*token)
	}

	// A dry run must not consume the account's quota.
	d := g.Check(ctx, r, gate.Requirement{Path: *path, Feature: *feature, PeekQuota: true})

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(checkReport{Decision: d, Cause: d.Cause, Trail: ring.ByCorrelation(d.CorrelationID)})
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("not ready: status %d: %s", resp.StatusCode, body)
	}

	fmt.Println(string(body))
	return nil
}
