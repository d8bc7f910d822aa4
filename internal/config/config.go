// ABOUTME: Configuration loading and parsing for plangate
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/plangate/internal/auth"
	"github.com/2389/plangate/internal/plan"
)

// MinExportTokenLength is the shortest operator token accepted for the decision export.
const MinExportTokenLength = 32

// Config represents the complete plangate configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" toml:"server"`
	Database    DatabaseConfig    `yaml:"database" toml:"database"`
	Redis       RedisConfig       `yaml:"redis" toml:"redis"`
	Auth        AuthConfig        `yaml:"auth" toml:"auth"`
	Access      AccessConfig      `yaml:"access" toml:"access"`
	Quotas      QuotasConfig      `yaml:"quotas" toml:"quotas"`
	Resolver    ResolverConfig    `yaml:"resolver" toml:"resolver"`
	DecisionLog DecisionLogConfig `yaml:"decision_log" toml:"decision_log"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"` // optional; empty disables gRPC

	ShutdownTimeout    time.Duration `yaml:"-" toml:"-"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // "sqlite" (default) or "sqlite3"
	Path   string `yaml:"path" toml:"path"`
}

// RedisConfig enables the Redis usage counter store
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret   string   `yaml:"jwt_secret" toml:"jwt_secret"`
	CookieNames []string `yaml:"cookie_names" toml:"cookie_names"`

	TokenTTL    time.Duration `yaml:"-" toml:"-"`
	TokenTTLRaw string        `yaml:"token_ttl" toml:"token_ttl"`
}

// AccessRule is one Access Matrix row
type AccessRule struct {
	Pattern string   `yaml:"pattern" toml:"pattern"`
	Tiers   []string `yaml:"tiers" toml:"tiers"`
}

// AccessConfig holds the Access Matrix and UI routing configuration
type AccessConfig struct {
	Rules               []AccessRule `yaml:"rules" toml:"rules"`
	ProtectedUIPrefixes []string     `yaml:"protected_ui_prefixes" toml:"protected_ui_prefixes"`
}

// QuotasConfig maps feature -> tier -> monthly limit (-1 for unlimited)
type QuotasConfig map[string]map[string]int

// ResolverConfig holds identity resolver timing
type ResolverConfig struct {
	RetryDelay time.Duration `yaml:"-" toml:"-"`
	Timeout    time.Duration `yaml:"-" toml:"-"`

	RetryDelayRaw string `yaml:"retry_delay" toml:"retry_delay"`
	TimeoutRaw    string `yaml:"timeout" toml:"timeout"`
}

// DecisionLogConfig sizes the in-memory decision log and controls its HTTP export
type DecisionLogConfig struct {
	Capacity int `yaml:"capacity" toml:"capacity"`

	// Export serves GET /debug/decisions to callers presenting ExportToken.
	// Off by default: trails carry internal token failure causes and account data.
	Export      bool   `yaml:"export" toml:"export"`
	ExportToken string `yaml:"export_token" toml:"export_token"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if len(c.Auth.CookieNames) == 0 {
		c.Auth.CookieNames = auth.DefaultCookieNames
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Resolver.RetryDelay == 0 {
		c.Resolver.RetryDelay = 100 * time.Millisecond
	}
	if c.Resolver.Timeout == 0 {
		c.Resolver.Timeout = 2 * time.Second
	}
	if c.DecisionLog.Capacity == 0 {
		c.DecisionLog.Capacity = 4096
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.Driver != "sqlite" && c.Database.Driver != "sqlite3" {
		return fmt.Errorf("database.driver must be sqlite or sqlite3, got %q", c.Database.Driver)
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < auth.MinSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", auth.MinSecretLength)
	}

	if _, err := c.Matrix(); err != nil {
		return fmt.Errorf("access.rules: %w", err)
	}
	if _, err := c.PlanQuotas(); err != nil {
		return fmt.Errorf("quotas: %w", err)
	}

	if c.DecisionLog.Capacity < 0 {
		return fmt.Errorf("decision_log.capacity must not be negative")
	}
	if c.DecisionLog.Export && len(c.DecisionLog.ExportToken) < MinExportTokenLength {
		return fmt.Errorf("decision_log.export_token must be at least %d bytes when export is enabled", MinExportTokenLength)
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// Matrix compiles the configured Access Matrix, or the built-in table when none is configured.
func (c *Config) Matrix() (*plan.Matrix, error) {
	if len(c.Access.Rules) == 0 {
		return plan.NewMatrix(plan.DefaultRules())
	}
	rules := make([]plan.Rule, 0, len(c.Access.Rules))
	for _, r := range c.Access.Rules {
		var set plan.TierSet
		for _, name := range r.Tiers {
			t, err := plan.ParseTier(name)
			if err != nil {
				return nil, fmt.Errorf("rule %q: %w", r.Pattern, err)
			}
			set |= plan.NewTierSet(t)
		}
		rules = append(rules, plan.Rule{Pattern: r.Pattern, Allowed: set})
	}
	return plan.NewMatrix(rules)
}

// PlanQuotas converts the configured quotas, or returns the built-in limits when none are configured.
func (c *Config) PlanQuotas() (plan.Quotas, error) {
	if len(c.Quotas) == 0 {
		return plan.DefaultQuotas(), nil
	}
	q := make(plan.Quotas, len(c.Quotas))
	for feature, limits := range c.Quotas {
		q[feature] = make(map[plan.Tier]int, len(limits))
		for name, limit := range limits {
			t, err := plan.ParseTier(name)
			if err != nil {
				return nil, fmt.Errorf("feature %q: %w", feature, err)
			}
			if limit < plan.Unlimited {
				return nil, fmt.Errorf("feature %q tier %s: limit %d is invalid", feature, t, limit)
			}
			q[feature][t] = limit
		}
	}
	return q, nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"resolver.retry_delay", cfg.Resolver.RetryDelayRaw, &cfg.Resolver.RetryDelay},
		{"resolver.timeout", cfg.Resolver.TimeoutRaw, &cfg.Resolver.Timeout},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", f.name)
		}
		*f.dst = d
	}
	return nil
}

// DefaultPath returns the config file location: $PLANGATE_CONFIG if set,
// otherwise $XDG_CONFIG_HOME/plangate/gate.yaml (falling back to ~/.config).
func DefaultPath() string {
	if p := os.Getenv("PLANGATE_CONFIG"); p != "" {
		return p
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "plangate", "gate.yaml")
}
