// Package config handles configuration loading for plangate.
//
// # Configuration File
//
// Location (first match wins):
//
//  1. Path from the PLANGATE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/plangate/gate.yaml (~/.config when unset)
//
// Files ending in .toml are parsed as TOML; anything else as YAML.
//
// # Environment Variable Expansion
//
// Values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${PLANGATE_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Durations use time.ParseDuration syntax:
//
//	resolver:
//	  retry_delay: "100ms"
//	  timeout: "2s"
//
// # Access Matrix
//
// Rules map a path pattern to the tiers allowed to use it. A "*" segment
// matches any single segment; the most specific matching rule wins.
// When no rules are configured the built-in table is used.
//
//	access:
//	  rules:
//	    - pattern: /dashboard/crm
//	      tiers: [pro, enterprise]
//
// # Quotas
//
// Monthly limits per metered feature and tier; -1 means unlimited:
//
//	quotas:
//	  content_generation: {basic: 5, pro: 100, enterprise: -1}
//
// # Validation
//
// Load rejects a missing database path, a jwt_secret shorter than 32 bytes,
// unknown tiers, empty rules, and unknown log formats.
package config
