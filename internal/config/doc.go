// Package config provides loading, environment overlay, validation and
// change classification for Strata engine configuration.
//
// Files are HuJSON (JSON with comments and trailing commas). Environment
// variables prefixed STRATA_ overlay file values. Diff compares two
// configurations and classifies the change as none, tunable, recache
// (cache shard counts changed) or rezone (zone layout changed), which is
// what the config-worker acts on.
//
// Example:
//
//	cfg, err := config.Load("/etc/strata.hujson")
//	if err != nil { ... }
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil { ... }
package config
