// Package config handles configuration loading for coven-chat.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Missing fields fall back to defaults and the result is validated.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_CHAT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/chat.yaml
//  3. ~/.config/coven/chat.yaml
//
// A path ending in .toml is parsed as TOML; anything else as YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  token: "${COVEN_TOKEN}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  base_url: "https://chat.example.com"
//
//	auth:
//	  token_file: "~/.config/coven/token"
//
//	streaming:
//	  flush_interval: "120ms"
//	  request_timeout: "5m"
//	  think_mode: false
//	  search_mode: false
//
//	history:
//	  path: "~/.local/share/coven/chat.db"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	dedupe:
//	  ttl: "5s"
//	  max_size: 1000
//
// Durations use Go's time.ParseDuration syntax.
//
// # Usage
//
//	cfg, err := config.LoadOrDefault(config.ResolvePath())
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
