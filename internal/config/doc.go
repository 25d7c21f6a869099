// Package config handles configuration loading for strand-relay.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${STRAND_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	sessions:
//	  idle_timeout: "15m"
//	  grace_period: "5m"
//	  sweep_interval: "1m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
// Database (auth principals):
//
//	database:
//	  path: "/var/lib/strand/relay.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${STRAND_JWT_SECRET}"  # empty disables auth
//
// Session tuning:
//
//	sessions:
//	  replay_buffer: 1024    # envelopes retained per session
//	  outbound_queue: 64     # per-connection queue depth
//	  idle_timeout: "15m"    # listener-less idle sessions close after this
//	  grace_period: "5m"     # closed sessions stay replayable this long
//	  sweep_interval: "1m"
//
// Producer command:
//
//	producer:
//	  command: ["agent-query", "--json"]
//	  working_dir: "/workspace"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/strand/relay.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
