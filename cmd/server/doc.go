// Package main is the entry point for the pipeserve server.
//
// Configuration:
//   - Environment variables (12-factor), see internal/infrastructure/config
//   - A YAML, TOML or JSON file via -config or CONFIG_FILE
//   - CLI flags override both
//
// Usage:
//
//	./server -config server.yaml
//	./server -port 8080 -dev
//
// Exit codes follow the shutdown trigger: 0 after a supervisor reload or
// an unanswered heartbeat, 1 after SIGINT, SIGTERM, an exit message or a
// startup failure.
package main
