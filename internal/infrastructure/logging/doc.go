// Package logging provides structured logging using uber/zap.
//
// This package offers production-ready logging with two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Components log through named children (SRV, DAL, LIVENESS, SCHED, POOL).
// Heartbeat traffic goes through PingPong, which is silent unless the
// pingponglog option is enabled.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	srv := logger.Component(logging.ComponentServer)
//	srv.Info("Server starting", zap.Int("port", 8080))
//	srv.Error("Failed to bind", zap.Error(err))
package logging
