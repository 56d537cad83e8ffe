// Package server assembles the gin engine, the module pipeline and the
// processes that run beside it: the scheduler, the shutdown coordinator and
// the liveness monitor. Run drives them together under one errgroup.
package server
