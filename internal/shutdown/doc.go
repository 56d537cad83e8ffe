// Package shutdown coordinates graceful process termination.
//
// The coordinator moves RUNNING → DRAINING → TERMINATED and never back. While
// draining, Gate answers every request with 503 and a Retry-After header.
// Outstanding work is tracked as named process locks: in-flight requests
// hold "request:<id>" and deferred pooled handlers hold "pool:<id>". The
// process exits once no lock is held or the configured delay has elapsed,
// whichever comes first.
package shutdown
