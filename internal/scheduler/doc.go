// Package scheduler runs lightweight recurring and delayed tasks from one
// global tick (one second by default).
//
// On each tick every task is considered in registration order:
//   - disabled tasks are skipped
//   - periodic tasks are skipped until their next run time, then rescheduled
//     one period ahead
//   - the body is invoked with a callback that deletes the task
//
// One-shot work registers with a period and deletes itself on first run.
package scheduler
