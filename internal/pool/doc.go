// Package pool holds deferred results so one logical operation can span
// several physical requests.
//
// A request asking for pooling gets a placeholder carrying a fresh pooling id
// while the handler keeps running; the handler's completion resolves the
// entry, and later requests presenting the id read it. Entries are written
// at most once and reads do not remove them. Eviction only happens through
// Sweep when a TTL is configured.
package pool
