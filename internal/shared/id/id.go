// Package id provides centralized ID generation for the server core.
//
// Every identifier the core hands out is a prefixed ULID:
//   - Lexicographic sortability: pool entries and tasks order by creation time
//   - Prefixed types: pool_*, req_*, task_* are readable in logs
//   - Type safety: separate types prevent passing a request ID as a pooling ID
//
// Ping identifiers are the exception: the liveness protocol echoes them
// verbatim, so they are plain millisecond timestamps like the supervisor
// expects.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Type-Safe ID Wrappers
// ============================================================================

// PoolingID correlates a deferred operation with its later result fetch
type PoolingID string

// RequestID identifies an inbound request
type RequestID string

// TaskKey identifies a scheduled task
type TaskKey string

// ============================================================================
// ID Prefixes
// ============================================================================

const (
	PoolingPrefix = "pool"
	RequestPrefix = "req"
	TaskPrefix    = "task"
)

// ============================================================================
// ULID Generator
// ============================================================================

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator
func NewGenerator() *Generator {
	return &Generator{
		entropy: rand.Reader,
	}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source
// Useful for testing with deterministic entropy
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// ============================================================================
// Typed ID Generators
// ============================================================================

// NewPoolingID generates a new pooling ID
func NewPoolingID() PoolingID {
	return PoolingID(Default().GenerateWithPrefix(PoolingPrefix))
}

// NewRequestID generates a new request ID
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// NewTaskKey generates a new scheduled task key
func NewTaskKey() TaskKey {
	return TaskKey(Default().GenerateWithPrefix(TaskPrefix))
}

var lastPing atomic.Int64

// NewPingID returns a millisecond timestamp, bumped forward when two pings
// land in the same millisecond so outstanding IDs stay distinct.
func NewPingID() int64 {
	for {
		now := time.Now().UnixMilli()
		prev := lastPing.Load()
		if now <= prev {
			now = prev + 1
		}
		if lastPing.CompareAndSwap(prev, now) {
			return now
		}
	}
}

// ============================================================================
// Type Conversion and Validation
// ============================================================================

func (id PoolingID) String() string { return string(id) }
func (id RequestID) String() string { return string(id) }
func (id TaskKey) String() string   { return string(id) }

// IsValid checks if an ID string is a valid ULID
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// IsPrefixed checks that id has the form "<prefix>_<ULID>"
func IsPrefixed(id, prefix string) bool {
	rest, ok := strings.CutPrefix(id, prefix+"_")
	return ok && IsValid(rest)
}

// Parse parses a ULID string
func Parse(id string) (ulid.ULID, error) {
	return ulid.Parse(id)
}

// Timestamp extracts the timestamp from a ULID, with or without prefix
func Timestamp(id string) (time.Time, error) {
	if i := strings.LastIndexByte(id, '_'); i >= 0 {
		id = id[i+1:]
	}
	parsed, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
