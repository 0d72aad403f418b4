package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by a StateStore when a key has no value.
var ErrNotFound = errors.New("not found")

// Persisted state keys.
const (
	KeyCounters          = "counters"
	KeyCounterTimestamps = "counter_timestamps"
	KeyBlockState        = "block_state"
	KeyPolicyConfig      = "policy_config"
	KeyRuleOverrides     = "rule_overrides"
	KeyActivityLog       = "activity_log"
	KeyHostRecord        = "host_record"
)

// StateStore is an opaque key/value store for the installation state.
// Implementations: SQLCipher, SQLite, JSON file, Redis.
type StateStore interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases resources (e.g., database connection).
	Close() error
}

// Notifier delivers outbound events. Delivery is best-effort.
type Notifier interface {
	Publish(ctx context.Context, event Event)
}

// Timer is a cancellation handle for a scheduled callback.
type Timer interface {
	// Stop cancels the callback. It returns false if the callback already ran.
	Stop() bool
}

// Scheduler runs fn once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// KeyProvider abstracts the source of encryption keys.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// ProcessInspector answers liveness questions about OS processes.
type ProcessInspector interface {
	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}
