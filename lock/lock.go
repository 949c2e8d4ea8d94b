// Package lock serializes refresh-record mutation per user.
//
// At most one Create or Rotate sequence runs per user id at a time. Callers
// that present the same flight key while a call is in flight do not run their
// own call: they wait and receive the result of the one already running.
//
// The protected function runs on a context detached from the caller, bounded
// by Config.OperationTimeout, so a caller that gives up never leaves the user
// locked or a rotation half applied.
package lock

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrLockTimeout is returned when a lease could not be acquired in time.
	ErrLockTimeout = errors.New("lock: acquire timeout")
	// ErrInvalidKey is returned for an empty user id.
	ErrInvalidKey = errors.New("lock: user id required")
)

// Locker runs fn while holding the rotation lock of userID.
//
// shared reports whether the returned value was produced by a call that other
// callers also received.
type Locker interface {
	WithLock(ctx context.Context, userID, flightKey string, fn func(context.Context) (any, error)) (value any, shared bool, err error)
}

// Config tunes lock timing. Zero fields take defaults.
type Config struct {
	// OperationTimeout bounds fn, including the wait for the user lock.
	OperationTimeout time.Duration
	// LeaseTTL is the expiry of the distributed lease. Must exceed OperationTimeout.
	LeaseTTL time.Duration
	// RetryInterval is the poll interval while the lease is held elsewhere.
	RetryInterval time.Duration
	// AcquireTimeout bounds the wait for the distributed lease.
	AcquireTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		OperationTimeout: 5 * time.Second,
		LeaseTTL:         10 * time.Second,
		RetryInterval:    25 * time.Millisecond,
		AcquireTimeout:   3 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = d.OperationTimeout
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = d.LeaseTTL
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = d.RetryInterval
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = d.AcquireTimeout
	}
	return c
}

// Validate rejects a lease that could expire while fn still runs.
func (c Config) Validate() error {
	c = c.withDefaults()
	if c.LeaseTTL <= c.OperationTimeout {
		return errors.New("lock: lease TTL must exceed operation timeout")
	}
	if c.AcquireTimeout > c.OperationTimeout {
		return errors.New("lock: acquire timeout must not exceed operation timeout")
	}
	return nil
}
