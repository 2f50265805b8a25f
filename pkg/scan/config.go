// pkg/scan/config.go
// Package scan runs banner probes against many targets through a bounded
// worker pool, with per-target retry and cooperative cancellation.
package scan

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig marks configuration rejected before a scan starts.
var ErrInvalidConfig = errors.New("invalid scan config")

// Defaults applied by DefaultConfig.
const (
	DefaultConcurrency    = 32
	DefaultTimeout        = 5 * time.Second
	DefaultRetries        = 1
	DefaultBackoff        = 500 * time.Millisecond
	DefaultMaxBannerBytes = 4096
)

// Config controls one scan run.
type Config struct {
	// Concurrency is the worker pool size; at most this many probes run at
	// any instant.
	Concurrency int
	// Timeout is the per-attempt budget covering dial plus greeting read.
	Timeout time.Duration
	// Retries is how many extra attempts a retryable failure earns.
	Retries int
	// Backoff is the wait between attempts on the same target. The wait
	// happens on a timer, not on a worker.
	Backoff time.Duration
	// MaxBannerBytes bounds the greeting size. Zero means the probe default.
	MaxBannerBytes int
	// Deadline, when positive, bounds the whole run.
	Deadline time.Duration
}

// DefaultConfig returns the configuration used when the caller specifies
// nothing.
func DefaultConfig() Config {
	return Config{
		Concurrency:    DefaultConcurrency,
		Timeout:        DefaultTimeout,
		Retries:        DefaultRetries,
		Backoff:        DefaultBackoff,
		MaxBannerBytes: DefaultMaxBannerBytes,
	}
}

// Validate rejects configurations that cannot drive a scan. Every violation
// wraps ErrInvalidConfig so callers can branch on the class without parsing
// messages.
func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be at least 1, got %d", ErrInvalidConfig, c.Concurrency)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive, got %s", ErrInvalidConfig, c.Timeout)
	}
	if c.Retries < 0 {
		return fmt.Errorf("%w: retries must not be negative, got %d", ErrInvalidConfig, c.Retries)
	}
	if c.Backoff < 0 {
		return fmt.Errorf("%w: backoff must not be negative, got %s", ErrInvalidConfig, c.Backoff)
	}
	if c.MaxBannerBytes < 0 {
		return fmt.Errorf("%w: max banner bytes must not be negative, got %d", ErrInvalidConfig, c.MaxBannerBytes)
	}
	if c.Deadline < 0 {
		return fmt.Errorf("%w: deadline must not be negative, got %s", ErrInvalidConfig, c.Deadline)
	}
	return nil
}
