package app

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAlreadyRunning is returned by Run when another Run is in progress.
	ErrAlreadyRunning = errors.New("app is already running")

	// ErrRetriesExhausted is returned by Run when the source kept failing
	// for more than MaxRetries consecutive sessions.
	ErrRetriesExhausted = errors.New("max retries exceeded")
)

// ReconnectConfig controls how Run replaces a session whose source ended
// or failed.
type ReconnectConfig struct {
	Enabled bool

	// Delay is the wait before the first retry. It doubles on every
	// consecutive failure up to MaxDelay.
	Delay    time.Duration
	MaxDelay time.Duration

	// MaxRetries is the number of consecutive failed sessions tolerated.
	// Zero or less retries forever.
	MaxRetries int
}

// DefaultReconnectConfig returns the default backoff: 1s doubling to 30s,
// five retries. Reconnect is disabled.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		Delay:      time.Second,
		MaxDelay:   30 * time.Second,
		MaxRetries: 5,
	}
}

// ReconnectState counts consecutive failed sessions.
type ReconnectState struct {
	retries int
}

// Next records a failure and returns how long to wait before the next
// attempt, or ErrRetriesExhausted wrapping lastErr.
func (s *ReconnectState) Next(cfg ReconnectConfig, lastErr error) (time.Duration, error) {
	s.retries++

	if cfg.MaxRetries > 0 && s.retries > cfg.MaxRetries {
		if lastErr != nil {
			return 0, fmt.Errorf("%w (%d attempts): %w", ErrRetriesExhausted, cfg.MaxRetries, lastErr)
		}
		return 0, fmt.Errorf("%w (%d attempts)", ErrRetriesExhausted, cfg.MaxRetries)
	}

	return calculateBackoff(s.retries, cfg), nil
}

// Reset clears the failure count after a session that delivered frames.
func (s *ReconnectState) Reset() {
	s.retries = 0
}

// Retries returns the current number of consecutive failures.
func (s *ReconnectState) Retries() int {
	return s.retries
}

// calculateBackoff returns Delay * 2^(attempt-1), capped at MaxDelay.
func calculateBackoff(attempt int, cfg ReconnectConfig) time.Duration {
	if cfg.Delay <= 0 {
		return 0
	}

	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	delay := cfg.Delay * time.Duration(1<<uint(shift))

	if cfg.MaxDelay > 0 && (delay > cfg.MaxDelay || delay <= 0) {
		delay = cfg.MaxDelay
	}
	return delay
}
