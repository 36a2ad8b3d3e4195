package gstpipe

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// RetryConfig contains configuration for exponential backoff on pipeline start
type RetryConfig struct {
	MaxRetries    int           // Maximum number of retries after the first attempt (default: 5)
	RetryDelay    time.Duration // Initial retry delay (default: 1 second)
	MaxRetryDelay time.Duration // Maximum retry delay cap (default: 30 seconds)
}

// DefaultRetryConfig returns default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    5,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// RetryState tracks the retries of one pipeline
type RetryState struct {
	CurrentRetries int
	Retries        *uint32 // Atomic counter for total retries
}

// NewRetryState returns a state with its counter allocated
func NewRetryState() *RetryState {
	return &RetryState{Retries: new(uint32)}
}

// StartFunc attempts to bring a pipeline to PLAYING
type StartFunc func(ctx context.Context) error

// RunWithRetry calls startFn until it succeeds, retries are exhausted or ctx is done.
//
// Backoff schedule with the default config: 1s, 2s, 4s, 8s, 16s.
// Errors that Classify as non-retryable stop immediately.
func RunWithRetry(ctx context.Context, startFn StartFunc, cfg RetryConfig, state *RetryState) error {
	for {
		select {
		case <-ctx.Done():
			slog.Debug("gstpipe: context cancelled, giving up start")
			return ctx.Err()
		default:
		}

		err := startFn(ctx)
		if err == nil {
			ResetRetryState(state)
			return nil
		}

		category := Classify(err.Error(), "")
		if !category.Retryable() {
			slog.Error("gstpipe: pipeline start failed, not retrying",
				"error", err,
				"category", category.String(),
			)
			return err
		}

		state.CurrentRetries++
		if state.Retries != nil {
			atomic.AddUint32(state.Retries, 1)
		}

		if state.CurrentRetries > cfg.MaxRetries {
			return fmt.Errorf("gstpipe: max retries exceeded (%d attempts): %w", cfg.MaxRetries, err)
		}

		delay := backoff(state.CurrentRetries, cfg)

		slog.Warn("gstpipe: retrying pipeline start",
			"error", err,
			"attempt", state.CurrentRetries,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			slog.Debug("gstpipe: context cancelled during backoff")
			return ctx.Err()
		}
	}
}

// backoff returns retryDelay * 2^(attempt-1), capped at maxRetryDelay
func backoff(attempt int, cfg RetryConfig) time.Duration {
	delay := cfg.RetryDelay
	for i := 1; i < attempt && delay < cfg.MaxRetryDelay; i++ {
		delay *= 2
	}
	if delay > cfg.MaxRetryDelay {
		delay = cfg.MaxRetryDelay
	}
	return delay
}

// ResetRetryState clears the retry counter after a successful start
func ResetRetryState(state *RetryState) {
	state.CurrentRetries = 0
	slog.Debug("gstpipe: retry state reset")
}
