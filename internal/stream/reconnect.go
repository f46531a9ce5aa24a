package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// ReconnectConfig contains configuration for exponential backoff reconnection
type ReconnectConfig struct {
	MaxRetries    int           // default 5
	RetryDelay    time.Duration // initial delay, default 1s
	MaxRetryDelay time.Duration // cap, default 30s
}

// DefaultReconnectConfig returns default reconnection configuration
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxRetries:    5,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// ReconnectState tracks reconnection attempts across calls
type ReconnectState struct {
	CurrentRetries int
	Reconnects     atomic.Uint32
}

// ConnectFunc attempts to establish (or run) a connection
type ConnectFunc func(ctx context.Context) error

// RunWithReconnect calls connectFn until it succeeds, retrying with
// exponential backoff. Returns an error once MaxRetries consecutive
// attempts have failed or ctx is cancelled.
func RunWithReconnect(ctx context.Context, connectFn ConnectFunc, cfg ReconnectConfig, state *ReconnectState) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := connectFn(ctx)
		if err == nil {
			state.CurrentRetries = 0
			return nil
		}

		state.CurrentRetries++
		state.Reconnects.Add(1)

		if state.CurrentRetries > cfg.MaxRetries {
			return fmt.Errorf("stream: max retries exceeded (%d attempts): %w", cfg.MaxRetries, err)
		}

		delay := calculateBackoff(state.CurrentRetries, cfg)
		slog.Warn("stream: retrying connection",
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
			return ctx.Err()
		}
	}
}

// calculateBackoff returns retryDelay * 2^(attempt-1), capped at MaxRetryDelay
func calculateBackoff(attempt int, cfg ReconnectConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxRetryDelay || delay <= 0 {
		delay = cfg.MaxRetryDelay
	}
	return delay
}
