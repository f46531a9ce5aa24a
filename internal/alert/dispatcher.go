// Package alert delivers focus-loss alerts to a Speaker without ever
// blocking the detection loop.
package alert

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Speaker renders an alert text (speech, sound, log line).
// Implementations may block; only the dispatcher worker calls them.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Config for a Dispatcher
type Config struct {
	// QueueSize bounds pending alerts (default 4)
	QueueSize int
	// Cooldown is the minimum interval between accepted alerts (0 = none)
	Cooldown time.Duration
	// SpeakTimeout bounds one Speak call (default 10s)
	SpeakTimeout time.Duration
}

// Stats for a Dispatcher
type Stats struct {
	Triggered   uint64 `json:"triggered"`
	Queued      uint64 `json:"queued"`
	Coalesced   uint64 `json:"coalesced"`
	Dropped     uint64 `json:"dropped"`
	RateLimited uint64 `json:"rate_limited"`
	Spoken      uint64 `json:"spoken"`
	Failed      uint64 `json:"failed"`
	Pending     int    `json:"pending"`
}

// Dispatcher is a bounded alert queue drained by one worker goroutine.
//
// Queue policy:
//   - a text already waiting in the queue is coalesced (not queued twice)
//   - when the queue is full the newest alert is dropped
//   - accepted alerts are spaced by Cooldown
//
// Speaker errors are logged and counted, never propagated.
type Dispatcher struct {
	speaker      Speaker
	queue        chan string
	limiter      *rate.Limiter
	speakTimeout time.Duration

	mu      sync.Mutex // guards pending and cancel
	pending map[string]int

	closed  atomic.Bool
	started atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	triggered   atomic.Uint64
	queued      atomic.Uint64
	coalesced   atomic.Uint64
	dropped     atomic.Uint64
	rateLimited atomic.Uint64
	spoken      atomic.Uint64
	failed      atomic.Uint64
}

// NewDispatcher creates a dispatcher. Call Start to launch the worker.
func NewDispatcher(speaker Speaker, cfg Config) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4
	}
	if cfg.SpeakTimeout <= 0 {
		cfg.SpeakTimeout = 10 * time.Second
	}

	limit := rate.Inf
	if cfg.Cooldown > 0 {
		limit = rate.Every(cfg.Cooldown)
	}

	return &Dispatcher{
		speaker:      speaker,
		queue:        make(chan string, cfg.QueueSize),
		limiter:      rate.NewLimiter(limit, 1),
		speakTimeout: cfg.SpeakTimeout,
		pending:      make(map[string]int),
	}
}

// Start launches the worker goroutine. Starting a stopped dispatcher
// does nothing.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed.Load() || !d.started.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.wg.Add(1)
	go d.run(ctx)

	slog.Info("alert: dispatcher started", "queue_size", cap(d.queue))
}

// Trigger enqueues an alert without blocking.
// Returns true if the alert was queued or coalesced with a pending one.
func (d *Dispatcher) Trigger(text string) bool {
	if d.closed.Load() {
		return false
	}
	d.triggered.Add(1)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending[text] > 0 {
		d.coalesced.Add(1)
		return true
	}

	if !d.limiter.Allow() {
		d.rateLimited.Add(1)
		return false
	}

	select {
	case d.queue <- text:
		d.pending[text]++
		d.queued.Add(1)
		return true
	default:
		d.dropped.Add(1)
		slog.Debug("alert: queue full, dropping alert", "text", text)
		return false
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case text := <-d.queue:
			d.mu.Lock()
			d.pending[text]--
			if d.pending[text] <= 0 {
				delete(d.pending, text)
			}
			d.mu.Unlock()

			d.speak(ctx, text)
		}
	}
}

func (d *Dispatcher) speak(ctx context.Context, text string) {
	speakCtx, cancel := context.WithTimeout(ctx, d.speakTimeout)
	defer cancel()

	start := time.Now()
	if err := d.speaker.Speak(speakCtx, text); err != nil {
		d.failed.Add(1)
		slog.Warn("alert: speaker failed",
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return
	}
	d.spoken.Add(1)
}

// Stop cancels the worker and waits for it to exit.
// Alerts still queued are discarded.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.closed.CompareAndSwap(false, true) {
		d.mu.Unlock()
		return
	}
	cancel := d.cancel
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()

	slog.Info("alert: dispatcher stopped",
		"spoken", d.spoken.Load(),
		"dropped", d.dropped.Load(),
		"failed", d.failed.Load(),
	)
}

// Stats returns a snapshot of dispatcher counters
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	pending := 0
	for _, n := range d.pending {
		pending += n
	}
	d.mu.Unlock()

	return Stats{
		Triggered:   d.triggered.Load(),
		Queued:      d.queued.Load(),
		Coalesced:   d.coalesced.Load(),
		Dropped:     d.dropped.Load(),
		RateLimited: d.rateLimited.Load(),
		Spoken:      d.spoken.Load(),
		Failed:      d.failed.Load(),
		Pending:     pending,
	}
}
