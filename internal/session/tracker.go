// Package session tracks the lifecycle and focus-loss tally of one
// monitoring session at a time.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/focus-sensor/internal/types"
)

// ErrInvalidState is returned for operations not allowed in the current state
var ErrInvalidState = errors.New("session: invalid state transition")

// DefaultAlertMessage is spoken on every focus-loss event
const DefaultAlertMessage = "Alert! Wake up!"

// Status of the tracker
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// State is a snapshot of the tracker
type State struct {
	Status         Status    `json:"-"`
	StatusName     string    `json:"status"`
	SessionID      string    `json:"session_id,omitempty"`
	StartedAt      time.Time `json:"started_at,omitempty"` // zero when never started
	FocusLossCount int       `json:"focus_loss_count"`
}

// Clock abstracts time for deterministic tests
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now
type SystemClock struct{}

// Now returns the current time
func (SystemClock) Now() time.Time { return time.Now() }

// Alerter receives focus-loss alerts. Trigger is called with the tracker
// lock held, so it must not block or call back into the Tracker; it
// reports whether the alert was accepted.
type Alerter interface {
	Trigger(text string) bool
}

// Config for a Tracker
type Config struct {
	AlertMessage string
	Clock        Clock
	Alerter      Alerter
}

// Tracker is the session state machine: Idle -> Running -> Stopped -> Running.
//
// All methods are safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	state State

	message string
	clock   Clock
	alerter Alerter
}

// NewTracker creates an idle tracker
func NewTracker(cfg Config) *Tracker {
	if cfg.AlertMessage == "" {
		cfg.AlertMessage = DefaultAlertMessage
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	return &Tracker{
		state:   State{Status: StatusIdle},
		message: cfg.AlertMessage,
		clock:   cfg.Clock,
		alerter: cfg.Alerter,
	}
}

// Start begins a new session, resetting the loss count.
// Returns ErrInvalidState if a session is already running.
func (t *Tracker) Start() (State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Status == StatusRunning {
		return t.snapshot(), fmt.Errorf("%w: session %s already running", ErrInvalidState, t.state.SessionID)
	}

	t.state = State{
		Status:         StatusRunning,
		SessionID:      uuid.New().String(),
		StartedAt:      t.clock.Now(),
		FocusLossCount: 0,
	}

	slog.Info("session: started", "session_id", t.state.SessionID)
	return t.snapshot(), nil
}

// RecordFrame records one frame outcome. A drowsy frame increments the
// focus-loss count and fires one alert. The alert is triggered before the
// lock is released, so no alert fires for a session that Stop has ended.
//
// Returns ErrInvalidState (without mutating anything) when not running.
func (t *Tracker) RecordFrame(drowsy bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Status != StatusRunning {
		return fmt.Errorf("%w: record frame while %s", ErrInvalidState, t.state.Status)
	}
	if !drowsy {
		return nil
	}
	t.state.FocusLossCount++

	slog.Debug("session: focus lost", "session_id", t.state.SessionID, "focus_loss_count", t.state.FocusLossCount)

	if t.alerter != nil && !t.alerter.Trigger(t.message) {
		slog.Debug("session: alert not queued", "session_id", t.state.SessionID)
	}
	return nil
}

// Stop ends the running session and returns its summary with reason "stopped"
func (t *Tracker) Stop() (types.SessionSummary, error) {
	return t.StopWithReason(types.EndReasonStopped)
}

// StopWithReason ends the running session and returns its summary.
// Only one summary is ever produced per session: stopping an idle or
// stopped tracker returns ErrInvalidState.
func (t *Tracker) StopWithReason(reason string) (types.SessionSummary, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Status != StatusRunning {
		return types.SessionSummary{}, fmt.Errorf("%w: stop while %s", ErrInvalidState, t.state.Status)
	}

	endedAt := t.clock.Now()
	duration, weighted, score := Score(endedAt.Sub(t.state.StartedAt), t.state.FocusLossCount)

	summary := types.SessionSummary{
		SessionID:       t.state.SessionID,
		DurationSeconds: duration,
		WeightedLoss:    weighted,
		FocusScore:      score,
		FocusLossCount:  t.state.FocusLossCount,
		StartedAt:       t.state.StartedAt,
		EndedAt:         endedAt,
		EndReason:       reason,
	}

	t.state.Status = StatusStopped

	slog.Info("session: stopped",
		"session_id", summary.SessionID,
		"reason", reason,
		"duration_seconds", summary.DurationSeconds,
		"focus_loss_count", summary.FocusLossCount,
		"focus_score", summary.FocusScore,
	)
	return summary, nil
}

// State returns a snapshot of the current state
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot()
}

func (t *Tracker) snapshot() State {
	s := t.state
	s.StatusName = s.Status.String()
	return s
}
