// Package core wires the frame source, landmark detector, classifier and
// session tracker into a focus-monitoring service.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/focus-sensor/internal/classifier"
	"github.com/e7canasta/focus-sensor/internal/events"
	"github.com/e7canasta/focus-sensor/internal/session"
	"github.com/e7canasta/focus-sensor/internal/stream"
	"github.com/e7canasta/focus-sensor/internal/types"
)

// ErrResourceUnavailable is returned by StartSession when the frame
// source cannot be opened
var ErrResourceUnavailable = errors.New("core: frame source unavailable")

// Config for a Sensor
type Config struct {
	InstanceID string
	// ReadTimeout ends a session whose source delivers no frame for this
	// long (0 = wait forever)
	ReadTimeout time.Duration
}

// Deps are the collaborators of a Sensor. Annotator, Frames and Events are
// optional.
type Deps struct {
	NewSource  SourceFactory
	Detector   LandmarkDetector
	Classifier *classifier.Classifier
	Tracker    *session.Tracker
	Annotator  Annotator
	Frames     FramePublisher
	Events     EventPublisher
}

// Sensor runs at most one monitoring session at a time. Each session has
// its own detection loop goroutine that owns the frame source.
type Sensor struct {
	cfg  Config
	deps Deps

	mu          sync.Mutex
	baseCtx     context.Context
	current     *sessionRun
	lastSummary *types.SessionSummary
	started     time.Time
	isRunning   bool

	componentsMu sync.RWMutex
	components   map[string]func() interface{}

	stats loopStats
}

// sessionRun is one detection loop
type sessionRun struct {
	id     string
	source stream.Source
	frames <-chan types.Frame
	cancel context.CancelFunc

	stop   atomic.Bool
	stopCh chan struct{}
	done   chan struct{}

	summary types.SessionSummary
	err     error
}

// requestStop raises the stop flag; only the first caller gets true
func (r *sessionRun) requestStop() bool {
	if !r.stop.CompareAndSwap(false, true) {
		return false
	}
	close(r.stopCh)
	return true
}

func (r *sessionRun) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// NewSensor validates the collaborators and creates an idle sensor
func NewSensor(cfg Config, deps Deps) (*Sensor, error) {
	if deps.NewSource == nil {
		return nil, fmt.Errorf("core: source factory is required")
	}
	if deps.Detector == nil {
		return nil, fmt.Errorf("core: landmark detector is required")
	}
	if deps.Classifier == nil {
		return nil, fmt.Errorf("core: classifier is required")
	}
	if deps.Tracker == nil {
		return nil, fmt.Errorf("core: session tracker is required")
	}
	if deps.Annotator == nil {
		deps.Annotator = passthroughAnnotator{}
	}
	if cfg.ReadTimeout < 0 {
		cfg.ReadTimeout = 0
	}

	return &Sensor{
		cfg:        cfg,
		deps:       deps,
		baseCtx:    context.Background(),
		started:    time.Now(),
		components: make(map[string]func() interface{}),
	}, nil
}

// RegisterComponent adds a stats provider to the readiness report
func (s *Sensor) RegisterComponent(name string, stats func() interface{}) {
	s.componentsMu.Lock()
	s.components[name] = stats
	s.componentsMu.Unlock()
}

// Run marks the service running and blocks until ctx is cancelled.
// Sessions started afterwards end when ctx is cancelled.
func (s *Sensor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	s.isRunning = true
	s.started = time.Now()
	s.baseCtx = ctx
	s.mu.Unlock()

	slog.Info("core: sensor running", "instance_id", s.cfg.InstanceID)

	<-ctx.Done()

	slog.Info("core: sensor run loop exiting")
	return nil
}

// Shutdown ends the running session, if any, and waits for its loop
func (s *Sensor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	run := s.current
	s.isRunning = false
	s.mu.Unlock()

	if run == nil || run.finished() {
		slog.Info("core: shutdown complete", "session_active", false)
		return nil
	}

	slog.Info("core: shutting down active session", "session_id", run.id)
	run.cancel()

	select {
	case <-run.done:
	case <-ctx.Done():
		return fmt.Errorf("core: shutdown timed out waiting for session %s: %w", run.id, ctx.Err())
	}

	slog.Info("core: shutdown complete", "session_active", true, "session_id", run.id)
	return nil
}

// StartSession opens a fresh frame source and starts a session with its
// detection loop. ctx bounds opening the source only; the session itself
// runs until StopSession, end of stream or the Run context ends.
//
// Returns session.ErrInvalidState when a session is already running and
// ErrResourceUnavailable (wrapping the cause) when the source cannot be
// opened; in both cases the tracker state is unchanged.
func (s *Sensor) StartSession(ctx context.Context) (session.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && !s.current.finished() {
		return s.deps.Tracker.State(), fmt.Errorf("%w: session %s already running", session.ErrInvalidState, s.current.id)
	}
	if err := ctx.Err(); err != nil {
		return s.deps.Tracker.State(), err
	}

	source, err := s.deps.NewSource()
	if err != nil {
		return s.deps.Tracker.State(), fmt.Errorf("%w: %w", ErrResourceUnavailable, err)
	}

	loopCtx, cancel := context.WithCancel(s.baseCtx)

	// ctx may abort the open; once the source is up it is detached
	detach := context.AfterFunc(ctx, cancel)
	frames, err := source.Start(loopCtx)
	if !detach() {
		if err == nil {
			if stopErr := source.Stop(); stopErr != nil {
				slog.Warn("core: failed to release source", "error", stopErr)
			}
		}
		return s.deps.Tracker.State(), fmt.Errorf("core: opening source: %w", context.Cause(ctx))
	}
	if err != nil {
		cancel()
		return s.deps.Tracker.State(), fmt.Errorf("%w: %w", ErrResourceUnavailable, err)
	}

	state, err := s.deps.Tracker.Start()
	if err != nil {
		cancel()
		if stopErr := source.Stop(); stopErr != nil {
			slog.Warn("core: failed to release source", "error", stopErr)
		}
		return state, err
	}

	run := &sessionRun{
		id:     state.SessionID,
		source: source,
		frames: frames,
		cancel: cancel,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.current = run
	s.stats.sessionsStarted.Add(1)

	s.publishEvent(events.Event{
		Type:      events.TypeSessionStarted,
		SessionID: run.id,
		Timestamp: state.StartedAt,
	})

	go s.runLoop(loopCtx, run)

	slog.Info("core: session started", "session_id", run.id)
	return state, nil
}

// StopSession asks the detection loop to stop after the current frame and
// returns the session summary. Returns session.ErrInvalidState when no
// session is running or it was already stopped.
func (s *Sensor) StopSession() (types.SessionSummary, error) {
	s.mu.Lock()
	run := s.current
	s.mu.Unlock()

	if run == nil || run.finished() || !run.requestStop() {
		return types.SessionSummary{}, fmt.Errorf("%w: no running session", session.ErrInvalidState)
	}

	<-run.done

	return run.summary, run.err
}

// LastSummary returns the summary of the most recently ended session
func (s *Sensor) LastSummary() (types.SessionSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSummary == nil {
		return types.SessionSummary{}, false
	}
	return *s.lastSummary, true
}

// SessionActive reports whether a detection loop is running
func (s *Sensor) SessionActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil && !s.current.finished()
}

// Status is a snapshot of the sensor
type Status struct {
	InstanceID    string                `json:"instance_id"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	Session       session.State         `json:"session"`
	SessionActive bool                  `json:"session_active"`
	Loop          LoopStats             `json:"loop"`
	Stream        *stream.Stats         `json:"stream,omitempty"`
	LastSummary   *types.SessionSummary `json:"last_summary,omitempty"`
}

// Status returns the current state of the sensor
func (s *Sensor) Status() Status {
	s.mu.Lock()
	run := s.current
	started := s.started
	var last *types.SessionSummary
	if s.lastSummary != nil {
		summary := *s.lastSummary
		last = &summary
	}
	s.mu.Unlock()

	st := Status{
		InstanceID:    s.cfg.InstanceID,
		UptimeSeconds: int64(time.Since(started).Seconds()),
		Session:       s.deps.Tracker.State(),
		Loop:          s.LoopStats(),
		LastSummary:   last,
	}
	if run != nil && !run.finished() {
		st.SessionActive = true
		streamStats := run.source.Stats()
		st.Stream = &streamStats
	}
	return st
}

// StatusMap renders Status for the MQTT control plane
func (s *Sensor) StatusMap() map[string]interface{} {
	st := s.Status()
	m := map[string]interface{}{
		"instance_id":      st.InstanceID,
		"uptime_s":         st.UptimeSeconds,
		"status":           st.Session.StatusName,
		"session_id":       st.Session.SessionID,
		"session_active":   st.SessionActive,
		"focus_loss_count": st.Session.FocusLossCount,
		"frames_processed": st.Loop.FramesProcessed,
	}
	if st.LastSummary != nil {
		m["last_summary"] = st.LastSummary
	}
	return m
}

func (s *Sensor) publishEvent(ev events.Event) {
	if s.deps.Events == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	s.deps.Events.Publish(ev)
}

// passthroughAnnotator publishes verdicts without an image
type passthroughAnnotator struct{}

func (passthroughAnnotator) Annotate(frame types.Frame, verdicts []types.FrameVerdict) (types.AnnotatedFrame, error) {
	return types.AnnotatedFrame{
		Seq:       frame.Seq,
		Timestamp: frame.Timestamp,
		Width:     frame.Width,
		Height:    frame.Height,
		Overlay:   types.OverlayLines(verdicts, ""),
		Verdicts:  verdicts,
	}, nil
}
