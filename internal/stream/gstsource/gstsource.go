// Package gstsource captures frames from RTSP streams and video files
// through a GStreamer pipeline.
package gstsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/focus-sensor/internal/stream"
	"github.com/e7canasta/focus-sensor/internal/types"
)

var errEndOfStream = errors.New("gstsource: end of stream")

// Source is a GStreamer capture source.
//
// Live sources reconnect with exponential backoff on network errors;
// files end the stream at EOS.
type Source struct {
	cfg        stream.GstConfig
	reconnect  stream.ReconnectConfig
	sourceName string

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	frames   chan types.Frame
	pending  *gst.Pipeline // opened by Start, consumed by the first session
	started  time.Time
	errCount atomic.Uint64

	frameCount     atomic.Uint64
	bytesRead      atomic.Uint64
	framesDropped  atomic.Uint64
	lastFrameNanos atomic.Int64
	connected      atomic.Bool
	reconnectState stream.ReconnectState
}

// New validates the config and creates a source
func New(cfg stream.GstConfig, reconnect stream.ReconnectConfig) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.IsLive() {
		reconnect.MaxRetries = 0
	}

	name := "file"
	if cfg.IsLive() {
		name = "rtsp"
	}

	slog.Info("stream: gstreamer source created",
		"uri", cfg.URI,
		"resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"target_fps", cfg.TargetFPS,
		"live", cfg.IsLive(),
	)

	return &Source{cfg: cfg, reconnect: reconnect, sourceName: name}, nil
}

// Start opens the pipeline and begins delivering frames.
// Opening failures are returned immediately.
func (s *Source) Start(ctx context.Context) (<-chan types.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil, stream.ErrAlreadyRunning
	}

	gst.Init(nil)

	s.frames = make(chan types.Frame, 10)
	runCtx, cancel := context.WithCancel(ctx)

	pipeline, err := s.openPipeline(runCtx)
	if err != nil {
		cancel()
		return nil, err
	}

	s.cancel = cancel
	s.pending = pipeline
	s.running = true
	s.started = time.Now()

	s.wg.Add(1)
	go s.run(runCtx)

	return s.frames, nil
}

func (s *Source) run(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.frames)

	err := stream.RunWithReconnect(ctx, s.session, s.reconnect, &s.reconnectState)
	if err != nil && ctx.Err() == nil {
		s.errCount.Add(1)
		slog.Error("stream: gstreamer source giving up", "uri", s.cfg.URI, "error", err)
	}
}

// session plays one pipeline until EOS, error or cancellation.
// Returning nil ends the stream; an error asks for a reconnect.
func (s *Source) session(ctx context.Context) error {
	s.mu.Lock()
	pipeline := s.pending
	s.pending = nil
	s.mu.Unlock()

	if pipeline == nil {
		var err error
		if pipeline, err = s.openPipeline(ctx); err != nil {
			return err
		}
	}
	defer s.teardown(pipeline)

	err := s.monitor(ctx, pipeline)
	if err == nil || errors.Is(err, errEndOfStream) {
		return nil
	}

	category := stream.ErrCategoryUnknown
	var classified *classifiedError
	if errors.As(err, &classified) {
		category = classified.category
	}
	if !category.Retryable() {
		slog.Error("stream: non-retryable pipeline error", "category", category.String(), "error", err)
		return nil
	}
	return err
}

func (s *Source) openPipeline(ctx context.Context) (*gst.Pipeline, error) {
	desc := s.cfg.PipelineDescription()
	slog.Debug("stream: creating pipeline", "description", desc)

	pipeline, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	elem, err := pipeline.GetElementByName("sink")
	if err != nil {
		return nil, fmt.Errorf("failed to find appsink: %w", err)
	}
	sink := app.SinkFromElement(elem)
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return s.onNewSample(ctx, sink)
		},
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("failed to start pipeline: %w", err)
	}
	return pipeline, nil
}

// onNewSample copies the mapped buffer into a Frame.
// Live sources drop when the channel is full; files wait for the consumer.
func (s *Source) onNewSample(ctx context.Context, sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("stream: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("stream: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}
	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	seq := s.frameCount.Add(1)
	s.bytesRead.Add(uint64(len(frameData)))
	now := time.Now()
	s.lastFrameNanos.Store(now.UnixNano())

	frame := types.Frame{
		Seq:          seq,
		Timestamp:    now,
		Width:        s.cfg.Width,
		Height:       s.cfg.Height,
		Data:         frameData,
		SourceStream: s.sourceName,
		TraceID:      uuid.New().String(),
	}

	if s.cfg.IsLive() {
		select {
		case s.frames <- frame:
		default:
			s.framesDropped.Add(1)
			slog.Debug("stream: dropping frame, channel full", "seq", seq)
		}
		return gst.FlowOK
	}

	select {
	case s.frames <- frame:
		return gst.FlowOK
	case <-ctx.Done():
		return gst.FlowFlushing
	}
}

type classifiedError struct {
	category stream.ErrorCategory
	err      error
}

func (e *classifiedError) Error() string {
	return fmt.Sprintf("pipeline error [%s]: %v", e.category, e.err)
}

func (e *classifiedError) Unwrap() error { return e.err }

// monitor polls the pipeline bus until EOS, error or cancellation
func (s *Source) monitor(ctx context.Context, pipeline *gst.Pipeline) error {
	bus := pipeline.GetPipelineBus()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("stream: end of stream received",
				"uri", s.cfg.URI,
				"frames", s.frameCount.Load(),
			)
			return errEndOfStream

		case gst.MessageError:
			gerr := msg.ParseError()
			category := stream.ClassifyError(gerr.Error(), gerr.DebugString())
			s.errCount.Add(1)
			slog.Error("stream: pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"category", category.String(),
				"uri", s.cfg.URI,
			)
			return &classifiedError{category: category, err: errors.New(gerr.Error())}

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				_, newState := msg.ParseStateChanged()
				if newState == gst.StatePlaying {
					s.connected.Store(true)
					s.reconnectState.CurrentRetries = 0
					slog.Info("stream: pipeline playing", "uri", s.cfg.URI)
				}
			}
		}
	}
}

func (s *Source) teardown(pipeline *gst.Pipeline) {
	s.connected.Store(false)
	if err := pipeline.BlockSetState(gst.StateNull); err != nil {
		slog.Warn("stream: failed to stop pipeline", "error", err)
	}
}

// Stop cancels the pipeline and waits (up to 3s) for the capture goroutine
func (s *Source) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		return fmt.Errorf("stream: gstreamer source stop timeout")
	}

	slog.Info("stream: gstreamer source stopped",
		"uri", s.cfg.URI,
		"frames", s.frameCount.Load(),
		"dropped", s.framesDropped.Load(),
	)
	return nil
}

// Stats returns current capture statistics
func (s *Source) Stats() stream.Stats {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	frames := s.frameCount.Load()
	var fpsReal float64
	if elapsed := time.Since(started).Seconds(); frames > 0 && elapsed > 0 {
		fpsReal = float64(frames) / elapsed
	}
	var latency int64
	if last := s.lastFrameNanos.Load(); last > 0 {
		latency = time.Since(time.Unix(0, last)).Milliseconds()
	}

	return stream.Stats{
		FrameCount:    frames,
		FramesDropped: s.framesDropped.Load(),
		FPSTarget:     s.cfg.TargetFPS,
		FPSReal:       fpsReal,
		LatencyMS:     latency,
		SourceStream:  s.sourceName,
		Resolution:    fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height),
		Reconnects:    s.reconnectState.Reconnects.Load(),
		BytesRead:     s.bytesRead.Load(),
		IsConnected:   s.connected.Load(),
		Errors:        s.errCount.Load(),
	}
}
