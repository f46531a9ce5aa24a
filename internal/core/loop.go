package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/e7canasta/focus-sensor/internal/events"
	"github.com/e7canasta/focus-sensor/internal/types"
)

// statsLogInterval spaces the periodic loop stats log line
const statsLogInterval = 10 * time.Second

// runLoop is the detection loop goroutine of one session. It consumes
// frames until stop, end of stream, read timeout or ctx cancellation,
// then releases the source and closes the session.
func (s *Sensor) runLoop(ctx context.Context, run *sessionRun) {
	defer close(run.done)
	defer run.cancel()

	reason := s.consume(ctx, run)

	summary, err := s.deps.Tracker.StopWithReason(reason)
	run.summary, run.err = summary, err
	if err != nil {
		slog.Error("core: failed to close session", "session_id", run.id, "error", err)
		return
	}

	s.mu.Lock()
	s.lastSummary = &summary
	s.mu.Unlock()

	s.publishEvent(events.Event{
		Type:      events.TypeSessionSummary,
		SessionID: summary.SessionID,
		Timestamp: summary.EndedAt,
		Summary:   &summary,
	})
}

// consume runs the frame loop and returns the session end reason.
// The source is released before returning.
func (s *Sensor) consume(ctx context.Context, run *sessionRun) string {
	defer func() {
		if err := run.source.Stop(); err != nil {
			slog.Warn("core: failed to release source", "session_id", run.id, "error", err)
		}
	}()

	slog.Info("core: detection loop started", "session_id", run.id, "read_timeout", s.cfg.ReadTimeout)

	var timeout <-chan time.Time
	var timer *time.Timer
	if s.cfg.ReadTimeout > 0 {
		timer = time.NewTimer(s.cfg.ReadTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	var frameCount uint64
	lastLog := time.Now()

	for {
		// stop is honoured only between frames
		if run.stop.Load() {
			slog.Info("core: detection loop stopping", "session_id", run.id, "frames", frameCount)
			return types.EndReasonStopped
		}
		if timer != nil {
			timer.Reset(s.cfg.ReadTimeout)
		}

		select {
		case <-run.stopCh:
			slog.Info("core: detection loop stopping", "session_id", run.id, "frames", frameCount)
			return types.EndReasonStopped

		case <-ctx.Done():
			slog.Info("core: detection loop cancelled", "session_id", run.id, "frames", frameCount)
			return types.EndReasonShutdown

		case <-timeout:
			slog.Warn("core: frame source stalled",
				"session_id", run.id,
				"read_timeout", s.cfg.ReadTimeout,
				"frames", frameCount)
			return types.EndReasonStreamStalled

		case frame, ok := <-run.frames:
			if !ok {
				slog.Info("core: stream ended", "session_id", run.id, "frames", frameCount)
				return types.EndReasonStreamEnded
			}

			frameCount++
			s.processFrame(ctx, run, frame)

			if time.Since(lastLog) >= statsLogInterval {
				st := s.LoopStats()
				slog.Debug("core: loop stats",
					"session_id", run.id,
					"frames_processed", st.FramesProcessed,
					"drowsy_frames", st.DrowsyFrames,
					"avg_processing_ms", st.AvgProcessingMS,
					"fps_real", st.FPSReal,
					"last_seq", frame.Seq,
				)
				lastLog = time.Now()
			}
		}
	}
}

// processFrame runs one frame through detection, classification, the
// tracker and annotation, then publishes the result
func (s *Sensor) processFrame(ctx context.Context, run *sessionRun, frame types.Frame) {
	start := time.Now()

	faces, err := s.deps.Detector.Detect(ctx, frame)
	if err != nil {
		s.stats.landmarkErrors.Add(1)
		slog.Warn("core: landmark detection failed",
			"session_id", run.id,
			"seq", frame.Seq,
			"trace_id", frame.TraceID,
			"error", err)
		faces = nil
	}

	verdicts := s.deps.Classifier.Classify(faces)

	drowsy := false
	for _, v := range verdicts {
		if err := s.deps.Tracker.RecordFrame(v.IsDrowsy); err != nil {
			slog.Warn("core: record frame rejected", "session_id", run.id, "error", err)
			continue
		}
		if v.IsDrowsy {
			drowsy = true
			s.publishEvent(events.Event{
				Type:           events.TypeFocusLost,
				SessionID:      run.id,
				Timestamp:      frame.Timestamp,
				FrameSeq:       frame.Seq,
				AverageEAR:     v.AverageEAR,
				FocusLossCount: s.deps.Tracker.State().FocusLossCount,
			})
		}
	}

	annotated, err := s.deps.Annotator.Annotate(frame, verdicts)
	if err != nil {
		s.stats.annotateErrors.Add(1)
		slog.Warn("core: annotation failed", "session_id", run.id, "seq", frame.Seq, "error", err)
		annotated, _ = passthroughAnnotator{}.Annotate(frame, verdicts)
	}
	annotated.SessionID = run.id

	if s.deps.Frames != nil {
		s.deps.Frames.Publish(&annotated)
	}

	s.stats.record(len(faces), drowsy, time.Since(start))
}
