package core

import (
	"sync"
	"sync/atomic"
	"time"
)

// LoopStats counts detection loop activity across sessions
type LoopStats struct {
	SessionsStarted uint64    `json:"sessions_started"`
	FramesProcessed uint64    `json:"frames_processed"`
	FacesSeen       uint64    `json:"faces_seen"`
	DrowsyFrames    uint64    `json:"drowsy_frames"`
	LandmarkErrors  uint64    `json:"landmark_errors"`
	AnnotateErrors  uint64    `json:"annotate_errors"`
	AvgProcessingMS float64   `json:"avg_processing_ms"`
	FPSReal         float64   `json:"fps_real"`
	LastFrameAt     time.Time `json:"last_frame_at"`
}

type loopStats struct {
	sessionsStarted atomic.Uint64
	framesProcessed atomic.Uint64
	facesSeen       atomic.Uint64
	drowsyFrames    atomic.Uint64
	landmarkErrors  atomic.Uint64
	annotateErrors  atomic.Uint64
	totalProcessing atomic.Int64 // nanoseconds

	mu          sync.Mutex
	lastFrameAt time.Time
	fpsEMA      float64
}

func (l *loopStats) record(faces int, drowsy bool, took time.Duration) {
	l.framesProcessed.Add(1)
	l.facesSeen.Add(uint64(faces))
	if drowsy {
		l.drowsyFrames.Add(1)
	}
	l.totalProcessing.Add(int64(took))

	now := time.Now()
	l.mu.Lock()
	if !l.lastFrameAt.IsZero() {
		if dt := now.Sub(l.lastFrameAt).Seconds(); dt > 0 {
			fps := 1 / dt
			if l.fpsEMA == 0 {
				l.fpsEMA = fps
			} else {
				l.fpsEMA = 0.9*l.fpsEMA + 0.1*fps
			}
		}
	}
	l.lastFrameAt = now
	l.mu.Unlock()
}

// LoopStats returns a snapshot of the loop counters
func (s *Sensor) LoopStats() LoopStats {
	l := &s.stats
	frames := l.framesProcessed.Load()

	st := LoopStats{
		SessionsStarted: l.sessionsStarted.Load(),
		FramesProcessed: frames,
		FacesSeen:       l.facesSeen.Load(),
		DrowsyFrames:    l.drowsyFrames.Load(),
		LandmarkErrors:  l.landmarkErrors.Load(),
		AnnotateErrors:  l.annotateErrors.Load(),
	}
	if frames > 0 {
		st.AvgProcessingMS = float64(l.totalProcessing.Load()) / float64(frames) / float64(time.Millisecond)
	}

	l.mu.Lock()
	st.FPSReal = l.fpsEMA
	st.LastFrameAt = l.lastFrameAt
	l.mu.Unlock()

	return st
}
