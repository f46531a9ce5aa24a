// Package webcam captures frames from a local camera through OpenCV.
package webcam

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/e7canasta/focus-sensor/internal/stream"
	"github.com/e7canasta/focus-sensor/internal/types"
)

// Config for a webcam source
type Config struct {
	// Device index (0 = default camera)
	Device int
	// Width and Height requested from the driver (0 = driver default)
	Width  int
	Height int
	// FPS requested from the driver (0 = driver default)
	FPS float64
}

// Source reads frames from a camera device.
// The device is opened by Start and released by Stop.
type Source struct {
	cfg Config

	mu      sync.Mutex
	capture *gocv.VideoCapture
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started time.Time
	width   int
	height  int

	frameCount     atomic.Uint64
	framesDropped  atomic.Uint64
	bytesRead      atomic.Uint64
	readErrors     atomic.Uint64
	lastFrameNanos atomic.Int64
}

// New creates a webcam source
func New(cfg Config) *Source {
	return &Source{cfg: cfg}
}

// Start opens the device. A device that cannot be opened is an error.
func (s *Source) Start(ctx context.Context) (<-chan types.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil, stream.ErrAlreadyRunning
	}

	capture, err := gocv.OpenVideoCapture(s.cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("webcam: open device %d: %w", s.cfg.Device, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("webcam: device %d could not be opened", s.cfg.Device)
	}

	capture.Set(gocv.VideoCaptureBufferSize, 1)
	if s.cfg.Width > 0 && s.cfg.Height > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(s.cfg.Width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(s.cfg.Height))
	}
	if s.cfg.FPS > 0 {
		capture.Set(gocv.VideoCaptureFPS, s.cfg.FPS)
	}
	s.width = int(capture.Get(gocv.VideoCaptureFrameWidth))
	s.height = int(capture.Get(gocv.VideoCaptureFrameHeight))

	runCtx, cancel := context.WithCancel(ctx)
	s.capture = capture
	s.cancel = cancel
	s.running = true
	s.started = time.Now()

	frames := make(chan types.Frame, 2)
	s.wg.Add(1)
	go s.readLoop(runCtx, capture, frames)

	slog.Info("stream: webcam opened",
		"device", s.cfg.Device,
		"resolution", fmt.Sprintf("%dx%d", s.width, s.height),
	)
	return frames, nil
}

// readLoop reads until the device stops delivering or ctx is cancelled
func (s *Source) readLoop(ctx context.Context, capture *gocv.VideoCapture, out chan<- types.Frame) {
	defer s.wg.Done()
	defer close(out)

	img := gocv.NewMat()
	defer img.Close()

	source := fmt.Sprintf("webcam:%d", s.cfg.Device)

	for {
		if ctx.Err() != nil {
			return
		}

		if ok := capture.Read(&img); !ok {
			s.readErrors.Add(1)
			slog.Info("stream: webcam returned no frame, ending stream", "device", s.cfg.Device)
			return
		}
		if img.Empty() {
			s.readErrors.Add(1)
			continue
		}

		data := img.ToBytes()
		seq := s.frameCount.Add(1)
		s.bytesRead.Add(uint64(len(data)))
		now := time.Now()
		s.lastFrameNanos.Store(now.UnixNano())

		frame := types.Frame{
			Seq:          seq,
			Timestamp:    now,
			Width:        img.Cols(),
			Height:       img.Rows(),
			Data:         data,
			SourceStream: source,
			TraceID:      uuid.New().String(),
		}

		select {
		case out <- frame:
		case <-ctx.Done():
			return
		default:
			s.framesDropped.Add(1)
		}
	}
}

// Stop ends capture and releases the device
func (s *Source) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	capture := s.capture
	s.capture = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	if err := capture.Close(); err != nil {
		return fmt.Errorf("webcam: release device: %w", err)
	}

	slog.Info("stream: webcam released",
		"device", s.cfg.Device,
		"frames", s.frameCount.Load(),
		"dropped", s.framesDropped.Load(),
	)
	return nil
}

// Stats returns capture statistics
func (s *Source) Stats() stream.Stats {
	s.mu.Lock()
	started, running := s.started, s.running
	w, h := s.width, s.height
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
		FPSTarget:     s.cfg.FPS,
		FPSReal:       fpsReal,
		LatencyMS:     latency,
		SourceStream:  fmt.Sprintf("webcam:%d", s.cfg.Device),
		Resolution:    fmt.Sprintf("%dx%d", w, h),
		BytesRead:     s.bytesRead.Load(),
		IsConnected:   running,
		Errors:        s.readErrors.Load(),
	}
}
