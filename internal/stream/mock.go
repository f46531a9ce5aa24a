package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/focus-sensor/internal/types"
)

// MockConfig configures a MockStream
type MockConfig struct {
	Width  int
	Height int
	FPS    int
	// MaxFrames ends the stream after this many frames (0 = endless)
	MaxFrames uint64
	Source    string
}

// MockStream generates synthetic BGR frames at a fixed rate
type MockStream struct {
	cfg MockConfig

	framesCh chan types.Frame
	stopCh   chan struct{}
	wg       sync.WaitGroup

	mu            sync.RWMutex
	seq           uint64
	framesEmitted uint64
	lastFrameAt   time.Time
	isRunning     bool
	startTime     time.Time
	stopOnce      sync.Once
}

// NewMockStream creates a new mock stream provider
func NewMockStream(cfg MockConfig) *MockStream {
	if cfg.Width <= 0 {
		cfg.Width = 640
	}
	if cfg.Height <= 0 {
		cfg.Height = 480
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 15
	}
	if cfg.Source == "" {
		cfg.Source = "mock"
	}
	return &MockStream{cfg: cfg}
}

// Start begins generating frames
func (m *MockStream) Start(ctx context.Context) (<-chan types.Frame, error) {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	m.isRunning = true
	m.startTime = time.Now()
	m.framesEmitted = 0
	m.framesCh = make(chan types.Frame, 10)
	m.stopCh = make(chan struct{})
	m.stopOnce = sync.Once{}
	m.mu.Unlock()

	slog.Info("stream: mock starting",
		"width", m.cfg.Width,
		"height", m.cfg.Height,
		"fps", m.cfg.FPS,
		"max_frames", m.cfg.MaxFrames,
	)

	m.wg.Add(1)
	go m.generateFrames(ctx, m.framesCh, m.stopCh)

	return m.framesCh, nil
}

// Stop stops the stream and waits for the generator to exit
func (m *MockStream) Stop() error {
	m.mu.RLock()
	running := m.isRunning
	stopCh := m.stopCh
	m.mu.RUnlock()
	if !running {
		return nil
	}

	m.stopOnce.Do(func() { close(stopCh) })
	m.wg.Wait()

	m.mu.Lock()
	m.isRunning = false
	emitted := m.framesEmitted
	m.mu.Unlock()

	slog.Info("stream: mock stopped",
		"frames_emitted", emitted,
		"duration", time.Since(m.startTime),
	)
	return nil
}

// Stats returns stream statistics
func (m *MockStream) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var fpsReal float64
	var latency int64
	if m.framesEmitted > 0 {
		if elapsed := time.Since(m.startTime).Seconds(); elapsed > 0 {
			fpsReal = float64(m.framesEmitted) / elapsed
		}
		latency = time.Since(m.lastFrameAt).Milliseconds()
	}

	return Stats{
		FrameCount:   m.framesEmitted,
		FPSTarget:    float64(m.cfg.FPS),
		FPSReal:      fpsReal,
		LatencyMS:    latency,
		SourceStream: m.cfg.Source,
		Resolution:   fmt.Sprintf("%dx%d", m.cfg.Width, m.cfg.Height),
		BytesRead:    m.framesEmitted * uint64(m.cfg.Width*m.cfg.Height*3),
		IsConnected:  m.isRunning,
	}
}

// generateFrames emits frames at the target FPS and closes out when done
func (m *MockStream) generateFrames(ctx context.Context, out chan types.Frame, stopCh chan struct{}) {
	defer m.wg.Done()
	defer close(out)

	ticker := time.NewTicker(time.Second / time.Duration(m.cfg.FPS))
	defer ticker.Stop()

	var emitted uint64
	for {
		if m.cfg.MaxFrames > 0 && emitted >= m.cfg.MaxFrames {
			slog.Info("stream: mock reached max frames", "frames", emitted)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
		}

		frame := m.createFrame()
		select {
		case out <- frame:
			emitted++
			m.mu.Lock()
			m.framesEmitted++
			m.lastFrameAt = frame.Timestamp
			m.mu.Unlock()
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		}
	}
}

// createFrame creates a gray BGR24 frame with a moving bright column
func (m *MockStream) createFrame() types.Frame {
	m.mu.Lock()
	seq := m.seq
	m.seq++
	m.mu.Unlock()

	w, h := m.cfg.Width, m.cfg.Height
	data := make([]byte, w*h*3)
	for i := range data {
		data[i] = 64
	}
	col := int(seq % uint64(w))
	for y := 0; y < h; y++ {
		off := (y*w + col) * 3
		data[off], data[off+1], data[off+2] = 255, 255, 255
	}

	return types.Frame{
		Seq:          seq,
		Timestamp:    time.Now(),
		Width:        w,
		Height:       h,
		Data:         data,
		SourceStream: m.cfg.Source,
		TraceID:      uuid.New().String(),
	}
}
