package stream

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMockStream_FiniteStreamClosesChannel(t *testing.T) {
	m := NewMockStream(MockConfig{Width: 8, Height: 4, FPS: 200, MaxFrames: 5})

	frames, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer m.Stop()

	var got []uint64
	timeout := time.After(2 * time.Second)
	for done := false; !done; {
		select {
		case f, ok := <-frames:
			if !ok {
				done = true
				break
			}
			if len(f.Data) != 8*4*3 {
				t.Fatalf("frame data = %d bytes, want %d", len(f.Data), 8*4*3)
			}
			if f.TraceID == "" {
				t.Errorf("frame %d has no trace id", f.Seq)
			}
			got = append(got, f.Seq)
		case <-timeout:
			t.Fatal("stream never ended")
		}
	}

	if len(got) != 5 {
		t.Fatalf("received %d frames, want 5", len(got))
	}
	for i, seq := range got {
		if seq != uint64(i) {
			t.Errorf("frame %d has seq %d", i, seq)
		}
	}

	stats := m.Stats()
	if stats.FrameCount != 5 || stats.Resolution != "8x4" {
		t.Errorf("stats = %+v", stats)
	}
}

func TestMockStream_StopClosesChannelAndIsIdempotent(t *testing.T) {
	m := NewMockStream(MockConfig{FPS: 100})

	frames, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	<-frames
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("second Stop() failed: %v", err)
	}

	for range frames {
		// drain buffered frames until close
	}
	if m.Stats().IsConnected {
		t.Error("IsConnected should be false after Stop")
	}
}

func TestMockStream_StartTwice(t *testing.T) {
	m := NewMockStream(MockConfig{FPS: 10})
	if _, err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer m.Stop()

	if _, err := m.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestMockStream_Restart(t *testing.T) {
	m := NewMockStream(MockConfig{FPS: 100, MaxFrames: 1})

	for i := 0; i < 2; i++ {
		frames, err := m.Start(context.Background())
		if err != nil {
			t.Fatalf("run %d: Start() failed: %v", i, err)
		}
		for range frames {
		}
		m.Stop()
	}
}

func TestMockStream_ContextCancelEndsStream(t *testing.T) {
	m := NewMockStream(MockConfig{FPS: 50})
	ctx, cancel := context.WithCancel(context.Background())

	frames, err := m.Start(ctx)
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer m.Stop()
	cancel()

	select {
	case <-drain(frames):
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after context cancel")
	}
}

func drain[T any](ch <-chan T) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		for range ch {
		}
		close(done)
	}()
	return done
}
