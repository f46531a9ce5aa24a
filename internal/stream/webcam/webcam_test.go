package webcam

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestSource_StopWithoutStart(t *testing.T) {
	s := New(Config{Device: 0})

	if err := s.Stop(); err != nil {
		t.Errorf("Stop() on idle source: %v", err)
	}
	stats := s.Stats()
	if stats.IsConnected || stats.FrameCount != 0 {
		t.Errorf("idle stats = %+v", stats)
	}
	if stats.SourceStream != "webcam:0" {
		t.Errorf("SourceStream = %q", stats.SourceStream)
	}
}

func TestSource_CaptureFrames(t *testing.T) {
	if os.Getenv("FOCUS_WEBCAM_TEST") == "" {
		t.Skip("Skipping integration test (set FOCUS_WEBCAM_TEST=1 with a camera attached)")
	}

	s := New(Config{Device: 0, Width: 640, Height: 480})
	frames, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer s.Stop()

	select {
	case f := <-frames:
		if len(f.Data) != f.Width*f.Height*3 {
			t.Errorf("frame data = %d bytes for %dx%d", len(f.Data), f.Width, f.Height)
		}
		t.Logf("captured %dx%d frame seq=%d", f.Width, f.Height, f.Seq)
	case <-time.After(5 * time.Second):
		t.Fatal("no frame within 5s")
	}
}
