package gstsource

import (
	"testing"

	"github.com/e7canasta/focus-sensor/internal/stream"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     stream.GstConfig
		wantErr bool
	}{
		{"rtsp", stream.GstConfig{URI: "rtsp://10.0.0.5/cam", Width: 640, Height: 480, TargetFPS: 10}, false},
		{"file", stream.GstConfig{URI: "testdata/drive.mp4", Width: 640, Height: 480, TargetFPS: 10}, false},
		{"missing uri", stream.GstConfig{Width: 640, Height: 480, TargetFPS: 10}, true},
		{"zero fps", stream.GstConfig{URI: "rtsp://x", Width: 640, Height: 480}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, stream.DefaultReconnectConfig())
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_FileSourcesDoNotReconnect(t *testing.T) {
	s, err := New(stream.GstConfig{URI: "clip.mkv", Width: 320, Height: 240, TargetFPS: 5}, stream.DefaultReconnectConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if s.reconnect.MaxRetries != 0 {
		t.Errorf("MaxRetries = %d, want 0 for files", s.reconnect.MaxRetries)
	}
	if s.sourceName != "file" {
		t.Errorf("sourceName = %q, want file", s.sourceName)
	}

	live, _ := New(stream.GstConfig{URI: "rtsp://cam", Width: 320, Height: 240, TargetFPS: 5}, stream.DefaultReconnectConfig())
	if live.reconnect.MaxRetries != 5 {
		t.Errorf("live MaxRetries = %d, want 5", live.reconnect.MaxRetries)
	}
}

func TestStop_NotStarted(t *testing.T) {
	s, _ := New(stream.GstConfig{URI: "rtsp://cam", Width: 320, Height: 240, TargetFPS: 5}, stream.DefaultReconnectConfig())
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() on idle source: %v", err)
	}
	if s.Stats().IsConnected {
		t.Error("idle source reported connected")
	}
}
