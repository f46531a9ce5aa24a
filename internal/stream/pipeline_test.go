package stream

import (
	"strings"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		msg   string
		debug string
		want  ErrorCategory
	}{
		{"Unauthorized", "401", ErrCategoryAuth},
		{"Internal data stream error", "not negotiated", ErrCategoryCodec},
		{"Could not open resource", "Could not connect to server", ErrCategoryNetwork},
		{"Device '/dev/video0' is busy", "", ErrCategoryDevice},
		{"something odd", "", ErrCategoryUnknown},
	}

	for _, tt := range tests {
		if got := ClassifyError(tt.msg, tt.debug); got != tt.want {
			t.Errorf("ClassifyError(%q, %q) = %s, want %s", tt.msg, tt.debug, got, tt.want)
		}
	}

	if ErrCategoryAuth.Retryable() || !ErrCategoryNetwork.Retryable() {
		t.Error("only network/unknown errors should be retryable")
	}
}

func TestGstConfig_PipelineDescription(t *testing.T) {
	rtsp := GstConfig{URI: "rtsp://cam.local/stream", Width: 640, Height: 480, TargetFPS: 15}
	desc := rtsp.PipelineDescription()

	for _, want := range []string{
		`rtspsrc location="rtsp://cam.local/stream"`,
		"protocols=tcp",
		"format=BGR,width=640,height=480,framerate=15/1",
		"appsink name=sink",
		"drop=true",
	} {
		if !strings.Contains(desc, want) {
			t.Errorf("rtsp pipeline missing %q:\n%s", want, desc)
		}
	}

	file := GstConfig{URI: "/data/drive.mp4", Width: 320, Height: 240, TargetFPS: 0.5}
	desc = file.PipelineDescription()
	if !strings.HasPrefix(desc, `filesrc location="/data/drive.mp4"`) {
		t.Errorf("file pipeline = %s", desc)
	}
	if !strings.Contains(desc, "framerate=1/2") || !strings.Contains(desc, "drop=false") {
		t.Errorf("file pipeline caps/sink wrong: %s", desc)
	}
	if file.IsLive() {
		t.Error("file source reported live")
	}
}

func TestGstConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     GstConfig
		wantErr bool
	}{
		{"valid", GstConfig{URI: "a.mp4", Width: 1, Height: 1, TargetFPS: 1}, false},
		{"no uri", GstConfig{Width: 1, Height: 1, TargetFPS: 1}, true},
		{"bad size", GstConfig{URI: "a.mp4", TargetFPS: 1}, true},
		{"fps too high", GstConfig{URI: "a.mp4", Width: 1, Height: 1, TargetFPS: 120}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
