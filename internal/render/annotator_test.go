package render

import (
	"bytes"
	"image"
	"image/jpeg"
	"testing"

	"github.com/e7canasta/focus-sensor/internal/types"
)

func grayFrame(w, h int) types.Frame {
	data := make([]byte, w*h*3)
	for i := range data {
		data[i] = 40
	}
	return types.Frame{Seq: 9, Width: w, Height: h, Data: data}
}

func TestAnnotate_DrowsyFrame(t *testing.T) {
	a := New(Config{AlertText: "Alert! Wake up!"})
	frame := grayFrame(640, 480)
	original := append([]byte(nil), frame.Data...)

	eye := types.EyeLandmarks{{X: 300, Y: 200}, {X: 305, Y: 199}, {X: 315, Y: 199}, {X: 320, Y: 200}, {X: 315, Y: 201}, {X: 305, Y: 201}}
	verdicts := []types.FrameVerdict{{
		IsDrowsy:        true,
		AverageEAR:      0.1,
		RightEyeContour: eye.Contour(),
		LeftEyeContour:  eye.Contour(),
	}}

	out, err := a.Annotate(frame, verdicts)
	if err != nil {
		t.Fatalf("Annotate() failed: %v", err)
	}

	if len(out.Overlay) != 2 || out.Overlay[0] != types.DrowsyOverlayText {
		t.Errorf("Overlay = %v", out.Overlay)
	}
	if !bytes.Equal(frame.Data, original) {
		t.Error("Annotate() modified the source frame")
	}

	img, err := jpeg.Decode(bytes.NewReader(out.JPEG))
	if err != nil {
		t.Fatalf("output is not a JPEG: %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, 640, 480) {
		t.Errorf("decoded bounds = %v", img.Bounds())
	}
}

func TestAnnotate_AlertFrameHasNoOverlay(t *testing.T) {
	a := New(Config{AlertText: "x"})
	out, err := a.Annotate(grayFrame(64, 48), []types.FrameVerdict{{IsDrowsy: false}})
	if err != nil {
		t.Fatalf("Annotate() failed: %v", err)
	}
	if len(out.Overlay) != 0 {
		t.Errorf("Overlay = %v, want none", out.Overlay)
	}
	if len(out.JPEG) == 0 {
		t.Error("JPEG is empty")
	}
}

func TestAnnotate_RejectsShortBuffer(t *testing.T) {
	a := New(Config{})
	frame := types.Frame{Width: 10, Height: 10, Data: make([]byte, 20)}

	if _, err := a.Annotate(frame, nil); err == nil {
		t.Error("expected error for mismatched buffer size")
	}
}
