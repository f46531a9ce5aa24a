package landmark

import (
	"context"
	"testing"

	"github.com/e7canasta/focus-sensor/internal/geometry"
	"github.com/e7canasta/focus-sensor/internal/types"
)

func TestSyntheticDetector_ClosesEyesPeriodically(t *testing.T) {
	d := NewSyntheticDetector(10, 2)
	ctx := context.Background()

	closed := 0
	for seq := uint64(0); seq < 30; seq++ {
		faces, err := d.Detect(ctx, types.Frame{Seq: seq, Width: 640, Height: 480})
		if err != nil {
			t.Fatalf("Detect() failed: %v", err)
		}
		if len(faces) != 1 || !faces[0].Valid() {
			t.Fatalf("seq %d: want one valid face", seq)
		}

		ear, err := geometry.EyeAspectRatio(faces[0].RightEye())
		if err != nil {
			t.Fatalf("EyeAspectRatio() failed: %v", err)
		}
		if ear < 0.15 {
			closed++
		}
	}

	if closed != 6 {
		t.Errorf("closed frames = %d, want 6", closed)
	}
	if d.Metrics().Requests != 30 {
		t.Errorf("Requests = %d, want 30", d.Metrics().Requests)
	}
}

func TestSyntheticDetector_CancelledContext(t *testing.T) {
	d := NewSyntheticDetector(0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := d.Detect(ctx, types.Frame{}); err == nil {
		t.Error("Detect() with cancelled context should fail")
	}
}
