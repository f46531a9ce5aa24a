package classifier

import (
	"testing"

	"github.com/e7canasta/focus-sensor/internal/types"
)

// syntheticFace builds a 68-point face whose eyes have the given lid offsets.
// Eye width is 20px so EAR = lid/10 for each eye.
func syntheticFace(leftLid, rightLid float64) types.Face {
	points := make([]types.Point, types.FaceLandmarkCount)
	for i := range points {
		points[i] = types.Point{X: float64(i), Y: float64(i)}
	}
	setEye(points[types.LeftEyeStart:types.LeftEyeEnd], 100, 100, leftLid)
	setEye(points[types.RightEyeStart:types.RightEyeEnd], 200, 100, rightLid)
	return types.Face{Points: points}
}

func setEye(dst []types.Point, cx, cy, lid float64) {
	dst[0] = types.Point{X: cx - 10, Y: cy}
	dst[1] = types.Point{X: cx - 5, Y: cy - lid}
	dst[2] = types.Point{X: cx + 5, Y: cy - lid}
	dst[3] = types.Point{X: cx + 10, Y: cy}
	dst[4] = types.Point{X: cx + 5, Y: cy + lid}
	dst[5] = types.Point{X: cx - 5, Y: cy + lid}
}

func TestClassify_Empty(t *testing.T) {
	c := New(Config{})

	verdicts := c.Classify(nil)
	if verdicts == nil {
		t.Fatal("Classify(nil) returned nil, want empty slice")
	}
	if len(verdicts) != 0 {
		t.Fatalf("Classify(nil) returned %d verdicts, want 0", len(verdicts))
	}
}

func TestClassify_Threshold(t *testing.T) {
	tests := []struct {
		name       string
		leftLid    float64
		rightLid   float64
		wantEAR    float64
		wantDrowsy bool
	}{
		{"open eyes", 3, 3, 0.3, false},
		{"closed eyes", 0.5, 0.5, 0.05, true},
		{"at threshold is alert", 1.5, 1.5, 0.15, false},
		{"one eye closed", 0.2, 2.4, 0.13, true},
		{"rounds up to threshold", 1.46, 1.46, 0.15, false},
	}

	c := New(Config{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdicts := c.Classify([]types.Face{syntheticFace(tt.leftLid, tt.rightLid)})
			if len(verdicts) != 1 {
				t.Fatalf("got %d verdicts, want 1", len(verdicts))
			}
			v := verdicts[0]
			if v.AverageEAR != tt.wantEAR {
				t.Errorf("AverageEAR = %v, want %v", v.AverageEAR, tt.wantEAR)
			}
			if v.IsDrowsy != tt.wantDrowsy {
				t.Errorf("IsDrowsy = %v, want %v", v.IsDrowsy, tt.wantDrowsy)
			}
		})
	}
}

func TestClassify_Contours(t *testing.T) {
	c := New(Config{})
	face := syntheticFace(3, 3)

	v := c.Classify([]types.Face{face})[0]

	if len(v.LeftEyeContour) != 6 || len(v.RightEyeContour) != 6 {
		t.Fatalf("contour lengths = %d/%d, want 6/6", len(v.LeftEyeContour), len(v.RightEyeContour))
	}

	// Closing segment runs from the last eye point back to the first
	right := face.Points[types.RightEyeStart:types.RightEyeEnd]
	last := v.RightEyeContour[5]
	if last.From != right[5] || last.To != right[0] {
		t.Errorf("closing segment = %+v, want %v -> %v", last, right[5], right[0])
	}
	if v.RightEyeContour[0].From != right[0] || v.RightEyeContour[0].To != right[1] {
		t.Errorf("first segment = %+v", v.RightEyeContour[0])
	}
}

func TestClassify_SkipsUnusableFaces(t *testing.T) {
	c := New(Config{})

	degenerate := syntheticFace(3, 3)
	for i := types.LeftEyeStart; i < types.LeftEyeEnd; i++ {
		degenerate.Points[i] = types.Point{X: 100, Y: 100}
	}
	partial := types.Face{Points: make([]types.Point, 5)}

	faces := []types.Face{partial, syntheticFace(0.5, 0.5), degenerate, syntheticFace(3, 3)}
	verdicts := c.Classify(faces)

	if len(verdicts) != 2 {
		t.Fatalf("got %d verdicts, want 2", len(verdicts))
	}
	if !verdicts[0].IsDrowsy || verdicts[1].IsDrowsy {
		t.Errorf("verdict order not preserved: %+v", verdicts)
	}

	stats := c.Stats()
	if stats.InvalidFaces != 1 {
		t.Errorf("InvalidFaces = %d, want 1", stats.InvalidFaces)
	}
	if stats.DegenerateFaces != 1 {
		t.Errorf("DegenerateFaces = %d, want 1", stats.DegenerateFaces)
	}
	if stats.FacesClassified != 2 || stats.DrowsyVerdicts != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestClassify_CustomThreshold(t *testing.T) {
	c := New(Config{EARThreshold: 0.25, RoundDecimals: 2})

	verdicts := c.Classify([]types.Face{syntheticFace(2, 2)})
	if !verdicts[0].IsDrowsy {
		t.Errorf("EAR 0.2 should be drowsy with threshold 0.25")
	}
	if !AnyDrowsy(verdicts) {
		t.Errorf("AnyDrowsy() = false, want true")
	}
}
