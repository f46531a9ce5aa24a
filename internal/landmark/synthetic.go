package landmark

import (
	"context"
	"sync/atomic"

	"github.com/e7canasta/focus-sensor/internal/types"
)

// SyntheticDetector fabricates one face per frame without any model.
// Within every Period frames the last ClosedFrames have closed eyes.
// Used with the mock source for demos and pipeline tests.
type SyntheticDetector struct {
	Period       uint64
	ClosedFrames uint64

	requests atomic.Uint64
}

// NewSyntheticDetector returns a detector that closes the eyes for
// closed out of every period frames
func NewSyntheticDetector(period, closed uint64) *SyntheticDetector {
	if period == 0 {
		period = 30
	}
	if closed > period {
		closed = period
	}
	return &SyntheticDetector{Period: period, ClosedFrames: closed}
}

// Detect returns a single face centered in the frame
func (d *SyntheticDetector) Detect(ctx context.Context, frame types.Frame) ([]types.Face, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.requests.Add(1)

	lid := 4.0 // EAR 0.4
	if d.Period > 0 && frame.Seq%d.Period >= d.Period-d.ClosedFrames {
		lid = 0.5 // EAR 0.05
	}

	cx, cy := float64(frame.Width)/2, float64(frame.Height)/2
	if frame.Width == 0 {
		cx, cy = 320, 240
	}

	return []types.Face{SyntheticFace(cx, cy, lid)}, nil
}

// Metrics returns request counts
func (d *SyntheticDetector) Metrics() Metrics {
	n := d.requests.Load()
	return Metrics{Requests: n, FacesFound: n}
}

// SyntheticFace builds a 68-point face around (cx, cy) whose eyes are
// 20px wide with the given lid offset, giving EAR = lid/10 per eye.
func SyntheticFace(cx, cy, lid float64) types.Face {
	points := make([]types.Point, types.FaceLandmarkCount)
	for i := range points {
		points[i] = types.Point{X: cx, Y: cy + 40}
	}
	placeEye(points[types.LeftEyeStart:types.LeftEyeEnd], cx-30, cy, lid)
	placeEye(points[types.RightEyeStart:types.RightEyeEnd], cx+30, cy, lid)
	return types.Face{Points: points}
}

func placeEye(dst []types.Point, cx, cy, lid float64) {
	dst[0] = types.Point{X: cx - 10, Y: cy}
	dst[1] = types.Point{X: cx - 5, Y: cy - lid}
	dst[2] = types.Point{X: cx + 5, Y: cy - lid}
	dst[3] = types.Point{X: cx + 10, Y: cy}
	dst[4] = types.Point{X: cx + 5, Y: cy + lid}
	dst[5] = types.Point{X: cx - 5, Y: cy + lid}
}
