// Package geometry computes eye openness from landmark points.
package geometry

import (
	"errors"
	"math"

	"github.com/e7canasta/focus-sensor/internal/types"
)

// ErrDegenerateEye is returned when the eye corners coincide (zero width).
// Detector artifact, not eye closure: callers skip the face for that frame.
var ErrDegenerateEye = errors.New("geometry: degenerate eye (zero horizontal distance)")

// EyeAspectRatio returns (|p1-p5| + |p2-p4|) / (2 * |p0-p3|).
//
// Pure and deterministic. Open eyes sit around 0.25-0.35, closed eyes
// approach 0. A perfectly round eye yields 1.0.
func EyeAspectRatio(eye types.EyeLandmarks) (float64, error) {
	a := Distance(eye[1], eye[5])
	b := Distance(eye[2], eye[4])
	c := Distance(eye[0], eye[3])

	if c == 0 {
		return 0, ErrDegenerateEye
	}

	return (a + b) / (2 * c), nil
}

// Distance is the Euclidean distance between two points
func Distance(p, q types.Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Round rounds v to the given number of decimals, half away from zero
func Round(v float64, decimals int) float64 {
	if decimals < 0 {
		return v
	}
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale
}
