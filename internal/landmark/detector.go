// Package landmark locates faces and their 68 landmark points in a frame.
package landmark

import (
	"context"
	"errors"

	"github.com/e7canasta/focus-sensor/internal/types"
)

// ErrNotStarted is returned by detectors used before Start
var ErrNotStarted = errors.New("landmark: detector not started")

// Detector returns the faces found in a frame, each with 68 points in
// iBUG-68 order. No faces is a valid result (empty slice, nil error).
type Detector interface {
	Detect(ctx context.Context, frame types.Frame) ([]types.Face, error)
}

// Metrics for a detector
type Metrics struct {
	Requests     uint64  `json:"requests"`
	Failures     uint64  `json:"failures"`
	FacesFound   uint64  `json:"faces_found"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
}
