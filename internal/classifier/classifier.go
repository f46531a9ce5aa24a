// Package classifier turns detected faces into per-frame drowsiness verdicts.
package classifier

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/e7canasta/focus-sensor/internal/geometry"
	"github.com/e7canasta/focus-sensor/internal/types"
)

// Defaults
const (
	DefaultEARThreshold  = 0.15
	DefaultRoundDecimals = 2
)

// Config holds classification parameters
type Config struct {
	// EARThreshold: average EAR strictly below this is drowsy
	EARThreshold float64
	// RoundDecimals applied to the average EAR before thresholding.
	// Values below 1 select DefaultRoundDecimals.
	RoundDecimals int
}

// Stats counts faces seen by a Classifier
type Stats struct {
	FacesClassified uint64
	DrowsyVerdicts  uint64
	InvalidFaces    uint64 // wrong landmark count
	DegenerateFaces uint64 // zero-width eye
}

// Classifier classifies faces. Safe for concurrent use.
type Classifier struct {
	threshold float64
	decimals  int

	classified atomic.Uint64
	drowsy     atomic.Uint64
	invalid    atomic.Uint64
	degenerate atomic.Uint64
}

// New creates a Classifier, filling zero values with defaults
func New(cfg Config) *Classifier {
	if cfg.EARThreshold <= 0 {
		cfg.EARThreshold = DefaultEARThreshold
	}
	if cfg.RoundDecimals <= 0 {
		cfg.RoundDecimals = DefaultRoundDecimals
	}
	return &Classifier{
		threshold: cfg.EARThreshold,
		decimals:  cfg.RoundDecimals,
	}
}

// Threshold returns the configured EAR threshold
func (c *Classifier) Threshold() float64 {
	return c.threshold
}

// Classify returns one verdict per usable face, in input order.
//
// Faces without a full landmark set, or with a degenerate eye, are skipped
// for this frame. An empty input yields an empty, non-nil slice.
func (c *Classifier) Classify(faces []types.Face) []types.FrameVerdict {
	verdicts := make([]types.FrameVerdict, 0, len(faces))

	for i, face := range faces {
		if !face.Valid() {
			c.invalid.Add(1)
			slog.Debug("classifier: skipping face with incomplete landmarks",
				"face_index", i,
				"points", len(face.Points),
			)
			continue
		}

		v, err := c.classifyFace(face)
		if err != nil {
			if errors.Is(err, geometry.ErrDegenerateEye) {
				c.degenerate.Add(1)
			}
			slog.Debug("classifier: skipping face", "face_index", i, "error", err)
			continue
		}

		c.classified.Add(1)
		if v.IsDrowsy {
			c.drowsy.Add(1)
		}
		verdicts = append(verdicts, v)
	}

	return verdicts
}

func (c *Classifier) classifyFace(face types.Face) (types.FrameVerdict, error) {
	right := face.RightEye()
	left := face.LeftEye()

	rightEAR, err := geometry.EyeAspectRatio(right)
	if err != nil {
		return types.FrameVerdict{}, err
	}
	leftEAR, err := geometry.EyeAspectRatio(left)
	if err != nil {
		return types.FrameVerdict{}, err
	}

	avg := geometry.Round((leftEAR+rightEAR)/2, c.decimals)

	return types.FrameVerdict{
		IsDrowsy:        avg < c.threshold,
		AverageEAR:      avg,
		LeftEAR:         leftEAR,
		RightEAR:        rightEAR,
		LeftEyeContour:  left.Contour(),
		RightEyeContour: right.Contour(),
	}, nil
}

// Stats returns a snapshot of the classification counters
func (c *Classifier) Stats() Stats {
	return Stats{
		FacesClassified: c.classified.Load(),
		DrowsyVerdicts:  c.drowsy.Load(),
		InvalidFaces:    c.invalid.Load(),
		DegenerateFaces: c.degenerate.Load(),
	}
}

// AnyDrowsy reports whether at least one verdict is drowsy
func AnyDrowsy(verdicts []types.FrameVerdict) bool {
	for _, v := range verdicts {
		if v.IsDrowsy {
			return true
		}
	}
	return false
}
