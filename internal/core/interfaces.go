package core

import (
	"context"

	"github.com/e7canasta/focus-sensor/internal/events"
	"github.com/e7canasta/focus-sensor/internal/stream"
	"github.com/e7canasta/focus-sensor/internal/types"
)

// SourceFactory builds a fresh frame source for each session
type SourceFactory func() (stream.Source, error)

// LandmarkDetector finds faces and their 68 landmarks in a frame
type LandmarkDetector interface {
	Detect(ctx context.Context, frame types.Frame) ([]types.Face, error)
}

// Annotator draws verdicts onto a frame
type Annotator interface {
	Annotate(frame types.Frame, verdicts []types.FrameVerdict) (types.AnnotatedFrame, error)
}

// FramePublisher receives annotated frames. Publish must not block.
type FramePublisher interface {
	Publish(frame *types.AnnotatedFrame)
}

// EventPublisher receives session events. Publish must not block.
type EventPublisher interface {
	Publish(ev events.Event)
}
