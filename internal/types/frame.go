package types

import "time"

// Frame represents a single raw video frame
type Frame struct {
	// Seq is the monotonic sequence number assigned by the source
	Seq uint64
	// Timestamp is when the frame was captured/decoded
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Data contains the pixel data (BGR24, row-major, Width*Height*3 bytes)
	Data []byte
	// SourceStream identifies the source (e.g., "webcam:0", "rtsp", "mock")
	SourceStream string
	// TraceID is a unique identifier for following one frame through the pipeline
	TraceID string
}

// AnnotatedFrame is a processed frame ready for presentation.
//
// Immutable after publication: viewers share the same value.
type AnnotatedFrame struct {
	// Seq of the source frame
	Seq uint64
	// Timestamp of the source frame
	Timestamp time.Time
	// SessionID of the session that processed the frame
	SessionID string
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// JPEG holds the encoded image with eye contours and overlay drawn in
	JPEG []byte
	// Overlay lists the warning texts drawn on this frame (empty when alert)
	Overlay []string
	// Verdicts are the per-face classifications for this frame
	Verdicts []FrameVerdict
}

// Drowsy reports whether any face in the frame was classified drowsy
func (f *AnnotatedFrame) Drowsy() bool {
	for _, v := range f.Verdicts {
		if v.IsDrowsy {
			return true
		}
	}
	return false
}
