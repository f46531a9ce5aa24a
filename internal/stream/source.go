// Package stream acquires video frames from a camera, a network stream,
// a file or a synthetic generator.
package stream

import (
	"context"
	"errors"

	"github.com/e7canasta/focus-sensor/internal/types"
)

// ErrAlreadyRunning is returned by Start on a running source
var ErrAlreadyRunning = errors.New("stream: already running")

// Source is the frame acquisition contract.
//
// Implementations must guarantee:
//   - Start returns once the device is open; failure to open is an error
//   - the returned channel is closed when the stream ends (EOF, EOS,
//     unrecoverable error) or after Stop
//   - Stop is idempotent and releases the device
//   - Stats is safe to call from any goroutine
type Source interface {
	Start(ctx context.Context) (<-chan types.Frame, error)
	Stop() error
	Stats() Stats
}

// Stats contains current stream statistics
type Stats struct {
	FrameCount    uint64  `json:"frame_count"`
	FramesDropped uint64  `json:"frames_dropped"`
	FPSTarget     float64 `json:"fps_target"`
	FPSReal       float64 `json:"fps_real"`
	LatencyMS     int64   `json:"latency_ms"` // time since last frame
	SourceStream  string  `json:"source_stream"`
	Resolution    string  `json:"resolution"`
	Reconnects    uint32  `json:"reconnects"`
	BytesRead     uint64  `json:"bytes_read"`
	IsConnected   bool    `json:"is_connected"`
	Errors        uint64  `json:"errors"`
}
