package landmark

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/focus-sensor/internal/types"
)

// MaxMessageSize bounds one framed message (a 1080p BGR frame is ~6MB)
const MaxMessageSize = 32 << 20

// request is sent to the worker for each frame
type request struct {
	Seq       uint64 `msgpack:"seq"`
	TraceID   string `msgpack:"trace_id"`
	Width     int    `msgpack:"width"`
	Height    int    `msgpack:"height"`
	FrameData []byte `msgpack:"frame_data"` // raw BGR24, no base64
}

// response is produced by the worker for each request
type response struct {
	Seq       uint64          `msgpack:"seq"`
	Faces     [][]types.Point `msgpack:"faces"`
	Error     string          `msgpack:"error,omitempty"`
	LatencyMS float64         `msgpack:"latency_ms"`
}

// writeMessage writes v as msgpack with a 4-byte big-endian length prefix
func writeMessage(w io.Writer, v interface{}) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal msgpack message: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("message too large: %d bytes", len(data))
	}

	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(data)))
	copy(buf[4:], data)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// readMessage reads one length-prefixed msgpack message into v
func readMessage(r io.Reader, v interface{}) error {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return err
	}

	n := binary.BigEndian.Uint32(lengthBuf[:])
	if n > MaxMessageSize {
		return fmt.Errorf("message length %d exceeds limit", n)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("failed to read msgpack data (expected %d bytes): %w", n, err)
	}

	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal msgpack message: %w", err)
	}
	return nil
}

func toFaces(raw [][]types.Point) []types.Face {
	faces := make([]types.Face, 0, len(raw))
	for _, pts := range raw {
		faces = append(faces, types.Face{Points: pts})
	}
	return faces
}
