package landmark

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/e7canasta/focus-sensor/internal/types"
)

func TestCodec_RequestFraming(t *testing.T) {
	var buf bytes.Buffer
	req := request{Seq: 7, TraceID: "abc", Width: 2, Height: 1, FrameData: []byte{1, 2, 3, 4, 5, 6}}

	if err := writeMessage(&buf, req); err != nil {
		t.Fatalf("writeMessage() failed: %v", err)
	}

	length := binary.BigEndian.Uint32(buf.Bytes()[:4])
	if int(length) != buf.Len()-4 {
		t.Fatalf("length prefix = %d, payload = %d", length, buf.Len()-4)
	}

	var got request
	if err := readMessage(&buf, &got); err != nil {
		t.Fatalf("readMessage() failed: %v", err)
	}
	if got.Seq != 7 || got.TraceID != "abc" || !bytes.Equal(got.FrameData, req.FrameData) {
		t.Errorf("decoded request = %+v", got)
	}
}

func TestCodec_MultipleMessagesOnOneStream(t *testing.T) {
	var buf bytes.Buffer
	face := make([]types.Point, types.FaceLandmarkCount)
	face[36] = types.Point{X: 1.5, Y: 2.5}

	writeMessage(&buf, response{Seq: 1})
	writeMessage(&buf, response{Seq: 2, Faces: [][]types.Point{face}})

	var first, second response
	if err := readMessage(&buf, &first); err != nil {
		t.Fatalf("first readMessage() failed: %v", err)
	}
	if err := readMessage(&buf, &second); err != nil {
		t.Fatalf("second readMessage() failed: %v", err)
	}

	if first.Seq != 1 || len(first.Faces) != 0 {
		t.Errorf("first = %+v", first)
	}
	faces := toFaces(second.Faces)
	if len(faces) != 1 || !faces[0].Valid() {
		t.Fatalf("second faces = %+v", faces)
	}
	if faces[0].LeftEye()[0] != (types.Point{X: 1.5, Y: 2.5}) {
		t.Errorf("left eye corner = %+v", faces[0].LeftEye()[0])
	}
}

func TestCodec_RejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], MaxMessageSize+1)
	buf.Write(prefix[:])

	var resp response
	err := readMessage(&buf, &resp)
	if err == nil || !strings.Contains(err.Error(), "exceeds limit") {
		t.Fatalf("readMessage() error = %v, want size limit error", err)
	}
}

func TestCodec_TruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	writeMessage(&buf, response{Seq: 3})
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-1])

	var resp response
	if err := readMessage(truncated, &resp); err == nil {
		t.Fatal("readMessage() on truncated payload should fail")
	}
}
