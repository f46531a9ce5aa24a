// Package render draws eye contours and warnings onto frames and encodes
// them as JPEG for viewers.
package render

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/e7canasta/focus-sensor/internal/types"
)

// Drawing style
var (
	RightEyeColor = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	LeftEyeColor  = color.RGBA{R: 0, G: 255, B: 255, A: 255}
	WarningColor  = color.RGBA{R: 210, G: 56, B: 21, A: 255}

	DrowsyTextOrigin = image.Pt(50, 100)
	AlertTextOrigin  = image.Pt(50, 450)
)

const (
	contourThickness = 1
	textScale        = 2.0
	textThickness    = 3
)

// Config for the annotator
type Config struct {
	// JPEGQuality 1-100 (default 80)
	JPEGQuality int
	// AlertText is drawn under the drowsiness banner
	AlertText string
}

// Annotator renders verdicts onto frames with OpenCV. Safe for
// concurrent use: every call works on its own Mat.
type Annotator struct {
	quality   int
	alertText string
}

// New creates an annotator
func New(cfg Config) *Annotator {
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 80
	}
	return &Annotator{quality: cfg.JPEGQuality, alertText: cfg.AlertText}
}

// Annotate draws both eye contours of every verdict, the warning texts
// when a face is drowsy, and returns the JPEG-encoded result.
// The source frame data is not modified.
func (a *Annotator) Annotate(frame types.Frame, verdicts []types.FrameVerdict) (types.AnnotatedFrame, error) {
	out := types.AnnotatedFrame{
		Seq:       frame.Seq,
		Timestamp: frame.Timestamp,
		Width:     frame.Width,
		Height:    frame.Height,
		Overlay:   types.OverlayLines(verdicts, a.alertText),
		Verdicts:  verdicts,
	}

	if len(frame.Data) != frame.Width*frame.Height*3 {
		return out, fmt.Errorf("render: frame %d has %d bytes, want %dx%dx3", frame.Seq, len(frame.Data), frame.Width, frame.Height)
	}

	data := make([]byte, len(frame.Data))
	copy(data, frame.Data)

	img, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, data)
	if err != nil {
		return out, fmt.Errorf("render: build mat: %w", err)
	}
	defer img.Close()

	for _, v := range verdicts {
		drawContour(&img, v.RightEyeContour, RightEyeColor)
		drawContour(&img, v.LeftEyeContour, LeftEyeColor)
	}

	origins := []image.Point{DrowsyTextOrigin, AlertTextOrigin}
	for i, line := range out.Overlay {
		if i >= len(origins) {
			break
		}
		gocv.PutText(&img, line, origins[i], gocv.FontHersheyPlain, textScale, WarningColor, textThickness)
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{int(gocv.IMWriteJpegQuality), a.quality})
	if err != nil {
		return out, fmt.Errorf("render: encode jpeg: %w", err)
	}
	defer buf.Close()

	encoded := buf.GetBytes()
	out.JPEG = make([]byte, len(encoded))
	copy(out.JPEG, encoded)

	return out, nil
}

func drawContour(img *gocv.Mat, segments []types.Segment, c color.RGBA) {
	for _, s := range segments {
		gocv.Line(img, toPixel(s.From), toPixel(s.To), c, contourThickness)
	}
}

func toPixel(p types.Point) image.Point {
	return image.Pt(int(p.X+0.5), int(p.Y+0.5))
}
