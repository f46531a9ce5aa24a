package types

// FaceLandmarkCount is the number of points in an iBUG-68 landmark set
const FaceLandmarkCount = 68

// Landmark index ranges (inclusive start, exclusive end) in the iBUG-68 convention.
const (
	LeftEyeStart  = 36
	LeftEyeEnd    = 42
	RightEyeStart = 42
	RightEyeEnd   = 48
)

// Point is a 2D image coordinate in pixels
type Point struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
}

// Segment is a line between two points, used to draw eye contours
type Segment struct {
	From Point `json:"from"`
	To   Point `json:"to"`
}

// EyeLandmarks holds the six points of one eye in detector order:
// 0 and 3 are the corners, 1 and 2 the upper lid, 4 and 5 the lower lid.
// The order must never be rewritten.
type EyeLandmarks [6]Point

// Face is one detected face as an ordered landmark set
type Face struct {
	// Points in iBUG-68 order; valid faces have exactly FaceLandmarkCount points
	Points []Point
}

// Valid reports whether the face carries a complete landmark set
func (f Face) Valid() bool {
	return len(f.Points) == FaceLandmarkCount
}

// LeftEye returns landmarks 36-41
func (f Face) LeftEye() EyeLandmarks {
	var eye EyeLandmarks
	copy(eye[:], f.Points[LeftEyeStart:LeftEyeEnd])
	return eye
}

// RightEye returns landmarks 42-47
func (f Face) RightEye() EyeLandmarks {
	var eye EyeLandmarks
	copy(eye[:], f.Points[RightEyeStart:RightEyeEnd])
	return eye
}

// Contour returns the closed outline of the eye: each consecutive pair
// plus a closing segment from the last point back to the first.
func (e EyeLandmarks) Contour() []Segment {
	segments := make([]Segment, len(e))
	for i := range e {
		segments[i] = Segment{From: e[i], To: e[(i+1)%len(e)]}
	}
	return segments
}
