package types

import "time"

// FrameVerdict is the classification of one face in one frame.
// Created once per processed face, never mutated.
type FrameVerdict struct {
	IsDrowsy        bool      `json:"is_drowsy"`
	AverageEAR      float64   `json:"average_ear"`
	LeftEAR         float64   `json:"left_ear"`
	RightEAR        float64   `json:"right_ear"`
	LeftEyeContour  []Segment `json:"left_eye_contour,omitempty"`
	RightEyeContour []Segment `json:"right_eye_contour,omitempty"`
}

// SessionSummary is the final result of a session, derived once at stop
type SessionSummary struct {
	SessionID       string    `json:"session_id"`
	DurationSeconds int       `json:"duration_seconds"`
	WeightedLoss    int       `json:"weighted_loss"`
	FocusScore      int       `json:"focus_score"`
	FocusLossCount  int       `json:"focus_loss_count"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	EndReason       string    `json:"end_reason,omitempty"`
}

// Session end reasons
const (
	EndReasonStopped       = "stopped"
	EndReasonStreamEnded   = "stream_ended"
	EndReasonStreamStalled = "stream_stalled"
	EndReasonShutdown      = "shutdown"
)

// DrowsyOverlayText is drawn on frames with at least one drowsy face
const DrowsyOverlayText = "DROWSINESS DETECTED"

// OverlayLines returns the warning texts for a frame: none when every
// face is alert, otherwise the drowsiness banner followed by alertText.
func OverlayLines(verdicts []FrameVerdict, alertText string) []string {
	for _, v := range verdicts {
		if v.IsDrowsy {
			if alertText == "" {
				return []string{DrowsyOverlayText}
			}
			return []string{DrowsyOverlayText, alertText}
		}
	}
	return nil
}
