package session

import (
	"math"
	"time"
)

// Scoring constants
const (
	// SecondsPerDurationPoint: one duration point per 10 seconds of session
	SecondsPerDurationPoint = 10.0
	// LossWeight is the penalty per focus-loss event
	LossWeight = 10
)

// Score derives the session score from elapsed time and focus-loss count.
//
// durationSeconds = round(elapsed / 10s), half to even
// weightedLoss    = losses * 10
// focusScore      = durationSeconds - weightedLoss
//
// Negative scores are valid.
func Score(elapsed time.Duration, losses int) (durationSeconds, weightedLoss, focusScore int) {
	if elapsed < 0 {
		elapsed = 0
	}
	durationSeconds = int(math.RoundToEven(elapsed.Seconds() / SecondsPerDurationPoint))
	weightedLoss = losses * LossWeight
	focusScore = durationSeconds - weightedLoss
	return durationSeconds, weightedLoss, focusScore
}
