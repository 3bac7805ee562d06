package game

import "math"

const (
	// MaxPoints is awarded for any buzz inside the opening window.
	MaxPoints = 2500

	flatWindow   = 5.0
	linearEnd    = 15.0
	linearStart  = 2000.0
	linearDrop   = 1000.0
	residualPool = 500.0
)

// Points returns the points available for a buzz after elapsed seconds of a
// track lasting trackDuration seconds. It depends only on its inputs, so the
// host display, the TV and the scoring commit all share it.
func Points(elapsed, trackDuration float64) int {
	if elapsed < 0 {
		elapsed = 0
	}
	var p float64
	switch {
	case elapsed <= flatWindow:
		p = MaxPoints
	case elapsed < linearEnd:
		p = linearStart - ((elapsed-flatWindow)/(linearEnd-flatWindow))*linearDrop
	default:
		span := math.Max(1, trackDuration-linearEnd)
		p = residualPool * (1 - (elapsed-linearEnd)/span)
	}
	if p <= 0 {
		return 0
	}
	return int(math.Round(p))
}
