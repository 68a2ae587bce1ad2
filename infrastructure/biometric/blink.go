package biometric

// blinkPhase is the internal phase of the blink detector.
type blinkPhase int

const (
	blinkOpen blinkPhase = iota
	blinkClosing
	blinkClosed
	blinkOpening
)

// BlinkDetector drives a four-phase OPEN→CLOSING→CLOSED→OPENING→OPEN state
// machine over per-frame eye-aspect-ratio samples. A completed cycle
// reports exactly one blink; the minimum closed-frame count rejects
// single-frame EAR noise.
type BlinkDetector struct {
	phase        blinkPhase
	closedFrames int

	openThreshold   float64
	closedThreshold float64
	minClosedFrames int
}

// NewBlinkDetector returns a detector with the given EAR thresholds and
// minimum closed duration in frames.
func NewBlinkDetector(openThreshold, closedThreshold float64, minClosedFrames int) *BlinkDetector {
	return &BlinkDetector{
		openThreshold:   openThreshold,
		closedThreshold: closedThreshold,
		minClosedFrames: minClosedFrames,
	}
}

// Update feeds one EAR sample and reports whether a full blink cycle
// completed on this frame.
func (bd *BlinkDetector) Update(ear float64) bool {
	switch bd.phase {
	case blinkOpen:
		if ear < bd.closedThreshold {
			bd.phase = blinkClosing
		}
	case blinkClosing:
		if ear < bd.closedThreshold {
			bd.closedFrames++
		} else {
			bd.phase = blinkOpen
			bd.closedFrames = 0
		}
	case blinkClosed:
		if ear > bd.openThreshold {
			bd.phase = blinkOpening
		}
	case blinkOpening:
		bd.phase = blinkOpen
		bd.closedFrames = 0
		return true
	}

	if bd.phase == blinkClosing && bd.closedFrames >= bd.minClosedFrames {
		bd.phase = blinkClosed
	}
	return false
}

// Reset returns the detector to the open phase.
func (bd *BlinkDetector) Reset() {
	bd.phase = blinkOpen
	bd.closedFrames = 0
}
