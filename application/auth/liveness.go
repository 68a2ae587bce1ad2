package auth

import (
	"image"
	"math/rand"
	"time"

	"sentinel.io/entities"
	"sentinel.io/infrastructure/config"
)

// LivenessValidator sequences and time-boxes the multi-factor liveness
// checklist for one recognition attempt: a prompted head-movement
// challenge, then a blink, with the anti-spoof flag tracked alongside.
type LivenessValidator struct {
	cfg config.LivenessConfig

	sessionActive      bool
	challenge          *entities.Challenge
	checklist          entities.Checklist
	framesSinceFace    int
	fixedDirection     entities.ChallengeDirection
	rng                *rand.Rand
}

// NewLivenessValidator returns a validator. rng drives challenge direction
// selection; pass a seeded source in production and a fixed one in tests.
func NewLivenessValidator(cfg config.LivenessConfig, rng *rand.Rand) *LivenessValidator {
	return &LivenessValidator{cfg: cfg, rng: rng}
}

// FixDirection forces every challenge to a specific direction instead of a
// random draw.
func (lv *LivenessValidator) FixDirection(dir entities.ChallengeDirection) {
	lv.fixedDirection = dir
}

// StartSession begins a challenge: picks a direction, stamps the prompt
// deadline and clears the checklist.
func (lv *LivenessValidator) StartSession(now time.Time) {
	direction := lv.fixedDirection
	if direction == "" {
		direction = entities.ChallengeDirections[lv.rng.Intn(len(entities.ChallengeDirections))]
	}
	lv.sessionActive = true
	lv.challenge = &entities.Challenge{Type: direction, PromptTime: now}
	lv.checklist.Reset()
}

// ResetSession discards any active challenge and clears all progress.
func (lv *LivenessValidator) ResetSession() {
	lv.sessionActive = false
	lv.challenge = nil
	lv.framesSinceFace = 0
	lv.checklist.Reset()
}

// ChallengeDirection returns the prompted direction, or "" when no
// challenge is active.
func (lv *LivenessValidator) ChallengeDirection() entities.ChallengeDirection {
	if lv.challenge == nil {
		return ""
	}
	return lv.challenge.Type
}

// TimedOut reports whether the prompt deadline passed.
func (lv *LivenessValidator) TimedOut(now time.Time) bool {
	if lv.challenge == nil {
		return false
	}
	return now.Sub(lv.challenge.PromptTime) > time.Duration(lv.cfg.ChallengeTimeoutSec*float64(time.Second))
}

// UpdateChallengeProgress compares the nose displacement from the position
// recorded at challenge start against a threshold proportional to the face
// width; the sign and axis must match the prompted direction. Once
// satisfied the flag is permanent for the session.
func (lv *LivenessValidator) UpdateChallengeProgress(faceBox image.Rectangle, nose entities.Point) bool {
	if lv.checklist.ChallengeCompleted() {
		return true
	}
	if lv.challenge == nil {
		return false
	}
	if lv.challenge.StartNosePos == nil {
		start := nose
		lv.challenge.StartNosePos = &start
		return false
	}

	deltaX := nose.X - lv.challenge.StartNosePos.X
	deltaY := nose.Y - lv.challenge.StartNosePos.Y
	motionThreshold := float64(faceBox.Dx()) * 0.15

	completed := false
	switch lv.challenge.Type {
	case entities.ChallengeLeft:
		completed = deltaX < -motionThreshold
	case entities.ChallengeRight:
		completed = deltaX > motionThreshold
	case entities.ChallengeUp:
		completed = deltaY < -motionThreshold
	case entities.ChallengeDown:
		completed = deltaY > motionThreshold
	}
	if completed {
		lv.checklist.MarkChallengeCompleted()
	}
	return completed
}

func (lv *LivenessValidator) MarkSpoofCheckPassed() { lv.checklist.MarkSpoofCheckPassed() }

// MarkBlinkDetected records a blink; the checklist ignores it unless the
// challenge already completed.
func (lv *LivenessValidator) MarkBlinkDetected() { lv.checklist.MarkBlinkDetected() }

// AllChecksPassed reports whether the full checklist is satisfied; this is
// the sole unlock condition for a terminal decision.
func (lv *LivenessValidator) AllChecksPassed() bool { return lv.checklist.AllPassed() }

// PendingChecks returns the names of unsatisfied checklist items.
func (lv *LivenessValidator) PendingChecks() []string { return lv.checklist.Pending() }

// ChallengeCompleted reports whether the head-movement stage is done.
func (lv *LivenessValidator) ChallengeCompleted() bool { return lv.checklist.ChallengeCompleted() }

// IncrementFaceLoss advances the consecutive-frames-without-face counter.
func (lv *LivenessValidator) IncrementFaceLoss() { lv.framesSinceFace++ }

// ResetFaceLoss clears the counter after the face is reacquired.
func (lv *LivenessValidator) ResetFaceLoss() { lv.framesSinceFace = 0 }

// ShouldResetOnFaceLoss reports whether the face has been gone longer than
// the grace period.
func (lv *LivenessValidator) ShouldResetOnFaceLoss() bool {
	return lv.framesSinceFace > lv.cfg.SessionResetGrace
}
