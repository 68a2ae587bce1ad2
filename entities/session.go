package entities

import "time"

// SessionState is the top-level state of an authentication attempt.
type SessionState string

const (
	StateWaiting    SessionState = "WAITING"
	StateRecognized SessionState = "RECOGNIZED"
	StateSuccess    SessionState = "SUCCESS"
	StateFailure    SessionState = "FAILURE"
	StateRequire2FA SessionState = "REQUIRE_2FA"
)

// Terminal reports whether the state ends the attempt.
func (s SessionState) Terminal() bool {
	return s == StateSuccess || s == StateFailure || s == StateRequire2FA
}

// TrustTier is the trust band derived from embedding distance.
type TrustTier int

const (
	TierNone     TrustTier = 0
	TierGolden   TrustTier = 1
	TierStandard TrustTier = 2
	Tier2FA      TrustTier = 3
	TierUnknown  TrustTier = 4
)

// ChallengeDirection is the prompted head movement.
type ChallengeDirection string

const (
	ChallengeLeft  ChallengeDirection = "LEFT"
	ChallengeRight ChallengeDirection = "RIGHT"
	ChallengeUp    ChallengeDirection = "UP"
	ChallengeDown  ChallengeDirection = "DOWN"
)

// ChallengeDirections lists all prompts in draw order.
var ChallengeDirections = []ChallengeDirection{
	ChallengeLeft, ChallengeRight, ChallengeUp, ChallengeDown,
}

// Challenge is created when a user is tentatively recognized and consumed
// once, or discarded on reset/timeout.
type Challenge struct {
	Type         ChallengeDirection `json:"type"`
	StartNosePos *Point             `json:"startNosePos"`
	PromptTime   time.Time          `json:"promptTime"`
}

// Point is a pixel coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DistSq returns the squared euclidean distance to other.
func (p Point) DistSq(other Point) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	return dx*dx + dy*dy
}
