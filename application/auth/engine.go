package auth

import (
	"image"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
	"sentinel.io/entities"
	"sentinel.io/infrastructure/biometric"
	"sentinel.io/infrastructure/biometric/types"
	"sentinel.io/infrastructure/config"
	"sentinel.io/infrastructure/logger"
)

// luckyNumber is the winning draw of the per-session 1-in-11 roll that
// gates gallery adaptation.
const luckyNumber = 7

// FaceEmbedder extracts an embedding for the face inside box.
type FaceEmbedder interface {
	EmbedRegion(frame gocv.Mat, box image.Rectangle) ([]float32, error)
}

// AdaptiveSource is the adaptive-gallery surface the engine needs.
type AdaptiveSource interface {
	Load(user string) ([][]float32, error)
	CanAdaptToday(user string) bool
	Adapt(user string, embedding []float32) error
}

// GallerySource loads the enrolled baseline galleries.
type GallerySource interface {
	LoadAll() (map[string][][]float32, []string, error)
}

// IntrusionStore matches probes against known-bad identities and records
// new rejections.
type IntrusionStore interface {
	Check(embedding []float32) (bool, float64)
	AddIntrusion(frame gocv.Mat, embedding []float32) error
}

// AuditSink receives one record per consequential session transition.
type AuditSink interface {
	Record(record entities.AuditRecord)
}

// Dependencies wires the engine to its models, stores and environment.
// Clock and Rand default to the real thing when nil.
type Dependencies struct {
	Config     *config.Config
	Detector   types.FaceDetector
	Embedder   FaceEmbedder
	Landmarks  types.LandmarkExtractor
	Spoof      types.SpoofClassifier
	Galleries  GallerySource
	Adaptive   AdaptiveSource
	Intrusions IntrusionStore
	Audit      AuditSink
	Clock      func() time.Time
	Rand       *rand.Rand
}

// Result is the outcome of processing one frame.
type Result struct {
	State       entities.SessionState `json:"state"`
	Message     string                `json:"message"`
	User        string                `json:"user,omitempty"`
	Distance    float64               `json:"distance,omitempty"`
	Tier        entities.TrustTier    `json:"tier,omitempty"`
	Box         *image.Rectangle      `json:"box,omitempty"`
	Pending     []string              `json:"pendingChecks,omitempty"`
	RetriesLeft int                   `json:"retriesLeft"`
}

// SessionEngine drives one authentication attempt through the session
// state machine: face lock, anti-spoof, identification, trust tiering,
// liveness challenge and the terminal decision. It is not safe for
// concurrent use; the daemon serializes access.
type SessionEngine struct {
	deps Dependencies
	cfg  *config.Config

	galleries map[string][][]float32

	sessionID      string
	state          entities.SessionState
	startTime      time.Time
	headless       bool
	luckyRoll      int
	policy         *TrustPolicy
	liveness       *LivenessValidator
	tracker        *biometric.StabilityTracker
	blink          *biometric.BlinkDetector
	faceLocked     bool
	lockedCenter   entities.Point
	targetUser     string
	recognizedUser string
	matchDistance  float64
	tier           entities.TrustTier
	probe          []float32
	message        string
}

// NewSessionEngine builds an engine from its dependencies. Galleries are
// not loaded here; call LoadGalleries before the first session.
func NewSessionEngine(deps Dependencies) *SessionEngine {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	cfg := deps.Config
	return &SessionEngine{
		deps:     deps,
		cfg:      cfg,
		state:    entities.StateWaiting,
		policy:   NewTrustPolicy(cfg.Security),
		liveness: NewLivenessValidator(cfg.Liveness, deps.Rand),
		tracker:  biometric.NewStabilityTracker(),
		blink: biometric.NewBlinkDetector(
			cfg.Liveness.EAROpenThreshold,
			cfg.Liveness.EARClosedThreshold,
			cfg.Liveness.MinBlinkDurationFrames,
		),
	}
}

// LoadGalleries reads every enrolled user's baseline gallery and merges in
// the adaptive gallery, so identification sees both. Returns the enrolled
// user names.
func (e *SessionEngine) LoadGalleries() ([]string, error) {
	baselines, names, err := e.deps.Galleries.LoadAll()
	if err != nil {
		return nil, err
	}
	merged := make(map[string][][]float32, len(baselines))
	for user, embeddings := range baselines {
		gallery := append([][]float32{}, embeddings...)
		if e.deps.Adaptive != nil {
			adaptive, err := e.deps.Adaptive.Load(user)
			if err == nil {
				gallery = append(gallery, adaptive...)
			}
		}
		merged[user] = gallery
	}
	e.galleries = merged
	logger.Info("galleries loaded", logger.LoggerOptions{
		Key:  "users",
		Data: len(merged),
	})
	return names, nil
}

// EnrolledUsers returns the users currently loaded for identification.
func (e *SessionEngine) EnrolledUsers() []string {
	users := make([]string, 0, len(e.galleries))
	for user := range e.galleries {
		users = append(users, user)
	}
	return users
}

// StartSession resets all per-attempt state and stamps the session start.
// headless disables the box-stability gate used to steady interactive
// capture; the PAM path has no one watching prompts.
func (e *SessionEngine) StartSession(headless bool) {
	e.sessionID = uuid.NewString()
	e.state = entities.StateWaiting
	e.startTime = e.deps.Clock()
	e.headless = headless
	e.luckyRoll = e.deps.Rand.Intn(11)
	e.policy = NewTrustPolicy(e.cfg.Security)
	e.liveness.ResetSession()
	e.tracker.Reset()
	e.blink.Reset()
	e.faceLocked = false
	e.recognizedUser = ""
	e.matchDistance = 0
	e.tier = entities.TierNone
	e.probe = nil
	e.message = "LOOK_AT_CAMERA"
	logger.Info("session started", logger.LoggerOptions{
		Key: "session",
		Data: map[string]interface{}{
			"id":       e.sessionID,
			"headless": headless,
		},
	})
}

// SessionID returns the id of the current attempt.
func (e *SessionEngine) SessionID() string { return e.sessionID }

// SetTargetUser restricts identification to one user's gallery; "" means
// open 1:N identification across every enrolled user.
func (e *SessionEngine) SetTargetUser(user string) { e.targetUser = user }

// FixChallengeDirection pins the liveness challenge to one direction
// instead of a random draw.
func (e *SessionEngine) FixChallengeDirection(dir entities.ChallengeDirection) {
	e.liveness.FixDirection(dir)
}

// State returns the current session state.
func (e *SessionEngine) State() entities.SessionState { return e.state }

// RecognizedUser returns the identity of the current attempt, if any.
func (e *SessionEngine) RecognizedUser() string { return e.recognizedUser }

// softReset drops recognition progress but keeps the retry budget and the
// global deadline, returning the attempt to the waiting phase.
func (e *SessionEngine) softReset(message string) {
	e.state = entities.StateWaiting
	e.liveness.ResetSession()
	e.tracker.Reset()
	e.blink.Reset()
	e.faceLocked = false
	e.recognizedUser = ""
	e.matchDistance = 0
	e.tier = entities.TierNone
	e.probe = nil
	e.message = message
}

func (e *SessionEngine) fail(message string) Result {
	e.state = entities.StateFailure
	e.message = message
	return e.result(nil)
}

func (e *SessionEngine) result(box *image.Rectangle) Result {
	res := Result{
		State:       e.state,
		Message:     e.message,
		User:        e.recognizedUser,
		Distance:    e.matchDistance,
		Tier:        e.tier,
		Box:         box,
		RetriesLeft: e.cfg.Security.MaxRetries - e.policy.Retries(),
	}
	if e.state == entities.StateRecognized {
		res.Pending = e.liveness.PendingChecks()
	}
	return res
}

func (e *SessionEngine) audit(status, message string) {
	if e.deps.Audit == nil {
		return
	}
	e.deps.Audit.Record(entities.AuditRecord{
		Timestamp: e.deps.Clock(),
		Status:    status,
		User:      e.recognizedUser,
		Distance:  e.matchDistance,
		Retries:   e.policy.Retries(),
		Tier:      e.tier,
		Duration:  e.deps.Clock().Sub(e.startTime),
		Message:   message,
	})
}

// ProcessFrame advances the state machine by one camera frame.
func (e *SessionEngine) ProcessFrame(frame gocv.Mat) Result {
	if e.state.Terminal() {
		return e.result(nil)
	}
	now := e.deps.Clock()

	if now.Sub(e.startTime) > time.Duration(e.cfg.Security.GlobalSessionTimeout*float64(time.Second)) {
		e.audit("FAILED", "global session timeout")
		return e.fail("SESSION_TIMEOUT")
	}

	detections, err := e.deps.Detector.DetectFaces(frame)
	if err != nil {
		logger.Error("face detection failed", logger.LoggerOptions{
			Key:  "error",
			Data: err.Error(),
		})
		e.message = "DETECTOR_ERROR"
		return e.result(nil)
	}

	face, ok := e.acquireFace(detections)
	if !ok {
		e.liveness.IncrementFaceLoss()
		if e.liveness.ShouldResetOnFaceLoss() {
			e.softReset("FACE_LOST")
		} else {
			e.message = "NO_FACE"
		}
		return e.result(nil)
	}
	e.liveness.ResetFaceLoss()

	box := e.tracker.Update(face.Box)

	spoof := e.deps.Spoof.Classify(frame, box)
	switch spoof.Verdict {
	case types.VerdictFake:
		return e.handleSpoof()
	case types.VerdictLive:
		e.liveness.MarkSpoofCheckPassed()
	case types.VerdictCalibrating:
		// Calibration frames count neither for nor against; the flag is
		// raised so a first boot can still complete.
		e.liveness.MarkSpoofCheckPassed()
	}

	switch e.state {
	case entities.StateWaiting:
		return e.processWaiting(frame, face, box)
	case entities.StateRecognized:
		return e.processRecognized(frame, face, box)
	}
	return e.result(&box)
}

// acquireFace locks onto the largest face on the first sighting and then
// holds the lock: subsequent frames must present a face whose center stays
// within the movement threshold of the locked position.
func (e *SessionEngine) acquireFace(detections []types.Detection) (types.Detection, bool) {
	if len(detections) == 0 {
		return types.Detection{}, false
	}

	if !e.faceLocked {
		best := detections[0]
		for _, d := range detections[1:] {
			if d.Area() > best.Area() {
				best = d
			}
		}
		cx, cy := best.Center()
		e.faceLocked = true
		e.lockedCenter = entities.Point{X: cx, Y: cy}
		return best, true
	}

	var nearest types.Detection
	nearestDist := -1.0
	for _, d := range detections {
		cx, cy := d.Center()
		dist := e.lockedCenter.DistSq(entities.Point{X: cx, Y: cy})
		if nearestDist < 0 || dist < nearestDist {
			nearest = d
			nearestDist = dist
		}
	}
	if nearestDist >= e.cfg.Security.MaxMovementThreshold {
		return types.Detection{}, false
	}
	cx, cy := nearest.Center()
	e.lockedCenter = entities.Point{X: cx, Y: cy}
	return nearest, true
}

// handleSpoof burns a retry on a presentation-attack frame; exhausting the
// budget is terminal, otherwise the attempt restarts from waiting.
func (e *SessionEngine) handleSpoof() Result {
	remaining := e.policy.ConsumeRetry()
	logger.Warning("presentation attack suspected", logger.LoggerOptions{
		Key:  "retries_left",
		Data: remaining,
	})
	if e.policy.LockedOut() {
		e.audit("BLOCKED", "spoof detected, retries exhausted")
		return e.fail("SPOOF_DETECTED")
	}
	e.audit("RETRY", "spoof detected")
	e.softReset("SPOOF_RETRY")
	return e.result(nil)
}

func (e *SessionEngine) processWaiting(frame gocv.Mat, face types.Detection, box image.Rectangle) Result {
	if box.Dx() < e.cfg.FaceDetection.MinFaceSize {
		e.message = "FACE_TOO_SMALL"
		return e.result(&box)
	}
	if !e.headless && !e.tracker.IsStable(biometric.DefaultStabilityThreshold) {
		e.message = "HOLD_STILL"
		return e.result(&box)
	}

	embedding, err := e.deps.Embedder.EmbedRegion(frame, box)
	if err != nil {
		logger.Error("embedding extraction failed", logger.LoggerOptions{
			Key:  "error",
			Data: err.Error(),
		})
		e.message = "EMBEDDING_ERROR"
		return e.result(&box)
	}

	if e.deps.Intrusions != nil {
		if matched, dist := e.deps.Intrusions.Check(embedding); matched {
			e.matchDistance = dist
			e.audit("BLOCKED", "blacklisted identity")
			return e.fail("BLOCKED")
		}
	}

	user, distance := e.identify(embedding)
	tier := e.policy.Classify(distance)
	if tier == entities.TierUnknown {
		e.matchDistance = distance
		if e.deps.Intrusions != nil {
			if err := e.deps.Intrusions.AddIntrusion(frame, embedding); err != nil {
				logger.Error("could not record intrusion", logger.LoggerOptions{
					Key:  "error",
					Data: err.Error(),
				})
			}
		}
		e.audit("FAILED", "unrecognized face")
		return e.fail("UNKNOWN_FACE")
	}

	e.recognizedUser = user
	e.matchDistance = distance
	e.tier = tier
	e.probe = embedding
	e.state = entities.StateRecognized
	e.liveness.StartSession(e.deps.Clock())
	e.blink.Reset()
	e.message = "TURN_" + string(e.liveness.ChallengeDirection())
	logger.Info("user tentatively recognized", logger.LoggerOptions{
		Key: "recognition",
		Data: map[string]interface{}{
			"user":     user,
			"distance": distance,
			"tier":     int(tier),
		},
	})
	return e.result(&box)
}

// identify runs 1:N identification: the claimed identity is the user whose
// gallery contains the nearest embedding. With a target user set only that
// user's gallery is searched, so an imposter cannot ride another identity.
func (e *SessionEngine) identify(embedding []float32) (string, float64) {
	if e.targetUser != "" {
		gallery, ok := e.galleries[e.targetUser]
		if !ok {
			return "", 1.0
		}
		return e.targetUser, biometric.NearestDistance(embedding, gallery)
	}
	bestUser := ""
	bestDist := 1.0
	for user, gallery := range e.galleries {
		if d := biometric.NearestDistance(embedding, gallery); d < bestDist {
			bestUser = user
			bestDist = d
		}
	}
	return bestUser, bestDist
}

func (e *SessionEngine) processRecognized(frame gocv.Mat, face types.Detection, box image.Rectangle) Result {
	now := e.deps.Clock()
	if e.liveness.TimedOut(now) {
		remaining := e.policy.ConsumeRetry()
		if e.policy.LockedOut() {
			e.audit("FAILED", "liveness challenge timed out, retries exhausted")
			return e.fail("CHALLENGE_TIMEOUT")
		}
		e.audit("RETRY", "liveness challenge timed out")
		e.softReset("CHALLENGE_TIMEOUT")
		logger.Info("challenge timed out", logger.LoggerOptions{
			Key:  "retries_left",
			Data: remaining,
		})
		return e.result(nil)
	}

	if !e.liveness.ChallengeCompleted() {
		nx, ny := face.NoseTip()
		if e.liveness.UpdateChallengeProgress(box, entities.Point{X: nx, Y: ny}) {
			e.message = "BLINK_NOW"
		} else {
			e.message = "TURN_" + string(e.liveness.ChallengeDirection())
		}
	} else if e.deps.Landmarks != nil {
		lm, err := e.deps.Landmarks.EyeLandmarks(frame, box)
		if err == nil && lm != nil {
			if e.blink.Update(biometric.AverageEAR(lm)) {
				e.liveness.MarkBlinkDetected()
			}
		}
		e.message = "BLINK_NOW"
	}

	if !e.liveness.AllChecksPassed() {
		return e.result(&box)
	}

	if e.tier == entities.Tier2FA {
		e.state = entities.StateRequire2FA
		e.message = "SECOND_FACTOR_REQUIRED"
		e.audit("2FA_REQUIRED", "liveness passed, trust tier requires second factor")
		return e.result(&box)
	}

	e.state = entities.StateSuccess
	e.message = "AUTHENTICATED"
	e.audit("SUCCESS", "authentication complete")
	e.maybeAdapt()
	return e.result(&box)
}

// maybeAdapt grows the adaptive gallery after a success, but only for a
// golden-tier match, only when the daily quota allows it, and only on a
// winning lucky roll so the gallery drifts slowly.
func (e *SessionEngine) maybeAdapt() {
	if e.deps.Adaptive == nil || e.probe == nil {
		return
	}
	if e.matchDistance >= e.cfg.Security.AdaptationThreshold {
		return
	}
	if e.luckyRoll != luckyNumber {
		return
	}
	if !e.deps.Adaptive.CanAdaptToday(e.recognizedUser) {
		return
	}
	if err := e.deps.Adaptive.Adapt(e.recognizedUser, e.probe); err != nil {
		logger.Error("gallery adaptation failed", logger.LoggerOptions{
			Key:  "error",
			Data: err.Error(),
		})
		return
	}
	e.galleries[e.recognizedUser] = append(e.galleries[e.recognizedUser], e.probe)
}
