package auth

import (
	"image"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
	"sentinel.io/entities"
	"sentinel.io/infrastructure/biometric/types"
	"sentinel.io/infrastructure/config"
)

// constSource makes rand deterministic: Intn(11) on 7<<32 yields the
// winning lucky roll, on 0 a losing one.
type constSource struct{ v int64 }

func (c constSource) Int63() int64 { return c.v }
func (c constSource) Seed(int64)   {}

type stubDetector struct {
	detections []types.Detection
	index      int
}

func (d *stubDetector) DetectFaces(gocv.Mat) ([]types.Detection, error) {
	if len(d.detections) == 0 {
		return nil, nil
	}
	det := d.detections[d.index]
	if d.index < len(d.detections)-1 {
		d.index++
	}
	if det.Box.Empty() {
		return nil, nil
	}
	return []types.Detection{det}, nil
}

type stubEmbedder struct{ embedding []float32 }

func (e stubEmbedder) EmbedRegion(gocv.Mat, image.Rectangle) ([]float32, error) {
	return e.embedding, nil
}

type stubLandmarks struct {
	ears  []float64
	index int
}

func (l *stubLandmarks) EyeLandmarks(gocv.Mat, image.Rectangle) (*types.EyeLandmarks, error) {
	ear := l.ears[len(l.ears)-1]
	if l.index < len(l.ears) {
		ear = l.ears[l.index]
		l.index++
	}
	// Eye geometry with C=100 and A=B=2h gives EAR=h/50.
	h := int(ear * 50)
	eye := [6]image.Point{
		{0, 0}, {30, h}, {70, h}, {100, 0}, {70, -h}, {30, -h},
	}
	return &types.EyeLandmarks{Left: eye, Right: eye}, nil
}

type stubSpoof struct{ verdicts []types.SpoofVerdict }

func (s *stubSpoof) Classify(gocv.Mat, image.Rectangle) types.SpoofResult {
	verdict := s.verdicts[len(s.verdicts)-1]
	if len(s.verdicts) > 1 {
		verdict, s.verdicts = s.verdicts[0], s.verdicts[1:]
	}
	return types.SpoofResult{Verdict: verdict, Confidence: 0.95}
}

type stubGalleries struct{ galleries map[string][][]float32 }

func (g stubGalleries) LoadAll() (map[string][][]float32, []string, error) {
	var names []string
	for user := range g.galleries {
		names = append(names, user)
	}
	return g.galleries, names, nil
}

type stubAdaptive struct {
	canAdapt bool
	adapted  int
}

func (a *stubAdaptive) Load(string) ([][]float32, error) { return nil, nil }
func (a *stubAdaptive) CanAdaptToday(string) bool        { return a.canAdapt }
func (a *stubAdaptive) Adapt(string, []float32) error {
	a.adapted++
	return nil
}

type stubIntrusions struct {
	blocked    bool
	intrusions int
}

func (b *stubIntrusions) Check([]float32) (bool, float64) {
	if b.blocked {
		return true, 0.01
	}
	return false, 1.0
}

func (b *stubIntrusions) AddIntrusion(gocv.Mat, []float32) error {
	b.intrusions++
	return nil
}

type stubAudit struct{ records []entities.AuditRecord }

func (a *stubAudit) Record(r entities.AuditRecord) { a.records = append(a.records, r) }

type fakeClock struct{ now time.Time }

func (c *fakeClock) time() time.Time         { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func detection(box image.Rectangle, nose image.Point) types.Detection {
	return types.Detection{
		Box:   box,
		Score: 0.9,
		Landmarks: []image.Point{
			{box.Min.X + 40, box.Min.Y + 60}, {box.Max.X - 40, box.Min.Y + 60},
			nose,
			{box.Min.X + 60, box.Max.Y - 40}, {box.Max.X - 60, box.Max.Y - 40},
		},
	}
}

type engineFixture struct {
	engine     *SessionEngine
	clock      *fakeClock
	adaptive   *stubAdaptive
	intrusions *stubIntrusions
	audit      *stubAudit
}

func newEngineFixture(t *testing.T, probe []float32, spoof *stubSpoof, landmarks *stubLandmarks, roll int64) *engineFixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	adaptive := &stubAdaptive{canAdapt: true}
	intrusions := &stubIntrusions{}
	auditSink := &stubAudit{}

	alice := []float32{1, 0, 0, 0}
	engine := NewSessionEngine(Dependencies{
		Config:     config.Default(),
		Detector:   &stubDetector{},
		Embedder:   stubEmbedder{embedding: probe},
		Landmarks:  landmarks,
		Spoof:      spoof,
		Galleries:  stubGalleries{galleries: map[string][][]float32{"alice": {alice}}},
		Adaptive:   adaptive,
		Intrusions: intrusions,
		Audit:      auditSink,
		Clock:      clock.time,
		Rand:       rand.New(constSource{roll}),
	})
	_, err := engine.LoadGalleries()
	require.NoError(t, err)
	engine.FixChallengeDirection(entities.ChallengeLeft)

	return &engineFixture{
		engine:     engine,
		clock:      clock,
		adaptive:   adaptive,
		intrusions: intrusions,
		audit:      auditSink,
	}
}

// runHappyPath drives a session through recognition, a LEFT head turn and
// one full blink cycle, returning the final result.
func runHappyPath(f *engineFixture) Result {
	box := image.Rect(100, 100, 300, 300)
	det := f.engine.deps.Detector.(*stubDetector)
	det.detections = []types.Detection{
		detection(box, image.Point{200, 200}), // recognition frame
		detection(box, image.Point{200, 200}), // records challenge start
		detection(box, image.Point{150, 200}), // 50px left, completes challenge
		detection(box, image.Point{150, 200}), // blink frames from here on
	}

	f.engine.StartSession(true)
	var result Result
	for i := 0; i < 12; i++ {
		result = f.engine.ProcessFrame(gocv.Mat{})
		f.clock.advance(100 * time.Millisecond)
		if result.State.Terminal() {
			break
		}
	}
	return result
}

func TestAuthenticationSuccessGoldenTier(t *testing.T) {
	// Cosine similarity 0.9 against alice's unit vector: distance 0.1.
	probe := []float32{0.9, 0.43588989, 0, 0}
	spoof := &stubSpoof{verdicts: []types.SpoofVerdict{types.VerdictLive}}
	// Open, three closed, two open frames complete one blink cycle.
	landmarks := &stubLandmarks{ears: []float64{0.3, 0.1, 0.1, 0.1, 0.3, 0.3, 0.3}}

	f := newEngineFixture(t, probe, spoof, landmarks, 0)
	result := runHappyPath(f)

	assert.Equal(t, entities.StateSuccess, result.State)
	assert.Equal(t, "alice", result.User)
	assert.Equal(t, entities.TierGolden, result.Tier)
	assert.InDelta(t, 0.1, result.Distance, 1e-3)

	require.NotEmpty(t, f.audit.records)
	last := f.audit.records[len(f.audit.records)-1]
	assert.Equal(t, "SUCCESS", last.Status)
	assert.Equal(t, "alice", last.User)
}

func TestAuthenticationRequiresSecondFactor(t *testing.T) {
	// Cosine similarity 0.55: distance 0.45 lands in the 2FA band.
	probe := []float32{0.55, 0.83516461, 0, 0}
	spoof := &stubSpoof{verdicts: []types.SpoofVerdict{types.VerdictLive}}
	landmarks := &stubLandmarks{ears: []float64{0.3, 0.1, 0.1, 0.1, 0.3, 0.3, 0.3}}

	f := newEngineFixture(t, probe, spoof, landmarks, 0)
	result := runHappyPath(f)

	assert.Equal(t, entities.StateRequire2FA, result.State)
	assert.Equal(t, entities.Tier2FA, result.Tier)
	// Adaptation never fires outside the golden band.
	assert.Zero(t, f.adaptive.adapted)
}

func TestSpoofFramesExhaustRetries(t *testing.T) {
	probe := []float32{0.9, 0.43588989, 0, 0}
	spoof := &stubSpoof{verdicts: []types.SpoofVerdict{types.VerdictFake}}
	landmarks := &stubLandmarks{ears: []float64{0.3}}

	f := newEngineFixture(t, probe, spoof, landmarks, 0)
	box := image.Rect(100, 100, 300, 300)
	f.engine.deps.Detector.(*stubDetector).detections = []types.Detection{
		detection(box, image.Point{200, 200}),
	}

	f.engine.StartSession(true)
	var result Result
	for i := 0; i < 3; i++ {
		result = f.engine.ProcessFrame(gocv.Mat{})
	}
	assert.Equal(t, entities.StateFailure, result.State)
	assert.Equal(t, "SPOOF_DETECTED", result.Message)
	assert.Zero(t, result.RetriesLeft)
}

func TestUnknownFaceRecordsIntrusion(t *testing.T) {
	// Orthogonal probe: distance 1.0, Tier 4.
	probe := []float32{0, 0, 0, 1}
	spoof := &stubSpoof{verdicts: []types.SpoofVerdict{types.VerdictLive}}
	landmarks := &stubLandmarks{ears: []float64{0.3}}

	f := newEngineFixture(t, probe, spoof, landmarks, 0)
	box := image.Rect(100, 100, 300, 300)
	f.engine.deps.Detector.(*stubDetector).detections = []types.Detection{
		detection(box, image.Point{200, 200}),
	}

	f.engine.StartSession(true)
	result := f.engine.ProcessFrame(gocv.Mat{})

	assert.Equal(t, entities.StateFailure, result.State)
	assert.Equal(t, "UNKNOWN_FACE", result.Message)
	assert.Equal(t, 1, f.intrusions.intrusions)
}

func TestBlacklistedFaceIsBlocked(t *testing.T) {
	probe := []float32{0.9, 0.43588989, 0, 0}
	spoof := &stubSpoof{verdicts: []types.SpoofVerdict{types.VerdictLive}}
	landmarks := &stubLandmarks{ears: []float64{0.3}}

	f := newEngineFixture(t, probe, spoof, landmarks, 0)
	f.intrusions.blocked = true
	box := image.Rect(100, 100, 300, 300)
	f.engine.deps.Detector.(*stubDetector).detections = []types.Detection{
		detection(box, image.Point{200, 200}),
	}

	f.engine.StartSession(true)
	result := f.engine.ProcessFrame(gocv.Mat{})

	assert.Equal(t, entities.StateFailure, result.State)
	assert.Equal(t, "BLOCKED", result.Message)
}

func TestGlobalSessionTimeout(t *testing.T) {
	probe := []float32{0.9, 0.43588989, 0, 0}
	spoof := &stubSpoof{verdicts: []types.SpoofVerdict{types.VerdictLive}}
	landmarks := &stubLandmarks{ears: []float64{0.3}}

	f := newEngineFixture(t, probe, spoof, landmarks, 0)
	f.engine.StartSession(true)
	f.clock.advance(61 * time.Second)

	result := f.engine.ProcessFrame(gocv.Mat{})
	assert.Equal(t, entities.StateFailure, result.State)
	assert.Equal(t, "SESSION_TIMEOUT", result.Message)
}

func TestLuckyRollGatesAdaptation(t *testing.T) {
	probe := []float32{0.9, 0.43588989, 0, 0}

	t.Run("winning roll adapts", func(t *testing.T) {
		spoof := &stubSpoof{verdicts: []types.SpoofVerdict{types.VerdictLive}}
		landmarks := &stubLandmarks{ears: []float64{0.3, 0.1, 0.1, 0.1, 0.3, 0.3, 0.3}}
		f := newEngineFixture(t, probe, spoof, landmarks, 7<<32)

		result := runHappyPath(f)
		require.Equal(t, entities.StateSuccess, result.State)
		assert.Equal(t, 1, f.adaptive.adapted)
	})

	t.Run("losing roll does not", func(t *testing.T) {
		spoof := &stubSpoof{verdicts: []types.SpoofVerdict{types.VerdictLive}}
		landmarks := &stubLandmarks{ears: []float64{0.3, 0.1, 0.1, 0.1, 0.3, 0.3, 0.3}}
		f := newEngineFixture(t, probe, spoof, landmarks, 0)

		result := runHappyPath(f)
		require.Equal(t, entities.StateSuccess, result.State)
		assert.Zero(t, f.adaptive.adapted)
	})

	t.Run("daily quota blocks a winning roll", func(t *testing.T) {
		spoof := &stubSpoof{verdicts: []types.SpoofVerdict{types.VerdictLive}}
		landmarks := &stubLandmarks{ears: []float64{0.3, 0.1, 0.1, 0.1, 0.3, 0.3, 0.3}}
		f := newEngineFixture(t, probe, spoof, landmarks, 7<<32)
		f.adaptive.canAdapt = false

		result := runHappyPath(f)
		require.Equal(t, entities.StateSuccess, result.State)
		assert.Zero(t, f.adaptive.adapted)
	})
}

func TestTargetUserRestrictsIdentification(t *testing.T) {
	probe := []float32{0.9, 0.43588989, 0, 0}
	spoof := &stubSpoof{verdicts: []types.SpoofVerdict{types.VerdictLive}}
	landmarks := &stubLandmarks{ears: []float64{0.3}}

	f := newEngineFixture(t, probe, spoof, landmarks, 0)
	f.engine.SetTargetUser("bob") // not enrolled
	box := image.Rect(100, 100, 300, 300)
	f.engine.deps.Detector.(*stubDetector).detections = []types.Detection{
		detection(box, image.Point{200, 200}),
	}

	f.engine.StartSession(true)
	result := f.engine.ProcessFrame(gocv.Mat{})
	assert.Equal(t, entities.StateFailure, result.State)
	assert.Equal(t, "UNKNOWN_FACE", result.Message)
}

func TestFaceLockMovementBoundary(t *testing.T) {
	spoof := &stubSpoof{verdicts: []types.SpoofVerdict{types.VerdictLive}}
	landmarks := &stubLandmarks{ears: []float64{0.3}}
	f := newEngineFixture(t, []float32{1, 0, 0, 0}, spoof, landmarks, 0)
	e := f.engine

	e.faceLocked = true
	e.lockedCenter = entities.Point{X: 100, Y: 100}

	// 50px on both axes is exactly the squared-distance budget (5000);
	// the lock must break rather than follow.
	_, ok := e.acquireFace([]types.Detection{
		detection(image.Rect(100, 100, 200, 200), image.Point{150, 150}),
	})
	assert.False(t, ok)

	// Just inside the budget the lock follows and recenters.
	e.lockedCenter = entities.Point{X: 100, Y: 100}
	inside := image.Rect(100, 99, 200, 199)
	got, ok := e.acquireFace([]types.Detection{
		detection(inside, image.Point{150, 149}),
	})
	require.True(t, ok)
	assert.Equal(t, inside, got.Box)
	assert.Equal(t, entities.Point{X: 150, Y: 149}, e.lockedCenter)
}
