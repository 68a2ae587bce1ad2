package auth

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
	"sentinel.io/infrastructure/biometric/types"
	"sentinel.io/infrastructure/config"
	"sentinel.io/infrastructure/logger"
)

// ErrAlreadyEnrolled is returned when enrollment is requested for a user
// who already has a baseline gallery.
var ErrAlreadyEnrolled = errors.New("user already enrolled")

// EnrollmentPose is one guided capture position.
type EnrollmentPose struct {
	Name        string `json:"name"`
	Instruction string `json:"instruction"`
}

// EnrollmentPoses is the guided capture sequence. Varied poses reduce
// false rejections from head angle at authentication time.
var EnrollmentPoses = []EnrollmentPose{
	{Name: "center", Instruction: "Look straight at the camera"},
	{Name: "left", Instruction: "Turn your head slightly left"},
	{Name: "right", Instruction: "Turn your head slightly right"},
	{Name: "up", Instruction: "Tilt your head slightly up"},
	{Name: "down", Instruction: "Tilt your head slightly down"},
}

// GalleryWriter persists a completed enrollment.
type GalleryWriter interface {
	Exists(user string) bool
	Save(user string, embeddings [][]float32) error
}

// FrameStatus describes whether the current frame is suitable for capture.
type FrameStatus struct {
	Status      string           `json:"status"`
	Pose        string           `json:"pose"`
	Instruction string           `json:"instruction"`
	Box         *image.Rectangle `json:"box,omitempty"`
	Captured    int              `json:"captured"`
	Total       int              `json:"total"`
}

// EnrollmentSession walks a user through the guided pose sequence and
// writes the baseline gallery when every pose has been captured.
type EnrollmentSession struct {
	user     string
	cfg      *config.Config
	detector types.FaceDetector
	embedder FaceEmbedder
	store    GalleryWriter

	poseIndex  int
	embeddings [][]float32
}

// NewEnrollmentSession starts enrollment for user. Re-enrollment requires
// deleting the existing gallery first.
func NewEnrollmentSession(user string, cfg *config.Config, detector types.FaceDetector, embedder FaceEmbedder, store GalleryWriter) (*EnrollmentSession, error) {
	if store.Exists(user) {
		return nil, ErrAlreadyEnrolled
	}
	return &EnrollmentSession{
		user:     user,
		cfg:      cfg,
		detector: detector,
		embedder: embedder,
		store:    store,
	}, nil
}

// User returns the enrolling user.
func (es *EnrollmentSession) User() string { return es.user }

// Complete reports whether every pose has been captured.
func (es *EnrollmentSession) Complete() bool {
	return es.poseIndex >= len(EnrollmentPoses)
}

func (es *EnrollmentSession) status(state string, box *image.Rectangle) FrameStatus {
	st := FrameStatus{
		Status:   state,
		Box:      box,
		Captured: es.poseIndex,
		Total:    len(EnrollmentPoses),
	}
	if !es.Complete() {
		st.Pose = EnrollmentPoses[es.poseIndex].Name
		st.Instruction = EnrollmentPoses[es.poseIndex].Instruction
	}
	return st
}

// ProcessFrame evaluates a preview frame for the current pose. It never
// captures; capture is an explicit user action through CapturePose.
func (es *EnrollmentSession) ProcessFrame(frame gocv.Mat) FrameStatus {
	if es.Complete() {
		return es.status("complete", nil)
	}
	box, status := es.findFace(frame)
	return es.status(status, box)
}

// findFace requires exactly one sufficiently large face.
func (es *EnrollmentSession) findFace(frame gocv.Mat) (*image.Rectangle, string) {
	detections, err := es.detector.DetectFaces(frame)
	if err != nil {
		logger.Error("enrollment detection failed", logger.LoggerOptions{
			Key:  "error",
			Data: err.Error(),
		})
		return nil, "no_face"
	}
	switch {
	case len(detections) == 0:
		return nil, "no_face"
	case len(detections) > 1:
		return nil, "multiple_faces"
	}
	box := detections[0].Box
	if box.Dx() < es.cfg.FaceDetection.MinFaceSize {
		return &box, "face_too_small"
	}
	return &box, "ready"
}

// CapturePose embeds the face in the given frame for the current pose and
// advances. When the sequence finishes the gallery is persisted.
func (es *EnrollmentSession) CapturePose(frame gocv.Mat) (FrameStatus, error) {
	if es.Complete() {
		return es.status("complete", nil), nil
	}
	box, status := es.findFace(frame)
	if status != "ready" {
		return es.status(status, box), fmt.Errorf("pose %s not capturable: %s", EnrollmentPoses[es.poseIndex].Name, status)
	}

	embedding, err := es.embedder.EmbedRegion(frame, *box)
	if err != nil {
		return es.status("no_face", nil), fmt.Errorf("embed pose %s: %w", EnrollmentPoses[es.poseIndex].Name, err)
	}
	es.embeddings = append(es.embeddings, embedding)
	es.poseIndex++

	if es.Complete() {
		if err := es.store.Save(es.user, es.embeddings); err != nil {
			return es.status("error", nil), fmt.Errorf("save gallery: %w", err)
		}
		logger.Info("enrollment complete", logger.LoggerOptions{
			Key: "enrollment",
			Data: map[string]interface{}{
				"user":  es.user,
				"poses": len(es.embeddings),
			},
		})
		return es.status("complete", nil), nil
	}
	return es.status("captured", nil), nil
}
