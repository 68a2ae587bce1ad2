package auth

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
	"sentinel.io/infrastructure/biometric/types"
	"sentinel.io/infrastructure/config"
)

type memGalleryWriter struct {
	saved map[string][][]float32
}

func (m *memGalleryWriter) Exists(user string) bool {
	_, ok := m.saved[user]
	return ok
}

func (m *memGalleryWriter) Save(user string, embeddings [][]float32) error {
	if m.saved == nil {
		m.saved = map[string][][]float32{}
	}
	m.saved[user] = embeddings
	return nil
}

type multiDetector struct{ count int }

func (d multiDetector) DetectFaces(gocv.Mat) ([]types.Detection, error) {
	dets := make([]types.Detection, d.count)
	for i := range dets {
		dets[i] = types.Detection{Box: image.Rect(100, 100, 300, 300), Score: 0.9}
	}
	return dets, nil
}

func TestEnrollmentRejectsExistingUser(t *testing.T) {
	writer := &memGalleryWriter{saved: map[string][][]float32{"alice": {{1}}}}
	_, err := NewEnrollmentSession("alice", config.Default(), multiDetector{count: 1}, stubEmbedder{}, writer)
	assert.ErrorIs(t, err, ErrAlreadyEnrolled)
}

func TestEnrollmentFrameStatuses(t *testing.T) {
	writer := &memGalleryWriter{}
	cfg := config.Default()

	tests := []struct {
		name     string
		detector types.FaceDetector
		want     string
	}{
		{"no face", multiDetector{count: 0}, "no_face"},
		{"one face", multiDetector{count: 1}, "ready"},
		{"two faces", multiDetector{count: 2}, "multiple_faces"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, err := NewEnrollmentSession("bob", cfg, tt.detector, stubEmbedder{embedding: []float32{1}}, writer)
			require.NoError(t, err)
			status := session.ProcessFrame(gocv.Mat{})
			assert.Equal(t, tt.want, status.Status)
			assert.Equal(t, "center", status.Pose)
		})
	}
}

func TestEnrollmentSmallFaceRejected(t *testing.T) {
	detector := fixedBoxDetector{box: image.Rect(0, 0, 50, 50)}
	session, err := NewEnrollmentSession("bob", config.Default(), detector, stubEmbedder{embedding: []float32{1}}, &memGalleryWriter{})
	require.NoError(t, err)

	status := session.ProcessFrame(gocv.Mat{})
	assert.Equal(t, "face_too_small", status.Status)
	_, err = session.CapturePose(gocv.Mat{})
	assert.Error(t, err)
}

type fixedBoxDetector struct{ box image.Rectangle }

func (d fixedBoxDetector) DetectFaces(gocv.Mat) ([]types.Detection, error) {
	return []types.Detection{{Box: d.box, Score: 0.9}}, nil
}

func TestEnrollmentCompletesAllPoses(t *testing.T) {
	writer := &memGalleryWriter{}
	session, err := NewEnrollmentSession("bob", config.Default(), multiDetector{count: 1}, stubEmbedder{embedding: []float32{1, 2}}, writer)
	require.NoError(t, err)

	for i := range EnrollmentPoses {
		status, err := session.CapturePose(gocv.Mat{})
		require.NoError(t, err)
		assert.Equal(t, i+1, status.Captured)
	}

	assert.True(t, session.Complete())
	require.Contains(t, writer.saved, "bob")
	assert.Len(t, writer.saved["bob"], len(EnrollmentPoses))

	// Capturing past the end is a no-op.
	status, err := session.CapturePose(gocv.Mat{})
	require.NoError(t, err)
	assert.Equal(t, "complete", status.Status)
}
