package types

import (
	"image"

	"gocv.io/x/gocv"
)

// Detection is one detected face: bounding box, detector confidence and the
// five coarse landmarks YuNet reports (right eye, left eye, nose tip, right
// mouth corner, left mouth corner).
type Detection struct {
	Box       image.Rectangle
	Score     float32
	Landmarks []image.Point
}

// Center returns the center of the detection box.
func (d Detection) Center() (float64, float64) {
	return float64(d.Box.Min.X) + float64(d.Box.Dx())/2,
		float64(d.Box.Min.Y) + float64(d.Box.Dy())/2
}

// Area returns the box area in px².
func (d Detection) Area() float64 {
	return float64(d.Box.Dx()) * float64(d.Box.Dy())
}

// NoseTip returns the nose landmark, falling back to the box center when the
// detector produced no landmarks.
func (d Detection) NoseTip() (float64, float64) {
	if len(d.Landmarks) >= 3 {
		return float64(d.Landmarks[2].X), float64(d.Landmarks[2].Y)
	}
	return d.Center()
}

// FaceDetector locates faces in a full frame.
type FaceDetector interface {
	DetectFaces(frame gocv.Mat) ([]Detection, error)
}

// FaceEmbedder maps a cropped face to a fixed-length vector.
type FaceEmbedder interface {
	ExtractEmbedding(face gocv.Mat) ([]float32, error)
}

// EyeLandmarks holds the six points per eye used for the eye-aspect-ratio.
type EyeLandmarks struct {
	Left  [6]image.Point
	Right [6]image.Point
}

// LandmarkExtractor localizes eye landmarks for the face inside box. A nil
// result with nil error means no landmarks were found on this frame.
type LandmarkExtractor interface {
	EyeLandmarks(frame gocv.Mat, box image.Rectangle) (*EyeLandmarks, error)
}

// SpoofVerdict is the per-frame liveness classification.
type SpoofVerdict string

const (
	VerdictLive        SpoofVerdict = "live"
	VerdictFake        SpoofVerdict = "fake"
	VerdictCalibrating SpoofVerdict = "calibrating"
)

// SpoofResult carries the verdict and the calibrated live-class probability.
type SpoofResult struct {
	Verdict    SpoofVerdict
	Confidence float64
}

// SpoofClassifier scores a face region for liveness. While the one-time
// calibration pass is running it returns VerdictCalibrating, which callers
// must treat as neither pass nor fail.
type SpoofClassifier interface {
	Classify(frame gocv.Mat, box image.Rectangle) SpoofResult
}
