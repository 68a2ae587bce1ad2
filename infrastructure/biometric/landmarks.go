package biometric

import (
	"fmt"
	"image"
	"math"
	"os"
	"sync"

	"gocv.io/x/gocv"
	"sentinel.io/infrastructure/biometric/types"
	"sentinel.io/infrastructure/logger"
)

// Indices of the six eye-contour points in the 68-point landmark layout.
var (
	leftEyeIndices  = [6]int{36, 37, 38, 39, 40, 41}
	rightEyeIndices = [6]int{42, 43, 44, 45, 46, 47}
)

// PFLDLandmarkExtractor localizes 68 facial landmarks with a PFLD-style
// ONNX model run on an expanded face crop.
type PFLDLandmarkExtractor struct {
	net          gocv.Net
	inputSize    image.Point
	modelsLoaded bool
	mutex        sync.Mutex
}

// PFLDConfig holds configuration for the landmark model.
type PFLDConfig struct {
	ModelPath string
	InputSize image.Point
}

// NewPFLDLandmarkExtractor loads the landmark model.
func NewPFLDLandmarkExtractor(config PFLDConfig) (*PFLDLandmarkExtractor, error) {
	if _, err := os.Stat(config.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", config.ModelPath)
	}

	net := gocv.ReadNet(config.ModelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("failed to load landmark model from %s", config.ModelPath)
	}

	size := config.InputSize
	if size.X == 0 || size.Y == 0 {
		size = image.Pt(112, 112)
	}

	logger.Info("landmark model loaded successfully", logger.LoggerOptions{
		Key:  "model_path",
		Data: config.ModelPath,
	})

	return &PFLDLandmarkExtractor{net: net, inputSize: size, modelsLoaded: true}, nil
}

// EyeLandmarks runs the landmark net on the face inside box and returns the
// six contour points per eye in frame coordinates.
func (pe *PFLDLandmarkExtractor) EyeLandmarks(frame gocv.Mat, box image.Rectangle) (*types.EyeLandmarks, error) {
	pe.mutex.Lock()
	defer pe.mutex.Unlock()

	if !pe.modelsLoaded {
		return nil, fmt.Errorf("landmark model not loaded")
	}
	if frame.Empty() {
		return nil, fmt.Errorf("empty frame")
	}

	roi := box.Intersect(image.Rect(0, 0, frame.Cols(), frame.Rows()))
	if roi.Empty() {
		return nil, nil
	}

	crop := frame.Region(roi)
	defer crop.Close()

	blob := gocv.BlobFromImage(
		crop,
		1.0/255.0,
		pe.inputSize,
		gocv.NewScalar(0, 0, 0, 0),
		true,
		false,
	)
	defer blob.Close()

	pe.net.SetInput(blob, "")
	output := pe.net.Forward("")
	defer output.Close()

	// Model output is 136 floats: x,y pairs normalized to the crop.
	if output.Total() < 136 {
		return nil, nil
	}

	pointAt := func(idx int) image.Point {
		nx := float64(output.GetFloatAt(0, idx*2))
		ny := float64(output.GetFloatAt(0, idx*2+1))
		return image.Pt(
			roi.Min.X+int(nx*float64(roi.Dx())),
			roi.Min.Y+int(ny*float64(roi.Dy())),
		)
	}

	var result types.EyeLandmarks
	for i, idx := range leftEyeIndices {
		result.Left[i] = pointAt(idx)
	}
	for i, idx := range rightEyeIndices {
		result.Right[i] = pointAt(idx)
	}
	return &result, nil
}

// Close releases the network.
func (pe *PFLDLandmarkExtractor) Close() error {
	pe.mutex.Lock()
	defer pe.mutex.Unlock()
	pe.modelsLoaded = false
	if !pe.net.Empty() {
		return pe.net.Close()
	}
	return nil
}

// EyeAspectRatio computes the EAR from the six eye-contour points:
// the mean of the two vertical lid gaps over the horizontal eye width.
func EyeAspectRatio(eye [6]image.Point) float64 {
	a := pointDistance(eye[1], eye[5])
	b := pointDistance(eye[2], eye[4])
	c := pointDistance(eye[0], eye[3])
	if c == 0 {
		return 0
	}
	return (a + b) / (2.0 * c)
}

// AverageEAR returns the EAR averaged over both eyes.
func AverageEAR(lm *types.EyeLandmarks) float64 {
	return (EyeAspectRatio(lm.Left) + EyeAspectRatio(lm.Right)) / 2.0
}

func pointDistance(p, q image.Point) float64 {
	dx := float64(p.X - q.X)
	dy := float64(p.Y - q.Y)
	return math.Sqrt(dx*dx + dy*dy)
}
