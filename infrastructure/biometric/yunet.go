package biometric

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"
	"sentinel.io/infrastructure/biometric/types"
	"sentinel.io/infrastructure/logger"
)

// YuNetDetector provides face detection using the YuNet model.
type YuNetDetector struct {
	detector     gocv.FaceDetectorYN
	modelsLoaded bool
	mutex        sync.Mutex
}

// YuNetConfig holds configuration for the YuNet detector.
type YuNetConfig struct {
	ModelPath      string
	InputSize      image.Point
	ScoreThreshold float32
	NMSThreshold   float32
	TopK           int
}

// NewYuNetDetector loads the YuNet model and returns a detector.
func NewYuNetDetector(config YuNetConfig) (*YuNetDetector, error) {
	if _, err := os.Stat(config.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", config.ModelPath)
	}

	detector := gocv.NewFaceDetectorYN(config.ModelPath, "", config.InputSize)
	detector.SetScoreThreshold(config.ScoreThreshold)
	detector.SetNMSThreshold(config.NMSThreshold)
	if config.TopK > 0 {
		detector.SetTopK(config.TopK)
	}

	logger.Info("YuNet model loaded successfully", logger.LoggerOptions{
		Key: "model_info",
		Data: map[string]interface{}{
			"model_path":      config.ModelPath,
			"score_threshold": config.ScoreThreshold,
			"nms_threshold":   config.NMSThreshold,
		},
	})

	return &YuNetDetector{detector: detector, modelsLoaded: true}, nil
}

// DetectFaces performs face detection on a full frame.
func (yd *YuNetDetector) DetectFaces(frame gocv.Mat) ([]types.Detection, error) {
	if !yd.modelsLoaded {
		return nil, fmt.Errorf("YuNet model not loaded")
	}
	if frame.Empty() {
		return nil, fmt.Errorf("empty frame")
	}

	yd.mutex.Lock()
	defer yd.mutex.Unlock()

	yd.detector.SetInputSize(image.Pt(frame.Cols(), frame.Rows()))

	facesMat := gocv.NewMat()
	defer facesMat.Close()
	yd.detector.Detect(frame, &facesMat)

	return parseYuNetDetections(facesMat, frame.Cols(), frame.Rows()), nil
}

// parseYuNetDetections parses the raw detection matrix.
// YuNet row format: [x, y, w, h, x_re, y_re, x_le, y_le, x_nt, y_nt,
// x_rcm, y_rcm, x_lcm, y_lcm, score].
func parseYuNetDetections(facesMat gocv.Mat, frameW, frameH int) []types.Detection {
	var detections []types.Detection
	if facesMat.Empty() || facesMat.Rows() == 0 {
		return detections
	}

	for i := 0; i < facesMat.Rows(); i++ {
		x := int(facesMat.GetFloatAt(i, 0))
		y := int(facesMat.GetFloatAt(i, 1))
		w := int(facesMat.GetFloatAt(i, 2))
		h := int(facesMat.GetFloatAt(i, 3))
		score := facesMat.GetFloatAt(i, 14)

		if x < 0 || y < 0 || w <= 0 || h <= 0 || x+w > frameW || y+h > frameH {
			continue
		}

		landmarks := []image.Point{
			{X: int(facesMat.GetFloatAt(i, 4)), Y: int(facesMat.GetFloatAt(i, 5))},   // right eye
			{X: int(facesMat.GetFloatAt(i, 6)), Y: int(facesMat.GetFloatAt(i, 7))},   // left eye
			{X: int(facesMat.GetFloatAt(i, 8)), Y: int(facesMat.GetFloatAt(i, 9))},   // nose tip
			{X: int(facesMat.GetFloatAt(i, 10)), Y: int(facesMat.GetFloatAt(i, 11))}, // right mouth corner
			{X: int(facesMat.GetFloatAt(i, 12)), Y: int(facesMat.GetFloatAt(i, 13))}, // left mouth corner
		}

		detections = append(detections, types.Detection{
			Box:       image.Rect(x, y, x+w, y+h),
			Score:     score,
			Landmarks: landmarks,
		})
	}

	return detections
}

// Close releases the detector.
func (yd *YuNetDetector) Close() error {
	yd.mutex.Lock()
	defer yd.mutex.Unlock()
	yd.modelsLoaded = false
	return yd.detector.Close()
}
