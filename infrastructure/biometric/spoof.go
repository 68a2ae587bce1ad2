package biometric

import (
	"fmt"
	"image"
	"math"
	"os"
	"sync"

	"gocv.io/x/gocv"
	"sentinel.io/entities"
	"sentinel.io/infrastructure/biometric/types"
	"sentinel.io/infrastructure/logger"
)

const (
	spoofCropScale = 2.7
	spoofCropSize  = 80
)

// ProfileStore persists the anti-spoof calibration outcome.
type ProfileStore interface {
	LoadCalibrationProfile() (*entities.CalibrationProfile, error)
	SaveCalibrationProfile(profile entities.CalibrationProfile) error
}

// MiniFASClassifier scores face crops for liveness with a MiniFASNet ONNX
// model. On a deployment without a persisted calibration profile it runs a
// one-time calibration pass over the first frames before producing
// verdicts.
type MiniFASClassifier struct {
	net          gocv.Net
	profile      entities.CalibrationProfile
	calibration  *Calibration
	profiles     ProfileStore
	modelsLoaded bool
	mutex        sync.Mutex
}

// MiniFASConfig holds configuration for the anti-spoof model.
type MiniFASConfig struct {
	ModelPath string
	// Threshold is the live-probability decision threshold from the
	// security configuration.
	Threshold float64
	// CalibrationSamples overrides the sample target (tests); 0 = default.
	CalibrationSamples int
}

// NewMiniFASClassifier loads the model and any persisted calibration.
func NewMiniFASClassifier(config MiniFASConfig, profiles ProfileStore) (*MiniFASClassifier, error) {
	if _, err := os.Stat(config.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", config.ModelPath)
	}

	net := gocv.ReadNet(config.ModelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("failed to load anti-spoof model from %s", config.ModelPath)
	}

	mc := &MiniFASClassifier{
		net:      net,
		profiles: profiles,
		profile: entities.CalibrationProfile{
			Threshold: config.Threshold,
		},
		modelsLoaded: true,
	}

	if saved, err := profiles.LoadCalibrationProfile(); err == nil && saved != nil && saved.Calibrated {
		// Carry over the calibrated colorspace and class index; the
		// threshold stays under configuration control.
		mc.profile.UseRGB = saved.UseRGB
		mc.profile.LiveIndex = saved.LiveIndex
		mc.profile.Calibrated = true
		logger.Info("anti-spoof calibration loaded", logger.LoggerOptions{
			Key: "profile",
			Data: map[string]interface{}{
				"use_rgb":  saved.UseRGB,
				"live_idx": saved.LiveIndex,
			},
		})
	} else {
		mc.calibration = NewCalibration(config.CalibrationSamples)
		logger.Info("anti-spoof calibration required, collecting samples")
	}

	return mc, nil
}

// IsCalibrating reports whether the calibration pass is still running.
func (mc *MiniFASClassifier) IsCalibrating() bool {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	return !mc.profile.Calibrated
}

// Classify crops the face region and produces a liveness verdict. While
// calibrating, each call contributes one sample and the verdict is
// VerdictCalibrating.
func (mc *MiniFASClassifier) Classify(frame gocv.Mat, box image.Rectangle) types.SpoofResult {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if !mc.modelsLoaded || frame.Empty() {
		return types.SpoofResult{Verdict: types.VerdictFake}
	}

	crop, ok := squareCrop(frame, box, spoofCropScale, spoofCropSize)
	if !ok {
		if !mc.profile.Calibrated {
			return types.SpoofResult{Verdict: types.VerdictCalibrating}
		}
		return types.SpoofResult{Verdict: types.VerdictFake}
	}
	defer crop.Close()

	if !mc.profile.Calibrated {
		mc.calibrateTick(crop)
		return types.SpoofResult{Verdict: types.VerdictCalibrating}
	}

	probs := mc.liveProbabilities(crop, mc.profile.UseRGB)
	if mc.profile.LiveIndex >= len(probs) {
		return types.SpoofResult{Verdict: types.VerdictFake}
	}
	liveConf := probs[mc.profile.LiveIndex]

	verdict := types.VerdictFake
	if liveConf > mc.profile.Threshold {
		verdict = types.VerdictLive
	}
	return types.SpoofResult{Verdict: verdict, Confidence: liveConf}
}

// calibrateTick scores every candidate configuration on one crop and, once
// enough samples exist, persists the winning configuration.
func (mc *MiniFASClassifier) calibrateTick(crop gocv.Mat) {
	frameScores := make(map[ComboConfig]float64, len(CalibrationCombos))
	probsBGR := mc.liveProbabilities(crop, false)
	probsRGB := mc.liveProbabilities(crop, true)
	for _, combo := range CalibrationCombos {
		probs := probsBGR
		if combo.UseRGB {
			probs = probsRGB
		}
		if combo.LiveIndex < len(probs) {
			frameScores[combo] = probs[combo.LiveIndex]
		}
	}
	mc.calibration.AddSample(frameScores)

	if !mc.calibration.Done() {
		return
	}

	mc.profile = mc.calibration.Profile(mc.profile.Threshold)
	mc.calibration = nil
	if err := mc.profiles.SaveCalibrationProfile(mc.profile); err != nil {
		logger.Error("failed to persist anti-spoof calibration", logger.LoggerOptions{
			Key:  "error",
			Data: err.Error(),
		})
	}
	logger.Info("anti-spoof calibration complete", logger.LoggerOptions{
		Key: "profile",
		Data: map[string]interface{}{
			"use_rgb":  mc.profile.UseRGB,
			"live_idx": mc.profile.LiveIndex,
		},
	})
}

// liveProbabilities runs inference on an 80x80 crop and returns softmax
// class probabilities. Pixels are normalized to the symmetric [-1, 1] range.
func (mc *MiniFASClassifier) liveProbabilities(crop gocv.Mat, useRGB bool) []float64 {
	blob := gocv.BlobFromImage(
		crop,
		1.0/127.5,
		image.Pt(spoofCropSize, spoofCropSize),
		gocv.NewScalar(127.5, 127.5, 127.5, 0),
		useRGB,
		false,
	)
	defer blob.Close()

	mc.net.SetInput(blob, "")
	output := mc.net.Forward("")
	defer output.Close()

	n := output.Total()
	if n <= 0 || n > 8 {
		return nil
	}
	logits := make([]float64, n)
	for i := 0; i < n; i++ {
		logits[i] = float64(output.GetFloatAt(0, i))
	}
	return softmax(logits)
}

// Close releases the network.
func (mc *MiniFASClassifier) Close() error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	mc.modelsLoaded = false
	if !mc.net.Empty() {
		return mc.net.Close()
	}
	return nil
}

// squareCrop extracts a square, margin-expanded region around box and
// resizes it to out x out.
func squareCrop(frame gocv.Mat, box image.Rectangle, scale float64, out int) (gocv.Mat, bool) {
	srcW, srcH := frame.Cols(), frame.Rows()
	centerX := float64(box.Min.X) + float64(box.Dx())/2
	centerY := float64(box.Min.Y) + float64(box.Dy())/2
	side := math.Max(float64(box.Dx()), float64(box.Dy())) * scale

	left := int(math.Round(centerX - side/2))
	top := int(math.Round(centerY - side/2))
	if left < 0 {
		left = 0
	}
	if top < 0 {
		top = 0
	}
	right := left + int(math.Round(side))
	bottom := top + int(math.Round(side))
	if right > srcW-1 {
		right = srcW - 1
	}
	if bottom > srcH-1 {
		bottom = srcH - 1
	}
	if right <= left || bottom <= top {
		return gocv.Mat{}, false
	}

	region := frame.Region(image.Rect(left, top, right, bottom))
	defer region.Close()

	resized := gocv.NewMat()
	gocv.Resize(region, &resized, image.Pt(out, out), 0, 0, gocv.InterpolationArea)
	return resized, true
}

func softmax(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}
	max := logits[0]
	for _, v := range logits {
		if v > max {
			max = v
		}
	}
	sum := 0.0
	out := make([]float64, len(logits))
	for i, v := range logits {
		out[i] = math.Exp(v - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum + 1e-9
	}
	return out
}
