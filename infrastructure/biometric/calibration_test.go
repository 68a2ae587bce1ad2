package biometric

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalibrationSelectsHighestMedian(t *testing.T) {
	winner := ComboConfig{UseRGB: true, LiveIndex: 1}

	calib := NewCalibration(DefaultCalibrationSamples)
	for i := 0; i < DefaultCalibrationSamples; i++ {
		frame := make(map[ComboConfig]float64, len(CalibrationCombos))
		for _, combo := range CalibrationCombos {
			frame[combo] = 0.10
		}
		frame[winner] = 0.90
		calib.AddSample(frame)
	}

	require.True(t, calib.Done())
	assert.Equal(t, winner, calib.Best())
}

func TestCalibrationMedianIgnoresOutliers(t *testing.T) {
	// The winner has the higher median even though a rival spikes to 1.0
	// on a handful of frames; a mean would pick the rival.
	winner := ComboConfig{UseRGB: false, LiveIndex: 2}
	rival := ComboConfig{UseRGB: true, LiveIndex: 0}

	calib := NewCalibration(80)
	for i := 0; i < 80; i++ {
		frame := map[ComboConfig]float64{winner: 0.50, rival: 0.30}
		if i < 30 {
			frame[rival] = 1.0 // rival mean 0.56, median 0.30
		}
		calib.AddSample(frame)
	}

	assert.Equal(t, winner, calib.Best())
}

func TestCalibrationNotDoneEarly(t *testing.T) {
	calib := NewCalibration(80)
	for i := 0; i < 79; i++ {
		calib.AddSample(map[ComboConfig]float64{})
	}
	assert.False(t, calib.Done())
	calib.AddSample(map[ComboConfig]float64{})
	assert.True(t, calib.Done())
}

func TestCalibrationProfileKeepsExternalThreshold(t *testing.T) {
	winner := ComboConfig{UseRGB: true, LiveIndex: 2}

	calib := NewCalibration(10)
	for i := 0; i < 10; i++ {
		calib.AddSample(map[ComboConfig]float64{winner: 0.95})
	}

	profile := calib.Profile(0.85)
	assert.True(t, profile.Calibrated)
	assert.True(t, profile.UseRGB)
	assert.Equal(t, 2, profile.LiveIndex)
	// The decision threshold is a security parameter, not a calibration
	// outcome.
	assert.Equal(t, 0.85, profile.Threshold)
}
