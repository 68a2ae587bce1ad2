package biometric

import (
	"github.com/montanaflynn/stats"
	"sentinel.io/entities"
)

// ComboConfig is one candidate anti-spoof configuration: a color ordering
// and a candidate "live" class index.
type ComboConfig struct {
	UseRGB    bool
	LiveIndex int
}

// CalibrationCombos are the six candidate configurations scored during the
// calibration pass.
var CalibrationCombos = []ComboConfig{
	{false, 0}, {false, 1}, {false, 2},
	{true, 0}, {true, 1}, {true, 2},
}

// DefaultCalibrationSamples is the number of scored frames collected before
// a configuration is selected.
const DefaultCalibrationSamples = 80

// Calibration accumulates per-configuration live-class probabilities and
// selects the configuration with the highest median score. The median is
// used rather than the mean for robustness against outlier frames.
type Calibration struct {
	target  int
	samples int
	scores  map[ComboConfig][]float64
}

// NewCalibration returns an accumulator that finalizes after targetSamples.
func NewCalibration(targetSamples int) *Calibration {
	if targetSamples <= 0 {
		targetSamples = DefaultCalibrationSamples
	}
	scores := make(map[ComboConfig][]float64, len(CalibrationCombos))
	for _, combo := range CalibrationCombos {
		scores[combo] = nil
	}
	return &Calibration{target: targetSamples, scores: scores}
}

// AddSample records one frame's live-class probability per configuration.
// Missing combos default to 0.
func (c *Calibration) AddSample(frameScores map[ComboConfig]float64) {
	for _, combo := range CalibrationCombos {
		c.scores[combo] = append(c.scores[combo], frameScores[combo])
	}
	c.samples++
}

// Done reports whether enough samples were collected.
func (c *Calibration) Done() bool {
	return c.samples >= c.target
}

// Best returns the configuration whose score median is highest.
func (c *Calibration) Best() ComboConfig {
	best := CalibrationCombos[0]
	bestMedian := -1.0
	for _, combo := range CalibrationCombos {
		median, err := stats.Median(stats.Float64Data(c.scores[combo]))
		if err != nil {
			median = -1.0
		}
		if median > bestMedian {
			bestMedian = median
			best = combo
		}
	}
	return best
}

// Profile builds the persistable calibration outcome. The decision
// threshold is the externally supplied security parameter, independent of
// what calibration selected.
func (c *Calibration) Profile(threshold float64) entities.CalibrationProfile {
	best := c.Best()
	return entities.CalibrationProfile{
		UseRGB:     best.UseRGB,
		LiveIndex:  best.LiveIndex,
		Threshold:  threshold,
		Calibrated: true,
	}
}
