package biometric

import (
	"image"
	"math"
)

const (
	trackerStateDim   = 8
	trackerMeasureDim = 4

	defaultProcessNoise     = 0.03
	defaultMeasurementNoise = 0.1

	// DefaultStabilityThreshold is the velocity magnitude (units/frame)
	// under which a tracked face counts as stable.
	DefaultStabilityThreshold = 1.5
)

// StabilityTracker smooths a detected bounding box across frames with a
// constant-velocity Kalman filter over [x, y, w, h, vx, vy, vw, vh]. The
// first observation seeds the state directly; subsequent updates predict
// then correct with the new measurement.
type StabilityTracker struct {
	state       [trackerStateDim]float64
	covariance  [trackerStateDim][trackerStateDim]float64
	initialized bool

	processNoise     float64
	measurementNoise float64
}

// NewStabilityTracker returns a tracker with the default noise tuning.
func NewStabilityTracker() *StabilityTracker {
	return &StabilityTracker{
		processNoise:     defaultProcessNoise,
		measurementNoise: defaultMeasurementNoise,
	}
}

// Update feeds a detected box and returns the smoothed box.
func (st *StabilityTracker) Update(box image.Rectangle) image.Rectangle {
	z := [trackerMeasureDim]float64{
		float64(box.Min.X), float64(box.Min.Y),
		float64(box.Dx()), float64(box.Dy()),
	}

	if !st.initialized {
		st.seed(z)
		return box
	}

	st.predict()
	st.correct(z)

	x := int(st.state[0])
	y := int(st.state[1])
	w := int(st.state[2])
	h := int(st.state[3])
	return image.Rect(x, y, x+w, y+h)
}

// Reset clears initialization so the next update reseeds the filter.
func (st *StabilityTracker) Reset() {
	st.initialized = false
}

// IsStable reports whether the estimated position velocity magnitude is
// below threshold. An uninitialized tracker is never stable.
func (st *StabilityTracker) IsStable(threshold float64) bool {
	if !st.initialized {
		return false
	}
	vx := st.state[4]
	vy := st.state[5]
	return math.Sqrt(vx*vx+vy*vy) < threshold
}

func (st *StabilityTracker) seed(z [trackerMeasureDim]float64) {
	st.state = [trackerStateDim]float64{z[0], z[1], z[2], z[3], 0, 0, 0, 0}
	st.covariance = [trackerStateDim][trackerStateDim]float64{}
	for i := 0; i < trackerStateDim; i++ {
		st.covariance[i][i] = 1.0
	}
	st.initialized = true
}

// predict advances the state one step under the constant-velocity model:
// position += velocity, covariance propagated through the transition and
// inflated by the process noise.
func (st *StabilityTracker) predict() {
	for i := 0; i < trackerMeasureDim; i++ {
		st.state[i] += st.state[i+trackerMeasureDim]
	}

	// P = F P Fᵀ + Q, with F = [[I, I], [0, I]] in 4x4 blocks.
	var next [trackerStateDim][trackerStateDim]float64
	for i := 0; i < trackerStateDim; i++ {
		for j := 0; j < trackerStateDim; j++ {
			v := st.covariance[i][j]
			if i < trackerMeasureDim {
				v += st.covariance[i+trackerMeasureDim][j]
			}
			next[i][j] = v
		}
	}
	for i := 0; i < trackerStateDim; i++ {
		for j := 0; j < trackerMeasureDim; j++ {
			next[i][j] += next[i][j+trackerMeasureDim]
		}
	}
	for i := 0; i < trackerStateDim; i++ {
		next[i][i] += st.processNoise
	}
	st.covariance = next
}

// correct folds a measurement of the four observed dimensions back into the
// state estimate.
func (st *StabilityTracker) correct(z [trackerMeasureDim]float64) {
	// Innovation covariance S = P[0:4,0:4] + R, since H selects the first
	// four state dimensions.
	var s [trackerMeasureDim][trackerMeasureDim]float64
	for i := 0; i < trackerMeasureDim; i++ {
		for j := 0; j < trackerMeasureDim; j++ {
			s[i][j] = st.covariance[i][j]
		}
		s[i][i] += st.measurementNoise
	}

	sInv, ok := invert4(s)
	if !ok {
		return
	}

	// Kalman gain K = P Hᵀ S⁻¹ (8x4); P Hᵀ is the first four columns of P.
	var gain [trackerStateDim][trackerMeasureDim]float64
	for i := 0; i < trackerStateDim; i++ {
		for j := 0; j < trackerMeasureDim; j++ {
			for k := 0; k < trackerMeasureDim; k++ {
				gain[i][j] += st.covariance[i][k] * sInv[k][j]
			}
		}
	}

	var innovation [trackerMeasureDim]float64
	for i := 0; i < trackerMeasureDim; i++ {
		innovation[i] = z[i] - st.state[i]
	}
	for i := 0; i < trackerStateDim; i++ {
		for j := 0; j < trackerMeasureDim; j++ {
			st.state[i] += gain[i][j] * innovation[j]
		}
	}

	// P = (I - K H) P; K H only touches the first four columns of each row.
	var updated [trackerStateDim][trackerStateDim]float64
	for i := 0; i < trackerStateDim; i++ {
		for j := 0; j < trackerStateDim; j++ {
			v := st.covariance[i][j]
			for k := 0; k < trackerMeasureDim; k++ {
				v -= gain[i][k] * st.covariance[k][j]
			}
			updated[i][j] = v
		}
	}
	st.covariance = updated
}

// invert4 inverts a 4x4 matrix by Gauss-Jordan elimination.
func invert4(m [4][4]float64) ([4][4]float64, bool) {
	var aug [4][8]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			aug[i][j] = m[i][j]
		}
		aug[i][i+4] = 1
	}

	for col := 0; col < 4; col++ {
		pivot := col
		for row := col + 1; row < 4; row++ {
			if math.Abs(aug[row][col]) > math.Abs(aug[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(aug[pivot][col]) < 1e-12 {
			return [4][4]float64{}, false
		}
		aug[col], aug[pivot] = aug[pivot], aug[col]

		scale := aug[col][col]
		for j := 0; j < 8; j++ {
			aug[col][j] /= scale
		}
		for row := 0; row < 4; row++ {
			if row == col {
				continue
			}
			factor := aug[row][col]
			for j := 0; j < 8; j++ {
				aug[row][j] -= factor * aug[col][j]
			}
		}
	}

	var inv [4][4]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			inv[i][j] = aug[i][j+4]
		}
	}
	return inv, true
}
