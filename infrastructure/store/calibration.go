package store

import (
	"fmt"
	"os"
	"path/filepath"

	"sentinel.io/entities"
)

const calibrationFile = "minifas_calib.json"

// CalibrationStore persists the anti-spoof calibration profile, written
// once after the one-time calibration pass and read thereafter.
type CalibrationStore struct {
	dir string
}

// NewCalibrationStore returns a store rooted at dir.
func NewCalibrationStore(dir string) (*CalibrationStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create calibration dir: %w", err)
	}
	return &CalibrationStore{dir: dir}, nil
}

func (cs *CalibrationStore) path() string {
	return filepath.Join(cs.dir, calibrationFile)
}

// LoadCalibrationProfile returns the persisted profile, or nil when no
// calibration has run yet.
func (cs *CalibrationStore) LoadCalibrationProfile() (*entities.CalibrationProfile, error) {
	var profile entities.CalibrationProfile
	err := readJSON(cs.path(), &profile)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// SaveCalibrationProfile persists the calibration outcome.
func (cs *CalibrationStore) SaveCalibrationProfile(profile entities.CalibrationProfile) error {
	return writeJSONAtomic(cs.path(), profile)
}
