// Package config loads the daemon configuration surface from a TOML file,
// falling back to built-in defaults for any key the file omits.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"sentinel.io/infrastructure/logger"
)

type CameraConfig struct {
	Width  int `toml:"width"`
	Height int `toml:"height"`
	FPS    int `toml:"fps"`
}

type FaceDetectionConfig struct {
	MinFaceSize    int     `toml:"min_face_size"`
	ScoreThreshold float32 `toml:"score_threshold"`
	NMSThreshold   float32 `toml:"nms_threshold"`
}

type LivenessConfig struct {
	EAROpenThreshold       float64 `toml:"ear_open_threshold"`
	EARClosedThreshold     float64 `toml:"ear_closed_threshold"`
	MinBlinkDurationFrames int     `toml:"min_blink_duration_frames"`
	ChallengeTimeoutSec    float64 `toml:"challenge_timeout"`
	SessionResetGrace      int     `toml:"session_reset_grace_period"`
	SpoofThreshold         float64 `toml:"spoof_threshold"`
}

type SecurityConfig struct {
	RecognitionThreshold  float64 `toml:"recognition_threshold"`
	AdaptationThreshold   float64 `toml:"adaptation_threshold"`
	GalleryMaxSize        int     `toml:"gallery_max_size"`
	GlobalSessionTimeout  float64 `toml:"global_session_timeout"`
	MaxMovementThreshold  float64 `toml:"max_movement_threshold"`
	MaxRetries            int     `toml:"max_retries"`
	GoldenThreshold       float64 `toml:"golden_threshold"`
	StandardThreshold     float64 `toml:"standard_threshold"`
	TwoFactorThreshold    float64 `toml:"two_factor_threshold"`
	BiometricsExpiryDays  int     `toml:"biometrics_expiry_days"`
	AuditRetentionDays    int     `toml:"audit_retention_days"`
}

type AdaptivePolicyConfig struct {
	AdaptationLimitPerDay int `toml:"adaptation_limit_per_day"`
}

type Config struct {
	Camera         CameraConfig         `toml:"Camera"`
	FaceDetection  FaceDetectionConfig  `toml:"FaceDetection"`
	Liveness       LivenessConfig       `toml:"Liveness"`
	Security       SecurityConfig       `toml:"Security"`
	AdaptivePolicy AdaptivePolicyConfig `toml:"AdaptivePolicy"`

	// Resolved at load time, not serialized.
	DataDir    string `toml:"-"`
	ModelDir   string `toml:"-"`
	ConfigPath string `toml:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Camera: CameraConfig{Width: 640, Height: 480, FPS: 15},
		FaceDetection: FaceDetectionConfig{
			MinFaceSize:    100,
			ScoreThreshold: 0.6,
			NMSThreshold:   0.3,
		},
		Liveness: LivenessConfig{
			EAROpenThreshold:       0.24,
			EARClosedThreshold:     0.19,
			MinBlinkDurationFrames: 2,
			ChallengeTimeoutSec:    20.0,
			SessionResetGrace:      30,
			SpoofThreshold:         0.85,
		},
		Security: SecurityConfig{
			RecognitionThreshold: 0.38,
			AdaptationThreshold:  0.25,
			GalleryMaxSize:       20,
			GlobalSessionTimeout: 60.0,
			MaxMovementThreshold: 5000.0,
			MaxRetries:           3,
			GoldenThreshold:      0.25,
			StandardThreshold:    0.42,
			TwoFactorThreshold:   0.50,
			BiometricsExpiryDays: 45,
			AuditRetentionDays:   30,
		},
		AdaptivePolicy: AdaptivePolicyConfig{AdaptationLimitPerDay: 1},
	}
}

// DataDir resolves the daemon state directory. Overridable through
// SENTINEL_DATA_DIR; everything the daemon persists lives under it.
func DataDir() string {
	if dir := os.Getenv("SENTINEL_DATA_DIR"); dir != "" {
		return dir
	}
	return "/var/lib/sentinel"
}

// Load reads the config file under dataDir, applying defaults for missing
// keys. A missing file is not an error.
func Load(dataDir string) *Config {
	cfg := Default()
	cfg.DataDir = dataDir
	cfg.ModelDir = filepath.Join(dataDir, "models")
	cfg.ConfigPath = filepath.Join(dataDir, "config.toml")

	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		return cfg
	}
	if _, err := toml.DecodeFile(cfg.ConfigPath, cfg); err != nil {
		logger.Warning("could not parse config file, using defaults", logger.LoggerOptions{
			Key:  "error",
			Data: err.Error(),
		})
		return Default().withPaths(dataDir)
	}
	return cfg
}

func (c *Config) withPaths(dataDir string) *Config {
	c.DataDir = dataDir
	c.ModelDir = filepath.Join(dataDir, "models")
	c.ConfigPath = filepath.Join(dataDir, "config.toml")
	return c
}

// Save writes the configuration back to its TOML file.
func (c *Config) Save() error {
	if err := os.MkdirAll(filepath.Dir(c.ConfigPath), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(c.ConfigPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(c)
}
