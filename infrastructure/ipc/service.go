package ipc

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
	"sentinel.io/application/auth"
	"sentinel.io/entities"
	"sentinel.io/infrastructure/audit"
	"sentinel.io/infrastructure/biometric"
	"sentinel.io/infrastructure/camera"
	"sentinel.io/infrastructure/config"
	"sentinel.io/infrastructure/logger"
	"sentinel.io/infrastructure/store"
	"sentinel.io/infrastructure/totp"
	"sentinel.io/infrastructure/validator"
)

// Sentinel errors surfaced to clients through the failure envelope. The
// expiry message doubles as the PAM failure reason code.
var (
	ErrNotStarted        = errors.New("not started")
	ErrBiometricsExpired = errors.New("BIOMETRICS_EXPIRED")
)

const (
	defaultInitTimeout = 120 * time.Second
	pamTimeBudget      = 5 * time.Second

	yunetModelFile   = "face_detection_yunet_2023mar.onnx"
	sfaceModelFile   = "face_recognition_sface_2021dec.onnx"
	pfldModelFile    = "pfld_landmarks.onnx"
	miniFASModelFile = "MiniFASNetV2.onnx"
)

// models holds everything the warmup pass loads. Loaded once and shared
// for the daemon lifetime.
type models struct {
	detector  *biometric.YuNetDetector
	embedder  *biometric.SFaceEmbedder
	landmarks *biometric.PFLDLandmarkExtractor
	spoof     *biometric.MiniFASClassifier
}

func (m *models) close() {
	if m.detector != nil {
		m.detector.Close()
	}
	if m.embedder != nil {
		m.embedder.Close()
	}
	if m.landmarks != nil {
		m.landmarks.Close()
	}
	if m.spoof != nil {
		m.spoof.Close()
	}
}

// Service implements the daemon's RPC surface over the session engine and
// the persisted stores. Session-mutating methods are serialized by the
// dispatcher's coarse lock; status reads only atomics and stays lock-free.
type Service struct {
	cfg *config.Config

	// Coarse lock taken by the dispatcher for every method except status.
	mu sync.Mutex

	// Warmup lifecycle. warmed and warmupErrMsg are atomics so status
	// never contends with a warmup or a running session.
	warmupMu     sync.Mutex
	warmupDone   chan struct{}
	warmed       atomic.Bool
	warming      atomic.Bool
	warmupErrMsg atomic.Value

	models *models
	engine *auth.SessionEngine

	galleries    *store.GalleryStore
	adaptive     *store.AdaptiveStore
	blacklist    *store.BlacklistStore
	calibration  *store.CalibrationStore
	secondFactor *store.SecondFactorStore
	trail        *audit.Trail
	totp         totp.TOTPGeneratorType

	cam        *camera.Stream
	mode       string // "", "auth", "enroll"
	targetUser string
	enrollment *auth.EnrollmentSession
}

// NewService builds the service and its stores. Models are not loaded
// here; warmup does that on the first initialize (or the background
// warmup at startup).
func NewService(cfg *config.Config) (*Service, error) {
	galleries, err := store.NewGalleryStore(filepath.Join(cfg.DataDir, "galleries"))
	if err != nil {
		return nil, err
	}
	adaptive, err := store.NewAdaptiveStore(
		filepath.Join(cfg.DataDir, "adaptive_galleries"),
		cfg.Security.GalleryMaxSize,
		cfg.AdaptivePolicy.AdaptationLimitPerDay,
	)
	if err != nil {
		return nil, err
	}
	blacklist, err := store.NewBlacklistStore(
		filepath.Join(cfg.DataDir, "blacklist"),
		cfg.Security.GoldenThreshold,
	)
	if err != nil {
		return nil, err
	}
	calibration, err := store.NewCalibrationStore(cfg.ModelDir)
	if err != nil {
		return nil, err
	}
	secondFactor, err := store.NewSecondFactorStore(filepath.Join(cfg.DataDir, "second_factor"))
	if err != nil {
		return nil, err
	}
	trail, err := audit.NewTrail(filepath.Join(cfg.DataDir, "logs"), cfg.Security.AuditRetentionDays)
	if err != nil {
		return nil, err
	}

	svc := &Service{
		cfg:          cfg,
		galleries:    galleries,
		adaptive:     adaptive,
		blacklist:    blacklist,
		calibration:  calibration,
		secondFactor: secondFactor,
		trail:        trail,
		totp:         totp.Service,
	}
	svc.warmupErrMsg.Store("")
	return svc, nil
}

// Close releases the camera, the models and the audit trail.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCamera()
	if s.models != nil {
		s.models.close()
		s.models = nil
	}
	s.trail.Close()
}

// WarmInBackground kicks off the warmup without blocking; errors surface
// through status and the next initialize.
func (s *Service) WarmInBackground() {
	s.warmupMu.Lock()
	s.startWarmupLocked()
	s.warmupMu.Unlock()
}

// startWarmupLocked launches a warmup goroutine unless one is already in
// flight or the service is warm. Callers hold warmupMu.
func (s *Service) startWarmupLocked() chan struct{} {
	if s.warmed.Load() {
		return nil
	}
	if s.warmupDone == nil {
		s.warmupDone = make(chan struct{})
		s.warming.Store(true)
		go s.runWarmup(s.warmupDone)
	}
	return s.warmupDone
}

func (s *Service) runWarmup(done chan struct{}) {
	logger.Info("warmup started", logger.LoggerOptions{
		Key:  "model_dir",
		Data: s.cfg.ModelDir,
	})
	loaded, err := s.loadModels()
	s.finishWarmup(loaded, err, done)
}

// finishWarmup publishes the warmup outcome. Waiters read the warmed flag
// and the error message the moment the channel closes, so every store must
// land before close(done).
func (s *Service) finishWarmup(loaded *models, err error, done chan struct{}) {
	s.warmupMu.Lock()
	if err != nil {
		s.warmupErrMsg.Store(err.Error())
		logger.Error("warmup failed", logger.LoggerOptions{
			Key:  "error",
			Data: err.Error(),
		})
	} else {
		s.models = loaded
		s.engine = auth.NewSessionEngine(auth.Dependencies{
			Config:     s.cfg,
			Detector:   loaded.detector,
			Embedder:   loaded.embedder,
			Landmarks:  loaded.landmarks,
			Spoof:      loaded.spoof,
			Galleries:  s.galleries,
			Adaptive:   s.adaptive,
			Intrusions: s.blacklist,
			Audit:      s.trail,
		})
		s.warmupErrMsg.Store("")
		s.warmed.Store(true)
		logger.Info("warmup complete")
	}
	s.warmupDone = nil
	s.warming.Store(false)
	s.warmupMu.Unlock()
	close(done)
}

func (s *Service) loadModels() (*models, error) {
	m := &models{}
	var err error

	m.detector, err = biometric.NewYuNetDetector(biometric.YuNetConfig{
		ModelPath:      filepath.Join(s.cfg.ModelDir, yunetModelFile),
		InputSize:      image.Point{X: s.cfg.Camera.Width, Y: s.cfg.Camera.Height},
		ScoreThreshold: s.cfg.FaceDetection.ScoreThreshold,
		NMSThreshold:   s.cfg.FaceDetection.NMSThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("load face detector: %w", err)
	}
	m.embedder, err = biometric.NewSFaceEmbedder(biometric.SFaceConfig{
		ModelPath: filepath.Join(s.cfg.ModelDir, sfaceModelFile),
	})
	if err != nil {
		m.close()
		return nil, fmt.Errorf("load face embedder: %w", err)
	}
	m.landmarks, err = biometric.NewPFLDLandmarkExtractor(biometric.PFLDConfig{
		ModelPath: filepath.Join(s.cfg.ModelDir, pfldModelFile),
	})
	if err != nil {
		m.close()
		return nil, fmt.Errorf("load landmark extractor: %w", err)
	}
	m.spoof, err = biometric.NewMiniFASClassifier(biometric.MiniFASConfig{
		ModelPath: filepath.Join(s.cfg.ModelDir, miniFASModelFile),
		Threshold: s.cfg.Liveness.SpoofThreshold,
	}, s.calibration)
	if err != nil {
		m.close()
		return nil, fmt.Errorf("load anti-spoof classifier: %w", err)
	}
	return m, nil
}

// ensureWarm blocks until the warmup completes, starting one if none is in
// flight, bounded by the caller's timeout. already reports whether the
// service was warm on entry.
func (s *Service) ensureWarm(timeout time.Duration) (already bool, err error) {
	s.warmupMu.Lock()
	if s.warmed.Load() {
		s.warmupMu.Unlock()
		return true, nil
	}
	done := s.startWarmupLocked()
	s.warmupMu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-time.After(timeout):
			return false, fmt.Errorf("initialization in progress")
		}
	}
	if !s.warmed.Load() {
		msg, _ := s.warmupErrMsg.Load().(string)
		if msg == "" {
			msg = "initialization failed"
		}
		return false, fmt.Errorf("%s", msg)
	}
	return false, nil
}

// --- RPC handlers ---

type handler func(params json.RawMessage) (interface{}, error)

// handlers maps RPC method names to their implementations. Everything but
// status runs under the dispatcher's coarse lock.
func (s *Service) handlers() map[string]handler {
	return map[string]handler{
		"status":               s.handleStatus,
		"initialize":           s.handleInitialize,
		"start_authentication": s.handleStartAuthentication,
		"process_auth_frame":   s.handleProcessAuthFrame,
		"stop_authentication":  s.handleStopAuthentication,
		"authenticate_pam":     s.handleAuthenticatePAM,
		"start_enrollment":     s.handleStartEnrollment,
		"process_enroll_frame": s.handleProcessEnrollFrame,
		"capture_enroll_pose":  s.handleCaptureEnrollPose,
		"stop_enrollment":      s.handleStopEnrollment,
		"get_enrolled_users":   s.handleGetEnrolledUsers,
		"get_config":           s.handleGetConfig,
		"update_config":        s.handleUpdateConfig,
		"get_intrusions":       s.handleGetIntrusions,
		"confirm_intrusion":    s.handleConfirmIntrusion,
		"delete_intrusion":     s.handleDeleteIntrusion,
		"setup_second_factor":  s.handleSetupSecondFactor,
		"verify_second_factor": s.handleVerifySecondFactor,
		"delete_user":          s.handleDeleteUser,
	}
}

func failure(err error) map[string]interface{} {
	return map[string]interface{}{"success": false, "error": err.Error()}
}

func (s *Service) handleStatus(_ json.RawMessage) (interface{}, error) {
	msg, _ := s.warmupErrMsg.Load().(string)
	result := map[string]interface{}{
		"success":          true,
		"warmed":           s.warmed.Load(),
		"init_in_progress": s.warming.Load(),
	}
	if msg != "" {
		result["error"] = msg
	}
	return result, nil
}

func (s *Service) handleInitialize(params json.RawMessage) (interface{}, error) {
	var req struct {
		TimeoutSec float64 `json:"timeout_sec"`
	}
	_ = json.Unmarshal(params, &req)
	timeout := defaultInitTimeout
	if req.TimeoutSec > 0 {
		timeout = time.Duration(req.TimeoutSec * float64(time.Second))
	}

	already, err := s.ensureWarm(timeout)
	if err != nil {
		return failure(err), nil
	}
	return map[string]interface{}{"success": true, "already": already}, nil
}

func (s *Service) openCamera() error {
	s.stopCamera()
	cam, err := camera.Open(0, s.cfg.Camera.Width, s.cfg.Camera.Height, s.cfg.Camera.FPS)
	if err != nil {
		return fmt.Errorf("open camera: %w", err)
	}
	s.cam = cam
	return nil
}

func (s *Service) stopCamera() {
	if s.cam != nil {
		s.cam.Stop()
		s.cam = nil
	}
	s.mode = ""
	s.targetUser = ""
	s.enrollment = nil
}

func (s *Service) handleStartAuthentication(params json.RawMessage) (interface{}, error) {
	var req struct {
		User string `json:"user"`
	}
	_ = json.Unmarshal(params, &req)

	if _, err := s.ensureWarm(defaultInitTimeout); err != nil {
		return failure(err), nil
	}

	users, err := s.engine.LoadGalleries()
	if err != nil {
		return failure(err), nil
	}
	if len(users) == 0 {
		return failure(fmt.Errorf("no enrolled users found")), nil
	}
	if req.User != "" {
		expired, err := s.galleries.Expired(req.User, s.cfg.Security.BiometricsExpiryDays)
		if err == nil && expired {
			return failure(ErrBiometricsExpired), nil
		}
	}

	if err := s.openCamera(); err != nil {
		return failure(err), nil
	}
	s.mode = "auth"
	s.targetUser = req.User
	s.engine.SetTargetUser(req.User)
	s.engine.StartSession(false)

	return map[string]interface{}{
		"success":     true,
		"session_id":  s.engine.SessionID(),
		"users":       users,
		"target_user": req.User,
	}, nil
}

// encodeFramePreview returns the frame as a base64 JPEG for UI preview.
func encodeFramePreview(frame gocv.Mat) string {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, frame, []int{gocv.IMWriteJpegQuality, 70})
	if err != nil {
		return ""
	}
	defer buf.Close()
	return base64.StdEncoding.EncodeToString(buf.GetBytes())
}

func (s *Service) handleProcessAuthFrame(_ json.RawMessage) (interface{}, error) {
	if s.mode != "auth" || s.cam == nil {
		return failure(fmt.Errorf("authentication %w", ErrNotStarted)), nil
	}
	frame, ok := s.cam.Read()
	if !ok {
		return failure(fmt.Errorf("no frame available")), nil
	}
	defer frame.Close()

	result := s.engine.ProcessFrame(frame)
	return map[string]interface{}{
		"success":  true,
		"state":    result.State,
		"message":  result.Message,
		"face_box": result.Box,
		"info": map[string]interface{}{
			"user":           result.User,
			"dist":           result.Distance,
			"tier":           result.Tier,
			"retries_left":   result.RetriesLeft,
			"pending_checks": result.Pending,
		},
		"frame": encodeFramePreview(frame),
	}, nil
}

func (s *Service) handleStopAuthentication(_ json.RawMessage) (interface{}, error) {
	s.stopCamera()
	return map[string]interface{}{"success": true}, nil
}

// handleAuthenticatePAM runs the whole decision loop inside one call: poll
// the latest frame for up to the time budget and answer SUCCESS, FAILED or
// ERROR. Anything unexpected resolves to a non-success result.
func (s *Service) handleAuthenticatePAM(params json.RawMessage) (interface{}, error) {
	var req struct {
		User string `json:"user" validate:"required,username"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return map[string]interface{}{"success": true, "result": "ERROR"}, nil
	}
	if errs := validator.ValidatorInstance.ValidateStruct(req); errs != nil {
		return map[string]interface{}{"success": true, "result": "ERROR"}, nil
	}
	logger.Info("headless authentication requested", logger.LoggerOptions{
		Key:  "user",
		Data: req.User,
	})

	if _, err := s.ensureWarm(defaultInitTimeout); err != nil {
		return map[string]interface{}{"success": true, "result": "ERROR"}, nil
	}
	if !s.galleries.Exists(req.User) {
		return map[string]interface{}{"success": true, "result": "FAILED", "reason": "NOT_ENROLLED"}, nil
	}
	if expired, err := s.galleries.Expired(req.User, s.cfg.Security.BiometricsExpiryDays); err == nil && expired {
		return map[string]interface{}{"success": true, "result": "FAILED", "reason": ErrBiometricsExpired.Error()}, nil
	}
	if _, err := s.engine.LoadGalleries(); err != nil {
		return map[string]interface{}{"success": true, "result": "ERROR"}, nil
	}

	if err := s.openCamera(); err != nil {
		return map[string]interface{}{"success": true, "result": "ERROR"}, nil
	}
	defer s.stopCamera()

	s.engine.SetTargetUser(req.User)
	s.engine.StartSession(true)

	outcome := "FAILED"
	deadline := time.Now().Add(pamTimeBudget)
	for time.Now().Before(deadline) {
		frame, ok := s.cam.Read()
		if !ok {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		result := s.engine.ProcessFrame(frame)
		frame.Close()
		if result.State == entities.StateSuccess {
			outcome = "SUCCESS"
			break
		}
		time.Sleep(30 * time.Millisecond)
	}
	logger.Info("headless authentication finished", logger.LoggerOptions{
		Key: "pam",
		Data: map[string]interface{}{
			"user":   req.User,
			"result": outcome,
		},
	})
	return map[string]interface{}{"success": true, "result": outcome}, nil
}

func (s *Service) handleStartEnrollment(params json.RawMessage) (interface{}, error) {
	var req struct {
		UserName string `json:"user_name" validate:"required"`
	}
	_ = json.Unmarshal(params, &req)
	req.UserName = strings.ToLower(strings.TrimSpace(req.UserName))
	if req.UserName == "" {
		return failure(fmt.Errorf("user name required")), nil
	}
	if err := validator.ValidatorInstance.ValidateValue(req.UserName, "username"); err != nil {
		return failure(fmt.Errorf("invalid user name %q", req.UserName)), nil
	}

	if _, err := s.ensureWarm(defaultInitTimeout); err != nil {
		return failure(err), nil
	}

	session, err := auth.NewEnrollmentSession(req.UserName, s.cfg, s.models.detector, s.models.embedder, s.galleries)
	if err != nil {
		return failure(err), nil
	}
	if err := s.openCamera(); err != nil {
		return failure(err), nil
	}
	s.mode = "enroll"
	s.enrollment = session

	return map[string]interface{}{
		"success":      true,
		"user_name":    req.UserName,
		"total_poses":  len(auth.EnrollmentPoses),
		"current_pose": 0,
		"pose_info":    auth.EnrollmentPoses[0],
	}, nil
}

func (s *Service) handleProcessEnrollFrame(_ json.RawMessage) (interface{}, error) {
	if s.mode != "enroll" || s.cam == nil || s.enrollment == nil {
		return failure(fmt.Errorf("enrollment %w", ErrNotStarted)), nil
	}
	frame, ok := s.cam.Read()
	if !ok {
		return failure(fmt.Errorf("no frame available")), nil
	}
	defer frame.Close()

	status := s.enrollment.ProcessFrame(frame)
	return map[string]interface{}{
		"success":      true,
		"completed":    s.enrollment.Complete(),
		"current_pose": status.Captured,
		"total_poses":  status.Total,
		"pose_info":    map[string]string{"name": status.Pose, "instruction": status.Instruction},
		"status":       status.Status,
		"face_box":     status.Box,
		"frame":        encodeFramePreview(frame),
	}, nil
}

func (s *Service) handleCaptureEnrollPose(_ json.RawMessage) (interface{}, error) {
	if s.mode != "enroll" || s.cam == nil || s.enrollment == nil {
		return failure(fmt.Errorf("enrollment %w", ErrNotStarted)), nil
	}
	frame, ok := s.cam.Read()
	if !ok {
		return failure(fmt.Errorf("no frame available")), nil
	}
	defer frame.Close()

	status, err := s.enrollment.CapturePose(frame)
	if err != nil {
		return failure(err), nil
	}
	result := map[string]interface{}{
		"success":      true,
		"completed":    s.enrollment.Complete(),
		"current_pose": status.Captured,
		"total_poses":  status.Total,
	}
	if s.enrollment.Complete() {
		result["message"] = "Enrollment saved"
	} else {
		result["pose_info"] = map[string]string{"name": status.Pose, "instruction": status.Instruction}
	}
	return result, nil
}

func (s *Service) handleStopEnrollment(_ json.RawMessage) (interface{}, error) {
	s.stopCamera()
	return map[string]interface{}{"success": true}, nil
}

func (s *Service) handleGetEnrolledUsers(_ json.RawMessage) (interface{}, error) {
	_, names, err := s.galleries.LoadAll()
	if err != nil {
		return failure(err), nil
	}
	return map[string]interface{}{"success": true, "users": names}, nil
}

func (s *Service) handleGetConfig(_ json.RawMessage) (interface{}, error) {
	return map[string]interface{}{
		"success": true,
		"config": map[string]interface{}{
			"camera_width":          s.cfg.Camera.Width,
			"camera_height":         s.cfg.Camera.Height,
			"camera_fps":            s.cfg.Camera.FPS,
			"min_face_size":         s.cfg.FaceDetection.MinFaceSize,
			"golden_threshold":      s.cfg.Security.GoldenThreshold,
			"standard_threshold":    s.cfg.Security.StandardThreshold,
			"twofa_threshold":       s.cfg.Security.TwoFactorThreshold,
			"recognition_threshold": s.cfg.Security.RecognitionThreshold,
			"adaptation_threshold":  s.cfg.Security.AdaptationThreshold,
			"max_retries":           s.cfg.Security.MaxRetries,
			"challenge_timeout":     s.cfg.Liveness.ChallengeTimeoutSec,
			"spoof_threshold":       s.cfg.Liveness.SpoofThreshold,
			"session_timeout":       s.cfg.Security.GlobalSessionTimeout,
		},
	}, nil
}

// UpdateConfigParams is the mutable subset of the configuration surface.
// Absent fields are left unchanged.
type UpdateConfigParams struct {
	GoldenThreshold    *float64 `json:"golden_threshold" validate:"omitempty,gt=0,lt=1"`
	StandardThreshold  *float64 `json:"standard_threshold" validate:"omitempty,gt=0,lt=1"`
	TwoFactorThreshold *float64 `json:"twofa_threshold" validate:"omitempty,gt=0,lt=1"`
	MaxRetries         *int     `json:"max_retries" validate:"omitempty,min=1,max=10"`
	ChallengeTimeout   *float64 `json:"challenge_timeout" validate:"omitempty,gt=0"`
	SpoofThreshold     *float64 `json:"spoof_threshold" validate:"omitempty,gt=0,lt=1"`
}

func (s *Service) handleUpdateConfig(params json.RawMessage) (interface{}, error) {
	var req UpdateConfigParams
	if err := json.Unmarshal(params, &req); err != nil {
		return failure(fmt.Errorf("invalid params: %w", err)), nil
	}
	if errs := validator.ValidatorInstance.ValidateStruct(req); errs != nil {
		return failure((*errs)[0]), nil
	}

	updated := *s.cfg
	if req.GoldenThreshold != nil {
		updated.Security.GoldenThreshold = *req.GoldenThreshold
	}
	if req.StandardThreshold != nil {
		updated.Security.StandardThreshold = *req.StandardThreshold
	}
	if req.TwoFactorThreshold != nil {
		updated.Security.TwoFactorThreshold = *req.TwoFactorThreshold
	}
	if req.MaxRetries != nil {
		updated.Security.MaxRetries = *req.MaxRetries
	}
	if req.ChallengeTimeout != nil {
		updated.Liveness.ChallengeTimeoutSec = *req.ChallengeTimeout
	}
	if req.SpoofThreshold != nil {
		updated.Liveness.SpoofThreshold = *req.SpoofThreshold
	}
	if !(updated.Security.GoldenThreshold < updated.Security.StandardThreshold &&
		updated.Security.StandardThreshold < updated.Security.TwoFactorThreshold) {
		return failure(fmt.Errorf("thresholds must satisfy golden < standard < twofa")), nil
	}

	*s.cfg = updated
	if err := s.cfg.Save(); err != nil {
		return failure(fmt.Errorf("save config: %w", err)), nil
	}
	logger.Info("configuration updated")
	return map[string]interface{}{"success": true}, nil
}

func (s *Service) handleGetIntrusions(_ json.RawMessage) (interface{}, error) {
	records := s.blacklist.List()
	items := make([]map[string]interface{}, 0, len(records))
	for _, record := range records {
		items = append(items, map[string]interface{}{
			"id":         record.ID,
			"screenshot": record.Screenshot,
			"timestamp":  record.Timestamp,
			"confirmed":  record.Confirmed,
		})
	}
	return map[string]interface{}{"success": true, "intrusions": items}, nil
}

func idParam(params json.RawMessage) (string, error) {
	var req struct {
		ID string `json:"id" validate:"required"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return "", fmt.Errorf("invalid params: %w", err)
	}
	if req.ID == "" {
		return "", fmt.Errorf("id required")
	}
	return req.ID, nil
}

func (s *Service) handleConfirmIntrusion(params json.RawMessage) (interface{}, error) {
	id, err := idParam(params)
	if err != nil {
		return failure(err), nil
	}
	if err := s.blacklist.Confirm(id); err != nil {
		return failure(err), nil
	}
	return map[string]interface{}{"success": true}, nil
}

func (s *Service) handleDeleteIntrusion(params json.RawMessage) (interface{}, error) {
	id, err := idParam(params)
	if err != nil {
		return failure(err), nil
	}
	if err := s.blacklist.Delete(id); err != nil {
		return failure(err), nil
	}
	return map[string]interface{}{"success": true}, nil
}

func userParam(params json.RawMessage) (string, error) {
	var req struct {
		User string `json:"user" validate:"required,username"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return "", fmt.Errorf("invalid params: %w", err)
	}
	if errs := validator.ValidatorInstance.ValidateStruct(req); errs != nil {
		return "", (*errs)[0]
	}
	return req.User, nil
}

func (s *Service) handleSetupSecondFactor(params json.RawMessage) (interface{}, error) {
	user, err := userParam(params)
	if err != nil {
		return failure(err), nil
	}
	secret, url, err := s.totp.GenerateSecret(user)
	if err != nil {
		return failure(err), nil
	}
	if err := s.secondFactor.Save(user, *secret, *url); err != nil {
		return failure(err), nil
	}
	return map[string]interface{}{"success": true, "secret": *secret, "url": *url}, nil
}

func (s *Service) handleVerifySecondFactor(params json.RawMessage) (interface{}, error) {
	var req struct {
		User  string `json:"user" validate:"required,username"`
		Token string `json:"token" validate:"required,totp_token"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return failure(fmt.Errorf("invalid params: %w", err)), nil
	}
	if errs := validator.ValidatorInstance.ValidateStruct(req); errs != nil {
		return failure((*errs)[0]), nil
	}

	record, err := s.secondFactor.Load(req.User)
	if err != nil {
		return failure(err), nil
	}
	if record == nil {
		return failure(fmt.Errorf("no second factor provisioned for %s", req.User)), nil
	}
	valid := s.totp.ValidateTOTP(req.Token, record.Secret)
	status := "2FA_FAILED"
	if valid {
		status = "2FA_SUCCESS"
	}
	s.trail.Record(entities.AuditRecord{
		Timestamp: time.Now(),
		Status:    status,
		User:      req.User,
		Message:   "second factor verification",
	})
	return map[string]interface{}{"success": true, "valid": valid}, nil
}

func (s *Service) handleDeleteUser(params json.RawMessage) (interface{}, error) {
	user, err := userParam(params)
	if err != nil {
		return failure(err), nil
	}
	if err := s.galleries.Delete(user); err != nil {
		return failure(err), nil
	}
	if err := s.adaptive.Delete(user); err != nil {
		return failure(err), nil
	}
	if err := s.secondFactor.Delete(user); err != nil {
		return failure(err), nil
	}
	logger.Info("user deleted", logger.LoggerOptions{
		Key:  "user",
		Data: user,
	})
	return map[string]interface{}{"success": true}, nil
}
