package entities

import "time"

// BlacklistRecord is one intrusion capture: the embedding that triggered the
// rejection plus a reference to the evidence screenshot. Records are
// append-only; the embedding and screenshot are written as a pair.
type BlacklistRecord struct {
	ID         string    `json:"id"`
	Embedding  []float32 `json:"embedding"`
	Screenshot string    `json:"screenshot"`
	Timestamp  time.Time `json:"timestamp"`
	Confirmed  bool      `json:"confirmed"`
}

// AdaptiveMeta is the per-user adaptation bookkeeping persisted next to the
// adaptive gallery.
type AdaptiveMeta struct {
	LastAdaptationDate string `json:"last_adaptation_date"`
	TodayCount         int    `json:"today_count"`
	TotalCount         int    `json:"total_count"`
}

// CalibrationProfile is the persisted outcome of the one-time anti-spoof
// calibration pass. The decision threshold is a security parameter supplied
// by configuration and is never overwritten from disk.
type CalibrationProfile struct {
	UseRGB     bool    `json:"use_rgb"`
	LiveIndex  int     `json:"live_idx"`
	Threshold  float64 `json:"thr"`
	Calibrated bool    `json:"calibrated"`
}

// AuditRecord is one line of the append-only authentication audit trail.
type AuditRecord struct {
	Timestamp time.Time
	Status    string
	User      string
	Distance  float64
	Retries   int
	Tier      TrustTier
	Duration  time.Duration
	Message   string
}

// SecondFactorSecret holds a user's provisioned TOTP secret.
type SecondFactorSecret struct {
	User      string    `json:"user"`
	Secret    string    `json:"secret"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
}
