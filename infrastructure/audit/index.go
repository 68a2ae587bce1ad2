// Package audit writes the append-only authentication audit trail: one
// date-stamped file per day, swept after a retention window.
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"sentinel.io/entities"
	"sentinel.io/infrastructure/logger"
)

const (
	filePrefix = "auth_audit_"
	fileSuffix = ".log"
)

// Trail appends audit records to the current day's log file.
type Trail struct {
	dir           string
	retentionDays int

	mu       sync.Mutex
	file     *os.File
	fileDate string
	sweeper  *cron.Cron
	now      func() time.Time
}

// NewTrail opens an audit trail under dir. The retention sweep runs once at
// startup and then daily shortly after midnight.
func NewTrail(dir string, retentionDays int) (*Trail, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}

	t := &Trail{dir: dir, retentionDays: retentionDays, now: time.Now}
	t.Sweep()

	t.sweeper = cron.New()
	if _, err := t.sweeper.AddFunc("5 0 * * *", t.Sweep); err != nil {
		return nil, fmt.Errorf("schedule audit sweep: %w", err)
	}
	t.sweeper.Start()

	return t, nil
}

// Record appends one audit line:
// timestamp | STATUS | message | User=… Dist=… Retries=… Tier=… Duration=…
func (t *Trail) Record(record entities.AuditRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts := record.Timestamp
	if ts.IsZero() {
		ts = t.now()
	}
	if err := t.rotate(ts); err != nil {
		logger.Error("audit log unavailable", logger.LoggerOptions{
			Key:  "error",
			Data: err.Error(),
		})
		return
	}

	user := record.User
	if user == "" {
		user = "Unknown"
	}
	details := []string{
		fmt.Sprintf("User=%s", user),
		fmt.Sprintf("Dist=%.3f", record.Distance),
		fmt.Sprintf("Retries=%d", record.Retries),
		fmt.Sprintf("Tier=%d", record.Tier),
		fmt.Sprintf("Duration=%.1fs", record.Duration.Seconds()),
	}

	line := fmt.Sprintf("%s | %s | %s | %s\n",
		ts.Format("2006-01-02 15:04:05"),
		record.Status,
		record.Message,
		strings.Join(details, " "),
	)
	if _, err := t.file.WriteString(line); err != nil {
		logger.Error("audit write failed", logger.LoggerOptions{
			Key:  "error",
			Data: err.Error(),
		})
	}
}

// rotate opens the file for ts's calendar date, switching files at
// midnight. Caller holds the lock.
func (t *Trail) rotate(ts time.Time) error {
	date := ts.Format("2006-01-02")
	if t.file != nil && t.fileDate == date {
		return nil
	}
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}

	path := filepath.Join(t.dir, filePrefix+date+fileSuffix)
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	t.file = file
	t.fileDate = date
	return nil
}

// Sweep deletes audit files whose modification time is older than the
// retention window.
func (t *Trail) Sweep() {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return
	}

	cutoff := t.now().Add(-time.Duration(t.retentionDays) * 24 * time.Hour)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(t.dir, name)
			if err := os.Remove(path); err != nil {
				logger.Warning("could not delete expired audit log", logger.LoggerOptions{
					Key:  "file",
					Data: path,
				})
				continue
			}
			logger.Info("deleted expired audit log", logger.LoggerOptions{
				Key:  "file",
				Data: path,
			})
		}
	}
}

// Close stops the sweep schedule and closes the current file.
func (t *Trail) Close() {
	if t.sweeper != nil {
		t.sweeper.Stop()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
}
