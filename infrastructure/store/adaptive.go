package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sentinel.io/entities"
	"sentinel.io/infrastructure/logger"
)

// AdaptiveStore manages per-user adaptive galleries: a bounded FIFO of
// embeddings grown on strong matches, plus the daily-quota metadata.
type AdaptiveStore struct {
	dir     string
	maxSize int
	perDay  int
	now     func() time.Time
}

// NewAdaptiveStore returns a store rooted at dir with the given gallery cap
// and daily adaptation limit.
func NewAdaptiveStore(dir string, maxSize, perDay int) (*AdaptiveStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create adaptive gallery dir: %w", err)
	}
	return &AdaptiveStore{dir: dir, maxSize: maxSize, perDay: perDay, now: time.Now}, nil
}

// SetClock overrides the time source; used by quota tests.
func (as *AdaptiveStore) SetClock(now func() time.Time) { as.now = now }

func (as *AdaptiveStore) galleryPath(user string) string {
	return filepath.Join(as.dir, galleryFilePrefix+user+"_adaptive.json")
}

func (as *AdaptiveStore) metaPath(user string) string {
	return filepath.Join(as.dir, galleryFilePrefix+user+"_meta.json")
}

// Load returns a user's adaptive gallery; a missing file is an empty
// gallery.
func (as *AdaptiveStore) Load(user string) ([][]float32, error) {
	var gallery [][]float32
	err := readJSON(as.galleryPath(user), &gallery)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return gallery, err
}

func (as *AdaptiveStore) loadMeta(user string) entities.AdaptiveMeta {
	var meta entities.AdaptiveMeta
	if err := readJSON(as.metaPath(user), &meta); err != nil {
		return entities.AdaptiveMeta{}
	}
	return meta
}

// Meta returns the persisted adaptation bookkeeping for a user.
func (as *AdaptiveStore) Meta(user string) entities.AdaptiveMeta {
	return as.loadMeta(user)
}

// CanAdaptToday reports whether the daily quota still permits an
// adaptation for user on the current calendar date.
func (as *AdaptiveStore) CanAdaptToday(user string) bool {
	meta := as.loadMeta(user)
	today := as.now().Format("2006-01-02")
	if meta.LastAdaptationDate != today {
		return true
	}
	return meta.TodayCount < as.perDay
}

// Adapt appends an embedding to the user's adaptive gallery, evicting the
// oldest entries past the cap, and advances the quota counters. The quota
// itself is not re-checked here; callers gate on CanAdaptToday.
func (as *AdaptiveStore) Adapt(user string, embedding []float32) error {
	gallery, err := as.Load(user)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	gallery = append(gallery, embedding)
	if len(gallery) > as.maxSize {
		gallery = gallery[len(gallery)-as.maxSize:]
	}
	if err := writeJSONAtomic(as.galleryPath(user), gallery); err != nil {
		return err
	}

	meta := as.loadMeta(user)
	today := as.now().Format("2006-01-02")
	if meta.LastAdaptationDate == today {
		meta.TodayCount++
	} else {
		meta.LastAdaptationDate = today
		meta.TodayCount = 1
	}
	meta.TotalCount++
	if err := writeJSONAtomic(as.metaPath(user), meta); err != nil {
		return err
	}

	logger.Info("adaptive gallery updated", logger.LoggerOptions{
		Key: "adaptation",
		Data: map[string]interface{}{
			"user": user,
			"size": len(gallery),
		},
	})
	return nil
}

// Delete removes a user's adaptive gallery and metadata.
func (as *AdaptiveStore) Delete(user string) error {
	if err := os.Remove(as.galleryPath(user)); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(as.metaPath(user)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
