// Package store implements the daemon's persisted state: per-user baseline
// and adaptive galleries, the intrusion blacklist, the anti-spoof
// calibration profile and provisioned second-factor secrets. Everything
// lives under the daemon data directory as JSON vector files plus JPEG
// evidence images.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"sentinel.io/infrastructure/logger"
)

const galleryFilePrefix = "gallery_"

// UserGallery is the on-disk layout of one user's baseline gallery.
type UserGallery struct {
	User       string      `json:"user"`
	Embeddings [][]float32 `json:"embeddings"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// GalleryStore persists per-user baseline galleries. The baseline is the
// immutable enrollment set; it is written once at enrollment and only read
// afterwards.
type GalleryStore struct {
	dir string
}

// NewGalleryStore returns a store rooted at dir, creating it if needed.
func NewGalleryStore(dir string) (*GalleryStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create gallery dir: %w", err)
	}
	return &GalleryStore{dir: dir}, nil
}

func (gs *GalleryStore) path(user string) string {
	return filepath.Join(gs.dir, galleryFilePrefix+user+".json")
}

// Save writes a user's baseline gallery.
func (gs *GalleryStore) Save(user string, embeddings [][]float32) error {
	now := time.Now()
	gallery := UserGallery{
		User:       user,
		Embeddings: embeddings,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return writeJSONAtomic(gs.path(user), gallery)
}

// Load reads one user's baseline gallery.
func (gs *GalleryStore) Load(user string) ([][]float32, error) {
	var gallery UserGallery
	if err := readJSON(gs.path(user), &gallery); err != nil {
		return nil, err
	}
	return gallery.Embeddings, nil
}

// Exists reports whether a user has an enrolled gallery.
func (gs *GalleryStore) Exists(user string) bool {
	_, err := os.Stat(gs.path(user))
	return err == nil
}

// Delete removes a user's baseline gallery.
func (gs *GalleryStore) Delete(user string) error {
	err := os.Remove(gs.path(user))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// LoadAll reads every enrolled user's gallery. Unreadable files are skipped
// with a warning so one corrupt enrollment cannot block authentication.
func (gs *GalleryStore) LoadAll() (map[string][][]float32, []string, error) {
	entries, err := os.ReadDir(gs.dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read gallery dir: %w", err)
	}

	galleries := make(map[string][][]float32)
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, galleryFilePrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		user := strings.TrimSuffix(strings.TrimPrefix(name, galleryFilePrefix), ".json")
		embeddings, err := gs.Load(user)
		if err != nil {
			logger.Warning("skipping unreadable gallery", logger.LoggerOptions{
				Key:  "user",
				Data: user,
			})
			continue
		}
		galleries[user] = embeddings
		names = append(names, user)
	}
	sort.Strings(names)
	return galleries, names, nil
}

// Expired reports whether a user's enrollment is older than maxDays, by the
// gallery file's modification time.
func (gs *GalleryStore) Expired(user string, maxDays int) (bool, error) {
	info, err := os.Stat(gs.path(user))
	if err != nil {
		return false, err
	}
	return time.Since(info.ModTime()) > time.Duration(maxDays)*24*time.Hour, nil
}

// writeJSONAtomic writes v as JSON via a temp file + rename so readers
// never observe a partial record.
func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
