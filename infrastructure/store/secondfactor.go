package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sentinel.io/entities"
)

// SecondFactorStore persists per-user TOTP secrets for the REQUIRE_2FA
// flow. Secrets are stored with owner-only permissions.
type SecondFactorStore struct {
	dir string
}

// NewSecondFactorStore returns a store rooted at dir.
func NewSecondFactorStore(dir string) (*SecondFactorStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create second factor dir: %w", err)
	}
	return &SecondFactorStore{dir: dir}, nil
}

func (ss *SecondFactorStore) path(user string) string {
	return filepath.Join(ss.dir, user+".json")
}

// Save persists a user's provisioned secret.
func (ss *SecondFactorStore) Save(user, secret, url string) error {
	record := entities.SecondFactorSecret{
		User:      user,
		Secret:    secret,
		URL:       url,
		CreatedAt: time.Now(),
	}
	data := ss.path(user)
	if err := writeJSONAtomic(data, record); err != nil {
		return err
	}
	return os.Chmod(data, 0o600)
}

// Load returns a user's secret, or nil when none is provisioned.
func (ss *SecondFactorStore) Load(user string) (*entities.SecondFactorSecret, error) {
	var record entities.SecondFactorSecret
	err := readJSON(ss.path(user), &record)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Delete removes a user's secret.
func (ss *SecondFactorStore) Delete(user string) error {
	err := os.Remove(ss.path(user))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
