package store

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"gocv.io/x/gocv"
	"sentinel.io/entities"
	"sentinel.io/infrastructure/biometric"
	"sentinel.io/infrastructure/logger"
)

const blacklistRecordsFile = "blacklist_records.json"

// BlacklistStore is the intrusion-detection store: embeddings of previously
// rejected identities plus one evidence screenshot per capture. Records are
// append-only on the hot path; confirm/delete are administrative.
type BlacklistStore struct {
	dir       string
	threshold float64
	entropy   *rand.Rand
}

// NewBlacklistStore returns a store rooted at dir. threshold is the cosine
// distance under which a probe counts as a known-bad identity.
func NewBlacklistStore(dir string, threshold float64) (*BlacklistStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create blacklist dir: %w", err)
	}
	return &BlacklistStore{
		dir:       dir,
		threshold: threshold,
		entropy:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (bs *BlacklistStore) recordsPath() string {
	return filepath.Join(bs.dir, blacklistRecordsFile)
}

func (bs *BlacklistStore) load() []entities.BlacklistRecord {
	var records []entities.BlacklistRecord
	if err := readJSON(bs.recordsPath(), &records); err != nil {
		return nil
	}
	return records
}

// Check compares an embedding against every blacklisted embedding and
// reports whether the nearest one is within the match threshold.
func (bs *BlacklistStore) Check(embedding []float32) (bool, float64) {
	records := bs.load()
	if len(records) == 0 {
		return false, 1.0
	}

	minDist := 1.0
	for _, record := range records {
		if d := biometric.CosineDistance(embedding, record.Embedding); d < minDist {
			minDist = d
		}
	}
	return minDist < bs.threshold, minDist
}

// AddIntrusion records a rejected identity: the evidence frame is written
// as a JPEG and the embedding appended to the record list. The image is
// written before the record so a listed record always has its screenshot.
func (bs *BlacklistStore) AddIntrusion(frame gocv.Mat, embedding []float32) error {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), bs.entropy).String()
	screenshot := fmt.Sprintf("intrusion_%s.jpg", id)

	if !frame.Empty() {
		if ok := gocv.IMWrite(filepath.Join(bs.dir, screenshot), frame); !ok {
			return fmt.Errorf("failed to write intrusion evidence %s", screenshot)
		}
	}

	records := append(bs.load(), entities.BlacklistRecord{
		ID:         id,
		Embedding:  embedding,
		Screenshot: screenshot,
		Timestamp:  time.Now(),
		Confirmed:  false,
	})
	if err := writeJSONAtomic(bs.recordsPath(), records); err != nil {
		return err
	}

	logger.Warning("intrusion recorded", logger.LoggerOptions{
		Key:  "screenshot",
		Data: screenshot,
	})
	return nil
}

// List returns all intrusion records, oldest first (ULIDs sort by time and
// records are appended in order).
func (bs *BlacklistStore) List() []entities.BlacklistRecord {
	return bs.load()
}

// Confirm marks a record as a reviewed true positive.
func (bs *BlacklistStore) Confirm(id string) error {
	records := bs.load()
	for i := range records {
		if records[i].ID == id {
			records[i].Confirmed = true
			return writeJSONAtomic(bs.recordsPath(), records)
		}
	}
	return fmt.Errorf("intrusion record %s not found", id)
}

// Delete removes a record and its evidence image (false positive review).
func (bs *BlacklistStore) Delete(id string) error {
	records := bs.load()
	for i := range records {
		if records[i].ID != id {
			continue
		}
		if records[i].Screenshot != "" {
			if err := os.Remove(filepath.Join(bs.dir, records[i].Screenshot)); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
		records = append(records[:i], records[i+1:]...)
		return writeJSONAtomic(bs.recordsPath(), records)
	}
	return fmt.Errorf("intrusion record %s not found", id)
}
