package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdaptiveStore(t *testing.T, maxSize, perDay int) *AdaptiveStore {
	t.Helper()
	as, err := NewAdaptiveStore(t.TempDir(), maxSize, perDay)
	require.NoError(t, err)
	return as
}

func embeddingOf(v float32) []float32 {
	return []float32{v, 0, 0, 0}
}

func TestAdaptiveGalleryFIFOCap(t *testing.T) {
	as := newTestAdaptiveStore(t, 3, 100)

	for i := 0; i < 5; i++ {
		require.NoError(t, as.Adapt("alice", embeddingOf(float32(i))))
	}

	gallery, err := as.Load("alice")
	require.NoError(t, err)
	require.Len(t, gallery, 3)
	// Oldest entries evicted first.
	assert.Equal(t, float32(2), gallery[0][0])
	assert.Equal(t, float32(4), gallery[2][0])
}

func TestAdaptiveDailyQuota(t *testing.T) {
	as := newTestAdaptiveStore(t, 20, 1)
	day1 := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	as.SetClock(func() time.Time { return day1 })

	assert.True(t, as.CanAdaptToday("alice"))
	require.NoError(t, as.Adapt("alice", embeddingOf(1)))
	assert.False(t, as.CanAdaptToday("alice"))

	// The quota resets on the next calendar date.
	day2 := day1.Add(24 * time.Hour)
	as.SetClock(func() time.Time { return day2 })
	assert.True(t, as.CanAdaptToday("alice"))
}

func TestAdaptiveMetaCounters(t *testing.T) {
	as := newTestAdaptiveStore(t, 20, 5)
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	as.SetClock(func() time.Time { return now })

	require.NoError(t, as.Adapt("alice", embeddingOf(1)))
	require.NoError(t, as.Adapt("alice", embeddingOf(2)))

	meta := as.Meta("alice")
	assert.Equal(t, "2026-08-30", meta.LastAdaptationDate)
	assert.Equal(t, 2, meta.TodayCount)
	assert.Equal(t, 2, meta.TotalCount)
}

func TestAdaptiveDelete(t *testing.T) {
	as := newTestAdaptiveStore(t, 20, 1)
	require.NoError(t, as.Adapt("alice", embeddingOf(1)))
	require.NoError(t, as.Delete("alice"))

	gallery, err := as.Load("alice")
	require.NoError(t, err)
	assert.Empty(t, gallery)
	assert.Zero(t, as.Meta("alice").TotalCount)

	// Deleting an absent user is not an error.
	assert.NoError(t, as.Delete("bob"))
}
