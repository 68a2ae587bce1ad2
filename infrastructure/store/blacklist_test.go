package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func newTestBlacklistStore(t *testing.T) *BlacklistStore {
	t.Helper()
	bs, err := NewBlacklistStore(t.TempDir(), 0.25)
	require.NoError(t, err)
	return bs
}

func TestBlacklistRoundTrip(t *testing.T) {
	bs := newTestBlacklistStore(t)
	embedding := []float32{0.5, 0.5, 0.1, 0.7}

	matched, _ := bs.Check(embedding)
	assert.False(t, matched, "empty blacklist must not match")

	frame := gocv.NewMat()
	defer frame.Close()
	require.NoError(t, bs.AddIntrusion(frame, embedding))

	matched, dist := bs.Check(embedding)
	assert.True(t, matched)
	assert.InDelta(t, 0, dist, 1e-6)
}

func TestBlacklistThreshold(t *testing.T) {
	bs := newTestBlacklistStore(t)
	frame := gocv.NewMat()
	defer frame.Close()
	require.NoError(t, bs.AddIntrusion(frame, []float32{1, 0, 0, 0}))

	// Orthogonal probe: distance 1.0, well outside the match band.
	matched, dist := bs.Check([]float32{0, 1, 0, 0})
	assert.False(t, matched)
	assert.InDelta(t, 1.0, dist, 1e-6)
}

func TestBlacklistConfirmAndDelete(t *testing.T) {
	bs := newTestBlacklistStore(t)
	frame := gocv.NewMat()
	defer frame.Close()
	require.NoError(t, bs.AddIntrusion(frame, []float32{1, 0, 0, 0}))

	records := bs.List()
	require.Len(t, records, 1)
	assert.False(t, records[0].Confirmed)

	require.NoError(t, bs.Confirm(records[0].ID))
	assert.True(t, bs.List()[0].Confirmed)

	require.NoError(t, bs.Delete(records[0].ID))
	assert.Empty(t, bs.List())

	assert.Error(t, bs.Confirm("01ARZ3NDEKTSV4RRFFQ69G5FAV"))
}
