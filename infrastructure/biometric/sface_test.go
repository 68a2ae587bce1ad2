package biometric

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 0},
		{"identical scaled", []float32{1, 0, 0}, []float32{5, 0, 0}, 0},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 1},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 1},
		{"zero vector", []float32{0, 0, 0}, []float32{1, 0, 0}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineDistance(tt.a, tt.b), 1e-6)
		})
	}
}

func TestNearestDistance(t *testing.T) {
	gallery := [][]float32{
		{0, 1, 0},
		{0.9, 0.43588989, 0}, // similarity 0.9 to e1
	}
	probe := []float32{1, 0, 0}

	assert.InDelta(t, 0.1, NearestDistance(probe, gallery), 1e-3)
	assert.Equal(t, 1.0, NearestDistance(probe, nil))
}
