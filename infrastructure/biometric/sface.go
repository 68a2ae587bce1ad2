package biometric

import (
	"fmt"
	"image"
	"math"
	"os"
	"sync"

	"gocv.io/x/gocv"
	"sentinel.io/infrastructure/logger"
)

// EmbeddingSize is the dimensionality of the SFace output vector.
const EmbeddingSize = 128

// SFaceEmbedder extracts face embeddings using the SFace ONNX model.
type SFaceEmbedder struct {
	net          gocv.Net
	inputSize    image.Point
	modelsLoaded bool
	mutex        sync.Mutex
}

// SFaceConfig holds configuration for the embedding model.
type SFaceConfig struct {
	ModelPath string
	InputSize image.Point
}

// NewSFaceEmbedder loads the SFace model and returns an embedder.
func NewSFaceEmbedder(config SFaceConfig) (*SFaceEmbedder, error) {
	if _, err := os.Stat(config.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", config.ModelPath)
	}

	net := gocv.ReadNet(config.ModelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("failed to load SFace model from %s", config.ModelPath)
	}

	size := config.InputSize
	if size.X == 0 || size.Y == 0 {
		size = image.Pt(112, 112)
	}

	logger.Info("SFace model loaded successfully", logger.LoggerOptions{
		Key: "model_info",
		Data: map[string]interface{}{
			"model_path": config.ModelPath,
			"input_size": fmt.Sprintf("%dx%d", size.X, size.Y),
		},
	})

	return &SFaceEmbedder{net: net, inputSize: size, modelsLoaded: true}, nil
}

// ExtractEmbedding extracts a fixed-length embedding from a cropped face.
func (se *SFaceEmbedder) ExtractEmbedding(face gocv.Mat) ([]float32, error) {
	se.mutex.Lock()
	defer se.mutex.Unlock()

	if !se.modelsLoaded {
		return nil, fmt.Errorf("SFace model not loaded")
	}
	if face.Empty() {
		return nil, fmt.Errorf("empty face image")
	}

	blob := gocv.BlobFromImage(
		face,
		1.0,
		se.inputSize,
		gocv.NewScalar(0, 0, 0, 0),
		true,  // swap BGR to RGB
		false, // no center crop
	)
	defer blob.Close()

	se.net.SetInput(blob, "")
	output := se.net.Forward("")
	defer output.Close()

	embedding := make([]float32, EmbeddingSize)
	for i := 0; i < EmbeddingSize; i++ {
		embedding[i] = output.GetFloatAt(0, i)
	}

	return embedding, nil
}

// EmbedRegion crops the face box out of a full frame (clipped to the frame
// bounds) and extracts its embedding.
func (se *SFaceEmbedder) EmbedRegion(frame gocv.Mat, box image.Rectangle) ([]float32, error) {
	roi := box.Intersect(image.Rect(0, 0, frame.Cols(), frame.Rows()))
	if roi.Empty() {
		return nil, fmt.Errorf("face box outside frame")
	}
	face := frame.Region(roi)
	defer face.Close()
	return se.ExtractEmbedding(face)
}

// Close releases the network.
func (se *SFaceEmbedder) Close() error {
	se.mutex.Lock()
	defer se.mutex.Unlock()
	se.modelsLoaded = false
	if !se.net.Empty() {
		return se.net.Close()
	}
	return nil
}

// CosineDistance returns 1 - cosine similarity between two embeddings.
// Mismatched or zero vectors yield the maximum distance.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1.0
	}

	dotProduct := 0.0
	normA := 0.0
	normB := 0.0
	for i := 0; i < len(a); i++ {
		dotProduct += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}
	if normA == 0 || normB == 0 {
		return 1.0
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	if similarity > 1.0 {
		similarity = 1.0
	}
	if similarity < -1.0 {
		similarity = -1.0
	}
	return 1.0 - similarity
}

// NearestDistance returns the minimum cosine distance between probe and any
// vector in gallery, or 1.0 for an empty gallery.
func NearestDistance(probe []float32, gallery [][]float32) float64 {
	best := 1.0
	for _, enrolled := range gallery {
		if d := CosineDistance(probe, enrolled); d < best {
			best = d
		}
	}
	return best
}
