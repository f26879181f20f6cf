package embeddings

import (
	"context"
	"crypto/sha256"
	"math"
)

// DeterministicDriver generates reproducible pseudo-embeddings from a
// seeded hash of the input text, used when no real embedding provider is
// configured. It lets the write and retrieval pipelines function end to
// end (including cosine similarity ranking) in tests and offline dev
// without a network call, and is never mistaken for a semantically
// meaningful embedding — it only hashes local n-grams.
type DeterministicDriver struct {
	dimensions int
}

// NewDeterministicDriver creates a driver producing vectors of the given
// dimensionality (Capsule's default is 1024).
func NewDeterministicDriver(dimensions int) *DeterministicDriver {
	if dimensions <= 0 {
		dimensions = 1024
	}
	return &DeterministicDriver{dimensions: dimensions}
}

func (d *DeterministicDriver) Kind() string      { return "deterministic" }
func (d *DeterministicDriver) Dimensions() int   { return d.dimensions }
func (d *DeterministicDriver) MaxBatchSize() int { return 4096 }

// Embed hashes overlapping 3-byte windows of each text into buckets of
// the output vector, then L2-normalizes the result.
func (d *DeterministicDriver) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = embedOne(text, d.dimensions)
	}
	return out, nil
}

func (d *DeterministicDriver) HealthCheck(_ context.Context) error { return nil }

func embedOne(text string, dims int) []float32 {
	vec := make([]float32, dims)
	b := []byte(text)
	if len(b) == 0 {
		return vec
	}
	window := 3
	for i := 0; i < len(b); i++ {
		end := i + window
		if end > len(b) {
			end = len(b)
		}
		sum := sha256.Sum256(b[i:end])
		bucket := int(sum[0])<<8 | int(sum[1])
		bucket %= dims
		sign := float32(1)
		if sum[2]%2 == 0 {
			sign = -1
		}
		vec[bucket] += sign * float32(sum[3]) / 255.0
	}
	return l2Normalize(vec)
}

func l2Normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(math.Sqrt(sumSq))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}
