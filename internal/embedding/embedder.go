package embedding

import (
	"context"
	"crypto/sha256"
	"math"
	"strings"
)

// Embedder turns text into fixed-dimension vectors. The dimension is fixed
// at server start and must match the table column. Blank input yields the
// zero vector, which the search path treats as "no semantic component".
type Embedder interface {
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// HashEmbedder is a deterministic feature-hashing embedder. It is the
// shipped default; a learned model plugs in behind the same interface.
type HashEmbedder struct {
	dimension int
}

// NewHashEmbedder creates a hash embedder with the given dimension.
func NewHashEmbedder(dimension int) *HashEmbedder {
	return &HashEmbedder{dimension: dimension}
}

// Dimension returns the vector dimension.
func (e *HashEmbedder) Dimension() int { return e.dimension }

// Embed generates an embedding for a single text.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return e.textToVector(text), nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *HashEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.textToVector(t)
	}
	return out, nil
}

// textToVector hashes unigram and bigram features into a signed accumulator
// and L2-normalizes the result. Deterministic for a given input.
func (e *HashEmbedder) textToVector(text string) []float32 {
	vector := make([]float32, e.dimension)

	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return vector
	}

	words := strings.Fields(text)
	features := make(map[string]int)
	for _, word := range words {
		features[word]++
	}
	for i := 0; i < len(words)-1; i++ {
		features[words[i]+" "+words[i+1]]++
	}

	var magnitude float64
	for feature, count := range features {
		hash := sha256.Sum256([]byte(feature))
		idx := (int(hash[0])<<8 | int(hash[1])) % e.dimension
		sign := float32(1.0)
		if hash[4]&1 == 1 {
			sign = -1.0
		}
		vector[idx] += sign * float32(count)
	}
	for _, v := range vector {
		magnitude += float64(v) * float64(v)
	}
	if magnitude > 0 {
		inv := 1.0 / float32(math.Sqrt(magnitude))
		for i := range vector {
			vector[i] *= inv
		}
	}
	return vector
}
