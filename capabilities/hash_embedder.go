package capabilities

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
)

// HashEmbedder is a deterministic, dependency-free Embedder used in tests
// and as the built-in fallback when no provider is configured. It hashes
// tokens into a fixed-size bag-of-words vector and L2-normalizes it, so
// identical texts always embed identically and token overlap produces
// nearby vectors.
type HashEmbedder struct {
	Dimension int
}

// NewHashEmbedder returns a HashEmbedder of the given dimension.
func NewHashEmbedder(dim int) *HashEmbedder {
	return &HashEmbedder{Dimension: dim}
}

func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embedOne(t)
	}
	return out, nil
}

func (e *HashEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, e.Dimension)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(tok))
		slot := int(binary.BigEndian.Uint32(sum[:4])) % e.Dimension
		if slot < 0 {
			slot += e.Dimension
		}
		sign := float32(1)
		if sum[4]&1 == 1 {
			sign = -1
		}
		vec[slot] += sign
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

func (e *HashEmbedder) Dim() int { return e.Dimension }

func (e *HashEmbedder) ModelID() string { return "hash-bow" }
