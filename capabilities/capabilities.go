// Package capabilities defines the pluggable collaborators the engine
// consumes but does not implement: embedding providers, text chunkers, and
// the clock/id sources used for deterministic testing.
package capabilities

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Embedder produces vector embeddings for texts. Implementations live
// outside the core (OpenAI, Cohere, local models); the engine only needs
// the capability surface.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
	ModelID() string
}

// ChunkSplitter splits long text into overlapping chunks.
type ChunkSplitter interface {
	Split(text string, maxTokens, overlap int) []string
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator abstracts uuid generation for deterministic tests.
type IDGenerator interface {
	NewID() string
}

// SystemClock is the production clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// UUIDGenerator is the production id source (random v4 uuids).
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string { return uuid.NewString() }

// FixedClock always returns the same instant.
type FixedClock struct {
	T time.Time
}

func (c FixedClock) Now() time.Time { return c.T }

// SequentialIDs hands out "id-1", "id-2", ... for reproducible tests.
// Not safe for concurrent use.
type SequentialIDs struct {
	Prefix string
	n      int
}

func (g *SequentialIDs) NewID() string {
	g.n++
	p := g.Prefix
	if p == "" {
		p = "id"
	}
	return p + "-" + itoa(g.n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// WhitespaceSplitter is the trivial ChunkSplitter shipped with the core:
// token = whitespace-separated word.
type WhitespaceSplitter struct{}

func (WhitespaceSplitter) Split(text string, maxTokens, overlap int) []string {
	if maxTokens <= 0 {
		return []string{text}
	}
	if overlap < 0 || overlap >= maxTokens {
		overlap = 0
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	var chunks []string
	step := maxTokens - overlap
	for start := 0; start < len(words); start += step {
		end := start + maxTokens
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}
