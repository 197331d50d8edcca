package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"

	"github.com/pgvector/pgvector-go"
)

// HashingProvider deterministically derives a unit vector from text via
// repeated SHA-256 hashing, with no network dependency. It is the default
// provider (config.Config.EmbeddingProvider defaults to "hashing") and needs
// no OpenAI key: unlike NoopProvider it still produces a usable,
// reproducible embedding, so similarity-engine and vector-index behavior can
// be exercised end to end without a live API.
type HashingProvider struct {
	dims int
}

func NewHashingProvider(dims int) *HashingProvider {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &HashingProvider{dims: dims}
}

func (p *HashingProvider) Dimensions() int { return p.dims }

func (p *HashingProvider) Embed(_ context.Context, text string) (pgvector.Vector, error) {
	return pgvector.NewVector(normalize(p.hashVector(text))), nil
}

func (p *HashingProvider) EmbedBatch(_ context.Context, texts []string) ([]pgvector.Vector, error) {
	vecs := make([]pgvector.Vector, len(texts))
	for i, t := range texts {
		vecs[i] = pgvector.NewVector(normalize(p.hashVector(t)))
	}
	return vecs, nil
}

// hashVector expands text into p.dims float32 components by hashing text
// concatenated with a rolling block counter, then interpreting each 4-byte
// chunk of digest as a uint32 mapped into [-1, 1).
func (p *HashingProvider) hashVector(text string) []float32 {
	out := make([]float32, p.dims)
	block := 0
	idx := 0
	for idx < p.dims {
		h := sha256.New()
		h.Write([]byte(text))
		h.Write(binary.BigEndian.AppendUint32(nil, uint32(block)))
		digest := h.Sum(nil)
		for i := 0; i+4 <= len(digest) && idx < p.dims; i += 4 {
			u := binary.BigEndian.Uint32(digest[i : i+4])
			out[idx] = float32(u)/float32(1<<31) - 1
			idx++
		}
		block++
	}
	return out
}
