package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// DefaultDimensions is the embedding dimension used when none is configured.
const DefaultDimensions = 384

// MockEmbedder derives a deterministic unit vector from hashed token shingles
// (unigrams and adjacent bigrams). The same text always yields the same
// vector, so cosine similarity is well-defined and self-consistent without a
// model dependency. It exists to validate the retrieval pipeline in tests and
// offline setups.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns a deterministic embedder of the given dimension.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed maps text to a unit vector via a hashed bag of token shingles.
// Returns ErrEmptyText when the text contains no tokens.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil, ErrEmptyText
	}
	vec := make([]float32, e.dimensions)
	for i, tok := range tokens {
		vec[bucket(tok, e.dimensions)]++
		if i+1 < len(tokens) {
			vec[bucket(tokens[i]+" "+tokens[i+1], e.dimensions)]++
		}
	}
	normalize(vec)
	return vec, nil
}

// EmbedBatch embeds each text in order.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}

func bucket(s string, dim int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % uint32(dim))
}

// tokenize lower-cases and splits on non-letter, non-digit runes.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
