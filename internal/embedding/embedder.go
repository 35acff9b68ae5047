// Package embedding provides text embedding behind a fixed interface, with a
// deterministic mock variant and a remote provider variant selected at startup.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Embedder produces fixed-dimension vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// ErrEmptyText is returned when the input is empty after normalization.
var ErrEmptyText = errors.New("embedding: text is empty")

// DimensionError indicates that a produced embedding does not match the
// configured dimension.
type DimensionError struct {
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// normalize scales v to unit length in place. A zero vector is left unchanged.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x * x)
	}
	if sum == 0 {
		return
	}
	inv := 1.0 / math.Sqrt(sum)
	for i := range v {
		v[i] *= float32(inv)
	}
}
