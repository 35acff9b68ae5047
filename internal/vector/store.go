// Package vector provides vector storage and nearest-neighbor search over
// unit-normalized embeddings, with an in-process persisted implementation and
// a remote Qdrant-backed implementation behind one interface.
package vector

import (
	"context"
	"math"

	"github.com/quarrydb/quarry/internal/models"
)

// Store owns vector storage, nearest-neighbor search, metadata storage, and
// filtering. Chunk IDs are allocated by the caller and are monotonically
// increasing; an existing ID is never passed to Add.
//
// Search semantics are identical across implementations: the filter is
// applied before the top-k cut (k means "up to k matching results"),
// results are ordered by descending similarity with ties broken by ascending
// chunk ID, and fewer than k matches is not an error.
type Store interface {
	Add(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int, f *models.Filter) ([]models.Hit, error)
	Reset(ctx context.Context) error
	Size(ctx context.Context) (int, error)
	Type() string
	Close() error
}

// InnerProduct returns the inner product of two vectors. For unit-normalized
// vectors this equals cosine similarity.
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i] * b[i])
	}
	return dot
}

// normalized returns a unit-length copy of v. A zero vector is copied as-is.
func normalized(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	var sum float64
	for _, x := range out {
		sum += float64(x * x)
	}
	if sum == 0 {
		return out
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range out {
		out[i] *= inv
	}
	return out
}
