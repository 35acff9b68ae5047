package vector

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/quarrydb/quarry/internal/models"
)

// LocalStore holds all vectors in memory, searches them with exact inner
// product, and persists its full state (vectors, chunk metadata, next-ID
// counter) to a two-file snapshot after every mutation. Prior state is
// restored at construction; mismatched persisted files refuse to load.
type LocalStore struct {
	mu      sync.RWMutex
	dim     int
	dir     string
	ids     []int64
	vectors [][]float32
	chunks  map[int64]models.Chunk
	nextID  int64
}

// NewLocalStore creates a local store of the given dimension persisting under
// dir. The directory is created if needed. Existing snapshot files are loaded;
// exactly one file present, or orphaned entries, is a ConsistencyError.
func NewLocalStore(dim int, dir string) (*LocalStore, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dim)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &PersistenceError{Op: "mkdir", Path: dir, Err: err}
	}
	s := &LocalStore{
		dim:    dim,
		dir:    dir,
		chunks: make(map[int64]models.Chunk),
		nextID: 1,
	}
	ids, vectors, chunks, nextID, ok, err := loadSnapshot(dir, dim)
	if err != nil {
		return nil, err
	}
	if ok {
		s.ids = ids
		s.vectors = vectors
		for _, c := range chunks {
			s.chunks[c.ID] = c
		}
		s.nextID = nextID
		// Guard against a stale counter: IDs must keep increasing.
		for _, id := range ids {
			if id >= s.nextID {
				s.nextID = id + 1
			}
		}
	}
	return s, nil
}

// Type returns the store type identifier.
func (s *LocalStore) Type() string {
	return "local"
}

// NextID returns the next chunk ID to allocate, recovered from the snapshot.
func (s *LocalStore) NextID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextID
}

// Chunks returns all chunk metadata records ordered by ID. Used to rebuild
// the keyword index on startup.
func (s *LocalStore) Chunks() []models.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Chunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Add inserts chunks with their vectors and synchronously persists the new
// state. Vectors are normalized to unit length so inner product equals
// cosine similarity. A dimension mismatch rejects the whole batch. On a
// persistence failure the in-memory appends are rolled back so the store
// matches the last durable snapshot and the whole batch can be retried.
func (s *LocalStore) Add(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks and vectors length mismatch: %d vs %d", len(chunks), len(vectors))
	}
	for _, v := range vectors {
		if len(v) != s.dim {
			return &DimensionError{Expected: s.dim, Actual: len(v)}
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prevLen := len(s.ids)
	prevNextID := s.nextID
	for i, c := range chunks {
		s.ids = append(s.ids, c.ID)
		s.vectors = append(s.vectors, normalized(vectors[i]))
		s.chunks[c.ID] = c
		if c.ID >= s.nextID {
			s.nextID = c.ID + 1
		}
	}
	if err := s.persistLocked(); err != nil {
		// Roll back so a retried batch with the same IDs does not append
		// duplicate entries on top of the failed attempt.
		for _, c := range chunks {
			delete(s.chunks, c.ID)
		}
		s.ids = s.ids[:prevLen]
		s.vectors = s.vectors[:prevLen]
		s.nextID = prevNextID
		return err
	}
	return nil
}

// Search returns up to k hits ranked by descending similarity, ties broken
// by ascending chunk ID. Entries failing the filter are excluded before the
// top-k cut.
func (s *LocalStore) Search(ctx context.Context, query []float32, k int, f *models.Filter) ([]models.Hit, error) {
	if len(query) != s.dim {
		return nil, &DimensionError{Expected: s.dim, Actual: len(query)}
	}
	if k <= 0 {
		return nil, nil
	}
	q := normalized(query)

	s.mu.RLock()
	defer s.mu.RUnlock()
	hits := make([]models.Hit, 0, len(s.ids))
	for i, id := range s.ids {
		c := s.chunks[id]
		if !f.Matches(&c) {
			continue
		}
		hits = append(hits, models.HitFromChunk(c, InnerProduct(q, s.vectors[i])))
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Size returns the number of stored vectors.
func (s *LocalStore) Size(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids), nil
}

// Export returns all chunks (ordered by ID) with their stored vectors.
// Used by the snapshot-to-remote migration.
func (s *LocalStore) Export() ([]models.Chunk, [][]float32) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order := make([]int, len(s.ids))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return s.ids[order[a]] < s.ids[order[b]] })
	chunks := make([]models.Chunk, 0, len(order))
	vectors := make([][]float32, 0, len(order))
	for _, i := range order {
		chunks = append(chunks, s.chunks[s.ids[i]])
		vec := make([]float32, s.dim)
		copy(vec, s.vectors[i])
		vectors = append(vectors, vec)
	}
	return chunks, vectors
}

// Reset discards all vectors and chunk metadata and deletes the persisted
// files as one logical operation. Idempotent. The ID counter restarts at 1.
func (s *LocalStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = nil
	s.vectors = nil
	s.chunks = make(map[int64]models.Chunk)
	s.nextID = 1
	return removeSnapshot(s.dir)
}

// Close is a no-op for LocalStore; state is already durable on disk.
func (s *LocalStore) Close() error {
	return nil
}

func (s *LocalStore) persistLocked() error {
	chunks := make([]models.Chunk, 0, len(s.chunks))
	for _, id := range s.ids {
		chunks = append(chunks, s.chunks[id])
	}
	return writeSnapshot(s.dir, s.dim, s.ids, s.vectors, chunks, s.nextID)
}
