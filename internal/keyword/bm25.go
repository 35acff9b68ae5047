package keyword

import (
	"math"
	"sort"
	"sync"

	"github.com/quarrydb/quarry/internal/models"
)

// BM25 constants.
const (
	k1 = 1.2
	b  = 0.75
)

type posting struct {
	chunkID int64
	tf      int
}

// Index is an incremental inverted index with BM25 ranking over chunks.
// It always runs in-process, regardless of the vector store variant, and
// guards its state with its own lock.
type Index struct {
	mu       sync.RWMutex
	postings map[string][]posting
	docLens  map[int64]int
	chunks   map[int64]models.Chunk
	totalLen int
}

// NewIndex creates an empty keyword index.
func NewIndex() *Index {
	return &Index{
		postings: make(map[string][]posting),
		docLens:  make(map[int64]int),
		chunks:   make(map[int64]models.Chunk),
	}
}

// Add indexes one chunk, updating postings and corpus statistics
// incrementally. Chunks with no tokens contribute nothing to postings but
// are still tracked so hits can be resolved by ID.
func (ix *Index) Add(c models.Chunk) {
	terms := Tokenize(c.Text)
	tf := make(map[string]int, len(terms))
	for _, t := range terms {
		tf[t]++
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for t, n := range tf {
		ix.postings[t] = append(ix.postings[t], posting{chunkID: c.ID, tf: n})
	}
	ix.docLens[c.ID] = len(terms)
	ix.totalLen += len(terms)
	ix.chunks[c.ID] = c
}

// Rebuild resets the index and re-adds all chunks. Used on startup recovery.
func (ix *Index) Rebuild(chunks []models.Chunk) {
	ix.Reset()
	for _, c := range chunks {
		ix.Add(c)
	}
}

// Search ranks chunks matching the query by BM25, descending, ties broken by
// ascending chunk ID. The filter is applied before the top-k cut, so k means
// "up to k matching results". Chunks sharing no term with the query are
// excluded.
func (ix *Index) Search(query string, k int, f *models.Filter) []models.Hit {
	terms := Tokenize(query)
	if len(terms) == 0 || k <= 0 {
		return nil
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	n := len(ix.docLens)
	if n == 0 {
		return nil
	}
	avgdl := float64(ix.totalLen) / float64(n)
	if avgdl == 0 {
		avgdl = 1
	}

	seen := make(map[string]bool, len(terms))
	scores := make(map[int64]float64)
	for _, t := range terms {
		if seen[t] {
			continue
		}
		seen[t] = true
		plist := ix.postings[t]
		if len(plist) == 0 {
			continue
		}
		df := float64(len(plist))
		idf := math.Log(1 + (float64(n)-df+0.5)/(df+0.5))
		for _, p := range plist {
			tf := float64(p.tf)
			dl := float64(ix.docLens[p.chunkID])
			scores[p.chunkID] += idf * (tf * (k1 + 1)) / (tf + k1*(1-b+b*dl/avgdl))
		}
	}

	hits := make([]models.Hit, 0, len(scores))
	for id, score := range scores {
		c := ix.chunks[id]
		if !f.Matches(&c) {
			continue
		}
		hits = append(hits, models.HitFromChunk(c, score))
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
	return hits
}

// Size returns the number of indexed chunks.
func (ix *Index) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.chunks)
}

// Reset discards all postings, statistics, and chunk records. Idempotent.
func (ix *Index) Reset() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.postings = make(map[string][]posting)
	ix.docLens = make(map[int64]int)
	ix.chunks = make(map[int64]models.Chunk)
	ix.totalLen = 0
}
