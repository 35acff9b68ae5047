package vector

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/quarrydb/quarry/internal/models"
)

func newTestStore(t *testing.T, dim int) (*LocalStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewLocalStore(dim, dir)
	if err != nil {
		t.Fatal(err)
	}
	return s, dir
}

func TestLocalStore_AddSearch(t *testing.T) {
	s, _ := newTestStore(t, 3)
	ctx := context.Background()
	chunks := []models.Chunk{
		{ID: 1, DocID: "a", Text: "first"},
		{ID: 2, DocID: "b", Text: "second"},
		{ID: 3, DocID: "c", Text: "third"},
	}
	vectors := [][]float32{{1, 0, 0}, {0.9, 0.1, 0}, {0, 1, 0}}
	if err := s.Add(ctx, chunks, vectors); err != nil {
		t.Fatal(err)
	}

	hits, err := s.Search(ctx, []float32{1, 0, 0}, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ChunkID != 1 {
		t.Errorf("top hit should be chunk 1, got %d", hits[0].ChunkID)
	}
	if hits[0].Score < hits[1].Score {
		t.Error("hits must be ordered by descending score")
	}
}

func TestLocalStore_DimensionError(t *testing.T) {
	s, _ := newTestStore(t, 4)
	ctx := context.Background()
	err := s.Add(ctx, []models.Chunk{{ID: 1}}, [][]float32{{1, 0}})
	var de *DimensionError
	if !errors.As(err, &de) {
		t.Fatalf("expected DimensionError, got %v", err)
	}
	if de.Expected != 4 || de.Actual != 2 {
		t.Errorf("unexpected dimensions in error: %+v", de)
	}
	if _, err := s.Search(ctx, []float32{1}, 5, nil); !errors.As(err, &de) {
		t.Errorf("search with wrong dimension should fail, got %v", err)
	}
}

func TestLocalStore_FilterBeforeTopK(t *testing.T) {
	s, _ := newTestStore(t, 2)
	ctx := context.Background()
	chunks := []models.Chunk{
		{ID: 1, DocID: "noise", Text: "n1"},
		{ID: 2, DocID: "noise", Text: "n2"},
		{ID: 3, DocID: "target", Text: "t1"},
	}
	vectors := [][]float32{{1, 0}, {1, 0}, {0.5, 0.5}}
	if err := s.Add(ctx, chunks, vectors); err != nil {
		t.Fatal(err)
	}
	hits, err := s.Search(ctx, []float32{1, 0}, 2, &models.Filter{DocID: "target"})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].DocID != "target" {
		t.Fatalf("filter must apply before the top-k cut, got %v", hits)
	}
}

func TestLocalStore_MissingTimestampExcluded(t *testing.T) {
	s, _ := newTestStore(t, 2)
	ctx := context.Background()
	now := time.Now().UTC()
	chunks := []models.Chunk{
		{ID: 1, DocID: "dated", Text: "d", Timestamp: &now},
		{ID: 2, DocID: "undated", Text: "u"},
	}
	if err := s.Add(ctx, chunks, [][]float32{{1, 0}, {1, 0}}); err != nil {
		t.Fatal(err)
	}
	to := now.Add(time.Hour)
	for _, k := range []int{1, 2, 10} {
		hits, err := s.Search(ctx, []float32{1, 0}, k, &models.Filter{DateTo: &to})
		if err != nil {
			t.Fatal(err)
		}
		for _, h := range hits {
			if h.DocID == "undated" {
				t.Fatalf("k=%d: chunk without timestamp must be excluded from range-filtered results", k)
			}
		}
	}
}

func TestLocalStore_TieBrokenByChunkID(t *testing.T) {
	s, _ := newTestStore(t, 2)
	ctx := context.Background()
	chunks := []models.Chunk{
		{ID: 9, DocID: "a", Text: "x"},
		{ID: 4, DocID: "b", Text: "y"},
	}
	if err := s.Add(ctx, chunks, [][]float32{{1, 0}, {1, 0}}); err != nil {
		t.Fatal(err)
	}
	hits, err := s.Search(ctx, []float32{1, 0}, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if hits[0].ChunkID != 4 || hits[1].ChunkID != 9 {
		t.Errorf("ties must break by ascending chunk ID, got %d then %d", hits[0].ChunkID, hits[1].ChunkID)
	}
}

func TestLocalStore_PersistRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s1, err := NewLocalStore(3, dir)
	if err != nil {
		t.Fatal(err)
	}
	chunks := []models.Chunk{
		{ID: 1, DocID: "doc", Text: "persisted chunk"},
		{ID: 2, DocID: "doc", Text: "another chunk"},
	}
	if err := s1.Add(ctx, chunks, [][]float32{{1, 0, 0}, {0, 1, 0}}); err != nil {
		t.Fatal(err)
	}
	before, err := s1.Search(ctx, []float32{1, 0, 0}, 2, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Simulate restart: a fresh store loads from the same directory.
	s2, err := NewLocalStore(3, dir)
	if err != nil {
		t.Fatal(err)
	}
	after, err := s2.Search(ctx, []float32{1, 0, 0}, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(before) != len(after) {
		t.Fatalf("result count changed across restart: %d vs %d", len(before), len(after))
	}
	for i := range before {
		if before[i].ChunkID != after[i].ChunkID || before[i].Score != after[i].Score {
			t.Errorf("hit %d changed across restart: %+v vs %+v", i, before[i], after[i])
		}
	}
	if got := s2.NextID(); got != 3 {
		t.Errorf("next ID should survive restart, got %d", got)
	}
}

func TestLocalStore_PersistFailureRollsBack(t *testing.T) {
	s, dir := newTestStore(t, 2)
	ctx := context.Background()
	if err := s.Add(ctx, []models.Chunk{{ID: 1, DocID: "d", Text: "kept"}}, [][]float32{{1, 0}}); err != nil {
		t.Fatal(err)
	}

	// A directory squatting on the temp path makes the snapshot write fail.
	blocker := filepath.Join(dir, VectorSnapshotFile+".tmp")
	if err := os.MkdirAll(blocker, 0o755); err != nil {
		t.Fatal(err)
	}
	batch := []models.Chunk{{ID: 2, DocID: "d", Text: "new"}}
	vecs := [][]float32{{0, 1}}
	var pe *PersistenceError
	if err := s.Add(ctx, batch, vecs); !errors.As(err, &pe) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if n, _ := s.Size(ctx); n != 1 {
		t.Fatalf("failed add must leave the store unchanged, got %d vectors", n)
	}
	if got := s.NextID(); got != 2 {
		t.Errorf("failed add must not advance the ID counter, got %d", got)
	}

	// Retrying the identical batch once the cause is cleared adds it once.
	if err := os.Remove(blocker); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(ctx, batch, vecs); err != nil {
		t.Fatal(err)
	}
	hits, err := s.Search(ctx, []float32{0, 1}, 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	seen := make(map[int64]int)
	for _, h := range hits {
		seen[h.ChunkID]++
	}
	if seen[2] != 1 {
		t.Errorf("chunk 2 must appear exactly once after the retry, got %d", seen[2])
	}

	s2, err := NewLocalStore(2, dir)
	if err != nil {
		t.Fatalf("restart after fail-then-retry: %v", err)
	}
	if n, _ := s2.Size(ctx); n != 2 {
		t.Errorf("expected 2 persisted vectors, got %d", n)
	}
}

func TestLocalStore_CorruptSnapshotCountRejected(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s, err := NewLocalStore(2, dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Add(ctx, []models.Chunk{{ID: 1, DocID: "d", Text: "t"}}, [][]float32{{1, 0}}); err != nil {
		t.Fatal(err)
	}

	// Rewrite the vector file claiming the maximum entry count with no
	// entries behind it.
	var buf bytes.Buffer
	var hdr [12]byte
	copy(hdr[0:4], snapshotMagic[:])
	binary.LittleEndian.PutUint16(hdr[4:6], snapshotVersion)
	binary.LittleEndian.PutUint32(hdr[8:12], 2)
	buf.Write(hdr[:])
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if err := binary.Write(zw, binary.LittleEndian, uint32(0xFFFFFFFF)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, VectorSnapshotFile), buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = NewLocalStore(2, dir)
	var ce *ConsistencyError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConsistencyError for a truncated entry list, got %v", err)
	}
}

func TestLocalStore_OneFileMissingIsConsistencyError(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s, err := NewLocalStore(2, dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Add(ctx, []models.Chunk{{ID: 1, DocID: "d", Text: "t"}}, [][]float32{{1, 0}}); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(dir, ChunkMetaFile)); err != nil {
		t.Fatal(err)
	}
	_, err = NewLocalStore(2, dir)
	var ce *ConsistencyError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConsistencyError with one persisted file missing, got %v", err)
	}
}

func TestLocalStore_DimensionMismatchOnLoad(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s, err := NewLocalStore(2, dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Add(ctx, []models.Chunk{{ID: 1, DocID: "d", Text: "t"}}, [][]float32{{1, 0}}); err != nil {
		t.Fatal(err)
	}
	_, err = NewLocalStore(3, dir)
	var ce *ConsistencyError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConsistencyError on dimension change, got %v", err)
	}
}

func TestLocalStore_ResetIdempotent(t *testing.T) {
	s, dir := newTestStore(t, 2)
	ctx := context.Background()
	if err := s.Add(ctx, []models.Chunk{{ID: 1, DocID: "d", Text: "t"}}, [][]float32{{1, 0}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("second reset must not fail: %v", err)
	}
	if n, _ := s.Size(ctx); n != 0 {
		t.Errorf("expected empty store after reset, got %d", n)
	}
	for _, name := range []string{VectorSnapshotFile, ChunkMetaFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Errorf("persisted file %s should be deleted on reset", name)
		}
	}
	// A fresh store over the reset directory starts empty.
	s2, err := NewLocalStore(2, dir)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := s2.Size(ctx); n != 0 {
		t.Errorf("store reloaded after reset should be empty, got %d", n)
	}
}

func TestLocalStore_Export(t *testing.T) {
	s, _ := newTestStore(t, 2)
	ctx := context.Background()
	chunks := []models.Chunk{
		{ID: 2, DocID: "b", Text: "second"},
		{ID: 1, DocID: "a", Text: "first"},
	}
	if err := s.Add(ctx, chunks, [][]float32{{0, 1}, {1, 0}}); err != nil {
		t.Fatal(err)
	}
	outChunks, outVecs := s.Export()
	if len(outChunks) != 2 || len(outVecs) != 2 {
		t.Fatalf("expected 2 exported entries, got %d/%d", len(outChunks), len(outVecs))
	}
	if outChunks[0].ID != 1 || outChunks[1].ID != 2 {
		t.Errorf("export must be ordered by chunk ID, got %d then %d", outChunks[0].ID, outChunks[1].ID)
	}
	if outVecs[0][0] != 1 {
		t.Errorf("vectors must follow chunk order, got %v", outVecs[0])
	}
}
