// Package benchmark measures ingest and search throughput with the mock embedder.
package benchmark

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/quarrydb/quarry/internal/catalog"
	"github.com/quarrydb/quarry/internal/chunker"
	"github.com/quarrydb/quarry/internal/embedding"
	"github.com/quarrydb/quarry/internal/index"
	"github.com/quarrydb/quarry/internal/keyword"
	"github.com/quarrydb/quarry/internal/vector"
)

func buildEngine(b *testing.B, docs int) *index.Engine {
	b.Helper()
	dir := b.TempDir()
	store, err := vector.NewLocalStore(64, dir)
	if err != nil {
		b.Fatal(err)
	}
	cat, err := catalog.Open(filepath.Join(dir, "catalog.db"))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { cat.Close() })
	e := index.New(index.Config{}, chunker.New(0), embedding.NewMockEmbedder(64), store, keyword.NewIndex(), cat)
	ctx := context.Background()
	for i := 0; i < docs; i++ {
		text := fmt.Sprintf("document %d covers topic %d with shared retrieval vocabulary and filler text", i, i%17)
		if _, err := e.Ingest(ctx, fmt.Sprintf("doc-%d", i), text, "bench", nil); err != nil {
			b.Fatal(err)
		}
	}
	return e
}

func BenchmarkHybridSearch(b *testing.B) {
	e := buildEngine(b, 500)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.SearchHybrid(ctx, "shared retrieval vocabulary", 10, 0.5, nil); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkKeywordSearch(b *testing.B) {
	e := buildEngine(b, 500)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.SearchKeyword(ctx, "shared retrieval vocabulary", 10, nil); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkIngest(b *testing.B) {
	e := buildEngine(b, 0)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		text := fmt.Sprintf("benchmark document %d with a reasonable amount of prose to chunk and embed", i)
		if _, err := e.Ingest(ctx, fmt.Sprintf("doc-%d", i), text, "bench", nil); err != nil {
			b.Fatal(err)
		}
	}
}
