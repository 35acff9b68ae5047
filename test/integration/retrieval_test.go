// Package integration exercises the full retrieval stack with real storage.
package integration

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/quarrydb/quarry/internal/catalog"
	"github.com/quarrydb/quarry/internal/chunker"
	"github.com/quarrydb/quarry/internal/embedding"
	"github.com/quarrydb/quarry/internal/index"
	"github.com/quarrydb/quarry/internal/keyword"
	"github.com/quarrydb/quarry/internal/vector"
)

func buildEngine(t *testing.T, dir string) *index.Engine {
	t.Helper()
	embedder, err := embedding.NewEmbedder(embedding.Config{Provider: "mock", Dimensions: 64, CacheSize: 128})
	if err != nil {
		t.Fatal(err)
	}
	store, err := vector.NewStore(embedder.Dimensions(), vector.Config{Backend: "local", DataDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	cat, err := catalog.Open(filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cat.Close() })
	e := index.New(index.Config{}, chunker.New(200), embedder, store, keyword.NewIndex(), cat)
	local := store.(*vector.LocalStore)
	e.Restore(local.Chunks(), local.NextID())
	return e
}

func TestIntegration_IngestSearchAnswer(t *testing.T) {
	dir := t.TempDir()
	e := buildEngine(t, dir)
	ctx := context.Background()

	docs := map[string]string{
		"ml":     "Machine learning algorithms learn patterns from data.",
		"search": "Semantic search uses embeddings to find similar content.",
		"db":     "Relational databases store rows in tables with indexes.",
	}
	for id, text := range docs {
		if _, err := e.Ingest(ctx, id, text, "corpus", nil); err != nil {
			t.Fatal(err)
		}
	}

	hits, err := e.SearchHybrid(ctx, "machine learning from data", 3, 0.5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 || hits[0].DocID != "ml" {
		t.Errorf("expected the ML document first, got %+v", hits)
	}

	a, err := e.Answer(ctx, "how does semantic search work", 2, 0.5, 0, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if a.Text == "" || len(a.Citations) == 0 {
		t.Errorf("expected a cited answer, got %+v", a)
	}

	// The whole corpus survives a process restart.
	e2 := buildEngine(t, dir)
	stats, err := e2.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Chunks != 3 || stats.VectorSize != 3 {
		t.Errorf("corpus should survive restart: %+v", stats)
	}
	again, err := e2.SearchHybrid(ctx, "machine learning from data", 3, 0.5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) == 0 || again[0].DocID != "ml" {
		t.Errorf("restarted engine should rank identically, got %+v", again)
	}
}

func TestIntegration_ResetThenReingest(t *testing.T) {
	dir := t.TempDir()
	e := buildEngine(t, dir)
	ctx := context.Background()

	if _, err := e.Ingest(ctx, "old", "content from before the reset", "", nil); err != nil {
		t.Fatal(err)
	}
	if err := e.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Ingest(ctx, "new", "content from after the reset", "", nil); err != nil {
		t.Fatal(err)
	}
	hits, err := e.SearchHybrid(ctx, "content reset", 5, 0.5, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range hits {
		if h.DocID == "old" {
			t.Errorf("pre-reset content must be gone: %+v", h)
		}
	}
	stats, err := e.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Documents != 1 || stats.Chunks != 1 {
		t.Errorf("only post-reset content should remain: %+v", stats)
	}
}
