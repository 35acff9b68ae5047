package search

import (
	"testing"

	"github.com/quarrydb/quarry/internal/models"
)

func hit(id int64, score float64) models.Hit {
	return models.Hit{ChunkID: id, DocID: "d", Text: "t", Score: score}
}

func TestFuse_AlphaExtremes(t *testing.T) {
	vec := []models.Hit{hit(1, 0.9), hit(2, 0.1)}
	kw := []models.Hit{hit(2, 5.0), hit(1, 1.0)}

	pure := Fuse(vec, kw, 1.0, 10)
	if pure[0].ChunkID != 1 {
		t.Errorf("alpha=1 should follow the vector ranking, got chunk %d first", pure[0].ChunkID)
	}
	kwOnly := Fuse(vec, kw, 0.0, 10)
	if kwOnly[0].ChunkID != 2 {
		t.Errorf("alpha=0 should follow the keyword ranking, got chunk %d first", kwOnly[0].ChunkID)
	}
}

func TestFuse_MinMaxNormalization(t *testing.T) {
	vec := []models.Hit{hit(1, 10.0), hit(2, 0.0)}
	kw := []models.Hit{hit(2, 3.0), hit(1, 1.0)}
	fused := Fuse(vec, kw, 0.5, 10)
	// chunk 1: 0.5*1.0 + 0.5*0.0 = 0.5; chunk 2: 0.5*0.0 + 0.5*1.0 = 0.5.
	if len(fused) != 2 {
		t.Fatalf("expected 2 fused hits, got %d", len(fused))
	}
	if fused[0].Score != fused[1].Score {
		t.Errorf("symmetric extremes should fuse to equal scores, got %f and %f", fused[0].Score, fused[1].Score)
	}
	if fused[0].ChunkID != 1 {
		t.Errorf("equal fused scores must break ties by ascending chunk ID, got %d first", fused[0].ChunkID)
	}
}

func TestFuse_SingleCandidateNormalizesToOne(t *testing.T) {
	fused := Fuse([]models.Hit{hit(1, 0.0001)}, nil, 1.0, 10)
	if len(fused) != 1 || fused[0].Score != 1.0 {
		t.Fatalf("a lone candidate must normalize to 1.0, got %+v", fused)
	}
}

func TestFuse_EqualScoresNormalizeToOne(t *testing.T) {
	vec := []models.Hit{hit(1, 0.5), hit(2, 0.5)}
	fused := Fuse(vec, nil, 1.0, 10)
	for _, h := range fused {
		if h.Score != 1.0 {
			t.Errorf("zero score range must normalize every candidate to 1.0, got %f for chunk %d", h.Score, h.ChunkID)
		}
	}
}

func TestFuse_MissingSideContributesZero(t *testing.T) {
	vec := []models.Hit{hit(1, 0.9), hit(2, 0.1)}
	kw := []models.Hit{hit(3, 2.0), hit(2, 1.0)}
	fused := Fuse(vec, kw, 0.5, 10)
	if len(fused) != 3 {
		t.Fatalf("fused set must union both sides, got %d hits", len(fused))
	}
	scores := make(map[int64]float64)
	for _, h := range fused {
		scores[h.ChunkID] = h.Score
	}
	// chunk 1 appears only on the vector side: 0.5*1.0 + 0.5*0 = 0.5.
	if scores[1] != 0.5 {
		t.Errorf("vector-only candidate should score 0.5, got %f", scores[1])
	}
	// chunk 3 appears only on the keyword side: 0.5*0 + 0.5*1.0 = 0.5.
	if scores[3] != 0.5 {
		t.Errorf("keyword-only candidate should score 0.5, got %f", scores[3])
	}
}

func TestFuse_CutsAtK(t *testing.T) {
	vec := []models.Hit{hit(1, 0.9), hit(2, 0.5), hit(3, 0.1)}
	fused := Fuse(vec, nil, 1.0, 2)
	if len(fused) != 2 {
		t.Fatalf("expected k=2 hits, got %d", len(fused))
	}
	if fused[0].ChunkID != 1 || fused[1].ChunkID != 2 {
		t.Errorf("the cut must keep the best-ranked hits, got %+v", fused)
	}
}

func TestFuse_EmptyInputs(t *testing.T) {
	if got := Fuse(nil, nil, 0.5, 5); len(got) != 0 {
		t.Errorf("fusing empty lists should yield nothing, got %+v", got)
	}
	if got := Fuse([]models.Hit{hit(1, 1)}, nil, 0.5, 0); got != nil {
		t.Errorf("k=0 should yield nil, got %+v", got)
	}
}
