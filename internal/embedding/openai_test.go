package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newRemote(t *testing.T, url string, dim int) *RemoteEmbedder {
	t.Helper()
	t.Setenv("TEST_EMBED_KEY", "secret")
	e, err := NewRemoteEmbedder(RemoteConfig{BaseURL: url, APIKeyEnv: "TEST_EMBED_KEY", Dimensions: dim})
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func embeddingResponse(vec []float32) map[string]any {
	return map[string]any{"data": []map[string]any{{"embedding": vec}}}
}

func TestRemoteEmbedder_EmbedNormalizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("missing auth header, got %q", got)
		}
		_ = json.NewEncoder(w).Encode(embeddingResponse([]float32{3, 4}))
	}))
	defer srv.Close()

	e := newRemote(t, srv.URL, 2)
	vec, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	var norm float64
	for _, x := range vec {
		norm += float64(x * x)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("embedding should be unit length, got norm^2=%f", norm)
	}
}

func TestRemoteEmbedder_RetriesOn429(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(embeddingResponse([]float32{1, 0}))
	}))
	defer srv.Close()

	e := newRemote(t, srv.URL, 2)
	if _, err := e.Embed(context.Background(), "hello"); err != nil {
		t.Fatalf("embed should succeed after retries: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestRemoteEmbedder_NoRetryOn400(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	e := newRemote(t, srv.URL, 2)
	if _, err := e.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected an error for a 400 response")
	}
	if calls.Load() != 1 {
		t.Errorf("client errors must not be retried, got %d attempts", calls.Load())
	}
}

func TestRemoteEmbedder_DimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embeddingResponse([]float32{1, 0, 0}))
	}))
	defer srv.Close()

	e := newRemote(t, srv.URL, 2)
	_, err := e.Embed(context.Background(), "hello")
	var de *DimensionError
	if !errors.As(err, &de) {
		t.Fatalf("expected DimensionError, got %v", err)
	}
	if de.Expected != 2 || de.Actual != 3 {
		t.Errorf("unexpected dimensions in error: %+v", de)
	}
}

func TestRemoteEmbedder_EmptyText(t *testing.T) {
	e := newRemote(t, "http://unused.invalid", 2)
	if _, err := e.Embed(context.Background(), "   "); !errors.Is(err, ErrEmptyText) {
		t.Errorf("expected ErrEmptyText, got %v", err)
	}
}

func TestRemoteEmbedder_MissingKey(t *testing.T) {
	t.Setenv("TEST_EMBED_KEY_ABSENT", "")
	if _, err := NewRemoteEmbedder(RemoteConfig{APIKeyEnv: "TEST_EMBED_KEY_ABSENT"}); err == nil {
		t.Error("expected an error when the API key env is unset")
	}
}

func TestRemoteEmbedder_EmbedBatchPreservesOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		// Encode the input length in the first component so order is checkable.
		_ = json.NewEncoder(w).Encode(embeddingResponse([]float32{float32(len(req.Input)), 1}))
	}))
	defer srv.Close()

	e := newRemote(t, srv.URL, 2)
	texts := []string{"a", "bb", "ccc", "dddd"}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range vecs {
		want := float32(len(texts[i]))
		// Normalization preserves the component ratio; recover the raw value.
		ratio := v[0] / v[1]
		if math.Abs(float64(ratio-want)) > 1e-3 {
			t.Errorf("batch result %d out of order: ratio %f, want %f", i, ratio, want)
		}
	}
}
