package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/quarrydb/quarry/internal/models"
)

// statusError is a non-retryable HTTP error response from Qdrant.
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string { return e.msg }

const defaultQdrantTimeout = 15 * time.Second

// QdrantConfig configures the remote Qdrant-backed store.
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// QdrantStore delegates vector storage and nearest-neighbor search to a
// Qdrant instance over its REST API. Local filter semantics are translated
// into Qdrant filter expressions; a chunk stored without a timestamp has no
// ts field in its payload, so range conditions exclude it, matching the
// local store. No local cache of vectors is kept: connection loss is a
// retryable BackendUnavailableError, not a data-loss event.
type QdrantStore struct {
	url        string
	apiKey     string
	collection string
	dim        int
	client     *http.Client
}

// NewQdrantStore connects to Qdrant and creates the collection if missing
// (cosine distance, the given dimension).
func NewQdrantStore(dim int, cfg QdrantConfig) (*QdrantStore, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dim)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultQdrantTimeout
	}
	s := &QdrantStore{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dim:        dim,
		client:     &http.Client{Timeout: timeout},
	}
	if err := s.ensureCollection(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Type returns the store type identifier.
func (s *QdrantStore) Type() string {
	return "qdrant"
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     s.dim,
			"distance": "Cosine",
		},
	}
	return s.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", s.collection), body, nil)
}

// Add upserts chunk vectors as points keyed by chunk ID. The ts payload
// field is written only for chunks that carry a timestamp.
func (s *QdrantStore) Add(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks and vectors length mismatch: %d vs %d", len(chunks), len(vectors))
	}
	points := make([]map[string]any, len(chunks))
	for i, c := range chunks {
		if len(vectors[i]) != s.dim {
			return &DimensionError{Expected: s.dim, Actual: len(vectors[i])}
		}
		payload := map[string]any{
			"doc_id": c.DocID,
			"text":   c.Text,
		}
		if c.Source != "" {
			payload["source"] = c.Source
		}
		if c.Timestamp != nil {
			payload["ts"] = c.Timestamp.Unix()
		}
		points[i] = map[string]any{
			"id":      c.ID,
			"vector":  normalized(vectors[i]),
			"payload": payload,
		}
	}
	path := fmt.Sprintf("/collections/%s/points?wait=true", s.collection)
	return s.do(ctx, http.MethodPut, path, map[string]any{"points": points}, nil)
}

// Search queries Qdrant with the translated filter and returns hits ordered
// by descending score, ties broken by ascending chunk ID.
func (s *QdrantStore) Search(ctx context.Context, query []float32, k int, f *models.Filter) ([]models.Hit, error) {
	if len(query) != s.dim {
		return nil, &DimensionError{Expected: s.dim, Actual: len(query)}
	}
	if k <= 0 {
		return nil, nil
	}
	req := map[string]any{
		"vector":       normalized(query),
		"limit":        k,
		"with_payload": true,
	}
	if qf := translateFilter(f); qf != nil {
		req["filter"] = qf
	}
	var resp struct {
		Result []struct {
			ID      int64          `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", s.collection)
	if err := s.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	hits := make([]models.Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hit := models.Hit{ChunkID: r.ID, Score: r.Score}
		if v, ok := r.Payload["doc_id"].(string); ok {
			hit.DocID = v
		}
		if v, ok := r.Payload["text"].(string); ok {
			hit.Text = v
		}
		if v, ok := r.Payload["source"].(string); ok {
			hit.Source = v
		}
		if v, ok := r.Payload["ts"].(float64); ok {
			ts := time.Unix(int64(v), 0).UTC()
			hit.Timestamp = &ts
		}
		hits = append(hits, hit)
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	return hits, nil
}

// Size returns the exact point count of the collection.
func (s *QdrantStore) Size(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/count", s.collection)
	if err := s.do(ctx, http.MethodPost, path, map[string]any{"exact": true}, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

// Reset drops and recreates the collection. Idempotent: dropping a missing
// collection is not an error.
func (s *QdrantStore) Reset(ctx context.Context) error {
	err := s.do(ctx, http.MethodDelete, fmt.Sprintf("/collections/%s", s.collection), nil, nil)
	if err != nil {
		var se *statusError
		if !(errors.As(err, &se) && se.code == http.StatusNotFound) {
			return err
		}
	}
	return s.ensureCollection(ctx)
}

// Close is a no-op; the HTTP client holds no persistent connection state
// worth tearing down explicitly.
func (s *QdrantStore) Close() error {
	return nil
}

// translateFilter maps the local filter predicate onto Qdrant's native
// filter expression: one must-clause per predicate.
func translateFilter(f *models.Filter) map[string]any {
	if f.IsZero() {
		return nil
	}
	var must []map[string]any
	if f.DocID != "" {
		must = append(must, map[string]any{"key": "doc_id", "match": map[string]any{"value": f.DocID}})
	}
	if f.Source != "" {
		must = append(must, map[string]any{"key": "source", "match": map[string]any{"value": f.Source}})
	}
	if f.DateFrom != nil || f.DateTo != nil {
		rng := map[string]any{}
		if f.DateFrom != nil {
			rng["gte"] = f.DateFrom.Unix()
		}
		if f.DateTo != nil {
			rng["lte"] = f.DateTo.Unix()
		}
		must = append(must, map[string]any{"key": "ts", "range": rng})
	}
	return map[string]any{"must": must}
}

// do runs one request against Qdrant. Transport failures and server errors
// become BackendUnavailableError; 4xx responses are returned as plain errors
// since retrying them cannot help.
func (s *QdrantStore) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.url+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return &BackendUnavailableError{Backend: "qdrant", At: time.Now(), Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return &BackendUnavailableError{
			Backend: "qdrant",
			At:      time.Now(),
			Err:     fmt.Errorf("%s %s: %s", method, path, resp.Status),
		}
	}
	if resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode, msg: fmt.Sprintf("qdrant %s %s failed: %s", method, path, resp.Status)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode qdrant response: %w", err)
		}
	}
	return nil
}
