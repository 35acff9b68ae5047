// Package cli provides the HTTP API client and output formatting for the
// Quarry command line.
package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/quarrydb/quarry/internal/catalog"
	"github.com/quarrydb/quarry/internal/index"
	"github.com/quarrydb/quarry/internal/models"
	"github.com/quarrydb/quarry/internal/search"
)

// Client talks to a running Quarry server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// IngestRequest is the body of POST /api/v1/ingest.
type IngestRequest struct {
	DocID     string     `json:"doc_id,omitempty"`
	Text      string     `json:"text"`
	Source    string     `json:"source,omitempty"`
	Timestamp *time.Time `json:"ts,omitempty"`
}

// SearchRequest is the body of POST /api/v1/search.
type SearchRequest struct {
	Query  string         `json:"query"`
	Mode   string         `json:"mode,omitempty"`
	K      int            `json:"k,omitempty"`
	Alpha  *float64       `json:"alpha,omitempty"`
	Filter *models.Filter `json:"filter,omitempty"`
}

// AnswerRequest is the body of POST /api/v1/answer.
type AnswerRequest struct {
	SearchRequest
	MaxChars      int  `json:"max_chars,omitempty"`
	IncludeScores bool `json:"include_scores,omitempty"`
}

// SearchResponse is the body of a search reply.
type SearchResponse struct {
	Hits  []models.Hit `json:"hits"`
	Count int          `json:"count"`
}

// DocumentsResponse is the body of GET /api/v1/documents.
type DocumentsResponse struct {
	Documents []catalog.DocumentInfo `json:"documents"`
	Count     int                    `json:"count"`
}

// Ingest indexes one document.
func (c *Client) Ingest(req IngestRequest) (*models.IngestResult, error) {
	var res models.IngestResult
	if err := c.post("/api/v1/ingest", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Search runs a search in the requested mode.
func (c *Client) Search(req SearchRequest) (*SearchResponse, error) {
	var res SearchResponse
	if err := c.post("/api/v1/search", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Answer requests an extractive answer.
func (c *Client) Answer(req AnswerRequest) (*search.Answer, error) {
	var res search.Answer
	if err := c.post("/api/v1/answer", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Reset clears the entire index.
func (c *Client) Reset() error {
	return c.post("/api/v1/reset", struct{}{}, nil)
}

// Status fetches corpus statistics.
func (c *Client) Status() (*index.Stats, error) {
	var res index.Stats
	if err := c.get("/api/v1/status", &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Documents fetches the document list.
func (c *Client) Documents() (*DocumentsResponse, error) {
	var res DocumentsResponse
	if err := c.get("/api/v1/documents", &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) post(path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := c.http.Post(c.baseURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return c.decode(resp, out)
}

func (c *Client) get(path string, out any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return c.decode(resp, out)
}

func (c *Client) decode(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
