package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quarrydb/quarry/internal/catalog"
	"github.com/quarrydb/quarry/internal/models"
	"github.com/quarrydb/quarry/internal/vector"
)

type ingestRequest struct {
	DocID     string     `json:"doc_id"`
	Text      string     `json:"text"`
	Source    string     `json:"source,omitempty"`
	Timestamp *time.Time `json:"ts,omitempty"`
}

type searchRequest struct {
	Query  string         `json:"query"`
	Mode   string         `json:"mode,omitempty"`
	K      int            `json:"k,omitempty"`
	Alpha  *float64       `json:"alpha,omitempty"`
	Filter *models.Filter `json:"filter,omitempty"`
}

type answerRequest struct {
	searchRequest
	MaxChars      int  `json:"max_chars,omitempty"`
	IncludeScores bool `json:"include_scores,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DocID == "" {
		req.DocID = uuid.New().String()
	}
	s.logger.Debug("ingest request", zap.String("doc_id", req.DocID), zap.Int("bytes", len(req.Text)))
	res, err := s.engine.Ingest(r.Context(), req.DocID, req.Text, req.Source, req.Timestamp)
	if err != nil {
		s.respondEngineError(w, "ingest", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	k, alpha := s.fillDefaults(req.K, req.Alpha)
	s.logger.Debug("search request", zap.String("query", req.Query), zap.String("mode", req.Mode), zap.Int("k", k))

	var (
		hits []models.Hit
		err  error
	)
	switch req.Mode {
	case "vector":
		hits, err = s.engine.SearchVector(r.Context(), req.Query, k, req.Filter)
	case "keyword":
		hits, err = s.engine.SearchKeyword(r.Context(), req.Query, k, req.Filter)
	case "hybrid", "":
		hits, err = s.engine.SearchHybrid(r.Context(), req.Query, k, alpha, req.Filter)
	default:
		s.respondError(w, http.StatusBadRequest, "mode must be vector, keyword, or hybrid")
		return
	}
	if err != nil {
		s.respondEngineError(w, "search", err)
		return
	}
	if hits == nil {
		hits = []models.Hit{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"hits": hits, "count": len(hits)})
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	k, alpha := s.fillDefaults(req.K, req.Alpha)
	s.logger.Debug("answer request", zap.String("query", req.Query), zap.Int("k", k))
	a, err := s.engine.Answer(r.Context(), req.Query, k, alpha, req.MaxChars, req.IncludeScores, req.Filter)
	if err != nil {
		s.respondEngineError(w, "answer", err)
		return
	}
	s.respondJSON(w, http.StatusOK, a)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("reset request")
	if err := s.engine.Reset(r.Context()); err != nil {
		s.respondEngineError(w, "reset", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 50)
	docs, err := s.engine.Documents(r.Context(), offset, limit)
	if err != nil {
		s.respondEngineError(w, "documents", err)
		return
	}
	if docs == nil {
		docs = []catalog.DocumentInfo{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		s.respondEngineError(w, "status", err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"backend":      s.engine.Backend(),
		"embedder_dim": s.engine.EmbedderDimensions(),
	})
}

func (s *Server) fillDefaults(k int, alpha *float64) (int, float64) {
	if k == 0 {
		k = s.engine.DefaultK()
	}
	a := s.engine.DefaultAlpha()
	if alpha != nil {
		a = *alpha
	}
	return k, a
}

// respondEngineError maps engine errors onto HTTP statuses: caller mistakes
// are 400, a down remote backend is 503, everything else is 500.
func (s *Server) respondEngineError(w http.ResponseWriter, op string, err error) {
	var ve *models.ValidationError
	if errors.As(err, &ve) {
		s.respondError(w, http.StatusBadRequest, ve.Error())
		return
	}
	var be *vector.BackendUnavailableError
	if errors.As(err, &be) {
		s.logger.Error(op+" failed: backend unavailable", zap.Error(err))
		s.respondError(w, http.StatusServiceUnavailable, be.Error())
		return
	}
	s.logger.Error(op+" failed", zap.Error(err))
	s.respondError(w, http.StatusInternalServerError, err.Error())
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
