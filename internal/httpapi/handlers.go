// Package httpapi exposes the query service over plain HTTP: a handful of
// GET endpoints, each parsing its query-string parameters and writing back
// the uniform Envelope shape (§6).
package httpapi

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/catalogsearch/search/internal/indexer"
	"github.com/catalogsearch/search/internal/jsonutil"
	"github.com/catalogsearch/search/internal/queryservice"
)

// Server wires the query service into a mux.
type Server struct {
	svc    *queryservice.Service
	logger *zap.Logger

	reindexStatus func() ReindexStatus
}

// ReindexStatus is the /api/reindex/status payload: the last reindex run's
// outcome, surfaced to operators for observability.
type ReindexStatus struct {
	LastRun     string `json:"last_run,omitempty"`
	LastResult  string `json:"last_result,omitempty"`
	LastIndex   string `json:"last_index,omitempty"`
	LastError   string `json:"last_error,omitempty"`
	InProgress  bool   `json:"in_progress"`
}

func NewServer(svc *queryservice.Service, logger *zap.Logger, reindexStatus func() ReindexStatus) *Server {
	if reindexStatus == nil {
		reindexStatus = func() ReindexStatus { return ReindexStatus{} }
	}
	return &Server{svc: svc, logger: logger, reindexStatus: reindexStatus}
}

// Mux builds the request router. The Server binds no port itself: callers
// mount the mux on their own http.Server, and tests drive it with httptest.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/search", s.handleSearch)
	mux.HandleFunc("/api/autocomplete", s.handleAutocomplete)
	mux.HandleFunc("/api/availability", s.handleAvailability)
	mux.HandleFunc("/api/test", s.handleTest)
	mux.HandleFunc("/api/reindex/status", s.handleReindexStatus)
	return mux
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	params := queryservice.SearchParams{
		Q:          q.Get("q"),
		Page:       intParam(q, "page", 1),
		Limit:      intParam(q, "limit", 20),
		CityID:     int64Param(q, "city_id", 0),
		Sort:       q.Get("sort"),
		BrandName:  q.Get("brand_name"),
		SeriesName: q.Get("series_name"),
		Category:   q.Get("category"),
	}
	env := s.svc.Search(r.Context(), params)
	writeEnvelope(w, env)
}

func (s *Server) handleAutocomplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	env := s.svc.Autocomplete(r.Context(), q.Get("q"), intParam(q, "limit", 10))
	writeEnvelope(w, env)
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	env := s.svc.Availability(r.Context(), int64Param(q, "city_id", 0), q.Get("product_ids"))
	writeEnvelope(w, env)
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	env := s.svc.Test(r.Context(), time.Now())
	writeEnvelope(w, env)
}

func (s *Server) handleReindexStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	status := s.reindexStatus()
	writeJSON(w, http.StatusOK, status)
}

func writeEnvelope(w http.ResponseWriter, env queryservice.Envelope) {
	writeJSON(w, env.HTTPStatus, env)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := jsonutil.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"error":"internal encoding failure"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}

func intParam(q url.Values, key string, def int) int {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func int64Param(q url.Values, key string, def int64) int64 {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// StatusFromResult turns an indexer.Result into the operator-facing
// reindex status payload; cmd/search-reindex persists the last one it
// produced for cmd/search-server to serve back out.
func StatusFromResult(result *indexer.Result, runAt time.Time, runErr error) ReindexStatus {
	status := ReindexStatus{LastRun: runAt.UTC().Format(time.RFC3339)}
	if runErr != nil {
		status.LastResult = "error"
		status.LastError = runErr.Error()
		return status
	}
	status.LastResult = "ok"
	if result != nil {
		status.LastIndex = result.IndexName
	}
	return status
}
