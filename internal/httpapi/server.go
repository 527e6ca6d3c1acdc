// Package httpapi exposes the analysis pipeline and the watchlist over a
// narrow JSON API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/joelkehle/patent-insight/internal/analysis"
	"github.com/joelkehle/patent-insight/internal/fault"
	"github.com/joelkehle/patent-insight/internal/pipeline"
	"github.com/joelkehle/patent-insight/internal/report"
	"github.com/joelkehle/patent-insight/internal/watchlist"
)

const maxUploadBytes = 16 << 20

// Runner is the pipeline seam the server drives.
type Runner interface {
	Run(ctx context.Context, req pipeline.AnalysisRequest) (report.Report, error)
}

type Server struct {
	runner Runner
	watch  *watchlist.Store
}

// NewServer wires the routes. The watchlist store may be nil, in which
// case its routes answer 503.
func NewServer(runner Runner, watch *watchlist.Store) http.Handler {
	s := &Server{runner: runner, watch: watch}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/analyses", s.handleAnalyses)
	mux.HandleFunc("/v1/watchlist", s.handleWatchlist)
	mux.HandleFunc("/v1/watchlist/", s.handleWatchlistClass)
	mux.HandleFunc("/v1/health", s.handleHealth)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeFaultError maps the fault taxonomy onto HTTP statuses and keeps
// internal diagnostics out of the response body.
func writeFaultError(w http.ResponseWriter, err error) {
	kind := fault.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case fault.InvalidIdentifier, fault.UnsupportedFormat, fault.BudgetTooSmall:
		status = http.StatusBadRequest
	case fault.RateLimited:
		status = http.StatusTooManyRequests
	case fault.Timeout:
		status = http.StatusGatewayTimeout
	case fault.UpstreamFetchFailed, fault.MalformedResponse:
		status = http.StatusBadGateway
	case fault.AnalysisUnavailable:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ok": false,
		"error": map[string]any{
			"kind":    string(kind),
			"message": fault.UserMessage(err),
		},
	})
}

type analysisRequestBody struct {
	Identifier string   `json:"identifier"`
	XML        string   `json:"xml"`
	Filename   string   `json:"filename"`
	Stages     []string `json:"stages"`
}

func (s *Server) handleAnalyses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"ok": false, "error": "method not allowed"})
		return
	}

	req, err := decodeAnalysisRequest(r)
	if err != nil {
		writeFaultError(w, err)
		return
	}

	rep, err := s.runner.Run(r.Context(), req)
	if err != nil {
		writeFaultError(w, err)
		return
	}

	switch r.URL.Query().Get("format") {
	case "markdown":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		_, _ = io.WriteString(w, report.BuildMarkdown(rep))
	default:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "report": rep})
	}
}

// decodeAnalysisRequest accepts either a JSON envelope or a raw XML
// upload (Content-Type application/xml or text/xml).
func decodeAnalysisRequest(r *http.Request) (pipeline.AnalysisRequest, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		return pipeline.AnalysisRequest{}, fault.Wrap(fault.UnsupportedFormat, "could not read request body", err)
	}

	if strings.Contains(r.Header.Get("Content-Type"), "/xml") {
		return pipeline.AnalysisRequest{
			XML:      body,
			Filename: r.URL.Query().Get("filename"),
		}, nil
	}

	var env analysisRequestBody
	if err := json.Unmarshal(body, &env); err != nil {
		return pipeline.AnalysisRequest{}, fault.Wrap(fault.UnsupportedFormat, "request body is neither JSON nor XML", err)
	}
	if env.Identifier == "" && env.XML == "" {
		return pipeline.AnalysisRequest{}, fault.New(fault.InvalidIdentifier, "provide a patent identifier or XML document")
	}
	req := pipeline.AnalysisRequest{
		Identifier: env.Identifier,
		Filename:   env.Filename,
	}
	if env.XML != "" {
		req.XML = []byte(env.XML)
	}
	for _, st := range env.Stages {
		req.Stages = append(req.Stages, analysis.StageKind(strings.ToUpper(st)))
	}
	return req, nil
}

func (s *Server) handleWatchlist(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": "watchlist not configured"})
		return
	}
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"ok": false, "error": "method not allowed"})
		return
	}
	classes, err := s.watch.Classes(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "watchlist query failed"})
		return
	}
	if classes == nil {
		classes = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "classes": classes})
}

type watchlistEntryBody struct {
	PatentID string `json:"patent_id"`
	Title    string `json:"title"`
	Notes    string `json:"notes"`
	ToClass  string `json:"to_class"`
}

// handleWatchlistClass serves /v1/watchlist/{class} and
// /v1/watchlist/{class}/{patent}.
func (s *Server) handleWatchlistClass(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": "watchlist not configured"})
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/watchlist/")
	parts := strings.SplitN(strings.Trim(rest, "/"), "/", 2)
	class := parts[0]
	if class == "" {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "class code required"})
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			entries, err := s.watch.List(r.Context(), class)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "watchlist query failed"})
				return
			}
			if entries == nil {
				entries = []watchlist.Entry{}
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "entries": entries})
		case http.MethodPost:
			s.handleWatchlistAdd(w, r, class)
		default:
			w.Header().Set("Allow", "GET, POST")
			writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"ok": false, "error": "method not allowed"})
		}
		return
	}

	patentID := parts[1]
	if patentID == "import" && r.Method == http.MethodPost {
		s.handleWatchlistImport(w, r, class)
		return
	}
	switch r.Method {
	case http.MethodDelete:
		s.watchlistResult(w, s.watch.Remove(r.Context(), class, patentID))
	case http.MethodPatch:
		var body watchlistEntryBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid JSON body"})
			return
		}
		if body.ToClass != "" {
			s.watchlistResult(w, s.watch.Move(r.Context(), class, body.ToClass, patentID))
			return
		}
		s.watchlistResult(w, s.watch.UpdateNotes(r.Context(), class, patentID, body.Notes))
	default:
		w.Header().Set("Allow", "DELETE, PATCH")
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"ok": false, "error": "method not allowed"})
	}
}

func (s *Server) handleWatchlistAdd(w http.ResponseWriter, r *http.Request, class string) {
	var body watchlistEntryBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid JSON body"})
		return
	}
	entry, err := s.watch.Add(r.Context(), class, body.PatentID, body.Title, body.Notes)
	if err != nil {
		if errors.Is(err, watchlist.ErrDuplicate) {
			writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "error": "patent already in watchlist"})
			return
		}
		if fault.KindOf(err) != "" {
			writeFaultError(w, err)
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "entry": entry})
}

func (s *Server) handleWatchlistImport(w http.ResponseWriter, r *http.Request, class string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "could not read body"})
		return
	}
	added, failed := s.watch.ImportCSV(r.Context(), class, string(body))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "added": added, "failed": failed})
}

func (s *Server) watchlistResult(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case errors.Is(err, watchlist.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "patent not in watchlist"})
	case errors.Is(err, watchlist.ErrDuplicate):
		writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "error": "patent already in watchlist"})
	default:
		log.Printf("patent-insight watchlist_error err=%q", err.Error())
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "watchlist update failed"})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "healthy"})
}
