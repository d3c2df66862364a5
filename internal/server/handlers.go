package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/kurobon/mergegym/internal/config"
	"github.com/kurobon/mergegym/internal/gitsource"
	"github.com/kurobon/mergegym/internal/merge"
	"github.com/kurobon/mergegym/internal/session"
)

// OpenFunc opens the named repository and lists its conflicted paths.
type OpenFunc func(ctx context.Context, repo string) (session.Source, []string, error)

type Server struct {
	Manager *session.Manager
	Open    OpenFunc
	Mux     *http.ServeMux
}

func NewServer(m *session.Manager, open OpenFunc) *Server {
	s := &Server{
		Manager: m,
		Open:    open,
		Mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

// GitOpener resolves repository names under cfg.DataRoot.
func GitOpener(cfg *config.Config) OpenFunc {
	return func(ctx context.Context, repo string) (session.Source, []string, error) {
		if repo == "" {
			repo = cfg.DefaultRepo
		}
		src, err := gitsource.Open(cfg.RepoPath(repo))
		if err != nil {
			return nil, nil, err
		}
		paths, err := src.ConflictedPaths(ctx)
		if err != nil {
			return nil, nil, err
		}
		return src, paths, nil
	}
}

func (s *Server) routes() {
	s.Mux.HandleFunc("/ping", s.handlePing)
	s.Mux.HandleFunc("/api/session/init", s.handleInitSession)
	s.Mux.HandleFunc("/api/session/files", s.handleListFiles)
	s.Mux.HandleFunc("/api/session/resolve", s.handleResolve)
	s.Mux.HandleFunc("/api/session/close", s.handleCloseSession)
	s.Mux.HandleFunc("/api/file", s.handleGetFile)
	s.Mux.HandleFunc("/api/file/analyze", s.handleAnalyze)
	s.Mux.HandleFunc("/api/file/change", s.handleChange)
	s.Mux.HandleFunc("/api/file/apply-non-conflicting", s.handleApplyNonConflicting)
	s.Mux.HandleFunc("/api/file/accept", s.handleAcceptSide)
	s.Mux.HandleFunc("/api/file/choose", s.handleChooseSide)
	s.Mux.HandleFunc("/api/file/undo", s.handleUndo)
	s.Mux.HandleFunc("/api/file/redo", s.handleRedo)
	s.Mux.HandleFunc("/api/file/edit", s.handleEdit)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Mux.ServeHTTP(w, r)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "pong",
		"system":  "MergeGym Backend",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), map[string]string{"error": err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrFileNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrUnresolved), errors.Is(err, session.ErrNotAnalyzed),
		errors.Is(err, session.ErrNotFailed), errors.Is(err, merge.ErrNothingToUndo),
		errors.Is(err, merge.ErrNothingToRedo):
		return http.StatusConflict
	case errors.Is(err, merge.ErrUnknownChange), errors.Is(err, session.ErrInvalidSide),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrReadOnly):
		return http.StatusNotImplemented
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

var errBadRequest = errors.New("bad request")

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func (s *Server) session(id string) (*session.Session, error) {
	sess, ok := s.Manager.Get(id)
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, session.ErrSessionNotFound)
	}
	return sess, nil
}

// FileRequest names one file of one session.
type FileRequest struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
}

func (s *Server) file(req FileRequest) (*merge.File, error) {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return nil, err
	}
	return sess.File(req.Path)
}
