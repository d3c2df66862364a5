package server

import (
	"log"
	"net/http"
)

type InitRequest struct {
	Repo string `json:"repo"`
}

func (s *Server) handleInitSession(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req InitRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}

	src, paths, err := s.Open(r.Context(), req.Repo)
	if err != nil {
		log.Printf("server: open repo=%s: %v", req.Repo, err)
		writeError(w, err)
		return
	}
	sess := s.Manager.Create(src, paths...)
	if err := sess.AnalyzeAll(r.Context()); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "session created",
		"sessionId": sess.ID,
		"files":     sess.Status(),
	})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	sess, err := s.session(r.URL.Query().Get("sessionId"))
	if err != nil {
		writeError(w, err)
		return
	}

	status := sess.Status()
	if q := r.URL.Query().Get("q"); q != "" {
		byPath := make(map[string]int, len(status))
		for i, fs := range status {
			byPath[fs.Path] = i
		}
		matched := status[:0:0]
		for _, p := range sess.FindFiles(q) {
			matched = append(matched, status[byPath[p]])
		}
		status = matched
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": sess.ID,
		"resolved":  sess.Resolved(),
		"files":     status,
	})
}

type SessionRequest struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req SessionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.session(req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	contents, err := sess.Resolve(r.Context())
	if err != nil {
		writeJSON(w, statusOf(err), map[string]any{
			"error":      err.Error(),
			"unresolved": sess.Unresolved(),
		})
		return
	}
	paths := make([]string, 0, len(contents))
	for _, p := range sess.Paths() {
		if _, ok := contents[p]; ok {
			paths = append(paths, p)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"written": paths})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req SessionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Manager.Remove(req.SessionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "session closed"})
}
