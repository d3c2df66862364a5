package server

import (
	"fmt"
	"log"
	"net/http"
	"unicode/utf8"

	"github.com/kurobon/mergegym/internal/merge"
)

// FileResponse carries the file after a command, so the client can redraw
// without a second round trip.
type FileResponse struct {
	Handled  bool            `json:"handled"`
	Caret    *merge.Position `json:"caret,omitempty"`
	Snapshot merge.Snapshot  `json:"snapshot"`
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	f, err := s.file(FileRequest{SessionID: q.Get("sessionId"), Path: q.Get("path")})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f.Snapshot())
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req FileRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.session(req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := sess.Analyze(r.Context(), req.Path); err != nil {
		writeError(w, err)
		return
	}
	f, err := sess.File(req.Path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FileResponse{Handled: true, Snapshot: f.Snapshot()})
}

type ChangeRequest struct {
	FileRequest
	ChangeID merge.ChangeID `json:"changeId"`
	Action   string         `json:"action"`
}

func (s *Server) handleChange(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req ChangeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	f, err := s.file(req.FileRequest)
	if err != nil {
		writeError(w, err)
		return
	}

	var op merge.Operation
	switch req.Action {
	case "apply":
		op, err = f.ApplyChange(req.ChangeID)
	case "discard":
		op, err = f.DiscardChange(req.ChangeID)
	default:
		err = fmt.Errorf("%w: unknown action %q", errBadRequest, req.Action)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	log.Printf("server: change session=%s path=%s id=%d action=%s handled=%t", req.SessionID, req.Path, req.ChangeID, req.Action, !op.Empty())
	writeJSON(w, http.StatusOK, FileResponse{Handled: !op.Empty(), Snapshot: f.Snapshot()})
}

type BranchRequest struct {
	FileRequest
	Branches []merge.Branch `json:"branches,omitempty"`
	Branch   merge.Branch   `json:"branch"`
}

func (s *Server) handleApplyNonConflicting(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req BranchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	f, err := s.file(req.FileRequest)
	if err != nil {
		writeError(w, err)
		return
	}
	op := f.ApplyNonConflictingChanges(req.Branches...)
	writeJSON(w, http.StatusOK, FileResponse{Handled: !op.Empty(), Snapshot: f.Snapshot()})
}

func (s *Server) handleAcceptSide(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req BranchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	f, err := s.file(req.FileRequest)
	if err != nil {
		writeError(w, err)
		return
	}
	op := f.AcceptSide(req.Branch)
	writeJSON(w, http.StatusOK, FileResponse{Handled: !op.Empty(), Snapshot: f.Snapshot()})
}

func (s *Server) handleChooseSide(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req BranchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.session(req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := sess.ChooseSide(r.Context(), req.Path, req.Branch); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resolved": sess.FileResolved(req.Path)})
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	s.history(w, r, (*merge.File).Undo)
}

func (s *Server) handleRedo(w http.ResponseWriter, r *http.Request) {
	s.history(w, r, (*merge.File).Redo)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request, step func(*merge.File) (merge.Position, error)) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req FileRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	f, err := s.file(req)
	if err != nil {
		writeError(w, err)
		return
	}
	caret, err := step(f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FileResponse{Handled: true, Caret: &caret, Snapshot: f.Snapshot()})
}

// EditRequest is one keystroke-level edit on the result branch.
type EditRequest struct {
	FileRequest
	Kind      string          `json:"kind"`
	Selection merge.Selection `json:"selection"`
	Text      string          `json:"text,omitempty"`
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req EditRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	f, err := s.file(req.FileRequest)
	if err != nil {
		writeError(w, err)
		return
	}

	var res merge.EditResult
	switch req.Kind {
	case "insert-char":
		ch, n := utf8.DecodeRuneInString(req.Text)
		if n == 0 || n != len(req.Text) {
			writeError(w, fmt.Errorf("%w: insert-char needs exactly one character", errBadRequest))
			return
		}
		res = f.InsertChar(req.Selection, ch)
	case "insert-text":
		res = f.InsertText(req.Selection, req.Text)
	case "line-break":
		res = f.InsertLineBreak(req.Selection)
	case "delete-before":
		res = f.DeleteBefore(req.Selection)
	case "delete-after":
		res = f.DeleteAfter(req.Selection)
	case "delete-selection":
		res = f.DeleteSelection(req.Selection)
	default:
		writeError(w, fmt.Errorf("%w: unknown edit %q", errBadRequest, req.Kind))
		return
	}

	resp := FileResponse{Handled: res.Handled, Snapshot: f.Snapshot()}
	if res.Handled {
		resp.Caret = &res.Caret
	}
	writeJSON(w, http.StatusOK, resp)
}
