package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kurobon/mergegym/internal/merge"
	"github.com/kurobon/mergegym/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type repoFile struct {
	text          string
	local, remote []merge.Hunk
}

type memSource struct {
	files   map[string]repoFile
	written map[string]string
}

func (m *memSource) FetchContent(_ context.Context, path string) (string, bool, error) {
	f, ok := m.files[path]
	if !ok {
		return "", false, errors.New("missing")
	}
	return f.text, true, nil
}

func (m *memSource) FetchDiff(_ context.Context, path string, side merge.Branch) ([]merge.Hunk, error) {
	if side == merge.Local {
		return m.files[path].local, nil
	}
	return m.files[path].remote, nil
}

func (m *memSource) FetchSide(context.Context, string, merge.Branch) (string, error) {
	return "", errors.New("not supported")
}

func (m *memSource) WriteResolved(_ context.Context, contents map[string]string) error {
	m.written = contents
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *memSource) {
	t.Helper()
	src := &memSource{files: map[string]repoFile{
		"conflict.txt": {
			text: "a\n<<<<<<< HEAD\nL\n=======\nR\n>>>>>>> theirs\nc\n",
			local: []merge.Hunk{
				{Origin: merge.OriginRemoved, OldLine: 2, NewLine: -1, Content: "b\n"},
				{Origin: merge.OriginAdded, OldLine: -1, NewLine: 2, Content: "L\n"},
			},
			remote: []merge.Hunk{
				{Origin: merge.OriginRemoved, OldLine: 2, NewLine: -1, Content: "b\n"},
				{Origin: merge.OriginAdded, OldLine: -1, NewLine: 2, Content: "R\n"},
			},
		},
		"broken.txt": {text: "<<<<<<<\nA\n"},
	}}
	open := func(_ context.Context, repo string) (session.Source, []string, error) {
		if repo != "demo" {
			return nil, nil, errors.New("no such repo")
		}
		return src, []string{"conflict.txt", "broken.txt"}, nil
	}
	m := session.NewManager(session.Options{MaxParallel: 2})
	t.Cleanup(m.Close)
	ts := httptest.NewServer(NewServer(m, open))
	t.Cleanup(ts.Close)
	return ts, src
}

func post(t *testing.T, ts *httptest.Server, path string, body any, out any) int {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := ts.Client().Post(ts.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func get(t *testing.T, ts *httptest.Server, path string, out any) int {
	t.Helper()
	resp, err := ts.Client().Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func initSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	var res struct {
		SessionID string               `json:"sessionId"`
		Files     []session.FileStatus `json:"files"`
	}
	require.Equal(t, http.StatusOK, post(t, ts, "/api/session/init", InitRequest{Repo: "demo"}, &res))
	require.NotEmpty(t, res.SessionID)
	require.Len(t, res.Files, 2)
	return res.SessionID
}

func TestPing(t *testing.T) {
	ts, _ := newTestServer(t)
	var res map[string]string
	assert.Equal(t, http.StatusOK, get(t, ts, "/ping", &res))
	assert.Equal(t, "pong", res["message"])
}

func TestInitSession(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/api/session/init")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	var failed map[string]string
	assert.Equal(t, http.StatusInternalServerError, post(t, ts, "/api/session/init", InitRequest{Repo: "other"}, &failed))
	assert.Contains(t, failed["error"], "no such repo")

	id := initSession(t, ts)

	var list struct {
		Resolved bool `json:"resolved"`
		Files    []struct {
			Path  string `json:"path"`
			State string `json:"state"`
		} `json:"files"`
	}
	require.Equal(t, http.StatusOK, get(t, ts, "/api/session/files?sessionId="+id, &list))
	assert.False(t, list.Resolved)
	require.Len(t, list.Files, 2)
	assert.Equal(t, "analyzed", list.Files[0].State)
	assert.Equal(t, "failed", list.Files[1].State)

	require.Equal(t, http.StatusOK, get(t, ts, "/api/session/files?sessionId="+id+"&q=brk", &list))
	require.Len(t, list.Files, 1)
	assert.Equal(t, "broken.txt", list.Files[0].Path)

	assert.Equal(t, http.StatusNotFound, get(t, ts, "/api/session/files?sessionId=nope", nil))
}

func TestResolveFlow(t *testing.T) {
	ts, src := newTestServer(t)
	id := initSession(t, ts)
	file := FileRequest{SessionID: id, Path: "conflict.txt"}

	var snap merge.Snapshot
	require.Equal(t, http.StatusOK, get(t, ts, "/api/file?sessionId="+id+"&path=conflict.txt", &snap))
	require.Len(t, snap.Changes, 3)
	assert.Equal(t, "a\nc\n", snap.Merged)
	assert.Equal(t, http.StatusConflict, get(t, ts, "/api/file?sessionId="+id+"&path=broken.txt", nil))

	var res FileResponse
	require.Equal(t, http.StatusOK, post(t, ts, "/api/file/change", ChangeRequest{FileRequest: file, ChangeID: 1, Action: "apply"}, &res))
	assert.True(t, res.Handled)
	assert.Equal(t, "a\nL\nc\n", res.Snapshot.Merged)

	require.Equal(t, http.StatusOK, post(t, ts, "/api/file/undo", file, &res))
	assert.Equal(t, "a\nc\n", res.Snapshot.Merged)
	assert.Equal(t, http.StatusConflict, post(t, ts, "/api/file/undo", file, nil))
	require.Equal(t, http.StatusOK, post(t, ts, "/api/file/redo", file, &res))
	assert.Equal(t, "a\nL\nc\n", res.Snapshot.Merged)

	assert.Equal(t, http.StatusBadRequest, post(t, ts, "/api/file/change", ChangeRequest{FileRequest: file, ChangeID: 99, Action: "apply"}, nil))
	assert.Equal(t, http.StatusBadRequest, post(t, ts, "/api/file/change", ChangeRequest{FileRequest: file, ChangeID: 2, Action: "explode"}, nil))

	require.Equal(t, http.StatusOK, post(t, ts, "/api/file/change", ChangeRequest{FileRequest: file, ChangeID: 2, Action: "discard"}, &res))
	assert.True(t, res.Snapshot.Resolved)

	// broken.txt still blocks the write.
	var blocked struct {
		Unresolved []string `json:"unresolved"`
	}
	assert.Equal(t, http.StatusConflict, post(t, ts, "/api/session/resolve", SessionRequest{SessionID: id}, &blocked))
	assert.Equal(t, []string{"broken.txt"}, blocked.Unresolved)
	assert.Nil(t, src.written)
}

func TestEdit(t *testing.T) {
	ts, _ := newTestServer(t)
	id := initSession(t, ts)
	file := FileRequest{SessionID: id, Path: "conflict.txt"}

	var res FileResponse
	require.Equal(t, http.StatusOK, post(t, ts, "/api/file/accept", BranchRequest{FileRequest: file, Branch: merge.Remote}, &res))
	require.Equal(t, "a\nR\nc\n", res.Snapshot.Merged)

	first := res.Snapshot.Branches[merge.Result][0]
	require.Equal(t, "a\n", first.Text)
	caret := merge.Caret(merge.Position{Line: first.ID, Column: 1})

	require.Equal(t, http.StatusOK, post(t, ts, "/api/file/edit", EditRequest{FileRequest: file, Kind: "insert-char", Selection: caret, Text: "!"}, &res))
	assert.True(t, res.Handled)
	require.NotNil(t, res.Caret)
	assert.Equal(t, 2, res.Caret.Column)
	assert.Equal(t, "a!\nR\nc\n", res.Snapshot.Merged)

	assert.Equal(t, http.StatusBadRequest, post(t, ts, "/api/file/edit", EditRequest{FileRequest: file, Kind: "insert-char", Selection: caret, Text: "ab"}, nil))
	assert.Equal(t, http.StatusBadRequest, post(t, ts, "/api/file/edit", EditRequest{FileRequest: file, Kind: "warp", Selection: caret}, nil))

	require.Equal(t, http.StatusOK, post(t, ts, "/api/file/edit", EditRequest{FileRequest: file, Kind: "delete-before", Selection: merge.Caret(*res.Caret)}, &res))
	assert.Equal(t, "a\nR\nc\n", res.Snapshot.Merged)
}

func TestChooseSideAndClose(t *testing.T) {
	ts, _ := newTestServer(t)
	id := initSession(t, ts)

	var res map[string]string
	assert.Equal(t, http.StatusInternalServerError,
		post(t, ts, "/api/file/choose", BranchRequest{FileRequest: FileRequest{SessionID: id, Path: "broken.txt"}, Branch: merge.Local}, &res))
	assert.Contains(t, res["error"], "not supported")
	assert.Equal(t, http.StatusConflict,
		post(t, ts, "/api/file/choose", BranchRequest{FileRequest: FileRequest{SessionID: id, Path: "conflict.txt"}, Branch: merge.Local}, nil))

	assert.Equal(t, http.StatusOK, post(t, ts, "/api/session/close", SessionRequest{SessionID: id}, nil))
	assert.Equal(t, http.StatusNotFound, post(t, ts, "/api/session/close", SessionRequest{SessionID: id}, nil))
}
