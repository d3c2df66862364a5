package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kurobon/mergegym/internal/merge"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/sync/errgroup"
)

var (
	ErrFileNotFound = errors.New("file not in session")
	ErrNotAnalyzed  = errors.New("file not analyzed")
	ErrNotFailed    = errors.New("file did not fail analysis")
	ErrUnresolved   = errors.New("unresolved files")
	ErrInvalidSide  = errors.New("side must be local or remote")
	ErrReadOnly     = errors.New("source cannot store resolved contents")
)

// Source fetches what a file needs for analysis: the conflict-marker text
// and the base->local / base->remote line diffs.
type Source interface {
	FetchContent(ctx context.Context, path string) (content string, mergeInProgress bool, err error)
	FetchDiff(ctx context.Context, path string, side merge.Branch) ([]merge.Hunk, error)
	// FetchSide returns one side's full content, used when a file cannot be
	// merged line by line.
	FetchSide(ctx context.Context, path string, side merge.Branch) (string, error)
}

// Writer is implemented by sources that can store the resolution.
type Writer interface {
	WriteResolved(ctx context.Context, contents map[string]string) error
}

// Options tune analysis.
type Options struct {
	MaxParallel    int
	AnalyzeTimeout time.Duration
	MarkerSize     int
}

// FileState is the analysis stage of one path.
type FileState int

const (
	Unanalyzed FileState = iota
	Analyzing
	Analyzed
	Failed
)

var fileStateNames = [...]string{"unanalyzed", "analyzing", "analyzed", "failed"}

func (s FileState) String() string {
	if s >= 0 && int(s) < len(fileStateNames) {
		return fileStateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s FileState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *FileState) UnmarshalText(text []byte) error {
	for i, name := range fileStateNames {
		if name == string(text) {
			*s = FileState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown file state %q", text)
}

type entry struct {
	state FileState
	file  *merge.File
	err   error

	// Failed files are resolved by taking one side wholesale.
	choice *merge.Branch
	chosen string

	gen uint64
}

// Session groups the conflicted files of one merge.
type Session struct {
	ID        string
	CreatedAt time.Time

	source Source
	opts   Options

	ctx    context.Context
	cancel context.CancelFunc

	files map[string]*entry
	order []string
	mu    sync.RWMutex
}

// New creates a session reading from src.
func New(id string, src Source, opts Options) *Session {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		source:    src,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		files:     make(map[string]*entry),
	}
}

// Close abandons every in-flight analysis. Their files keep the state they
// had before the analysis started.
func (s *Session) Close() {
	s.cancel()
}

// AddPaths registers paths under conflict. Known paths are ignored.
func (s *Session) AddPaths(paths ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range paths {
		if _, ok := s.files[p]; ok {
			continue
		}
		s.files[p] = &entry{}
		s.order = append(s.order, p)
	}
}

// Paths returns the registered paths in insertion order.
func (s *Session) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}

// Analyze fetches, parses and reconciles one file.
//
// A fetch or parse failure moves the file to Failed and is returned. If ctx
// or the session is cancelled first, nothing is published and the file
// keeps its previous state.
func (s *Session) Analyze(ctx context.Context, path string) error {
	s.mu.Lock()
	e, ok := s.files[path]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", path, ErrFileNotFound)
	}
	prev := *e
	e.gen++
	gen := e.gen
	e.state = Analyzing
	s.mu.Unlock()

	parent, stop := s.bind(ctx)
	defer stop()
	fetchCtx := parent
	if s.opts.AnalyzeTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(parent, s.opts.AnalyzeTimeout)
		defer cancel()
	}

	log.Printf("session: analyze start id=%s path=%s", s.ID, path)
	f, err := s.load(fetchCtx, path)

	s.mu.Lock()
	defer s.mu.Unlock()
	if e.gen != gen {
		// A newer analysis owns the entry.
		return err
	}
	if err != nil && parent.Err() != nil {
		e.state, e.file, e.err = prev.state, prev.file, prev.err
		log.Printf("session: analyze abandoned id=%s path=%s", s.ID, path)
		return parent.Err()
	}
	if err != nil {
		e.state, e.file, e.err = Failed, nil, err
		log.Printf("session: analyze failed id=%s path=%s err=%v", s.ID, path, err)
		return fmt.Errorf("analyze %s: %w", path, err)
	}
	e.state, e.file, e.err = Analyzed, f, nil
	e.choice, e.chosen = nil, ""
	log.Printf("session: analyze done id=%s path=%s changes=%d unresolved=%d", s.ID, path, len(f.Changes()), f.Unresolved())
	return nil
}

// bind derives a context cancelled by either ctx or the session.
func (s *Session) bind(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (s *Session) load(ctx context.Context, path string) (*merge.File, error) {
	var (
		text          string
		inProgress    bool
		local, remote []merge.Hunk
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		text, inProgress, err = s.source.FetchContent(gctx, path)
		if err != nil {
			return fmt.Errorf("fetch content: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		local, err = s.source.FetchDiff(gctx, path, merge.Local)
		if err != nil {
			return fmt.Errorf("fetch local diff: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		remote, err = s.source.FetchDiff(gctx, path, merge.Remote)
		if err != nil {
			return fmt.Errorf("fetch remote diff: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return merge.Analyze(text, inProgress, local, remote, merge.WithMarkerSize(s.opts.MarkerSize))
}

// AnalyzeAll analyzes every file that is not yet Analyzed, at most
// MaxParallel at a time. Per-file failures are recorded on the files and do
// not stop the others; only cancellation is returned.
func (s *Session) AnalyzeAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxParallel)
	for _, p := range s.Paths() {
		if st, _ := s.State(p); st == Analyzed {
			continue
		}
		g.Go(func() error {
			if err := s.Analyze(gctx, p); err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			return nil
		})
	}
	return g.Wait()
}

// File returns the line graph of an analyzed file.
func (s *Session) File(path string) (*merge.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.files[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrFileNotFound)
	}
	if e.state != Analyzed {
		return nil, fmt.Errorf("%s is %s: %w", path, e.state, ErrNotAnalyzed)
	}
	return e.file, nil
}

// State returns the analysis state of a file.
func (s *Session) State(path string) (FileState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.files[path]
	if !ok {
		return Unanalyzed, fmt.Errorf("%s: %w", path, ErrFileNotFound)
	}
	return e.state, nil
}

// ChooseSide resolves a Failed file by taking one side as a whole.
func (s *Session) ChooseSide(ctx context.Context, path string, side merge.Branch) error {
	if side != merge.Local && side != merge.Remote {
		return ErrInvalidSide
	}
	if st, err := s.State(path); err != nil {
		return err
	} else if st != Failed {
		return fmt.Errorf("%s is %s: %w", path, st, ErrNotFailed)
	}

	parent, stop := s.bind(ctx)
	defer stop()
	text, err := s.source.FetchSide(parent, path, side)
	if err != nil {
		return fmt.Errorf("fetch %s side of %s: %w", side, path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.files[path]
	if e.state != Failed {
		return fmt.Errorf("%s is %s: %w", path, e.state, ErrNotFailed)
	}
	e.choice, e.chosen = &side, text
	log.Printf("session: side chosen id=%s path=%s side=%s", s.ID, path, side)
	return nil
}

func (e *entry) resolved() bool {
	switch e.state {
	case Analyzed:
		return e.file.Resolved()
	case Failed:
		return e.choice != nil
	}
	return false
}

// FileResolved reports whether a file needs no further decision.
func (s *Session) FileResolved(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.files[path]
	return ok && e.resolved()
}

// Resolved reports whether every file is resolved.
func (s *Session) Resolved() bool {
	return len(s.Unresolved()) == 0
}

// Unresolved lists the paths still blocking the merge.
func (s *Session) Unresolved() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, p := range s.order {
		if !s.files[p].resolved() {
			out = append(out, p)
		}
	}
	return out
}

// GetAllFilesContents returns the merged content of every file. It fails
// with ErrUnresolved, naming the offending paths, until the session is
// resolved.
func (s *Session) GetAllFilesContents() (map[string]string, error) {
	if pending := s.Unresolved(); len(pending) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnresolved, strings.Join(pending, ", "))
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.files))
	for p, e := range s.files {
		if e.state == Failed {
			out[p] = e.chosen
			continue
		}
		out[p] = e.file.MergedText()
	}
	return out, nil
}

// Resolve writes every merged file back through the source. It fails like
// GetAllFilesContents while anything is unresolved.
func (s *Session) Resolve(ctx context.Context) (map[string]string, error) {
	w, ok := s.source.(Writer)
	if !ok {
		return nil, ErrReadOnly
	}
	contents, err := s.GetAllFilesContents()
	if err != nil {
		return nil, err
	}
	parent, stop := s.bind(ctx)
	defer stop()
	if err := w.WriteResolved(parent, contents); err != nil {
		return nil, fmt.Errorf("write resolved: %w", err)
	}
	log.Printf("session: resolved id=%s files=%d", s.ID, len(contents))
	return contents, nil
}

// FindFiles fuzzy-matches query against the session's paths, best match
// first.
func (s *Session) FindFiles(query string) []string {
	paths := s.Paths()
	if query == "" {
		return paths
	}
	ranks := fuzzy.RankFindFold(query, paths)
	slices.SortStableFunc(ranks, func(a, b fuzzy.Rank) int {
		if a.Distance != b.Distance {
			return a.Distance - b.Distance
		}
		return a.OriginalIndex - b.OriginalIndex
	})
	out := make([]string, len(ranks))
	for i, r := range ranks {
		out[i] = r.Target
	}
	return out
}

// FileStatus summarizes one file for listings.
type FileStatus struct {
	Path       string        `json:"path"`
	State      FileState     `json:"state"`
	Resolved   bool          `json:"resolved"`
	Unresolved int           `json:"unresolved"`
	Choice     *merge.Branch `json:"choice,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Status lists every file in insertion order.
func (s *Session) Status() []FileStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]FileStatus, 0, len(s.order))
	for _, p := range s.order {
		e := s.files[p]
		fs := FileStatus{Path: p, State: e.state, Resolved: e.resolved(), Choice: e.choice}
		if e.file != nil {
			fs.Unresolved = e.file.Unresolved()
		}
		if e.err != nil {
			fs.Error = e.err.Error()
		}
		out = append(out, fs)
	}
	return out
}
