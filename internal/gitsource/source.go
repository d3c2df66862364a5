// Package gitsource reads merge conflicts out of a git repository and writes
// resolutions back to it.
package gitsource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"slices"
	"strings"
	"sync"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/utils/diff"
	"github.com/kurobon/mergegym/internal/merge"
	"github.com/sergi/go-diff/diffmatchpatch"
)

var (
	// ErrNoConflict is returned for paths without unmerged index entries.
	ErrNoConflict = errors.New("path is not in conflict")
	// ErrBinary is returned for content that cannot be merged line by line.
	ErrBinary = errors.New("binary content")
)

// MergeHead is the reference git leaves behind while a merge is in progress.
const MergeHead plumbing.ReferenceName = "MERGE_HEAD"

// Source serves conflicted files from a repository's worktree and index.
type Source struct {
	repo *gogit.Repository
	wt   *gogit.Worktree

	// go-git storers are not safe for concurrent use.
	mu sync.Mutex
}

// Open opens the repository at path.
func Open(path string) (*Source, error) {
	repo, err := gogit.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository %s: %w", path, err)
	}
	return FromRepository(repo)
}

// FromRepository wraps an already opened repository. It must have a worktree.
func FromRepository(repo *gogit.Repository) (*Source, error) {
	w, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}
	return &Source{repo: repo, wt: w}, nil
}

// Repository returns the underlying repository.
func (s *Source) Repository() *gogit.Repository {
	return s.repo
}

// MergeInProgress reports whether MERGE_HEAD exists. Without it the
// conflict comes from a rebase or cherry-pick and the index stages swap
// meaning.
func (s *Source) MergeInProgress() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergeInProgress()
}

func (s *Source) mergeInProgress() (bool, error) {
	_, err := s.repo.Reference(MergeHead, false)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", MergeHead, err)
	}
	return true, nil
}

// ConflictedPaths lists paths with unmerged index entries, sorted.
func (s *Source) ConflictedPaths(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.repo.Storer.Index()
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	var paths []string
	for _, e := range idx.Entries {
		if e.Stage != index.Merged && !slices.Contains(paths, e.Name) {
			paths = append(paths, e.Name)
		}
	}
	slices.Sort(paths)
	return paths, nil
}

// FetchContent returns the worktree copy of path, conflict markers included.
func (s *Source) FetchContent(ctx context.Context, path string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	inProgress, err := s.mergeInProgress()
	if err != nil {
		return "", false, err
	}
	f, err := s.wt.Filesystem.Open(path)
	if err != nil {
		return "", false, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return "", false, fmt.Errorf("%s: %w", path, ErrBinary)
	}
	return string(data), inProgress, nil
}

// FetchSide returns the full content one side had before the merge. A side
// that deleted the file yields "".
func (s *Source) FetchSide(ctx context.Context, path string, side merge.Branch) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stages, err := s.stages(path)
	if err != nil {
		return "", err
	}
	stage, err := s.stageOf(side)
	if err != nil {
		return "", err
	}
	return s.blob(stages[stage])
}

// FetchDiff returns the base->side line diff of path as hunks. Within each
// run of changes, removals come before additions.
func (s *Source) FetchDiff(ctx context.Context, path string, side merge.Branch) ([]merge.Hunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stages, err := s.stages(path)
	if err != nil {
		return nil, err
	}
	stage, err := s.stageOf(side)
	if err != nil {
		return nil, err
	}
	base, err := s.blob(stages[index.AncestorMode])
	if err != nil {
		return nil, err
	}
	other, err := s.blob(stages[stage])
	if err != nil {
		return nil, err
	}
	if strings.IndexByte(base, 0) >= 0 || strings.IndexByte(other, 0) >= 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrBinary)
	}
	return Hunks(base, other), nil
}

// stageOf maps a branch to the index stage holding its content.
func (s *Source) stageOf(side merge.Branch) (index.Stage, error) {
	inProgress, err := s.mergeInProgress()
	if err != nil {
		return 0, err
	}
	switch {
	case side == merge.Local && inProgress, side == merge.Remote && !inProgress:
		return index.OurMode, nil
	case side == merge.Remote && inProgress, side == merge.Local && !inProgress:
		return index.TheirMode, nil
	}
	return 0, fmt.Errorf("no index stage for branch %s", side)
}

func (s *Source) stages(path string) (map[index.Stage]plumbing.Hash, error) {
	idx, err := s.repo.Storer.Index()
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	stages := make(map[index.Stage]plumbing.Hash)
	for _, e := range idx.Entries {
		if e.Name == path && e.Stage != index.Merged {
			stages[e.Stage] = e.Hash
		}
	}
	if len(stages) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoConflict)
	}
	return stages, nil
}

func (s *Source) blob(h plumbing.Hash) (string, error) {
	if h.IsZero() {
		return "", nil
	}
	b, err := s.repo.BlobObject(h)
	if err != nil {
		return "", fmt.Errorf("failed to get blob %s: %w", h, err)
	}
	r, err := b.Reader()
	if err != nil {
		return "", fmt.Errorf("failed to read blob %s: %w", h, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read blob %s: %w", h, err)
	}
	return string(data), nil
}

// Hunks converts a line diff of base against side into hunks numbered the
// way a unified diff numbers them: OldLine in base, NewLine in side.
func Hunks(base, side string) []merge.Hunk {
	var (
		out            []merge.Hunk
		removed, added []merge.Hunk
		oldLine        = 1
		newLine        = 1
	)
	flush := func() {
		out = append(out, removed...)
		out = append(out, added...)
		removed, added = removed[:0], added[:0]
	}
	for _, d := range diff.Do(base, side) {
		lines := splitLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			flush()
			oldLine += len(lines)
			newLine += len(lines)
		case diffmatchpatch.DiffDelete:
			for _, l := range lines {
				removed = append(removed, merge.Hunk{Origin: merge.OriginRemoved, OldLine: oldLine, NewLine: -1, Content: l})
				oldLine++
			}
		case diffmatchpatch.DiffInsert:
			for _, l := range lines {
				added = append(added, merge.Hunk{Origin: merge.OriginAdded, OldLine: -1, NewLine: newLine, Content: l})
				newLine++
			}
		}
	}
	flush()
	return out
}

func splitLines(text string) []string {
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// WriteResolved writes merged contents to the worktree and stages them,
// clearing their unmerged index entries.
func (s *Source) WriteResolved(ctx context.Context, contents map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths := make([]string, 0, len(contents))
	for p := range contents {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writeFile(s.wt, p, contents[p]); err != nil {
			return err
		}
	}

	idx, err := s.repo.Storer.Index()
	if err != nil {
		return fmt.Errorf("failed to read index: %w", err)
	}
	idx.Entries = slices.DeleteFunc(idx.Entries, func(e *index.Entry) bool {
		_, ok := contents[e.Name]
		return ok && e.Stage != index.Merged
	})
	if err := s.repo.Storer.SetIndex(idx); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}

	for _, p := range paths {
		if _, err := s.wt.Add(p); err != nil {
			return fmt.Errorf("failed to stage file %s: %w", p, err)
		}
	}
	log.Printf("gitsource: resolved files=%d", len(paths))
	return nil
}

func writeFile(w *gogit.Worktree, path, content string) error {
	f, err := w.Filesystem.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write([]byte(content)); err != nil {
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}
	return nil
}
