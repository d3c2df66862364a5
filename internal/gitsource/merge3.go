package gitsource

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrConflict is returned when a merge cannot be resolved automatically.
var ErrConflict = errors.New("merge conflict")

type version struct {
	hash    plumbing.Hash
	mode    filemode.FileMode
	content string
}

func versionOf(c *object.Commit, path string) (version, error) {
	if c == nil {
		return version{}, nil
	}
	f, err := c.File(path)
	if errors.Is(err, object.ErrFileNotFound) {
		return version{}, nil
	}
	if err != nil {
		return version{}, fmt.Errorf("failed to get %s at %s: %w", path, c.Hash, err)
	}
	content, err := f.Contents()
	if err != nil {
		return version{}, fmt.Errorf("failed to read %s at %s: %w", path, c.Hash, err)
	}
	return version{hash: f.Hash, mode: f.Mode, content: content}, nil
}

// Merge merges rev into HEAD. Clean paths are updated and staged; each
// conflicted path is written whole-file with conflict markers and gets
// base/ours/theirs index stages, and MERGE_HEAD is set. The conflicted paths
// are returned together with ErrConflict.
func (s *Source) Merge(ctx context.Context, rev string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	head, err := s.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	ours, err := s.repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD commit: %w", err)
	}
	h, err := s.repo.ResolveRevision(plumbing.Revision(strings.TrimSpace(rev)))
	if err != nil {
		return nil, fmt.Errorf("revision '%s' not found: %w", rev, err)
	}
	theirs, err := s.repo.CommitObject(*h)
	if err != nil {
		return nil, fmt.Errorf("failed to get commit %s: %w", h, err)
	}
	bases, err := ours.MergeBase(theirs)
	if err != nil {
		return nil, fmt.Errorf("failed to compute merge base: %w", err)
	}
	var base *object.Commit
	if len(bases) > 0 {
		base = bases[0]
	}
	return s.merge3Way(ctx, base, ours, theirs)
}

// Merge3Way performs a 3-way merge of files between Base, Ours, and Theirs
// commits and applies the result to the worktree and index.
//
// Strategy:
// - Base == Ours && Base != Theirs -> Update to Theirs
// - Base != Ours && Base == Theirs -> Keep Ours
// - Ours == Theirs -> Keep Ours
// - Base != Ours && Base != Theirs && Ours != Theirs -> CONFLICT
func (s *Source) Merge3Way(ctx context.Context, base, ours, theirs *object.Commit) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.merge3Way(ctx, base, ours, theirs)
}

func (s *Source) merge3Way(ctx context.Context, base, ours, theirs *object.Commit) ([]string, error) {
	paths := make(map[string]struct{})
	for _, c := range []*object.Commit{base, ours, theirs} {
		if c == nil {
			continue
		}
		fIter, err := c.Files()
		if err != nil {
			return nil, err
		}
		err = fIter.ForEach(func(f *object.File) error {
			paths[f.Name] = struct{}{}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	slices.Sort(sorted)

	var conflicted []string
	stages := make(map[string][3]version)
	for _, path := range sorted {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := versionOf(base, path)
		if err != nil {
			return nil, err
		}
		o, err := versionOf(ours, path)
		if err != nil {
			return nil, err
		}
		t, err := versionOf(theirs, path)
		if err != nil {
			return nil, err
		}

		switch {
		case o.hash == t.hash, b.hash == t.hash:
			// Keep ours.
		case b.hash == o.hash && t.hash.IsZero():
			if err := s.wt.Filesystem.Remove(path); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to remove %s: %w", path, err)
			}
			if _, err := s.wt.Remove(path); err != nil {
				return nil, fmt.Errorf("failed to stage removal of %s: %w", path, err)
			}
		case b.hash == o.hash:
			if err := writeFile(s.wt, path, t.content); err != nil {
				return nil, err
			}
			if _, err := s.wt.Add(path); err != nil {
				return nil, fmt.Errorf("failed to stage file %s: %w", path, err)
			}
		default:
			conflicted = append(conflicted, path)
			stages[path] = [3]version{b, o, t}
			if err := writeFile(s.wt, path, conflictText(o.content, t.content, theirs.Hash.String()[:7])); err != nil {
				return nil, err
			}
		}
	}

	if len(conflicted) == 0 {
		return nil, nil
	}
	if err := s.writeStages(stages); err != nil {
		return nil, err
	}
	if err := s.repo.Storer.SetReference(plumbing.NewHashReference(MergeHead, theirs.Hash)); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", MergeHead, err)
	}
	log.Printf("gitsource: merge conflict theirs=%s files=%d", theirs.Hash.String()[:7], len(conflicted))
	return conflicted, ErrConflict
}

func conflictText(ours, theirs, label string) string {
	var sb strings.Builder
	sb.WriteString("<<<<<<< HEAD\n")
	writeSide(&sb, ours)
	sb.WriteString("=======\n")
	writeSide(&sb, theirs)
	sb.WriteString(">>>>>>> " + label + "\n")
	return sb.String()
}

func writeSide(sb *strings.Builder, content string) {
	sb.WriteString(content)
	if content != "" && !strings.HasSuffix(content, "\n") {
		sb.WriteByte('\n')
	}
}

// writeStages replaces the index entries of conflicted paths with their
// base, ours and theirs stages. Missing versions get no entry.
func (s *Source) writeStages(stages map[string][3]version) error {
	idx, err := s.repo.Storer.Index()
	if err != nil {
		return fmt.Errorf("failed to read index: %w", err)
	}
	idx.Entries = slices.DeleteFunc(idx.Entries, func(e *index.Entry) bool {
		_, ok := stages[e.Name]
		return ok
	})
	for path, vs := range stages {
		for i, v := range vs {
			if v.hash.IsZero() {
				continue
			}
			idx.Entries = append(idx.Entries, &index.Entry{
				Name:  path,
				Hash:  v.hash,
				Mode:  v.mode,
				Stage: index.Stage(i + 1),
			})
		}
	}
	slices.SortStableFunc(idx.Entries, func(a, b *index.Entry) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return int(a.Stage) - int(b.Stage)
	})
	if err := s.repo.Storer.SetIndex(idx); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	return nil
}
