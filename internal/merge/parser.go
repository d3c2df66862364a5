package merge

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedConflict is returned when conflict markers are unbalanced.
var ErrMalformedConflict = errors.New("malformed conflict markers")

// DefaultMarkerSize is git's default conflict-marker-size.
const DefaultMarkerSize = 7

type parseOptions struct {
	markerSize int
}

// ParseOption customizes Parse.
type ParseOption func(*parseOptions)

// WithMarkerSize sets the number of marker characters (git's
// conflict-marker-size attribute).
func WithMarkerSize(n int) ParseOption {
	return func(o *parseOptions) {
		if n > 0 {
			o.markerSize = n
		}
	}
}

type markerKind int

const (
	noMarker markerKind = iota
	startMarker
	baseMarker
	separatorMarker
	endMarker
)

func classify(line string, size int) markerKind {
	body, _ := splitEOL(line)
	if len(body) < size {
		return noMarker
	}
	var kind markerKind
	switch body[0] {
	case '<':
		kind = startMarker
	case '|':
		kind = baseMarker
	case '=':
		kind = separatorMarker
	case '>':
		kind = endMarker
	default:
		return noMarker
	}
	if body[:size] != strings.Repeat(body[:1], size) {
		return noMarker
	}
	rest := body[size:]
	if kind == separatorMarker {
		if rest != "" {
			return noMarker
		}
		return kind
	}
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return noMarker
	}
	return kind
}

// Parse builds a File from text containing git-style conflict regions.
//
// Text outside conflicts is shared by all three branches. Inside a region
// the first side goes to Local and the second to Remote when
// mergeInProgress is set; otherwise (rebase, stash) the sides are swapped.
// An optional diff3 base section is dropped. The Result branch of each
// region is seeded with the Local lines, or the Remote lines when Local is
// empty, all Omitted until a side is applied.
func Parse(text string, mergeInProgress bool, opts ...ParseOption) (*File, error) {
	o := parseOptions{markerSize: DefaultMarkerSize}
	for _, opt := range opts {
		opt(&o)
	}

	first, second := Local, Remote
	if !mergeInProgress {
		first, second = Remote, Local
	}

	f := NewFile()
	const (
		outside = iota
		inFirst
		inBase
		inSecond
	)
	section := outside
	var start NodeID

	for i, line := range splitLines(text) {
		lineNo := i + 1
		kind := classify(line, o.markerSize)
		switch section {
		case outside:
			switch kind {
			case startMarker:
				start = f.appendShared(line, ConflictStart)
				section = inFirst
			case endMarker:
				return nil, fmt.Errorf("line %d: end marker outside conflict: %w", lineNo, ErrMalformedConflict)
			default:
				f.appendShared(line, Original)
			}
		case inFirst, inBase:
			switch kind {
			case startMarker:
				return nil, fmt.Errorf("line %d: nested conflict start: %w", lineNo, ErrMalformedConflict)
			case endMarker:
				return nil, fmt.Errorf("line %d: conflict end without separator: %w", lineNo, ErrMalformedConflict)
			case baseMarker:
				if section == inBase {
					return nil, fmt.Errorf("line %d: duplicate base section: %w", lineNo, ErrMalformedConflict)
				}
				section = inBase
			case separatorMarker:
				section = inSecond
			default:
				if section == inFirst {
					f.appendTo(first, line)
				}
			}
		case inSecond:
			switch kind {
			case startMarker, baseMarker:
				return nil, fmt.Errorf("line %d: unexpected marker inside conflict: %w", lineNo, ErrMalformedConflict)
			case separatorMarker:
				return nil, fmt.Errorf("line %d: duplicate separator: %w", lineNo, ErrMalformedConflict)
			case endMarker:
				f.seedResult(start, f.tail[Local], f.tail[Remote])
				f.appendShared(line, ConflictEnd)
				section = outside
			default:
				f.appendTo(second, line)
			}
		}
	}
	if section != outside {
		return nil, fmt.Errorf("unterminated conflict: %w", ErrMalformedConflict)
	}

	f.refresh()
	return f, nil
}

// appendShared appends a node to the end of all three branches.
func (f *File) appendShared(text string, state LineState) NodeID {
	id := f.alloc(text)
	for _, b := range Branches {
		f.attach(id, b, state)
	}
	return id
}

// appendTo appends a node to the end of branch b only.
func (f *File) appendTo(b Branch, text string) NodeID {
	id := f.alloc(text)
	f.attach(id, b, Original)
	return id
}

func (f *File) attach(id NodeID, b Branch, state LineState) {
	tail := f.tail[b]
	f.lines[tail].Next[b] = id
	l := f.lines[id]
	l.Prev[b] = tail
	l.Next[b] = NoNode
	l.State[b] = state
	f.tail[b] = id
}

// seedResult threads the Result branch from start through the lines of one
// side of the region. localEnd and remoteEnd are the last nodes of each side
// (start itself when the side is empty). Result must currently end at start.
func (f *File) seedResult(start, localEnd, remoteEnd NodeID) {
	src, end := Local, localEnd
	if localEnd == start {
		src, end = Remote, remoteEnd
	}
	prev := start
	for l := range f.walk(src, start, end) {
		l.Prev[Result] = prev
		f.lines[prev].Next[Result] = l.ID
		l.State[Result] = Omitted
		l.Text[Result] = l.Text[src]
		prev = l.ID
	}
	f.lines[prev].Next[Result] = NoNode
	f.tail[Result] = prev
}

// reseedConflicts rebuilds the Result sub-sequence of every region after
// reconciliation has added lines to the sides.
func (f *File) reseedConflicts() {
	id := f.lines[headID].Next[Result]
	for steps := 0; id != NoNode && steps < len(f.lines); steps++ {
		l := f.lines[id]
		if l.State[Result] != ConflictStart {
			id = l.Next[Result]
			continue
		}
		start := id
		end := f.regionEnd(start)
		if end == NoNode {
			return
		}

		// Detach the current seed.
		for n := l.Next[Result]; n != end && n != NoNode; {
			next := f.lines[n].Next[Result]
			f.lines[n].Next[Result] = NoNode
			f.lines[n].Prev[Result] = NoNode
			f.lines[n].State[Result] = Omitted
			n = next
		}

		src := Local
		if f.lines[start].Next[Local] == end {
			src = Remote
		}
		prev := start
		for n := range f.walk(src, start, end) {
			if n.ID == end {
				break
			}
			n.Prev[Result] = prev
			f.lines[prev].Next[Result] = n.ID
			n.State[Result] = Omitted
			n.Text[Result] = n.Text[src]
			prev = n.ID
		}
		f.lines[prev].Next[Result] = end
		f.lines[end].Prev[Result] = prev
		id = f.lines[end].Next[Result]
	}
}

// regionEnd returns the ConflictEnd marker closing the region opened by
// start, found along the Local branch.
func (f *File) regionEnd(start NodeID) NodeID {
	for l := range f.walk(Local, start, NoNode) {
		if l.State[Local] == ConflictEnd {
			return l.ID
		}
	}
	return NoNode
}
