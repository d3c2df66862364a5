package merge

import (
	"fmt"
	"iter"
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// File is the three-branch line graph of one conflicted file.
//
// Lines live in an arena addressed by NodeID; node 0 is the sentinel head
// shared by every branch. Each branch threads its own doubly linked list
// through the arena, so a line can sit on one, two or all three branches.
//
// Mutating methods take the write lock. Readers that walk the graph from
// another goroutine should hold RLock for the duration of the walk.
type File struct {
	mu sync.RWMutex

	lines []*Line
	tail  [branchCount]NodeID

	changes []*Change
	parents map[ChangeID][]ChangeID
	child   map[ChangeID]ChangeID
	twins   map[ChangeID]ChangeID

	undo  []Operation
	redo  []Operation
	opSeq uint64

	revision uint64
}

// NewFile returns an empty graph holding only the sentinel head.
func NewFile() *File {
	f := &File{
		parents: make(map[ChangeID][]ChangeID),
		child:   make(map[ChangeID]ChangeID),
		twins:   make(map[ChangeID]ChangeID),
	}
	head := newLine(headID, "")
	for _, b := range Branches {
		head.State[b] = Original
	}
	f.lines = append(f.lines, head)
	return f
}

// RLock locks the file for reading.
func (f *File) RLock() { f.mu.RLock() }

// RUnlock unlocks the file for reading.
func (f *File) RUnlock() { f.mu.RUnlock() }

// Revision increases on every mutation. Renderers poll it to know when to
// redraw.
func (f *File) Revision() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.revision
}

// Len returns the number of nodes in the arena, head included.
func (f *File) Len() int {
	return len(f.lines)
}

// Line returns the node with the given id, or nil.
func (f *File) Line(id NodeID) *Line {
	if id < 0 || int(id) >= len(f.lines) {
		return nil
	}
	return f.lines[id]
}

// Head returns the sentinel head node.
func (f *File) Head() *Line {
	return f.lines[headID]
}

func (f *File) touch() {
	f.revision++
	f.refresh()
}

// alloc appends a fresh node to the arena. It is absent from every branch
// until linked.
func (f *File) alloc(text string) NodeID {
	id := NodeID(len(f.lines))
	f.lines = append(f.lines, newLine(id, text))
	return id
}

func (f *File) valid(id NodeID) bool {
	return id >= 0 && int(id) < len(f.lines)
}

// linked reports whether id is part of branch b's sequence.
func (f *File) linked(id NodeID, b Branch) bool {
	if !f.valid(id) {
		return false
	}
	return id == headID || f.lines[id].Prev[b] != NoNode
}

// common reports whether id is linked on all three branches.
func (f *File) common(id NodeID) bool {
	for _, b := range Branches {
		if !f.linked(id, b) {
			return false
		}
	}
	return true
}

// last returns the final node of branch b.
func (f *File) last(b Branch) NodeID {
	id := headID
	for steps := 0; steps < len(f.lines); steps++ {
		next := f.lines[id].Next[b]
		if next == NoNode {
			return id
		}
		id = next
	}
	return id
}

// walk yields every node linked on b after from (exclusive) up to and
// including to. NoNode bounds mean "from the head" / "to the end".
func (f *File) walk(b Branch, from, to NodeID) iter.Seq[*Line] {
	return func(yield func(*Line) bool) {
		if from == NoNode {
			from = headID
		}
		if !f.linked(from, b) {
			return
		}
		id := f.lines[from].Next[b]
		for steps := 0; id != NoNode && steps < len(f.lines); steps++ {
			l := f.lines[id]
			if !yield(l) || id == to {
				return
			}
			id = l.Next[b]
		}
	}
}

// Lines walks branch b in order, skipping lines whose state on b is in
// ignore. from and to are inclusive bounds; NoNode means unbounded. The
// sequence is lazy and may be restarted.
func (f *File) Lines(b Branch, ignore StateSet, from, to NodeID) iter.Seq[*Line] {
	return func(yield func(*Line) bool) {
		if !b.valid() {
			return
		}
		start := NoNode
		if from != NoNode {
			if !f.linked(from, b) {
				return
			}
			start = f.lines[from].Prev[b]
			if from == headID {
				start = headID
			}
		}
		for l := range f.walk(b, start, to) {
			if ignore.Has(l.State[b]) {
				continue
			}
			if !yield(l) {
				return
			}
		}
	}
}

// Text reconstructs the raw text of branch b.
func (f *File) Text(b Branch) string {
	var sb strings.Builder
	for l := range f.Lines(b, IgnoreNonText, NoNode, NoNode) {
		sb.WriteString(l.Text[b])
	}
	return sb.String()
}

// MergedText returns the current content of the Result branch.
func (f *File) MergedText() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.Text(Result)
}

// refresh rebuilds the Number and ChangesBefore caches of every branch.
func (f *File) refresh() {
	for _, b := range Branches {
		number, changes := 0, 0
		for l := range f.walk(b, NoNode, NoNode) {
			s := l.State[b]
			if s.visible() {
				number++
			}
			l.Number[b] = number
			l.ChangesBefore[b] = changes
			if id := l.Change[b]; id != 0 && f.changes[id-1].Start == l.ID {
				changes++
			}
		}
	}
}

// InsertLine splices a new line holding text after anchor on branch b and
// records it for undo. It returns false, without mutating, when anchor is
// not on b or b is not the editable Result branch.
func (f *File) InsertLine(anchor NodeID, b Branch, text string) (NodeID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if b != Result || !f.linked(anchor, b) {
		return NoNode, false
	}
	id := f.alloc(text)
	t := f.begin()
	t.link(anchor, id, b)
	t.setState(id, b, Inserted)
	f.record(t.commit())
	return id, true
}

// RemoveLine takes a line out of branch b and records it for undo. It
// returns false when the line is not on b, is a conflict marker, or b is not
// the editable Result branch.
func (f *File) RemoveLine(id NodeID, b Branch) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if b != Result || !f.linked(id, b) || id == headID || f.lines[id].State[b].marker() {
		return false
	}
	t := f.begin()
	t.unlink(id, b)
	f.record(t.commit())
	return true
}

// isAncestor reports whether a precedes b along any branch, following
// previous links across all three branches.
func (f *File) isAncestor(a, b NodeID) bool {
	if a == b || !f.valid(a) || !f.valid(b) {
		return false
	}
	if a == headID {
		return true
	}
	seen := mapset.NewThreadUnsafeSet[NodeID]()
	queue := []NodeID{b}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, br := range Branches {
			prev := f.lines[id].Prev[br]
			if prev == NoNode || seen.Contains(prev) {
				continue
			}
			if prev == a {
				return true
			}
			seen.Add(prev)
			queue = append(queue, prev)
		}
	}
	return false
}

// Validate checks the structural invariants of every branch: no cycles,
// symmetric links, and matched, non-nested conflict markers.
func (f *File) Validate() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, b := range Branches {
		seen := mapset.NewThreadUnsafeSet[NodeID](headID)
		depth := 0
		id := headID
		for {
			next := f.lines[id].Next[b]
			if next == NoNode {
				break
			}
			if !f.valid(next) {
				return fmt.Errorf("%s: node %d links to invalid node %d", b, id, next)
			}
			if !seen.Add(next) {
				return fmt.Errorf("%s: cycle at node %d", b, next)
			}
			if f.lines[next].Prev[b] != id {
				return fmt.Errorf("%s: node %d previous is %d, want %d", b, next, f.lines[next].Prev[b], id)
			}
			switch f.lines[next].State[b] {
			case ConflictStart:
				if depth > 0 {
					return fmt.Errorf("%s: nested conflict start at node %d", b, next)
				}
				depth++
			case ConflictEnd:
				if depth == 0 {
					return fmt.Errorf("%s: unmatched conflict end at node %d", b, next)
				}
				depth--
			}
			id = next
		}
		if depth != 0 {
			return fmt.Errorf("%s: unterminated conflict", b)
		}
	}
	return nil
}
