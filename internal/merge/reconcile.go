package merge

// Hunk is one line of a line-level diff between the common base and one
// side. Context lines (any origin other than "+" or "-") are ignored.
type Hunk struct {
	Origin  string `json:"origin"`
	OldLine int    `json:"old_lineno"`
	NewLine int    `json:"new_lineno"`
	Content string `json:"content"`
}

const (
	OriginAdded   = "+"
	OriginRemoved = "-"
)

// ReconcileReport summarizes one Reconcile pass.
type ReconcileReport struct {
	Applied int `json:"applied"`
	Shared  int `json:"shared"`
	Skipped int `json:"skipped"`
}

// target is a hunk resolved against the current graph.
type target struct {
	hunk   Hunk
	branch Branch
	// node is the line an insertion marks, or the line a deletion is placed
	// before. NoNode places a deletion at the end of the branch.
	node NodeID
	// sideOnly keeps a materialized deletion on its own branch.
	sideOnly bool
	// late marks a deletion whose base line already exists, removed on the
	// other branch.
	late bool
}

func (t target) added() bool { return t.hunk.Origin == OriginAdded }

// Reconcile overlays the base->local and base->remote hunks onto a freshly
// parsed graph.
//
// Both lists are walked in lockstep. Each head hunk is resolved against the
// numbering of the graph as modified so far: insertions by new line number
// over the visible lines of the branch, deletions by old line number over
// the branch's base lines (Original and Removed). When both heads target the
// same line with the same operation and content they are applied once to
// both branches. Otherwise the head whose target precedes the other's is
// applied first and the other waits. Heads targeting the same line are
// ordered deletion first, then Local before Remote. Unrelated heads are
// applied together. An insertion whose line no longer matches waits while
// the other side makes progress and is dropped once it cannot.
//
// Deletions are materialized as new Removed lines. They join every branch
// when placed before a line common to all three, so the base line stays
// visible on the other side and in the result until a change removes it.
// Insertions on common lines stay linked everywhere but are Omitted on the
// other side and in the result, so applying a change only flips states.
// Finally every conflict region's Result sub-sequence is rebuilt.
//
// Reconcile discards extracted changes and the undo log.
func (f *File) Reconcile(local, remote []Hunk) ReconcileReport {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.resetChanges()
	queues := [2][]Hunk{edits(local), edits(remote)}
	var rep ReconcileReport
	t := f.begin()

	for {
		l, ls := f.head(Local, queues[0])
		r, rs := f.head(Remote, queues[1])
		switch {
		case ls == headEmpty && rs == headEmpty:
			f.reseedConflicts()
			f.undo, f.redo = nil, nil
			f.revision++
			f.refresh()
			return rep
		case ls == headStale && rs != headReady:
			queues[0] = queues[0][1:]
			rep.Skipped++
			continue
		case rs == headStale && ls == headEmpty:
			queues[1] = queues[1][1:]
			rep.Skipped++
			continue
		case rs != headReady:
			f.applyTarget(t, l)
			queues[0] = queues[0][1:]
		case ls != headReady:
			f.applyTarget(t, r)
			queues[1] = queues[1][1:]
		case f.coincide(l, r):
			f.applyShared(t, l)
			queues[0], queues[1] = queues[0][1:], queues[1][1:]
			rep.Shared++
		case f.before(l, r):
			f.applyTarget(t, l)
			queues[0] = queues[0][1:]
		case f.before(r, l):
			f.applyTarget(t, r)
			queues[1] = queues[1][1:]
		default:
			f.applyTarget(t, l)
			f.applyTarget(t, r)
			queues[0], queues[1] = queues[0][1:], queues[1][1:]
			rep.Applied++
		}
		rep.Applied++
	}
}

type headState int

const (
	headEmpty headState = iota
	headStale
	headReady
)

func edits(hunks []Hunk) []Hunk {
	out := make([]Hunk, 0, len(hunks))
	for _, h := range hunks {
		if h.Origin == OriginAdded || h.Origin == OriginRemoved {
			out = append(out, h)
		}
	}
	return out
}

// head resolves the first hunk of q. A hunk that does not match the graph
// is stale: it waits while the other side makes progress and is dropped
// otherwise.
func (f *File) head(b Branch, q []Hunk) (target, headState) {
	if len(q) == 0 {
		return target{}, headEmpty
	}
	var t target
	var ok bool
	if q[0].Origin == OriginAdded {
		t, ok = f.resolveAdded(b, q[0])
	} else {
		t, ok = f.resolveRemoved(b, q[0])
	}
	if !ok {
		return target{}, headStale
	}
	return t, headReady
}

func (f *File) resolveAdded(b Branch, h Hunk) (target, bool) {
	if h.NewLine < 1 {
		return target{}, false
	}
	n := 0
	for l := range f.walk(b, NoNode, NoNode) {
		if !l.State[b].visible() {
			continue
		}
		n++
		if n == h.NewLine {
			if !sameLine(l.Text[b], h.Content) {
				return target{}, false
			}
			return target{hunk: h, branch: b, node: l.ID}, true
		}
	}
	return target{}, false
}

func (f *File) resolveRemoved(b Branch, h Hunk) (target, bool) {
	if h.OldLine < 1 {
		return target{}, false
	}
	t := target{hunk: h, branch: b, node: NoNode}
	base := 0
	regionEnd := NoNode
	for l := range f.walk(b, NoNode, NoNode) {
		switch l.State[b] {
		case Original, Removed:
			base++
			if base != h.OldLine {
				continue
			}
			other := b.Other()
			if l.State[b] == Original && l.State[other] == Removed && sameLine(l.Text[other], h.Content) {
				t.node, t.late = l.ID, true
				return t, true
			}
			if regionEnd != NoNode {
				t.node, t.sideOnly = regionEnd, true
				return t, true
			}
			t.node, t.sideOnly = l.ID, !f.common(l.ID)
			return t, true
		case ConflictEnd:
			if base == h.OldLine-1 && regionEnd == NoNode {
				regionEnd = l.ID
			}
		}
	}
	if base != h.OldLine-1 {
		return target{}, false
	}
	if regionEnd != NoNode {
		t.node, t.sideOnly = regionEnd, true
		return t, true
	}
	t.sideOnly = !f.common(f.last(b))
	return t, true
}

// coincide reports whether two heads describe one modification made on both
// sides.
func (f *File) coincide(l, r target) bool {
	if l.hunk.Origin != r.hunk.Origin || l.node != r.node || !sameLine(l.hunk.Content, r.hunk.Content) {
		return false
	}
	if l.added() {
		return true
	}
	return !l.sideOnly && !r.sideOnly && !l.late && !r.late
}

// before reports whether a must be applied before b.
func (f *File) before(a, b target) bool {
	if a.node == b.node {
		if a.added() != b.added() {
			return !a.added()
		}
		return a.branch == Local
	}
	switch {
	case b.node == NoNode:
		return true
	case a.node == NoNode:
		return false
	}
	return f.isAncestor(a.node, b.node)
}

func (f *File) applyTarget(t *tx, tg target) {
	b := tg.branch
	if tg.added() {
		t.setState(tg.node, b, Inserted)
		if f.common(tg.node) {
			t.setState(tg.node, b.Other(), Omitted)
			t.setState(tg.node, Result, Omitted)
		}
		return
	}
	if tg.late {
		t.setState(tg.node, b, Removed)
		return
	}
	on := Branches[:]
	if tg.sideOnly {
		on = []Branch{b}
	}
	id := f.materialize(t, tg, on)
	t.setState(id, b, Removed)
}

func (f *File) applyShared(t *tx, tg target) {
	if tg.added() {
		t.setState(tg.node, Local, Inserted)
		t.setState(tg.node, Remote, Inserted)
		t.setState(tg.node, Result, Omitted)
		return
	}
	id := f.materialize(t, tg, Branches[:])
	t.setState(id, Local, Removed)
	t.setState(id, Remote, Removed)
}

// materialize creates the node for a deleted base line and links it on the
// given branches, Original everywhere.
func (f *File) materialize(t *tx, tg target, on []Branch) NodeID {
	text := tg.hunk.Content
	if _, eol := splitEOL(text); eol == "" && tg.node != NoNode {
		text += "\n"
	}
	id := f.alloc(text)
	for _, br := range on {
		anchor := f.last(br)
		if tg.node != NoNode {
			anchor = f.lines[tg.node].Prev[br]
		}
		if t.link(anchor, id, br) {
			t.setState(id, br, Original)
		}
	}
	return id
}
