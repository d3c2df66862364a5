package merge

import (
	"errors"
	"fmt"
)

var (
	ErrNothingToUndo   = errors.New("nothing to undo")
	ErrNothingToRedo   = errors.New("nothing to redo")
	ErrStaleRollback   = errors.New("rollback is not the latest operation")
	ErrUnknownChange   = errors.New("unknown change")
	ErrInvalidPosition = errors.New("invalid caret position")
)

// OpKind tags a primitive mutation.
type OpKind string

const (
	OpSetNext   OpKind = "next"
	OpSetPrev   OpKind = "prev"
	OpSetState  OpKind = "state"
	OpSetText   OpKind = "text"
	OpSetStatus OpKind = "status"
)

// Op is a single primitive mutation of a File. Running an Op returns the
// Op that undoes it, so a log of Ops drives both undo and redo.
type Op struct {
	Kind   OpKind    `json:"kind"`
	Node   NodeID    `json:"node,omitempty"`
	Branch Branch    `json:"branch"`
	Link   NodeID    `json:"link,omitempty"`
	State  LineState `json:"state,omitempty"`
	Text   string    `json:"text,omitempty"`
	Change ChangeID  `json:"change,omitempty"`
	Status Status    `json:"status,omitempty"`
}

// Batch is an ordered list of Ops.
type Batch []Op

// Operation is one entry of the undo log.
type Operation struct {
	Seq     uint64
	Forward Batch
	Inverse Batch
	// Atomic marks single-character typing; consecutive atomic operations
	// at adjacent carets are coalesced into one undo entry.
	Atomic      bool
	CaretBefore Position
	CaretAfter  Position
}

// Empty reports whether the operation changed nothing.
func (o Operation) Empty() bool {
	return len(o.Forward) == 0
}

// do executes o and returns its inverse.
func (f *File) do(o Op) Op {
	inv := o
	switch o.Kind {
	case OpSetNext:
		l := f.lines[o.Node]
		inv.Link = l.Next[o.Branch]
		l.Next[o.Branch] = o.Link
	case OpSetPrev:
		l := f.lines[o.Node]
		inv.Link = l.Prev[o.Branch]
		l.Prev[o.Branch] = o.Link
	case OpSetState:
		l := f.lines[o.Node]
		inv.State = l.State[o.Branch]
		l.State[o.Branch] = o.State
	case OpSetText:
		l := f.lines[o.Node]
		inv.Text = l.Text[o.Branch]
		l.Text[o.Branch] = o.Text
	case OpSetStatus:
		c := f.changes[o.Change-1]
		inv.Status = c.status
		c.status = o.Status
	default:
		panic(fmt.Sprintf("merge: unknown op kind %q", o.Kind))
	}
	return inv
}

// replay runs a batch and returns the batch that reverts it.
func (f *File) replay(b Batch) Batch {
	inverse := make(Batch, len(b))
	for i, o := range b {
		inverse[len(b)-1-i] = f.do(o)
	}
	return inverse
}

// tx records the ops of one logical mutation as they are executed.
type tx struct {
	f       *File
	forward Batch
	inverse Batch
}

func (f *File) begin() *tx {
	return &tx{f: f}
}

func (t *tx) exec(o Op) {
	t.inverse = append(t.inverse, t.f.do(o))
	t.forward = append(t.forward, o)
}

func (t *tx) setNext(n NodeID, b Branch, v NodeID) {
	if t.f.lines[n].Next[b] != v {
		t.exec(Op{Kind: OpSetNext, Node: n, Branch: b, Link: v})
	}
}

func (t *tx) setPrev(n NodeID, b Branch, v NodeID) {
	if t.f.lines[n].Prev[b] != v {
		t.exec(Op{Kind: OpSetPrev, Node: n, Branch: b, Link: v})
	}
}

func (t *tx) setState(n NodeID, b Branch, s LineState) {
	if t.f.lines[n].State[b] != s {
		t.exec(Op{Kind: OpSetState, Node: n, Branch: b, State: s})
	}
}

func (t *tx) setText(n NodeID, b Branch, text string) {
	if t.f.lines[n].Text[b] != text {
		t.exec(Op{Kind: OpSetText, Node: n, Branch: b, Text: text})
	}
}

func (t *tx) setStatus(c *Change, s Status) {
	if c.status != s {
		t.exec(Op{Kind: OpSetStatus, Change: c.ID, Status: s})
	}
}

// link inserts n after anchor on branch b. It is not handled when the
// anchor is absent from b or n is already part of b.
func (t *tx) link(anchor, n NodeID, b Branch) bool {
	f := t.f
	if !f.linked(anchor, b) || f.linked(n, b) || n == headID {
		return false
	}
	next := f.lines[anchor].Next[b]
	t.setPrev(n, b, anchor)
	t.setNext(n, b, next)
	t.setNext(anchor, b, n)
	if next != NoNode {
		t.setPrev(next, b, n)
	}
	return true
}

// unlink removes n from branch b and marks it Omitted there.
func (t *tx) unlink(n NodeID, b Branch) bool {
	f := t.f
	if n == headID || !f.linked(n, b) {
		return false
	}
	l := f.lines[n]
	prev, next := l.Prev[b], l.Next[b]
	t.setNext(prev, b, next)
	if next != NoNode {
		t.setPrev(next, b, prev)
	}
	t.setNext(n, b, NoNode)
	t.setPrev(n, b, NoNode)
	t.setState(n, b, Omitted)
	return true
}

// abort reverts everything executed so far.
func (t *tx) abort() {
	if len(t.inverse) == 0 {
		return
	}
	for i := len(t.inverse) - 1; i >= 0; i-- {
		t.f.do(t.inverse[i])
	}
	t.forward, t.inverse = nil, nil
	t.f.refresh()
}

// commit finalizes the transaction. Empty transactions leave the revision
// untouched.
func (t *tx) commit() Operation {
	inverse := make(Batch, len(t.inverse))
	for i, o := range t.inverse {
		inverse[len(t.inverse)-1-i] = o
	}
	op := Operation{Forward: t.forward, Inverse: inverse}
	if op.Empty() {
		return op
	}
	t.f.opSeq++
	op.Seq = t.f.opSeq
	t.f.touch()
	return op
}

// record pushes op onto the undo log, coalescing atomic typing.
func (f *File) record(op Operation) {
	if op.Empty() {
		return
	}
	f.redo = nil
	if n := len(f.undo); n > 0 && op.Atomic {
		top := &f.undo[n-1]
		if top.Atomic && top.CaretAfter == op.CaretBefore {
			top.Forward = append(top.Forward, op.Forward...)
			top.Inverse = append(append(Batch{}, op.Inverse...), top.Inverse...)
			top.CaretAfter = op.CaretAfter
			top.Seq = op.Seq
			return
		}
	}
	f.undo = append(f.undo, op)
}

// Undo reverts the latest operation and returns the caret it started from.
func (f *File) Undo() (Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(f.undo)
	if n == 0 {
		return Position{}, ErrNothingToUndo
	}
	op := f.undo[n-1]
	f.undo = f.undo[:n-1]
	f.replay(op.Inverse)
	f.redo = append(f.redo, op)
	f.touch()
	return op.CaretBefore, nil
}

// Redo re-applies the latest undone operation.
func (f *File) Redo() (Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(f.redo)
	if n == 0 {
		return Position{}, ErrNothingToRedo
	}
	op := f.redo[n-1]
	f.redo = f.redo[:n-1]
	f.replay(op.Forward)
	f.undo = append(f.undo, op)
	f.touch()
	return op.CaretAfter, nil
}

// Rollback reverts op, which must be the latest recorded operation.
func (f *File) Rollback(op Operation) error {
	if op.Empty() {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(f.undo)
	if n == 0 || f.undo[n-1].Seq != op.Seq {
		return ErrStaleRollback
	}
	f.undo = f.undo[:n-1]
	f.replay(op.Inverse)
	f.touch()
	return nil
}

// CanUndo reports whether Undo has anything to revert.
func (f *File) CanUndo() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.undo) > 0
}

// CanRedo reports whether Redo has anything to re-apply.
func (f *File) CanRedo() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.redo) > 0
}
