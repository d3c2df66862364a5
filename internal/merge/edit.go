package merge

import (
	"strings"
	"unicode/utf8"
)

// Position is a caret on the Result branch. Column counts runes from the
// start of the line, terminator excluded.
type Position struct {
	Line   NodeID `json:"line"`
	Column int    `json:"column"`
}

// Selection is the span between Anchor and Caret. It is empty when both
// are equal.
type Selection struct {
	Anchor Position `json:"anchor"`
	Caret  Position `json:"caret"`
}

// Caret returns an empty selection at p.
func Caret(p Position) Selection {
	return Selection{Anchor: p, Caret: p}
}

func (s Selection) Empty() bool {
	return s.Anchor == s.Caret
}

// EditResult reports whether an edit changed the graph and where the caret
// ends up.
type EditResult struct {
	Handled bool     `json:"handled"`
	Caret   Position `json:"caret"`
}

// InsertChar types one character. Typing without a selection is atomic:
// consecutive characters coalesce into one undo entry.
func (f *File) InsertChar(sel Selection, r rune) EditResult {
	if r == '\n' {
		return f.InsertLineBreak(sel)
	}
	s := string(r)
	return f.edit(sel, true, func(t *tx, p Position) (Position, bool) {
		return f.insertText(t, p, s)
	})
}

// InsertText pastes text, which may span several lines. An empty string is
// not handled.
func (f *File) InsertText(sel Selection, text string) EditResult {
	return f.edit(sel, false, func(t *tx, p Position) (Position, bool) {
		return f.insertText(t, p, text)
	})
}

// InsertLineBreak splits the caret line in two.
func (f *File) InsertLineBreak(sel Selection) EditResult {
	return f.edit(sel, false, func(t *tx, p Position) (Position, bool) {
		return f.insertText(t, p, "\n")
	})
}

// DeleteBefore deletes the selection, or the character before the caret,
// joining with the previous line at column 0.
func (f *File) DeleteBefore(sel Selection) EditResult {
	if !sel.Empty() {
		return f.edit(sel, false, nil)
	}
	return f.edit(sel, false, f.deleteBefore)
}

// DeleteAfter deletes the selection, or the character after the caret,
// joining with the next line at the end of the line.
func (f *File) DeleteAfter(sel Selection) EditResult {
	if !sel.Empty() {
		return f.edit(sel, false, nil)
	}
	return f.edit(sel, false, f.deleteAfter)
}

// DeleteSelection deletes the selected text. An empty selection is not
// handled.
func (f *File) DeleteSelection(sel Selection) EditResult {
	return f.edit(sel, false, nil)
}

// edit runs one primitive behind the selection wrapper: a non-empty
// selection is deleted first and the primitive runs at the resulting caret.
// Both land in a single undo entry.
func (f *File) edit(sel Selection, atomic bool, fn func(*tx, Position) (Position, bool)) EditResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := f.begin()
	caret := sel.Caret
	if !sel.Empty() {
		p, ok := f.deleteRange(t, sel.Anchor, sel.Caret)
		if !ok {
			return EditResult{Caret: sel.Caret}
		}
		caret = p
	}
	if fn != nil {
		if p, ok := fn(t, caret); ok {
			caret = p
		}
	}
	op := t.commit()
	if op.Empty() {
		return EditResult{Caret: sel.Caret}
	}
	op.Atomic = atomic && sel.Empty()
	op.CaretBefore, op.CaretAfter = sel.Caret, caret
	f.record(op)
	return EditResult{Handled: true, Caret: caret}
}

// caretLine resolves p to a visible Result line and splits its text.
func (f *File) caretLine(p Position) (l *Line, body []rune, eol string, ok bool) {
	if !f.linked(p.Line, Result) || p.Line == headID {
		return nil, nil, "", false
	}
	l = f.lines[p.Line]
	if !l.State[Result].visible() {
		return nil, nil, "", false
	}
	text, eol := splitEOL(l.Text[Result])
	body = []rune(text)
	if p.Column < 0 || p.Column > len(body) {
		return nil, nil, "", false
	}
	return l, body, eol, true
}

// slot reports whether p sits on a line that accepts new lines after it
// without carrying text itself: the head of an empty-looking file or the
// start marker of a conflict region.
func (f *File) slot(p Position) bool {
	if p.Column != 0 || !f.linked(p.Line, Result) {
		return false
	}
	return p.Line == headID || f.lines[p.Line].State[Result] == ConflictStart
}

func (f *File) insertText(t *tx, p Position, text string) (Position, bool) {
	if text == "" {
		return p, false
	}
	if f.slot(p) {
		id := f.alloc("\n")
		t.link(p.Line, id, Result)
		t.setState(id, Result, Inserted)
		p = Position{Line: id}
	}
	l, body, eol, ok := f.caretLine(p)
	if !ok {
		return p, false
	}
	prefix, suffix := string(body[:p.Column]), string(body[p.Column:])

	parts := strings.Split(text, "\n")
	if len(parts) == 1 {
		t.setText(l.ID, Result, prefix+text+suffix+eol)
		return Position{Line: l.ID, Column: p.Column + utf8.RuneCountInString(text)}, true
	}

	brk := eol
	if brk == "" {
		brk = "\n"
	}
	for i := range parts[:len(parts)-1] {
		parts[i] = strings.TrimSuffix(parts[i], "\r")
	}
	t.setText(l.ID, Result, prefix+parts[0]+brk)
	anchor := l.ID
	for _, part := range parts[1 : len(parts)-1] {
		anchor = f.spliceAfter(t, anchor, part+brk)
	}
	tail := parts[len(parts)-1]
	id := f.spliceAfter(t, anchor, tail+suffix+eol)
	return Position{Line: id, Column: utf8.RuneCountInString(tail)}, true
}

// spliceAfter links a new Inserted line after anchor on Result.
func (f *File) spliceAfter(t *tx, anchor NodeID, text string) NodeID {
	id := f.alloc(text)
	t.link(anchor, id, Result)
	t.setState(id, Result, Inserted)
	return id
}

func (f *File) deleteBefore(t *tx, p Position) (Position, bool) {
	l, body, eol, ok := f.caretLine(p)
	if !ok {
		return p, false
	}
	if p.Column > 0 {
		t.setText(l.ID, Result, string(body[:p.Column-1])+string(body[p.Column:])+eol)
		return Position{Line: l.ID, Column: p.Column - 1}, true
	}
	prev := f.adjacent(l.ID, -1)
	if prev == NoNode {
		return p, false
	}
	pb, _ := splitEOL(f.lines[prev].Text[Result])
	t.setText(prev, Result, pb+string(body)+eol)
	t.unlink(l.ID, Result)
	return Position{Line: prev, Column: utf8.RuneCountInString(pb)}, true
}

func (f *File) deleteAfter(t *tx, p Position) (Position, bool) {
	l, body, eol, ok := f.caretLine(p)
	if !ok {
		return p, false
	}
	if p.Column < len(body) {
		t.setText(l.ID, Result, string(body[:p.Column])+string(body[p.Column+1:])+eol)
		return p, true
	}
	next := f.adjacent(l.ID, 1)
	if next == NoNode {
		return p, false
	}
	t.setText(l.ID, Result, string(body)+f.lines[next].Text[Result])
	t.unlink(next, Result)
	return p, true
}

// adjacent finds the nearest visible Result line before (dir < 0) or after
// id. Conflict markers stop the search.
func (f *File) adjacent(id NodeID, dir int) NodeID {
	step := func(n NodeID) NodeID {
		if dir < 0 {
			return f.lines[n].Prev[Result]
		}
		return f.lines[n].Next[Result]
	}
	for n, steps := step(id), 0; n != NoNode && n != headID && steps < len(f.lines); n, steps = step(n), steps+1 {
		s := f.lines[n].State[Result]
		if s.marker() {
			return NoNode
		}
		if s.visible() {
			return n
		}
	}
	return NoNode
}

// less orders two caret positions along the Result branch.
func (f *File) less(a, b Position) bool {
	if a.Line == b.Line {
		return a.Column < b.Column
	}
	if !f.valid(a.Line) || !f.valid(b.Line) {
		return false
	}
	return f.lines[a.Line].Number[Result] < f.lines[b.Line].Number[Result]
}

// deleteRange removes the text between two positions. It refuses to cross
// a conflict marker.
func (f *File) deleteRange(t *tx, a, b Position) (Position, bool) {
	if f.less(b, a) {
		a, b = b, a
	}
	first, fb, _, ok := f.caretLine(a)
	if !ok {
		return a, false
	}
	last, lb, leol, ok := f.caretLine(b)
	if !ok {
		return a, false
	}
	if first == last {
		t.setText(first.ID, Result, string(fb[:a.Column])+string(lb[b.Column:])+leol)
		return a, true
	}

	var between []NodeID
	reached := false
	for l := range f.walk(Result, first.ID, last.ID) {
		if l.ID == last.ID {
			reached = true
			break
		}
		if l.State[Result].marker() {
			return a, false
		}
		if l.State[Result].visible() {
			between = append(between, l.ID)
		}
	}
	if !reached {
		return a, false
	}
	for _, id := range between {
		t.unlink(id, Result)
	}
	t.setText(first.ID, Result, string(fb[:a.Column])+string(lb[b.Column:])+leol)
	t.unlink(last.ID, Result)
	return a, true
}
