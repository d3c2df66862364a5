package merge

import "slices"

// Apply pulls the change into the Result branch and pushes one undo entry.
// The returned Operation can be passed to Rollback. Changes that are not
// Prepared, and Result placeholders, are left alone and Apply reports
// false.
func (c *Change) Apply() (Operation, bool) {
	f := c.f
	f.mu.Lock()
	defer f.mu.Unlock()

	t := f.begin()
	if !f.apply(t, c) {
		return Operation{}, false
	}
	op := t.commit()
	f.record(op)
	return op, true
}

// Discard marks the change as rejected. Nothing structural changes; the
// change simply stays out of the result.
func (c *Change) Discard() (Operation, bool) {
	f := c.f
	f.mu.Lock()
	defer f.mu.Unlock()

	t := f.begin()
	if !f.discard(t, c) {
		return Operation{}, false
	}
	op := t.commit()
	f.record(op)
	return op, true
}

// ApplyChange applies the change with the given id.
func (f *File) ApplyChange(id ChangeID) (Operation, error) {
	c, err := f.Change(id)
	if err != nil {
		return Operation{}, err
	}
	op, _ := c.Apply()
	return op, nil
}

// DiscardChange discards the change with the given id.
func (f *File) DiscardChange(id ChangeID) (Operation, error) {
	c, err := f.Change(id)
	if err != nil {
		return Operation{}, err
	}
	op, _ := c.Discard()
	return op, nil
}

// ApplyNonConflictingChanges applies every Prepared non-conflict change of
// the given branches (Local and Remote when none are given) as a single
// undo entry.
func (f *File) ApplyNonConflictingChanges(branches ...Branch) Operation {
	if len(branches) == 0 {
		branches = []Branch{Local, Remote}
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	t := f.begin()
	for _, c := range f.changes {
		if c.Type == Conflict || !slices.Contains(branches, c.Branch) {
			continue
		}
		f.apply(t, c)
	}
	op := t.commit()
	f.record(op)
	return op
}

// AcceptSide resolves the whole file in favour of b: every Prepared change
// of b is applied and every remaining change of the other side discarded,
// as a single undo entry.
func (f *File) AcceptSide(b Branch) Operation {
	if b != Local && b != Remote {
		return Operation{}
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	t := f.begin()
	for _, c := range f.changes {
		if c.Branch == b {
			f.apply(t, c)
		}
	}
	for _, c := range f.changes {
		if c.Branch == b.Other() {
			f.discard(t, c)
		}
	}
	op := t.commit()
	f.record(op)
	return op
}

func (f *File) apply(t *tx, c *Change) bool {
	if c.Branch == Result || f.statusOf(c) != Prepared {
		return false
	}
	if c.Type == Conflict {
		return f.applyConflict(t, c)
	}
	b := c.Branch
	for _, l := range f.items(c) {
		if !f.linked(l.ID, Result) {
			continue
		}
		t.setState(l.ID, Result, l.State[b])
		t.setText(l.ID, Result, l.Text[b])
	}
	t.setStatus(c, Applied)
	if twin := f.twinOf(c); twin != nil && twin.status == Prepared {
		t.setStatus(twin, Applied)
	}
	return true
}

// applyConflict splices one side of a conflict region into the Result
// branch. The first side applied replaces whatever Result holds between the
// markers; a second side is appended after the first.
func (f *File) applyConflict(t *tx, c *Change) bool {
	if _, ok := f.child[c.ID]; !ok {
		return false
	}
	b := c.Branch
	start, end := c.Start, c.End

	var inner []*Line
	for l := range f.walk(b, start, end) {
		if l.ID == end {
			break
		}
		if l.State[b] != Omitted {
			inner = append(inner, l)
		}
	}

	replace := true
	if other := f.counterpart(c); other != nil && other.status == Applied {
		replace = false
	}
	var current []NodeID
	if replace {
		for l := range f.walk(Result, start, end) {
			if l.ID == end {
				break
			}
			current = append(current, l.ID)
		}
	}
	for _, l := range inner {
		if f.linked(l.ID, Result) && !slices.Contains(current, l.ID) {
			return false
		}
	}

	anchor := start
	if replace {
		for _, id := range current {
			t.unlink(id, Result)
		}
	} else {
		anchor = f.lines[end].Prev[Result]
	}
	for _, l := range inner {
		t.link(anchor, l.ID, Result)
		t.setState(l.ID, Result, l.State[b])
		t.setText(l.ID, Result, l.Text[b])
		anchor = l.ID
	}
	t.setStatus(c, Applied)
	return true
}

func (f *File) discard(t *tx, c *Change) bool {
	if c.Branch == Result || f.statusOf(c) != Prepared {
		return false
	}
	t.setStatus(c, Discarded)
	if twin := f.twinOf(c); twin != nil && twin.status == Prepared {
		t.setStatus(twin, Discarded)
	}
	return true
}
