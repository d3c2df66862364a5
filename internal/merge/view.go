package merge

import "slices"

// LineView is a read-only copy of one line as seen from a branch.
type LineView struct {
	ID            NodeID    `json:"id"`
	Number        int       `json:"number"`
	State         LineState `json:"state"`
	Text          string    `json:"text"`
	Change        ChangeID  `json:"change,omitempty"`
	ChangesBefore int       `json:"changes_before"`
}

// ChangeView is a read-only copy of a Change.
type ChangeView struct {
	ID      ChangeID   `json:"id"`
	Branch  Branch     `json:"branch"`
	Type    ChangeType `json:"type"`
	Status  Status     `json:"status"`
	Start   NodeID     `json:"start"`
	End     NodeID     `json:"end"`
	Lines   int        `json:"lines"`
	Parents []ChangeID `json:"parents,omitempty"`
	Child   ChangeID   `json:"child,omitempty"`
	Twin    ChangeID   `json:"twin,omitempty"`
}

// Snapshot is a consistent copy of the whole file, taken under one read
// lock.
type Snapshot struct {
	Revision   uint64                `json:"revision"`
	Resolved   bool                  `json:"resolved"`
	Unresolved int                   `json:"unresolved"`
	CanUndo    bool                  `json:"can_undo"`
	CanRedo    bool                  `json:"can_redo"`
	Branches   map[Branch][]LineView `json:"branches"`
	Changes    []ChangeView          `json:"changes"`
	Merged     string                `json:"merged"`
}

// View copies the lines of branch b, skipping states in ignore.
func (f *File) View(b Branch, ignore StateSet) []LineView {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.view(b, ignore)
}

func (f *File) view(b Branch, ignore StateSet) []LineView {
	var out []LineView
	for l := range f.Lines(b, ignore, NoNode, NoNode) {
		out = append(out, LineView{
			ID:            l.ID,
			Number:        l.Number[b],
			State:         l.State[b],
			Text:          l.Text[b],
			Change:        l.Change[b],
			ChangesBefore: l.ChangesBefore[b],
		})
	}
	return out
}

func (f *File) changeView(c *Change) ChangeView {
	v := ChangeView{
		ID:      c.ID,
		Branch:  c.Branch,
		Type:    c.Type,
		Status:  f.statusOf(c),
		Start:   c.Start,
		End:     c.End,
		Lines:   len(f.items(c)),
		Parents: slices.Clone(f.parents[c.ID]),
		Child:   f.child[c.ID],
		Twin:    f.twins[c.ID],
	}
	return v
}

// Snapshot copies every branch (Omitted lines skipped) and every change.
func (f *File) Snapshot() Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()

	s := Snapshot{
		Revision: f.revision,
		CanUndo:  len(f.undo) > 0,
		CanRedo:  len(f.redo) > 0,
		Branches: make(map[Branch][]LineView, branchCount),
		Merged:   f.Text(Result),
	}
	for _, b := range Branches {
		s.Branches[b] = f.view(b, IgnoreHidden)
	}
	for _, c := range f.changes {
		v := f.changeView(c)
		if v.Status == Prepared {
			s.Unresolved++
		}
		s.Changes = append(s.Changes, v)
	}
	s.Resolved = s.Unresolved == 0
	return s
}
