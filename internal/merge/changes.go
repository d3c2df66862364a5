package merge

import (
	"fmt"
	"slices"
)

// ChangeType classifies a run of differing lines.
type ChangeType int

const (
	Insertion ChangeType = iota
	Deletion
	Edition
	Conflict
)

var changeTypeNames = [...]string{"insertion", "deletion", "edition", "conflict"}

func (t ChangeType) String() string {
	if t >= 0 && int(t) < len(changeTypeNames) {
		return changeTypeNames[t]
	}
	return fmt.Sprintf("type(%d)", int(t))
}

func (t ChangeType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *ChangeType) UnmarshalText(text []byte) error {
	for i, name := range changeTypeNames {
		if name == string(text) {
			*t = ChangeType(i)
			return nil
		}
	}
	return fmt.Errorf("unknown change type %q", text)
}

// Status is the lifecycle stage of a Change.
type Status int

const (
	Building Status = iota
	Prepared
	Applied
	Discarded
)

var statusNames = [...]string{"building", "prepared", "applied", "discarded"}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if name == string(text) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}

// Change is a contiguous run of lines on one branch sharing a difference
// classification. Conflict regions also produce a Change on the Result
// branch whose status is derived from its Local and Remote parents.
type Change struct {
	ID     ChangeID
	Branch Branch
	Type   ChangeType
	Start  NodeID
	End    NodeID

	status Status
	last   LineState
	f      *File
}

// Status returns the change's status. For a Result conflict it reads
// Applied once both sides have been applied or discarded.
func (c *Change) Status() Status {
	c.f.mu.RLock()
	defer c.f.mu.RUnlock()
	return c.f.statusOf(c)
}

func (f *File) statusOf(c *Change) Status {
	if c.Branch != Result {
		return c.status
	}
	parents := f.parents[c.ID]
	if len(parents) == 0 {
		return c.status
	}
	for _, id := range parents {
		switch f.changes[id-1].status {
		case Applied, Discarded:
		default:
			return Prepared
		}
	}
	return Applied
}

// Items returns the lines of the change on its branch, markers included.
func (c *Change) Items() []*Line {
	c.f.mu.RLock()
	defer c.f.mu.RUnlock()
	return c.f.items(c)
}

func (f *File) items(c *Change) []*Line {
	var out []*Line
	for l := range f.Lines(c.Branch, IgnoreHidden, c.Start, c.End) {
		out = append(out, l)
	}
	return out
}

// Parents returns the Local and Remote sides of a Result conflict.
func (c *Change) Parents() []*Change {
	c.f.mu.RLock()
	defer c.f.mu.RUnlock()
	var out []*Change
	for _, id := range c.f.parents[c.ID] {
		out = append(out, c.f.changes[id-1])
	}
	return out
}

// Child returns the Result conflict a side belongs to, or nil.
func (c *Change) Child() *Change {
	c.f.mu.RLock()
	defer c.f.mu.RUnlock()
	if id, ok := c.f.child[c.ID]; ok {
		return c.f.changes[id-1]
	}
	return nil
}

// Twin returns the identical change on the other side, or nil. Twins are
// applied and discarded together.
func (c *Change) Twin() *Change {
	c.f.mu.RLock()
	defer c.f.mu.RUnlock()
	return c.f.twinOf(c)
}

func (f *File) twinOf(c *Change) *Change {
	if id, ok := f.twins[c.ID]; ok {
		return f.changes[id-1]
	}
	return nil
}

// counterpart returns the other side of the conflict c belongs to.
func (f *File) counterpart(c *Change) *Change {
	child, ok := f.child[c.ID]
	if !ok {
		return nil
	}
	for _, id := range f.parents[child] {
		if id != c.ID {
			return f.changes[id-1]
		}
	}
	return nil
}

// Changes returns every extracted change in extraction order.
func (f *File) Changes() []*Change {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.changes)
}

// Change looks a change up by id.
func (f *File) Change(id ChangeID) (*Change, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.change(id)
}

func (f *File) change(id ChangeID) (*Change, error) {
	if id < 1 || int(id) > len(f.changes) {
		return nil, fmt.Errorf("change %d: %w", id, ErrUnknownChange)
	}
	return f.changes[id-1], nil
}

// Resolved reports whether no change is still Prepared.
func (f *File) Resolved() bool {
	return f.Unresolved() == 0
}

// Unresolved counts the changes still waiting for a decision.
func (f *File) Unresolved() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := 0
	for _, c := range f.changes {
		if f.statusOf(c) == Prepared {
			n++
		}
	}
	return n
}

func (f *File) resetChanges() {
	f.changes = nil
	clear(f.parents)
	clear(f.child)
	clear(f.twins)
	for _, l := range f.lines {
		l.Change = [branchCount]ChangeID{}
	}
}

// ExtractChanges groups the difference states of every branch into
// changes and links conflict sides to their Result placeholder.
//
// On Local and Remote a change starts at an Inserted, Removed or
// ConflictStart line. Inside a conflict every line belongs to the change up
// to the ConflictEnd marker. Outside one, lines of the same state extend
// it, Inserted lines right after a Removed run turn it into an Edition, and
// any other state closes it. The Result branch only carries conflict
// placeholders.
//
// Extraction replaces previous changes; it is meant to run once, right
// after Reconcile.
func (f *File) ExtractChanges() []*Change {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.resetChanges()
	for _, b := range Branches {
		f.scan(b)
	}
	f.linkChanges()
	f.revision++
	f.refresh()
	return slices.Clone(f.changes)
}

func (f *File) scan(b Branch) {
	var cur *Change
	inConflict := false
	for l := range f.walk(b, NoNode, NoNode) {
		s := l.State[b]
		if s == Omitted {
			continue
		}
		if cur != nil {
			if inConflict {
				f.extend(cur, l)
				if s == ConflictEnd {
					cur.status = Prepared
					cur, inConflict = nil, false
				}
				continue
			}
			switch {
			case s == cur.last:
			case cur.last == Removed && s == Inserted:
				cur.Type = Edition
			default:
				cur.status = Prepared
				cur = nil
			}
			if cur != nil {
				f.extend(cur, l)
				continue
			}
		}
		switch {
		case s == ConflictStart:
			cur, inConflict = f.open(b, Conflict, l), true
		case b == Result:
		case s == Inserted:
			cur = f.open(b, Insertion, l)
		case s == Removed:
			cur = f.open(b, Deletion, l)
		}
	}
	if cur != nil {
		cur.status = Prepared
	}
}

func (f *File) open(b Branch, t ChangeType, l *Line) *Change {
	c := &Change{
		ID:     ChangeID(len(f.changes) + 1),
		Branch: b,
		Type:   t,
		Start:  l.ID,
		End:    l.ID,
		status: Building,
		last:   l.State[b],
		f:      f,
	}
	f.changes = append(f.changes, c)
	l.Change[b] = c.ID
	return c
}

func (f *File) extend(c *Change, l *Line) {
	c.End = l.ID
	c.last = l.State[c.Branch]
	l.Change[c.Branch] = c.ID
}

type changeSpan struct {
	start, end NodeID
	kind       ChangeType
}

func (f *File) linkChanges() {
	placeholders := make(map[changeSpan]ChangeID)
	locals := make(map[changeSpan]ChangeID)
	for _, c := range f.changes {
		key := changeSpan{c.Start, c.End, c.Type}
		switch {
		case c.Branch == Result && c.Type == Conflict:
			placeholders[key] = c.ID
		case c.Branch == Local && c.Type != Conflict:
			locals[key] = c.ID
		}
	}
	for _, c := range f.changes {
		key := changeSpan{c.Start, c.End, c.Type}
		switch {
		case c.Branch != Result && c.Type == Conflict:
			if r, ok := placeholders[key]; ok {
				f.parents[r] = append(f.parents[r], c.ID)
				f.child[c.ID] = r
			}
		case c.Branch == Remote:
			if l, ok := locals[key]; ok {
				f.twins[l] = c.ID
				f.twins[c.ID] = l
			}
		}
	}
}
