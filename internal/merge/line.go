package merge

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Branch identifies one of the three versions of a conflicted file.
type Branch int

const (
	Local Branch = iota
	Remote
	Result
)

const branchCount = 3

// Branches lists every branch in display order.
var Branches = [branchCount]Branch{Local, Remote, Result}

func (b Branch) String() string {
	switch b {
	case Local:
		return "local"
	case Remote:
		return "remote"
	case Result:
		return "result"
	}
	return fmt.Sprintf("branch(%d)", int(b))
}

// Other returns the opposite source branch (Local <-> Remote).
// Result has no opposite and is returned unchanged.
func (b Branch) Other() Branch {
	switch b {
	case Local:
		return Remote
	case Remote:
		return Local
	}
	return b
}

func (b Branch) valid() bool {
	return b >= Local && b <= Result
}

// ParseBranch accepts "local", "remote" or "result" (case-insensitive),
// plus the git aliases "ours" and "theirs".
func ParseBranch(s string) (Branch, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local", "ours":
		return Local, nil
	case "remote", "theirs":
		return Remote, nil
	case "result", "merged":
		return Result, nil
	}
	return 0, fmt.Errorf("unknown branch %q", s)
}

func (b Branch) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b *Branch) UnmarshalText(text []byte) error {
	v, err := ParseBranch(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// LineState describes how a line exists on one branch.
type LineState int

const (
	Original LineState = iota
	Inserted
	Removed
	Omitted
	ConflictStart
	ConflictEnd
)

var lineStateNames = [...]string{"original", "inserted", "removed", "omitted", "conflict-start", "conflict-end"}

func (s LineState) String() string {
	if s >= 0 && int(s) < len(lineStateNames) {
		return lineStateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s LineState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *LineState) UnmarshalText(text []byte) error {
	for i, name := range lineStateNames {
		if name == string(text) {
			*s = LineState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown line state %q", text)
}

// visible reports whether the line contributes to the branch's raw text.
func (s LineState) visible() bool {
	return s == Original || s == Inserted
}

func (s LineState) marker() bool {
	return s == ConflictStart || s == ConflictEnd
}

// StateSet is a small bit set of line states, used to filter traversals.
type StateSet uint8

// States builds a StateSet from the given states.
func States(states ...LineState) StateSet {
	var set StateSet
	for _, s := range states {
		set |= 1 << uint(s)
	}
	return set
}

// Has reports whether s is in the set.
func (set StateSet) Has(s LineState) bool {
	return set&(1<<uint(s)) != 0
}

var (
	// IgnoreHidden skips lines that are not part of a branch at all.
	IgnoreHidden = States(Omitted)
	// IgnoreNonText keeps only lines that make up the branch's raw text.
	IgnoreNonText = States(Removed, Omitted, ConflictStart, ConflictEnd)
)

// NodeID addresses a Line inside its File's arena.
type NodeID int

// NoNode marks an unset link.
const NoNode NodeID = -1

const headID NodeID = 0

// ChangeID identifies a Change inside its File. Zero means "no change".
type ChangeID int

var lineSeq atomic.Uint64

// Line is one physical line (terminator included) as it exists on each
// branch. Links, states and texts are indexed by Branch. Equality is by
// identity: two lines with the same content are still distinct nodes.
type Line struct {
	ID  NodeID
	Key uint64

	Text  [branchCount]string
	State [branchCount]LineState
	Next  [branchCount]NodeID
	Prev  [branchCount]NodeID

	// Display caches, rebuilt after every mutation.
	Number        [branchCount]int
	ChangesBefore [branchCount]int

	Change [branchCount]ChangeID
}

func newLine(id NodeID, text string) *Line {
	l := &Line{
		ID:  id,
		Key: lineSeq.Add(1),
	}
	for _, b := range Branches {
		l.Text[b] = text
		l.State[b] = Omitted
		l.Next[b] = NoNode
		l.Prev[b] = NoNode
	}
	return l
}

// splitEOL separates a line into its content and its terminator.
func splitEOL(text string) (body, eol string) {
	switch {
	case strings.HasSuffix(text, "\r\n"):
		return text[:len(text)-2], "\r\n"
	case strings.HasSuffix(text, "\n"):
		return text[:len(text)-1], "\n"
	}
	return text, ""
}

// sameLine compares two lines ignoring their terminators.
func sameLine(a, b string) bool {
	ab, _ := splitEOL(a)
	bb, _ := splitEOL(b)
	return ab == bb
}

// splitLines splits text after every "\n", keeping terminators.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	parts := strings.SplitAfter(text, "\n")
	if parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}
