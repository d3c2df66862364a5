package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func firstChange(t *testing.T, f *File, b Branch) *Change {
	t.Helper()
	for _, c := range f.Changes() {
		if c.Branch == b {
			return c
		}
	}
	t.Fatalf("no change on %s", b)
	return nil
}

func TestExtractChanges_Types(t *testing.T) {
	for _, sc := range scenarios {
		t.Run(sc.name, func(t *testing.T) {
			f := analyzeScenario(t, sc)
			c := firstChange(t, f, Local)
			assert.Equal(t, sc.wantChangeType, c.Type)
			assert.Equal(t, Prepared, c.Status())
			assert.NotEmpty(t, c.Items())
			assert.False(t, f.Resolved())
		})
	}
}

func TestExtractChanges_ConflictLinkage(t *testing.T) {
	f := analyzeScenario(t, scenarios[3])
	changes := f.Changes()
	require.Len(t, changes, 3)

	local, remote, result := changes[0], changes[1], changes[2]
	assert.Equal(t, Local, local.Branch)
	assert.Equal(t, Remote, remote.Branch)
	assert.Equal(t, Result, result.Branch)
	assert.Equal(t, Conflict, result.Type)

	assert.Same(t, result, local.Child())
	assert.Same(t, result, remote.Child())
	assert.ElementsMatch(t, []*Change{local, remote}, result.Parents())
	assert.Nil(t, result.Child())

	// Placeholder status follows its parents.
	assert.Equal(t, Prepared, result.Status())
	_, ok := local.Apply()
	require.True(t, ok)
	assert.Equal(t, Prepared, result.Status())
	_, ok = remote.Discard()
	require.True(t, ok)
	assert.Equal(t, Applied, result.Status())
	assert.True(t, f.Resolved())
}

func TestExtractChanges_IndependentInsertions(t *testing.T) {
	f := analyzeScenario(t, scenarios[1])
	changes := f.Changes()
	require.Len(t, changes, 2)

	for _, c := range changes {
		assert.Equal(t, Insertion, c.Type)
		assert.Nil(t, c.Child())
		assert.Empty(t, c.Parents())
		assert.Nil(t, c.Twin())
	}

	_, ok := changes[1].Apply()
	require.True(t, ok)
	assert.Equal(t, "a\nc\nR\n", f.MergedText())
	assert.Equal(t, Prepared, changes[0].Status())

	_, ok = changes[0].Apply()
	require.True(t, ok)
	assert.Equal(t, "a\nL\nc\nR\n", f.MergedText())
	assert.True(t, f.Resolved())
}

func TestExtractChanges_ChangesBefore(t *testing.T) {
	f := analyzeScenario(t, scenarios[1])
	var last *Line
	for l := range f.Lines(Local, IgnoreNonText, NoNode, NoNode) {
		last = l
	}
	require.NotNil(t, last)
	assert.Equal(t, "c\n", last.Text[Local])
	assert.Equal(t, 1, last.ChangesBefore[Local])
	assert.Equal(t, 0, last.ChangesBefore[Remote])
}

func TestChange_ApplyUndoSymmetry(t *testing.T) {
	for _, sc := range scenarios {
		t.Run(sc.name, func(t *testing.T) {
			f := analyzeScenario(t, sc)
			c := firstChange(t, f, Local)
			before := f.MergedText()
			localBefore, remoteBefore := f.Text(Local), f.Text(Remote)

			op, ok := c.Apply()
			require.True(t, ok)
			assert.False(t, op.Empty())
			assert.Equal(t, Applied, c.Status())
			assert.Equal(t, sc.wantLocal, f.MergedText(), "applying the only local change yields the local text")
			require.NoError(t, f.Validate())

			_, err := f.Undo()
			require.NoError(t, err)
			assert.Equal(t, before, f.MergedText())
			assert.Equal(t, Prepared, c.Status())
			assert.Equal(t, localBefore, f.Text(Local))
			assert.Equal(t, remoteBefore, f.Text(Remote))
			require.NoError(t, f.Validate())

			_, err = f.Redo()
			require.NoError(t, err)
			assert.Equal(t, sc.wantLocal, f.MergedText())
		})
	}
}

func TestChange_Rollback(t *testing.T) {
	f := analyzeScenario(t, scenarios[1])
	changes := f.Changes()

	op1, ok := changes[0].Apply()
	require.True(t, ok)
	op2, ok := changes[1].Apply()
	require.True(t, ok)

	require.ErrorIs(t, f.Rollback(op1), ErrStaleRollback)
	require.NoError(t, f.Rollback(op2))
	require.NoError(t, f.Rollback(op1))
	assert.Equal(t, "a\nc\n", f.MergedText())
	assert.False(t, f.CanUndo())
	assert.NoError(t, f.Rollback(Operation{}))
}

func TestChange_IdempotentDiscard(t *testing.T) {
	f := analyzeScenario(t, scenarios[0])
	c := firstChange(t, f, Local)
	before := f.MergedText()

	_, ok := c.Discard()
	require.True(t, ok)
	assert.Equal(t, Discarded, c.Status())
	assert.Equal(t, before, f.MergedText())

	rev := f.Revision()
	_, ok = c.Discard()
	assert.False(t, ok)
	assert.Equal(t, Discarded, c.Status())
	assert.Equal(t, rev, f.Revision())

	_, ok = c.Apply()
	assert.False(t, ok, "only prepared changes can be applied")
	assert.True(t, f.Resolved())
}

func TestChange_ResultPlaceholderIsInert(t *testing.T) {
	f := analyzeScenario(t, scenarios[3])
	placeholder := firstChange(t, f, Result)

	_, ok := placeholder.Apply()
	assert.False(t, ok)
	_, ok = placeholder.Discard()
	assert.False(t, ok)
}

func TestChange_ConflictSides(t *testing.T) {
	t.Run("simple conflict", func(t *testing.T) {
		f, err := Analyze(simpleConflict, true, nil, nil)
		require.NoError(t, err)
		local := firstChange(t, f, Local)
		require.Equal(t, Conflict, local.Type)

		_, ok := local.Apply()
		require.True(t, ok)
		assert.Equal(t, "A\n", f.MergedText())

		_, err = f.Undo()
		require.NoError(t, err)
		assert.Equal(t, "", f.MergedText())
		assert.False(t, f.Resolved())
		assert.Equal(t, Prepared, local.Status())
	})

	t.Run("second side is appended once", func(t *testing.T) {
		f, err := Analyze(simpleConflict, true, nil, nil)
		require.NoError(t, err)
		local, remote := firstChange(t, f, Local), firstChange(t, f, Remote)

		_, ok := local.Apply()
		require.True(t, ok)
		_, ok = remote.Apply()
		require.True(t, ok)
		assert.Equal(t, "A\nB\n", f.MergedText())
		require.NoError(t, f.Validate())

		_, err = f.Undo()
		require.NoError(t, err)
		assert.Equal(t, "A\n", f.MergedText())
	})

	t.Run("remote first replaces the seed", func(t *testing.T) {
		f, err := Analyze(simpleConflict, true, nil, nil)
		require.NoError(t, err)
		local, remote := firstChange(t, f, Local), firstChange(t, f, Remote)

		_, ok := remote.Apply()
		require.True(t, ok)
		assert.Equal(t, "B\n", f.MergedText())

		_, ok = local.Discard()
		require.True(t, ok)
		assert.Equal(t, "B\n", f.MergedText())
		assert.True(t, f.Resolved())
		require.NoError(t, f.Validate())
	})

	t.Run("apply after discarding the other side", func(t *testing.T) {
		f, err := Analyze(simpleConflict, true, nil, nil)
		require.NoError(t, err)
		local, remote := firstChange(t, f, Local), firstChange(t, f, Remote)

		_, ok := local.Discard()
		require.True(t, ok)
		_, ok = remote.Apply()
		require.True(t, ok)
		assert.Equal(t, "B\n", f.MergedText())
	})
}

func TestChange_TwinsResolveTogether(t *testing.T) {
	f, err := Analyze("a\nX\nc\n", true, []Hunk{add(2, "X\n")}, []Hunk{add(2, "X\n")})
	require.NoError(t, err)
	local, remote := firstChange(t, f, Local), firstChange(t, f, Remote)

	_, ok := remote.Apply()
	require.True(t, ok)
	assert.Equal(t, Applied, local.Status())
	assert.Equal(t, "a\nX\nc\n", f.MergedText())
	assert.True(t, f.Resolved())

	_, err = f.Undo()
	require.NoError(t, err)
	assert.Equal(t, Prepared, local.Status())
	assert.Equal(t, Prepared, remote.Status())
}

func TestApplyNonConflictingChanges(t *testing.T) {
	t.Run("one undo entry", func(t *testing.T) {
		f := analyzeScenario(t, scenarios[1])
		op := f.ApplyNonConflictingChanges()
		assert.False(t, op.Empty())
		assert.Equal(t, "a\nL\nc\nR\n", f.MergedText())
		assert.True(t, f.Resolved())

		_, err := f.Undo()
		require.NoError(t, err)
		assert.Equal(t, "a\nc\n", f.MergedText())
		assert.False(t, f.CanUndo())
	})

	t.Run("selected branch only", func(t *testing.T) {
		f := analyzeScenario(t, scenarios[1])
		f.ApplyNonConflictingChanges(Remote)
		assert.Equal(t, "a\nc\nR\n", f.MergedText())
		assert.Equal(t, 1, f.Unresolved())
	})

	t.Run("conflicts are left alone", func(t *testing.T) {
		f := analyzeScenario(t, scenarios[3])
		rev := f.Revision()
		op := f.ApplyNonConflictingChanges()
		assert.True(t, op.Empty())
		assert.Equal(t, rev, f.Revision())
		assert.False(t, f.CanUndo())
	})
}

func TestAcceptSide(t *testing.T) {
	f := analyzeScenario(t, scenarios[3])

	op := f.AcceptSide(Remote)
	assert.False(t, op.Empty())
	assert.Equal(t, "a\nR\nc\n", f.MergedText())
	assert.True(t, f.Resolved())
	assert.Equal(t, Discarded, firstChange(t, f, Local).Status())

	_, err := f.Undo()
	require.NoError(t, err)
	assert.Equal(t, "a\nc\n", f.MergedText())
	assert.False(t, f.Resolved())

	assert.True(t, f.AcceptSide(Result).Empty())
}

func TestChangeLookup(t *testing.T) {
	f := analyzeScenario(t, scenarios[0])

	_, err := f.ApplyChange(99)
	require.ErrorIs(t, err, ErrUnknownChange)
	_, err = f.DiscardChange(0)
	require.ErrorIs(t, err, ErrUnknownChange)

	c, err := f.Change(1)
	require.NoError(t, err)
	op, err := f.ApplyChange(c.ID)
	require.NoError(t, err)
	assert.False(t, op.Empty())

	// Already applied: not handled, no error.
	op, err = f.ApplyChange(c.ID)
	require.NoError(t, err)
	assert.True(t, op.Empty())
}

func TestSnapshot(t *testing.T) {
	f := analyzeScenario(t, scenarios[3])
	s := f.Snapshot()

	assert.Equal(t, f.Revision(), s.Revision)
	assert.False(t, s.Resolved)
	assert.Equal(t, 3, s.Unresolved)
	assert.Len(t, s.Changes, 3)
	assert.Equal(t, []ChangeID{1, 2}, s.Changes[2].Parents)
	assert.Equal(t, ChangeID(3), s.Changes[0].Child)
	assert.Equal(t, "a\nc\n", s.Merged)
	require.Len(t, s.Branches[Result], 4, "seed lines are hidden")
}
