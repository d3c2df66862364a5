package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const simpleConflict = "<<<<<<<\nA\n=======\nB\n>>>>>>> theirs\n"

func TestParse_SingleConflict(t *testing.T) {
	f, err := Parse(simpleConflict, true)
	require.NoError(t, err)

	assert.Equal(t, "A\n", f.Text(Local))
	assert.Equal(t, "B\n", f.Text(Remote))
	assert.Equal(t, "", f.MergedText(), "unresolved region contributes nothing to the result")
	require.NoError(t, f.Validate())

	// Markers frame the region on every branch.
	for _, b := range Branches {
		var states []LineState
		for l := range f.Lines(b, IgnoreHidden, NoNode, NoNode) {
			states = append(states, l.State[b])
		}
		require.NotEmpty(t, states, b.String())
		assert.Equal(t, ConflictStart, states[0], b.String())
		assert.Equal(t, ConflictEnd, states[len(states)-1], b.String())
	}
}

func TestParse_SidesFollowMergeState(t *testing.T) {
	f, err := Parse(simpleConflict, false)
	require.NoError(t, err)

	assert.Equal(t, "B\n", f.Text(Local))
	assert.Equal(t, "A\n", f.Text(Remote))
}

func TestParse_SharedText(t *testing.T) {
	text := "x\n<<<<<<< HEAD\nA\nA2\n=======\nB\n>>>>>>> feature\ny\nz"
	f, err := Parse(text, true)
	require.NoError(t, err)

	assert.Equal(t, "x\nA\nA2\ny\nz", f.Text(Local))
	assert.Equal(t, "x\nB\ny\nz", f.Text(Remote))
	assert.Equal(t, "x\ny\nz", f.Text(Result))
	require.NoError(t, f.Validate())
}

func TestParse_EmptySides(t *testing.T) {
	t.Run("empty local seeds from remote", func(t *testing.T) {
		f, err := Parse("<<<<<<<\n=======\nB\n>>>>>>>\n", true)
		require.NoError(t, err)
		assert.Equal(t, "", f.Text(Local))
		assert.Equal(t, "B\n", f.Text(Remote))

		var seeded []string
		for l := range f.Lines(Result, States(ConflictStart, ConflictEnd), NoNode, NoNode) {
			seeded = append(seeded, l.Text[Result])
		}
		assert.Equal(t, []string{"B\n"}, seeded)
	})

	t.Run("both sides empty", func(t *testing.T) {
		f, err := Parse("<<<<<<<\n=======\n>>>>>>>\n", true)
		require.NoError(t, err)
		assert.Equal(t, "", f.Text(Local))
		assert.Equal(t, "", f.Text(Remote))
		require.NoError(t, f.Validate())
	})
}

func TestParse_Diff3BaseSection(t *testing.T) {
	text := "<<<<<<< ours\nA\n||||||| base\nO\n=======\nB\n>>>>>>> theirs\n"
	f, err := Parse(text, true)
	require.NoError(t, err)

	assert.Equal(t, "A\n", f.Text(Local))
	assert.Equal(t, "B\n", f.Text(Remote))
}

func TestParse_MarkerSize(t *testing.T) {
	text := "<<<<\nA\n====\nB\n>>>>\n"

	f, err := Parse(text, true, WithMarkerSize(4))
	require.NoError(t, err)
	assert.Equal(t, "A\n", f.Text(Local))
	assert.Equal(t, "B\n", f.Text(Remote))

	// With the default size the short markers are ordinary text.
	f, err = Parse(text, true)
	require.NoError(t, err)
	assert.Equal(t, text, f.Text(Local))
	assert.Equal(t, text, f.Text(Result))
}

func TestParse_MarkerLookalikes(t *testing.T) {
	text := "=======\n<<<<<<<<<< not a marker\n>>>>>>>x\n"
	f, err := Parse(text, true)
	require.NoError(t, err)
	assert.Equal(t, text, f.Text(Result))
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"unterminated", "<<<<<<<\nA\n"},
		{"nested start", "<<<<<<<\nA\n<<<<<<<\n=======\n>>>>>>>\n"},
		{"end outside conflict", "a\n>>>>>>>\n"},
		{"end without separator", "<<<<<<<\nA\n>>>>>>>\n"},
		{"duplicate separator", "<<<<<<<\nA\n=======\nB\n=======\n>>>>>>>\n"},
		{"duplicate base", "<<<<<<<\n|||||||\n|||||||\n=======\n>>>>>>>\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text, true)
			require.ErrorIs(t, err, ErrMalformedConflict)
		})
	}
}

func TestParse_LineKeysAreUnique(t *testing.T) {
	f, err := Parse("a\na\na\n", true)
	require.NoError(t, err)

	seen := map[uint64]bool{}
	for l := range f.Lines(Result, IgnoreHidden, NoNode, NoNode) {
		assert.False(t, seen[l.Key], "duplicate key %d", l.Key)
		seen[l.Key] = true
	}
	assert.Len(t, seen, 3)
}
