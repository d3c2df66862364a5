package merge

// Analyze builds a ready-to-resolve File: it parses the conflict text,
// overlays the base->local and base->remote hunks and extracts changes.
func Analyze(text string, mergeInProgress bool, local, remote []Hunk, opts ...ParseOption) (*File, error) {
	f, err := Parse(text, mergeInProgress, opts...)
	if err != nil {
		return nil, err
	}
	f.Reconcile(local, remote)
	f.ExtractChanges()
	return f, nil
}
