package model

// FileRecord is one selected source file. It is never mutated after selection.
type FileRecord struct {
	ID      string
	Path    string // relative to the selection root, forward slashes
	Size    int64
	Content string
}
