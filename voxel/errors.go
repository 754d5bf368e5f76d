package voxel

import "fmt"

// ProgrammingError marks a violated invariant: an out-of-bounds voxel
// index, a block referenced but never allocated, or similar states the
// algorithm assumes can never occur. It is not meant to be recovered from;
// callers encountering it have a bug to fix, not a condition to handle.
type ProgrammingError struct {
	Msg string
}

func (e ProgrammingError) Error() string {
	return fmt.Sprintf("voxel: programming error: %s", e.Msg)
}
