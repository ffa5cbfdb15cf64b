package database

import "errors"

var (
	// ErrPersistence is returned when a snapshot could not be written.
	// The in-memory state stays authoritative and a later commit may succeed.
	ErrPersistence = errors.New("persistence failure")
	// ErrLoadCorruption is logged when neither the primary nor the backup
	// snapshot could be parsed. The store then starts empty.
	ErrLoadCorruption = errors.New("load corruption")
	// ErrCommitDropped is returned when a commit was skipped because another
	// one was still writing.
	ErrCommitDropped = errors.New("commit dropped: another commit in flight")
)
