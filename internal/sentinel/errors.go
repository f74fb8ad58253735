package sentinel

import (
	"errors"
	"fmt"
)

// PersistenceError wraps a failed store transaction. The notice's writes
// were rolled back.
type PersistenceError struct {
	NoticeID string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.NoticeID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

var (
	// ErrQueueClosed is returned by Queue.Next after Close.
	ErrQueueClosed = errors.New("queue closed")
	// ErrNotRunning is returned by control operations after shutdown.
	ErrNotRunning = errors.New("sentinel is shutting down")
)
