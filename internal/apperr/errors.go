// Package apperr defines the error kinds shared across the research pipeline.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrQueueEmpty     = errors.New("queue is empty")
	ErrInvalidConcept = errors.New("invalid concept")

	// ErrFetch means the research collaborator failed. Nothing was mutated.
	ErrFetch = errors.New("fetch error")
	// ErrResolution means generated content could not be scanned for links.
	ErrResolution = errors.New("resolution error")
	// ErrRender means the note template could not be filled.
	ErrRender = errors.New("render error")
	// ErrWrite means the vault or queue rejected a write.
	ErrWrite = errors.New("write failure")
	// ErrCollision means a note with the same identity exists and the
	// configured policy forbids replacing it.
	ErrCollision = errors.New("collision policy violation")
	// ErrClassificationUnavailable is a warning, never a pipeline failure.
	ErrClassificationUnavailable = errors.New("classification unavailable")
)

// Kinds lists the fatal pipeline error kinds in reporting order.
var Kinds = []error{ErrFetch, ErrResolution, ErrRender, ErrCollision, ErrWrite}

// StageError records which pipeline stage failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Kind returns the taxonomy sentinel err wraps, or nil.
func Kind(err error) error {
	for _, k := range Kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Describe formats err for the user as "<stage> failed: <kind>: <cause>".
// Errors without a stage are returned as is.
func Describe(err error) string {
	var se *StageError
	if !errors.As(err, &se) {
		return err.Error()
	}
	msg := se.Err.Error()
	kind := Kind(se.Err)
	if kind == nil {
		return fmt.Sprintf("%s failed: %s", se.Stage, msg)
	}
	cause := msg
	if i := strings.Index(msg, kind.Error()+": "); i >= 0 {
		cause = msg[i+len(kind.Error())+2:]
	} else if msg == kind.Error() {
		cause = "no details"
	}
	return fmt.Sprintf("%s failed: %s: %s", se.Stage, kind, cause)
}
