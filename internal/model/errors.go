package model

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Error kinds reported by the engine. Check with errors.Is.
var (
	// ErrNotFound means a referenced record, rule, or workflow does not exist.
	ErrNotFound = eris.New("not found")
	// ErrInvalidInput means a malformed rule, action config, or request.
	ErrInvalidInput = eris.New("invalid input")
	// ErrPartialFailure means some independent sub-operations failed while
	// others succeeded.
	ErrPartialFailure = eris.New("partial failure")
)

// PartialFailure collects the failures of independent sub-operations.
type PartialFailure struct {
	Op       string
	Failures []error
}

// NewPartialFailure returns nil when failures is empty.
func NewPartialFailure(op string, failures []error) error {
	if len(failures) == 0 {
		return nil
	}
	return &PartialFailure{Op: op, Failures: failures}
}

func (e *PartialFailure) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("%s: %d of its steps failed: %s", e.Op, len(e.Failures), strings.Join(msgs, "; "))
}

func (e *PartialFailure) Is(target error) bool {
	return target == ErrPartialFailure
}

func (e *PartialFailure) Unwrap() []error {
	return e.Failures
}
