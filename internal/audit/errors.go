package audit

import (
	"errors"
	"fmt"
)

var (
	// ErrDraftGenerationFailed matches any failure of the initial draft stage.
	ErrDraftGenerationFailed = errors.New("draft generation failed")
	// ErrCanceled reports that the caller abandoned the run before it completed.
	ErrCanceled = errors.New("audit canceled")
)

// DraftGenerationFailedError is the only error that aborts a pipeline run.
type DraftGenerationFailedError struct {
	Cause Cause
	Err   error
}

func (e *DraftGenerationFailedError) Error() string {
	return fmt.Sprintf("%v (%s): %v", ErrDraftGenerationFailed, e.Cause, e.Err)
}

func (e *DraftGenerationFailedError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the sentinel as well as the wrapped cause.
func (e *DraftGenerationFailedError) Is(target error) bool {
	return target == ErrDraftGenerationFailed
}
