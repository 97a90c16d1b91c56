package pipeline

import (
	"errors"
	"fmt"
)

// ErrEmptyUpload is returned when the uploaded audio has no bytes.
var ErrEmptyUpload = errors.New("uploaded audio is empty")

// StageError is a stage-aware pipeline failure.
type StageError struct {
	Stage   Stage
	Message string
	Err     error
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Err)
}

func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
