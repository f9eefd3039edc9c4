package pipeline

import (
	"errors"
	"fmt"
)

// Common pipeline errors
var (
	// ErrConfiguration is returned for unknown stages, reversed stage
	// ranges or stages the orchestrator was not given.
	ErrConfiguration = errors.New("pipeline configuration error")

	// ErrNoInputFiles is returned when a batch pattern matches nothing.
	ErrNoInputFiles = errors.New("no input files found")

	// ErrInterrupted is returned when a batch is cancelled. The checkpoint
	// has been saved by then.
	ErrInterrupted = errors.New("pipeline interrupted")

	// ErrBookFailed marks a book whose run ended with status failed.
	ErrBookFailed = errors.New("book processing failed")
)

// ConfigurationError describes an invalid stage request.
type ConfigurationError struct {
	Start   string
	End     string
	Details string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%v: %s (start=%q end=%q)", ErrConfiguration, e.Details, e.Start, e.End)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// StageFailure records a stage that returned an error.
type StageFailure struct {
	Stage    string `json:"stage"`
	Critical bool   `json:"critical"`
	Message  string `json:"error"`
	Err      error  `json:"-"`
}

func (f *StageFailure) Error() string {
	kind := "recoverable"
	if f.Critical {
		kind = "critical"
	}
	return fmt.Sprintf("%s stage %s failed: %v", kind, f.Stage, f.Err)
}

func (f *StageFailure) Unwrap() error {
	return f.Err
}

// NewStageFailure wraps err for stage.
func NewStageFailure(stage string, critical bool, err error) *StageFailure {
	return &StageFailure{Stage: stage, Critical: critical, Message: err.Error(), Err: err}
}
