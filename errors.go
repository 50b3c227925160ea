package gopaddle

import (
	"errors"
	"fmt"

	"github.com/knights-analytics/gopaddle/capi"
	"github.com/knights-analytics/gopaddle/config"
)

// PreconditionError is a configuration rejected before any native call was made for its section.
type PreconditionError = config.ValidationError

var (
	// ErrPrecondition matches every *PreconditionError.
	ErrPrecondition = config.ErrInvalid
	// ErrRunFailed matches every *RunError.
	ErrRunFailed = errors.New("predictor run failed")
	// ErrDestroyed is returned by every operation on a destroyed predictor or on its tensors.
	ErrDestroyed = errors.New("predictor has been destroyed")
	// ErrUnknownTensor is returned when the engine has no tensor under the requested name.
	ErrUnknownTensor = errors.New("unknown tensor")
	// ErrTypeMismatch is returned when tensor data is copied as the wrong element type.
	ErrTypeMismatch = errors.New("tensor data type mismatch")
	// ErrNativeDisabled is returned when the native engine was not compiled in.
	ErrNativeDisabled = capi.ErrNativeDisabled
)

// RunError reports that the engine signalled failure from PD_PredictorRun.
// The predictor stays usable.
type RunError struct {
	PredictorID string
}

func (e *RunError) Error() string {
	return fmt.Sprintf("predictor %s: run failed, check that every input is set and correctly shaped", e.PredictorID)
}

func (e *RunError) Unwrap() error {
	return ErrRunFailed
}

type tensorNotFoundError struct {
	name   string
	output bool
}

func (e *tensorNotFoundError) Error() string {
	side := "input"
	if e.output {
		side = "output"
	}
	return fmt.Sprintf("%s tensor %q not found, use %sNames to list the available tensors", side, e.name, sideTitle(e.output))
}

func (e *tensorNotFoundError) Unwrap() error {
	return ErrUnknownTensor
}

func sideTitle(output bool) string {
	if output {
		return "Output"
	}
	return "Input"
}
