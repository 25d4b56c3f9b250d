package types

import "errors"

// Error kinds shared across the obstacle and telemetry pipelines.
// Components wrap these with context; callers match with errors.Is.
var (
	// ErrInvalidInput is a local precondition violation (bad geometry, dimensions, sizes)
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidMethod is an unrecognized request verb
	ErrInvalidMethod = errors.New("invalid method")
	// ErrCapture is an opaque camera failure
	ErrCapture = errors.New("capture error")
	// ErrInference is an opaque inference runtime failure
	ErrInference = errors.New("inference error")
)
