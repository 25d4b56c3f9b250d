package delivery

import (
	"errors"
	"fmt"
)

// ErrCriticalFailure matches any CriticalFailureError with errors.Is
var ErrCriticalFailure = errors.New("critical delivery failure")

// CriticalFailureError is returned for critical requests that got no usable response
type CriticalFailureError struct {
	Method   string
	Endpoint string
	Reason   string
	Err      error
}

func (e *CriticalFailureError) Error() string {
	msg := fmt.Sprintf("critical %s %s failed: %s", e.Method, e.Endpoint, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CriticalFailureError) Unwrap() error {
	return e.Err
}

func (e *CriticalFailureError) Is(target error) bool {
	return target == ErrCriticalFailure
}
