package neural

import (
	"errors"
	"fmt"
)

var (
	ErrLCPFailed    = errors.New("neural: constraint impulse solve failed")
	ErrPeerNotFound = errors.New("neural: peer constraint not found in snapshot")
)

// StepError wraps a failure of one forward pass with the step it happened on.
type StepError struct {
	Step    int
	Time    float64
	Wrapped error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (t=%.4f): %v", e.Step, e.Time, e.Wrapped)
}

func (e *StepError) Unwrap() error {
	return e.Wrapped
}
