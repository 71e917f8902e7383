package fallback

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDataAvailable is matched by NoDataAvailableError via errors.Is.
	ErrNoDataAvailable = errors.New("no data available")

	// ErrBreakerOpen marks a provider that was skipped because its breaker refused the call.
	ErrBreakerOpen = errors.New("circuit breaker open")
)

// NoDataAvailableError is returned when neither provider produced a result.
type NoDataAvailableError struct {
	Symbol       string
	Op           string
	PrimaryErr   error
	SecondaryErr error
}

func (e *NoDataAvailableError) Error() string {
	return fmt.Sprintf("no data available for %s (%s): primary: %v; secondary: %v",
		e.Symbol, e.Op, e.PrimaryErr, e.SecondaryErr)
}

// Is matches ErrNoDataAvailable.
func (e *NoDataAvailableError) Is(target error) bool {
	return target == ErrNoDataAvailable
}

// Unwrap exposes the per-provider causes.
func (e *NoDataAvailableError) Unwrap() []error {
	var errs []error
	if e.PrimaryErr != nil {
		errs = append(errs, e.PrimaryErr)
	}
	if e.SecondaryErr != nil {
		errs = append(errs, e.SecondaryErr)
	}
	return errs
}
