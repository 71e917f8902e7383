package fanout

import (
	"errors"
	"fmt"
	"strings"

	"sentiment-pipeline/internal/domain"
)

// ErrInvalidEvent is returned when an event cannot be bucketed.
var ErrInvalidEvent = errors.New("invalid event for fan-out")

// WriteError reports the resolutions whose bucket update failed.
// Resolutions not listed were applied or were already applied.
type WriteError struct {
	EventID string
	Failed  []domain.Resolution
	Errs    []error
}

func (e *WriteError) Error() string {
	names := make([]string, len(e.Failed))
	for i, r := range e.Failed {
		names[i] = string(r)
	}
	return fmt.Sprintf("fan-out %s: %d resolution(s) failed [%s]: %v",
		e.EventID, len(e.Failed), strings.Join(names, ","), errors.Join(e.Errs...))
}

// Unwrap exposes the underlying store errors.
func (e *WriteError) Unwrap() []error {
	return e.Errs
}
