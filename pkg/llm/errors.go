package llm

import (
	"errors"
	"fmt"
)

// ErrBackend matches every *BackendError via errors.Is.
var ErrBackend = errors.New("llm backend error")

// BackendError covers non-2xx replies, transport failures, timeouts and
// responses the adapter could not parse.
type BackendError struct {
	Backend    string
	StatusCode int
	Message    string
	Err        error
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s failed: status %d: %s", e.Backend, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s failed: %s", e.Backend, e.Message)
}

func (e *BackendError) Unwrap() error { return e.Err }

func (e *BackendError) Is(target error) bool { return target == ErrBackend }
