package pipeline

import (
	"errors"
	"fmt"
)

// ErrMalformedResponse marks a response body that is not a mapping document.
var ErrMalformedResponse = errors.New("malformed response")

// StatusError is returned when a remote service answers with a non-2xx status.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}
