package backend

import (
	"errors"
	"fmt"
)

// ErrBackendUnreachable marks transport-level failures: connection refused,
// DNS errors, timeouts, or a response body that could not be read.
var ErrBackendUnreachable = errors.New("backend unreachable")

// BackendError is returned when the backend answers with a non-2xx status.
type BackendError struct {
	Op     string
	Status int
	Body   string
}

func (e *BackendError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("backend %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("backend %s: status %d: %s", e.Op, e.Status, body)
}
