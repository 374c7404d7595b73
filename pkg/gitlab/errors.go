package gitlab

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the requested group or project does not
// exist. Callers must treat any other error as a transport/API failure,
// never as absence.
var ErrNotFound = errors.New("gitlab resource not found")

// ErrUnauthorized is returned when the configured token is missing,
// expired or lacks the required scopes.
var ErrUnauthorized = errors.New("gitlab authentication failed")

// apiError is returned for non-2xx responses other than 404.
type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("gitlab api response status %d, body:%q", e.status, e.body)
}
