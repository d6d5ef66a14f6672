// internal/app/errors.go
package app

import (
	"errors"
	"fmt"
	"strings"
)

// Custom application-level errors
var ErrAdminNotAuthorized = errors.New("performing user is not authorized as an admin")

// ValidationError rejects a request before any store call.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid claim: " + e.Reason
}

// ConflictError reports requested units that were already claimed by someone else.
type ConflictError struct {
	Taken []int
}

func (e *ConflictError) Error() string {
	parts := make([]string, len(e.Taken))
	for i, t := range e.Taken {
		parts[i] = fmt.Sprint(t)
	}
	return "units already taken: " + strings.Join(parts, ", ")
}
