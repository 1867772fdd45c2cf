package nas

import (
	"errors"
	"fmt"
)

// Well-known NAS API error codes the poll loop classifies semantically.
const (
	// CodeTaskNotFound means the dir-size task is unknown to the NAS.
	CodeTaskNotFound = 160

	// CodeServiceUnavailable is returned when the NAS-side task table is
	// transiently unreachable. It does not imply the task is gone.
	CodeServiceUnavailable = 599
)

// ErrNotLoggedIn is returned when an API call is attempted without a
// session.
var ErrNotLoggedIn = errors.New("not logged in")

// APIError is a structured error from the NAS RPC surface. Transport
// failures are plain wrapped errors; an APIError always means the NAS
// answered.
type APIError struct {
	Code   int
	API    string
	Method string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s.%s failed with code %d", e.API, e.Method, e.Code)
}

// IsAPICode reports whether err is an APIError with the given code.
func IsAPICode(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// AuthError means the NAS rejected the login. Terminal for one scan
// execution.
type AuthError struct {
	Host string
	Code int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("login to %s failed with code %d", e.Host, e.Code)
}
