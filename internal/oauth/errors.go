package oauth

import "errors"

// HTTPError represents an upstream response with a non-success status code.
// The grants fetcher reports 401/403 and other statuses through this type so
// the cache can classify them.
type HTTPError struct {
	StatusCode int
	Wrapped    error
}

func (e *HTTPError) Error() string {
	return e.Wrapped.Error()
}

func (e *HTTPError) Unwrap() error {
	return e.Wrapped
}

func NewHTTPError(statusCode int, err error) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		Wrapped:    err,
	}
}

// HTTPStatus extracts the status code from an error chain.
// It returns 0 if no HTTPError is present.
func HTTPStatus(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// ServiceError is the common error kind surfaced by the grants service for
// failures that are not plain upstream HTTP statuses: waiting on another
// session's fetch, interruption during shutdown, and similar.
type ServiceError struct {
	Message string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Cause
}

func NewServiceError(message string, cause error) *ServiceError {
	return &ServiceError{Message: message, Cause: cause}
}

// WrapService rewraps err as a ServiceError unless it already is one
// anywhere in its chain. The cause chain is preserved.
func WrapService(message string, err error) error {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return err
	}
	return NewServiceError(message, err)
}
