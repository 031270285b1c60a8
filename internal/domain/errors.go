// Package domain defines core types, interfaces, and errors for the query gateway.
package domain

import "fmt"

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// AccessDeniedError indicates no access rule grants the requested operation.
type AccessDeniedError struct {
	Message string
}

func (e *AccessDeniedError) Error() string { return e.Message }

// ForbiddenError indicates the caller is not the owning actor and not an admin.
type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConcurrencyLimitError indicates the principal already has the maximum
// number of queued or running executions allowed by its policy.
type ConcurrencyLimitError struct {
	Message string
}

func (e *ConcurrencyLimitError) Error() string { return e.Message }

// NotReadyError indicates results were requested while the execution is
// still queued or running.
type NotReadyError struct {
	Message string
}

func (e *NotReadyError) Error() string { return e.Message }

// ExpiredError indicates the execution's result buffer has been reclaimed.
type ExpiredError struct {
	Message string
}

func (e *ExpiredError) Error() string { return e.Message }

// InvalidPageTokenError indicates a page token that is malformed, belongs to
// a different execution, or encodes an out-of-range offset.
type InvalidPageTokenError struct {
	Message string
}

func (e *InvalidPageTokenError) Error() string { return e.Message }

// CredentialNotFoundError indicates a credential profile is not configured
// on the target datasource.
type CredentialNotFoundError struct {
	Message string
}

func (e *CredentialNotFoundError) Error() string { return e.Message }

// DriverUnavailableError indicates no database driver is registered for the
// datasource's engine kind.
type DriverUnavailableError struct {
	Message string
}

func (e *DriverUnavailableError) Error() string { return e.Message }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrAccessDenied creates an AccessDeniedError with a formatted message.
func ErrAccessDenied(format string, args ...interface{}) *AccessDeniedError {
	return &AccessDeniedError{Message: fmt.Sprintf(format, args...)}
}

// ErrForbidden creates a ForbiddenError with a formatted message.
func ErrForbidden(format string, args ...interface{}) *ForbiddenError {
	return &ForbiddenError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConcurrencyLimit creates a ConcurrencyLimitError with a formatted message.
func ErrConcurrencyLimit(format string, args ...interface{}) *ConcurrencyLimitError {
	return &ConcurrencyLimitError{Message: fmt.Sprintf(format, args...)}
}

// ErrNotReady creates a NotReadyError with a formatted message.
func ErrNotReady(format string, args ...interface{}) *NotReadyError {
	return &NotReadyError{Message: fmt.Sprintf(format, args...)}
}

// ErrExpired creates an ExpiredError with a formatted message.
func ErrExpired(format string, args ...interface{}) *ExpiredError {
	return &ExpiredError{Message: fmt.Sprintf(format, args...)}
}

// ErrInvalidPageToken creates an InvalidPageTokenError with a formatted message.
func ErrInvalidPageToken(format string, args ...interface{}) *InvalidPageTokenError {
	return &InvalidPageTokenError{Message: fmt.Sprintf(format, args...)}
}

// ErrCredentialNotFound creates a CredentialNotFoundError with a formatted message.
func ErrCredentialNotFound(format string, args ...interface{}) *CredentialNotFoundError {
	return &CredentialNotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrDriverUnavailable creates a DriverUnavailableError with a formatted message.
func ErrDriverUnavailable(format string, args ...interface{}) *DriverUnavailableError {
	return &DriverUnavailableError{Message: fmt.Sprintf(format, args...)}
}
