// Package apperr holds the error taxonomy shared by the post write path and
// the HTTP layer that maps it to status codes.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ValidationError is returned for malformed or missing input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error (%s): %s", e.Field, e.Message)
}

func NewValidation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError reports an absent resource, e.g. "post" or "user".
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func NewNotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// UploadError wraps a failed object store call.
type UploadError struct {
	Key string
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Key, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// TransactionError wraps a storage engine failure inside a unit of work.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction %s: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// TimeoutError marks a bounded wait that was exceeded.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// ConflictError reports a request that collides with one already in progress.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsNotFoundResource reports whether err is a NotFoundError for resource.
func IsNotFoundResource(err error, resource string) bool {
	var target *NotFoundError
	return errors.As(err, &target) && target.Resource == resource
}

func IsUpload(err error) bool {
	var target *UploadError
	return errors.As(err, &target)
}

func IsTransaction(err error) bool {
	var target *TransactionError
	return errors.As(err, &target)
}

func IsTimeout(err error) bool {
	var target *TimeoutError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

// Timeout converts a deadline overrun into a TimeoutError and returns any
// other error unchanged.
func Timeout(op string, err error) error {
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !IsTimeout(err) {
		return &TimeoutError{Op: op, Err: err}
	}
	return err
}

// Retryable reports whether a caller may safely try again later. Only
// timeouts qualify; submit itself is not idempotent without a key.
func Retryable(err error) bool {
	return IsTimeout(err)
}

// Code is the diagnostic code returned to clients next to a generic message.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case IsValidation(err):
		return "validation_failed"
	case IsNotFoundResource(err, "user"):
		return "user_not_found"
	case IsNotFound(err):
		return "not_found"
	case IsConflict(err):
		return "conflict"
	case IsTimeout(err):
		return "timeout"
	case IsUpload(err):
		return "upload_failed"
	case IsTransaction(err):
		return "transaction_failed"
	default:
		return "internal"
	}
}

// HTTPStatus maps err to a response status. A missing user during a write
// means the caller's identity does not match any account, so it is treated
// as a server-side failure rather than a 404.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsValidation(err):
		return http.StatusBadRequest
	case IsNotFoundResource(err, "user"):
		return http.StatusInternalServerError
	case IsNotFound(err):
		return http.StatusNotFound
	case IsConflict(err):
		return http.StatusConflict
	case IsTimeout(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is safe to show clients; it never carries the cause.
func PublicMessage(err error) string {
	var v *ValidationError
	if errors.As(err, &v) {
		return v.Message
	}
	var nf *NotFoundError
	if errors.As(err, &nf) && nf.Resource != "user" {
		return nf.Resource + " not found"
	}
	var c *ConflictError
	if errors.As(err, &c) {
		return c.Message
	}
	if IsTimeout(err) {
		return "request timed out, try again later"
	}
	return "unexpected error occurred"
}
