// Package apperrors defines the error taxonomy shared by the intake services.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

// Validation codes
const (
	CodeRequired      = "REQUIRED"
	CodeShapeMismatch = "SHAPE_MISMATCH"
	CodeUnknownType   = "UNKNOWN_TYPE"
	CodeInvalidValue  = "INVALID_VALUE"
	CodeOutOfRange    = "OUT_OF_RANGE"
	CodeConflict      = "CONFLICT"
)

// ValidationError reports a missing required field or a shape mismatch at the capture boundary.
type ValidationError struct {
	Field   string
	Code    string
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%s)", e.Field, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// Invalid is shorthand for building a ValidationError
func Invalid(field, code, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing template, response, intake or profile
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// NotFound builds a NotFoundError
func NotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// AccessDeniedError is raised when the acting user may not touch a resource.
type AccessDeniedError struct {
	Actor    string
	Resource string
	Reason   string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied for %s on %s: %s", e.Actor, e.Resource, e.Reason)
}

// ConflictError reports an edit that would break an invariant of stored data,
// such as changing the items of a template that already has responses.
type ConflictError struct {
	Resource string
	Message  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Resource, e.Message)
}

// Conflict builds a ConflictError
func Conflict(resource, format string, args ...interface{}) *ConflictError {
	return &ConflictError{Resource: resource, Message: fmt.Sprintf(format, args...)}
}

// FailedUpload describes one file that could not be stored
type FailedUpload struct {
	QuestionID string
	FileName   string
	Err        error
}

// PartialUploadError is non-fatal: some files of a submission were stored, others were not.
type PartialUploadError struct {
	ResponseID string
	Total      int
	Failed     []FailedUpload
}

func (e *PartialUploadError) Error() string {
	names := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		names = append(names, f.FileName)
	}
	return fmt.Sprintf("response %s: %d of %d uploads failed [%s]",
		e.ResponseID, len(e.Failed), e.Total, strings.Join(names, ", "))
}

func (e *PartialUploadError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		errs = append(errs, f.Err)
	}
	return errs
}

// MergeError means canonical data was extracted but could not be folded into the profile.
type MergeError struct {
	ResponseID string
	PatientID  string
	Cause      error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge response %s into profile %s: %v", e.ResponseID, e.PatientID, e.Cause)
}

func (e *MergeError) Unwrap() error {
	return e.Cause
}

// IsValidation reports whether err wraps a ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err wraps a NotFoundError
func IsNotFound(err error) bool {
	var n *NotFoundError
	return errors.As(err, &n)
}

// IsAccessDenied reports whether err wraps an AccessDeniedError
func IsAccessDenied(err error) bool {
	var a *AccessDeniedError
	return errors.As(err, &a)
}

// IsConflict reports whether err wraps a ConflictError
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// IsTerminal reports errors that retrying cannot fix.
func IsTerminal(err error) bool {
	return IsValidation(err) || IsNotFound(err) || IsAccessDenied(err) || IsConflict(err)
}
