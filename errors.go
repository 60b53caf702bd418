/*
Package facet – error types.
*/
package facet

import "fmt"

// ErrorCode is a well-known error category string.
type ErrorCode string

// Schema compilation errors. All are fatal at construction time and each
// violation keeps its own code so callers can test for it.
const (
	ErrModelPrimary    ErrorCode = "ModelPrimaryError"
	ErrModelIndex      ErrorCode = "ModelIndexError"
	ErrModelCollection ErrorCode = "ModelCollectionError"
	ErrModelFacet      ErrorCode = "ModelFacetError"
	ErrModelAttribute  ErrorCode = "ModelAttributeError"
	ErrModelConflict   ErrorCode = "ModelConflictError"
	ErrModelTemplate   ErrorCode = "ModelTemplateError"
	ErrModelFormat     ErrorCode = "ModelFormatError"
)

// Call-input and execution errors.
const (
	ErrArgument   ErrorCode = "ArgumentError"
	ErrValidation ErrorCode = "ValidationError"
	ErrMissing    ErrorCode = "MissingError"
	ErrProjection ErrorCode = "ProjectionError"
	ErrOwnership  ErrorCode = "OwnershipError"
	ErrUnique     ErrorCode = "UniqueError"
	ErrNonUnique  ErrorCode = "NonUniqueError"
	ErrNotFound   ErrorCode = "NotFoundError"
	ErrService    ErrorCode = "ServiceError"
	ErrRuntime    ErrorCode = "RuntimeError"
	ErrType       ErrorCode = "TypeError"
)

// FacetError is the general runtime error. It carries an optional Code and
// a free-form Context map for extra debugging data.
type FacetError struct {
	Message string
	Code    ErrorCode
	Context map[string]any
	Cause   error
}

func (e *FacetError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return e.Message
}

func (e *FacetError) Unwrap() error { return e.Cause }

// NewError constructs a FacetError.
func NewError(msg string, opts ...func(*FacetError)) *FacetError {
	err := &FacetError{Message: msg}
	for _, o := range opts {
		o(err)
	}
	return err
}

// WithCode sets the error code.
func WithCode(c ErrorCode) func(*FacetError) {
	return func(e *FacetError) { e.Code = c }
}

// WithContext attaches a context map.
func WithContext(ctx map[string]any) func(*FacetError) {
	return func(e *FacetError) { e.Context = ctx }
}

// WithCause wraps an underlying error.
func WithCause(cause error) func(*FacetError) {
	return func(e *FacetError) { e.Cause = cause }
}

// FacetArgError is for invalid argument / configuration errors.
type FacetArgError struct {
	Message string
	Code    ErrorCode
	Context map[string]any
}

func (e *FacetArgError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return e.Message
}

// NewArgError constructs a FacetArgError.
func NewArgError(msg string, code ...ErrorCode) *FacetArgError {
	c := ErrArgument
	if len(code) > 0 {
		c = code[0]
	}
	return &FacetArgError{Message: msg, Code: c}
}

// CodeOf extracts the ErrorCode from any error produced by this package,
// or "" when the error carries none.
func CodeOf(err error) ErrorCode {
	switch e := err.(type) {
	case *FacetError:
		return e.Code
	case *FacetArgError:
		return e.Code
	}
	return ""
}
