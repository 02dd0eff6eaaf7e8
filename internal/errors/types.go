// Package errors defines the error taxonomy shared by the loader, compiler,
// renderer and engine.
//
// Every failure surfaced by a render call is a *ViewError carrying a Type
// (what stage failed) and a Code (why). Sentinel values such as
// ErrUnknownBlock compare by Type and Code, so callers can match them with
// the standard errors.Is.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents the stage of the pipeline that failed.
type ErrorType string

const (
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeCompile    ErrorType = "compile"
	ErrorTypeCache      ErrorType = "cache"
	ErrorTypeRender     ErrorType = "render"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeValidation ErrorType = "validation"
)

// Error codes.
const (
	CodeTemplateNotFound = "TEMPLATE_NOT_FOUND"
	CodeInvalidName      = "INVALID_TEMPLATE_NAME"
	CodeInvalidCharset   = "INVALID_CHARSET"
	CodeUnknownBlock     = "UNKNOWN_BLOCK"
	CodeUnknownFilter    = "UNKNOWN_FILTER"
	CodeFilterArity      = "FILTER_ARITY"
	CodeMalformedTag     = "MALFORMED_TAG"
	CodeUnbalancedEnd    = "UNBALANCED_END"
	CodeUnclosedBlock    = "UNCLOSED_BLOCK"
	CodeCacheWrite       = "CACHE_WRITE"
	CodeCacheRead        = "CACHE_READ"
	CodeCacheCorrupt     = "CACHE_CORRUPT"
	CodeSourceRead       = "SOURCE_READ"
	CodeMissingField     = "MISSING_FIELD"
	CodeNotIterable      = "NOT_ITERABLE"
	CodeFilterFailed     = "FILTER_FAILED"
	CodeBadContext       = "BAD_CONTEXT"
	CodeOutputWrite      = "OUTPUT_WRITE"
	CodeDataRead         = "DATA_READ"
	CodeInvalidConfig    = "INVALID_CONFIG"
	CodeSettingsSave     = "SETTINGS_SAVE"
)

// Sentinels for errors.Is. Only Type and Code are compared.
var (
	ErrTemplateNotFound = &ViewError{Type: ErrorTypeConfig, Code: CodeTemplateNotFound}
	ErrInvalidName      = &ViewError{Type: ErrorTypeValidation, Code: CodeInvalidName}
	ErrInvalidCharset   = &ViewError{Type: ErrorTypeConfig, Code: CodeInvalidCharset}
	ErrUnknownBlock     = &ViewError{Type: ErrorTypeCompile, Code: CodeUnknownBlock}
	ErrUnknownFilter    = &ViewError{Type: ErrorTypeCompile, Code: CodeUnknownFilter}
	ErrFilterArity      = &ViewError{Type: ErrorTypeCompile, Code: CodeFilterArity}
	ErrMalformedTag     = &ViewError{Type: ErrorTypeCompile, Code: CodeMalformedTag}
	ErrUnbalancedEnd    = &ViewError{Type: ErrorTypeCompile, Code: CodeUnbalancedEnd}
	ErrUnclosedBlock    = &ViewError{Type: ErrorTypeCompile, Code: CodeUnclosedBlock}
	ErrCacheWrite       = &ViewError{Type: ErrorTypeCache, Code: CodeCacheWrite}
	ErrCacheRead        = &ViewError{Type: ErrorTypeCache, Code: CodeCacheRead}
	ErrCacheCorrupt     = &ViewError{Type: ErrorTypeCache, Code: CodeCacheCorrupt}
	ErrSourceRead       = &ViewError{Type: ErrorTypeIO, Code: CodeSourceRead}
	ErrMissingField     = &ViewError{Type: ErrorTypeRender, Code: CodeMissingField}
	ErrNotIterable      = &ViewError{Type: ErrorTypeRender, Code: CodeNotIterable}
	ErrFilterFailed     = &ViewError{Type: ErrorTypeRender, Code: CodeFilterFailed}
	ErrBadContext       = &ViewError{Type: ErrorTypeRender, Code: CodeBadContext}
	ErrOutputWrite      = &ViewError{Type: ErrorTypeIO, Code: CodeOutputWrite}
	ErrDataRead         = &ViewError{Type: ErrorTypeIO, Code: CodeDataRead}
	ErrInvalidConfig    = &ViewError{Type: ErrorTypeConfig, Code: CodeInvalidConfig}
	ErrSettingsSave     = &ViewError{Type: ErrorTypeIO, Code: CodeSettingsSave}
)

// ViewError is a structured error with template context.
type ViewError struct {
	Type     ErrorType
	Code     string
	Message  string
	Template string
	Token    string
	Line     int
	Cause    error
}

// Error implements the error interface.
func (e *ViewError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Template != "" {
		location := e.Template
		if e.Line > 0 {
			location += fmt.Sprintf(":%d", e.Line)
		}
		parts = append(parts, location)
	}

	parts = append(parts, e.Message)

	if e.Token != "" {
		parts = append(parts, fmt.Sprintf("(near %q)", e.Token))
	}

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *ViewError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *ViewError) Is(target error) bool {
	var t *ViewError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithTemplate sets the template name the error belongs to.
func (e *ViewError) WithTemplate(name string) *ViewError {
	e.Template = name

	return e
}

// WithToken records the offending token.
func (e *ViewError) WithToken(token string) *ViewError {
	e.Token = token

	return e
}

// WithLine records the 1-based source line.
func (e *ViewError) WithLine(line int) *ViewError {
	e.Line = line

	return e
}

// Error creation functions

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *ViewError {
	return &ViewError{Type: ErrorTypeConfig, Code: code, Message: message}
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *ViewError {
	return &ViewError{Type: ErrorTypeValidation, Code: code, Message: message}
}

// NewCompileError creates a compile error for the given token.
func NewCompileError(code, message, token string) *ViewError {
	return &ViewError{Type: ErrorTypeCompile, Code: code, Message: message, Token: token}
}

// NewCacheError creates a cache error.
func NewCacheError(code, message string, cause error) *ViewError {
	return &ViewError{Type: ErrorTypeCache, Code: code, Message: message, Cause: cause}
}

// NewRenderError creates a render error.
func NewRenderError(code, message string, cause error) *ViewError {
	return &ViewError{Type: ErrorTypeRender, Code: code, Message: message, Cause: cause}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *ViewError {
	return &ViewError{Type: ErrorTypeIO, Code: code, Message: message, Cause: cause}
}

// TypeOf returns the ErrorType of err, or "" if err is not a *ViewError.
func TypeOf(err error) ErrorType {
	var ve *ViewError
	if errors.As(err, &ve) {
		return ve.Type
	}

	return ""
}

// IsConfigError checks if an error is a configuration error.
func IsConfigError(err error) bool { return TypeOf(err) == ErrorTypeConfig }

// IsCompileError checks if an error is a compile error.
func IsCompileError(err error) bool { return TypeOf(err) == ErrorTypeCompile }

// IsCacheError checks if an error is a cache error.
func IsCacheError(err error) bool { return TypeOf(err) == ErrorTypeCache }

// IsRenderError checks if an error is a render error.
func IsRenderError(err error) bool { return TypeOf(err) == ErrorTypeRender }
